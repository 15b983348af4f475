package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/conftool-helper/internal/model"
)

// NopStore satisfies Store without persisting anything. It backs
// store.driver=none.
type NopStore struct{}

func (NopStore) CreateRun(_ context.Context, step string, overwrite bool) (*model.Run, error) {
	now := time.Now().UTC()
	return &model.Run{
		ID:        uuid.New().String(),
		Step:      step,
		Status:    model.RunStatusStart,
		Overwrite: overwrite,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (NopStore) UpdateRunStatus(context.Context, string, model.RunStatus) error { return nil }

func (NopStore) CompleteRun(context.Context, string, *model.RunSummary) error { return nil }

func (NopStore) FailRun(context.Context, string, *model.RunSummary, string) error { return nil }

func (NopStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	return nil, eris.Wrapf(ErrNotFound, "nop: run %s", runID)
}

func (NopStore) ListRuns(context.Context, RunFilter) ([]model.Run, error) { return nil, nil }

func (NopStore) RecordAttempt(context.Context, model.BatchAttempt) error { return nil }

func (NopStore) ListAttempts(context.Context, string) ([]model.BatchAttempt, error) {
	return nil, nil
}

func (NopStore) Migrate(context.Context) error { return nil }

func (NopStore) Close() error { return nil }
