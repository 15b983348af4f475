// Package pipeline normalizes raw mandatory reviewer names into structured
// records and reconciles them against the committee roster.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/conftool-helper/internal/model"
	"github.com/sells-group/conftool-helper/internal/oracle"
	"github.com/sells-group/conftool-helper/internal/records"
	"github.com/sells-group/conftool-helper/internal/store"
)

// StepMandatoryReviewers names the mandatory reviewer step in the ledger and
// in conversation ids.
const StepMandatoryReviewers = "mandatory_reviewers"

// Oracle is the gateway the pipeline extracts through.
type Oracle interface {
	Invoker
	Usage() oracle.Usage
}

// Paths locates every file a run reads or writes.
type Paths struct {
	Raw           string
	Users         string
	Submissions   string
	Roster        string
	SystemPrompt  string
	UserPrompt    string
	Parsed        string
	Failed        string
	Reconciled    string
	Final         string
	Conversations string
}

// Config is the fixed configuration of a Pipeline.
type Config struct {
	Paths         Paths
	PaperIDColumn string
	EmailColumn   string
	Extract       ExtractConfig
}

// RunOptions vary per run.
type RunOptions struct {
	// Overwrite recomputes the extraction outputs even when both exist.
	Overwrite bool
}

// RunResult describes a finished run.
type RunResult struct {
	RunID   string
	Status  model.RunStatus
	Summary *model.RunSummary
}

// Pipeline sequences loading, deduplication, extraction, reconciliation and
// pruning.
type Pipeline struct {
	cfg    Config
	oracle Oracle
	store  store.Store

	extractionCheck func() error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithExtractionCheck runs check before extraction starts. An error fails the
// run; skipped extractions never call it.
func WithExtractionCheck(check func() error) Option {
	return func(p *Pipeline) {
		p.extractionCheck = check
	}
}

// New creates a Pipeline. A nil store disables the run ledger.
func New(cfg Config, o Oracle, st store.Store, opts ...Option) *Pipeline {
	if st == nil {
		st = store.NopStore{}
	}
	if cfg.EmailColumn == "" {
		cfg.EmailColumn = "email"
	}
	cfg.Extract = cfg.Extract.withDefaults()
	p := &Pipeline{cfg: cfg, oracle: o, store: st}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one pass of the mandatory reviewer step. Fatal errors stop the
// run before the final file is written.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	step := p.cfg.Extract.Step
	log := zap.L().With(zap.String("step", step))
	start := time.Now()

	run, err := p.store.CreateRun(ctx, step, opts.Overwrite)
	if err != nil {
		log.Warn("pipeline: failed to create run, continuing without ledger", zap.Error(err))
		run, _ = store.NopStore{}.CreateRun(ctx, step, opts.Overwrite)
	}
	log = log.With(zap.String("run_id", run.ID))

	summary := &model.RunSummary{}
	setStatus := func(status model.RunStatus) {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, status); statusErr != nil {
			log.Warn("pipeline: failed to update status", zap.String("status", string(status)), zap.Error(statusErr))
		}
	}
	fail := func(err error) (*RunResult, error) {
		p.fillUsage(summary)
		if ferr := p.store.FailRun(context.WithoutCancel(ctx), run.ID, summary, err.Error()); ferr != nil {
			log.Warn("pipeline: failed to record failure", zap.Error(ferr))
		}
		log.Error("pipeline: run failed", zap.Error(err))
		return nil, err
	}

	// ===== Loaded =====
	raw, err := records.Load(p.cfg.Paths.Raw, records.RawSchema)
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: load raw reviewers"))
	}
	summary.RawEntries = len(raw)
	setStatus(model.RunStatusLoaded)
	log.Info("pipeline: loaded raw entries", zap.Int("count", len(raw)))

	// ===== Deduplicated =====
	unique := Dedupe(raw)
	summary.UniqueEntries = len(unique)
	setStatus(model.RunStatusDeduplicated)
	log.Info("pipeline: deduplicated entries", zap.Int("count", len(unique)))

	// ===== Extracted / ExtractionSkipped =====
	paths := p.cfg.Paths
	if !opts.Overwrite && records.Exists(paths.Parsed) && records.Exists(paths.Failed) {
		summary.ExtractionSkipped = true
		setStatus(model.RunStatusExtractionSkipped)
		log.Info("pipeline: extraction outputs exist, skipping",
			zap.String("parsed", paths.Parsed),
			zap.String("failed", paths.Failed),
		)
	} else {
		res, err := p.extract(ctx, run.ID, unique)
		if err != nil {
			return fail(err)
		}
		summary.Batches = res.Batches
		summary.FailedBatches = res.FailedBatches
		summary.OracleCalls = res.OracleCalls
		summary.Succeeded = len(res.Succeeded)
		summary.Failed = len(res.Failed)

		if err := records.Save(res.Succeeded, paths.Parsed); err != nil {
			return fail(eris.Wrap(err, "pipeline: save parsed reviewers"))
		}
		if err := records.Save(res.Failed, paths.Failed); err != nil {
			return fail(eris.Wrap(err, "pipeline: save failed reviewers"))
		}
		setStatus(model.RunStatusExtracted)
		log.Info("pipeline: extraction complete",
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Int("batches", res.Batches),
			zap.Int("failed_batches", res.FailedBatches),
			zap.Int("oracle_calls", res.OracleCalls),
		)
	}

	// ===== Reconciled =====
	reconciled, err := records.Load(paths.Reconciled, records.ExtractedSchema)
	if errors.Is(err, records.ErrNotFound) {
		return fail(eris.Wrapf(err,
			"pipeline: reconciled list missing; merge %s with the corrected rows of %s into %s and re-run",
			paths.Parsed, paths.Failed, paths.Reconciled))
	}
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: load reconciled reviewers"))
	}
	summary.Reconciled = len(reconciled)
	setStatus(model.RunStatusReconciled)
	log.Info("pipeline: loaded reconciled list", zap.Int("count", len(reconciled)))

	// ===== Pruned =====
	rosterTable, err := records.ReadTable(paths.Roster)
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: read roster"))
	}
	roster, err := RosterEmails(rosterTable, p.cfg.EmailColumn)
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: roster emails"))
	}
	final := Prune(reconciled, roster)
	summary.Final = len(final)
	setStatus(model.RunStatusPruned)
	log.Info("pipeline: pruned against roster",
		zap.Int("roster", len(roster)),
		zap.Int("kept", len(final)),
		zap.Int("dropped", len(reconciled)-len(final)),
	)

	// ===== Finished =====
	if err := records.Save(final, paths.Final); err != nil {
		return fail(eris.Wrap(err, "pipeline: save final reviewers"))
	}
	p.fillUsage(summary)
	if err := p.store.CompleteRun(ctx, run.ID, summary); err != nil {
		log.Warn("pipeline: failed to complete run", zap.Error(err))
	}

	log.Info("pipeline: run finished",
		zap.Int("final", summary.Final),
		zap.Int("oracle_calls", summary.OracleCalls),
		zap.Float64("estimated_cost_usd", summary.Cost),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &RunResult{
		RunID:   run.ID,
		Status:  model.RunStatusFinished,
		Summary: summary,
	}, nil
}

// extract builds the prompts for the whole corpus and runs the extractor.
func (p *Pipeline) extract(ctx context.Context, runID string, reviewers []model.Reviewer) (*ExtractResult, error) {
	paths := p.cfg.Paths

	if p.extractionCheck != nil {
		if err := p.extractionCheck(); err != nil {
			return nil, eris.Wrap(err, "pipeline: extraction unavailable")
		}
	}

	users, err := records.ReadTable(paths.Users)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read users")
	}
	submissions, err := records.ReadTable(paths.Submissions)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read submissions")
	}
	index, err := BuildSubmissionIndex(submissions, p.cfg.PaperIDColumn)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: index submissions")
	}

	systemTemplate, err := LoadTemplate(paths.SystemPrompt)
	if err != nil {
		return nil, err
	}
	userTemplate, err := LoadTemplate(paths.UserPrompt)
	if err != nil {
		return nil, err
	}
	systemPrompt := AssemblePrompt(systemTemplate, map[string]string{
		PlaceholderUserData:          users.Text(),
		PlaceholderSubmissionDetails: submissions.Text(),
	})

	extractor := NewExtractor(p.oracle, NewTranscriptLogger(paths.Conversations), p.cfg.Extract,
		WithAttemptRecorder(p.store, runID))
	return extractor.Extract(ctx, ExtractInput{
		Reviewers:    reviewers,
		Submissions:  index,
		SystemPrompt: systemPrompt,
		UserTemplate: userTemplate,
	})
}

func (p *Pipeline) fillUsage(summary *model.RunSummary) {
	if p.oracle == nil {
		return
	}
	u := p.oracle.Usage()
	summary.Usage = u.Tokens
	summary.Cost = u.Cost
}
