package model

import "time"

// RunStatus is the state of a pipeline run.
type RunStatus string

const (
	RunStatusStart             RunStatus = "start"
	RunStatusLoaded            RunStatus = "loaded"
	RunStatusDeduplicated      RunStatus = "deduplicated"
	RunStatusExtractionSkipped RunStatus = "extraction_skipped"
	RunStatusExtracted         RunStatus = "extracted"
	RunStatusReconciled        RunStatus = "reconciled"
	RunStatusPruned            RunStatus = "pruned"
	RunStatusFinished          RunStatus = "finished"
	RunStatusFailed            RunStatus = "failed"
)

// IsTerminal reports whether no further transitions follow.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusFinished || s == RunStatusFailed
}

// Run is one invocation of a pipeline step, as kept in the run ledger.
type Run struct {
	ID        string      `json:"id"`
	Step      string      `json:"step"`
	Status    RunStatus   `json:"status"`
	Overwrite bool        `json:"overwrite"`
	Summary   *RunSummary `json:"summary,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// RunSummary holds the counts reported at the end of a run.
type RunSummary struct {
	RawEntries        int        `json:"raw_entries"`
	UniqueEntries     int        `json:"unique_entries"`
	ExtractionSkipped bool       `json:"extraction_skipped"`
	Batches           int        `json:"batches"`
	FailedBatches     int        `json:"failed_batches"`
	OracleCalls       int        `json:"oracle_calls"`
	Succeeded         int        `json:"succeeded"`
	Failed            int        `json:"failed"`
	Reconciled        int        `json:"reconciled"`
	Final             int        `json:"final"`
	Usage             TokenUsage `json:"usage"`
	Cost              float64    `json:"cost"`
}

// TokenUsage tracks token consumption across oracle calls.
type TokenUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
}

// AttemptOutcome classifies a single oracle exchange.
type AttemptOutcome string

const (
	AttemptValid   AttemptOutcome = "valid"
	AttemptInvalid AttemptOutcome = "invalid"
)

// BatchAttempt records one oracle exchange for one batch.
type BatchAttempt struct {
	RunID          string         `json:"run_id"`
	Batch          int            `json:"batch"`
	Attempt        int            `json:"attempt"`
	Outcome        AttemptOutcome `json:"outcome"`
	Detail         string         `json:"detail,omitempty"`
	TranscriptPath string         `json:"transcript_path,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
