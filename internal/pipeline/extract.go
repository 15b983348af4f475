package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/conftool-helper/internal/model"
	"github.com/sells-group/conftool-helper/internal/resilience"
)

// Extraction defaults.
const (
	DefaultBatchSize   = 5
	DefaultMaxAttempts = 3
)

// ErrInvalidResponse marks an oracle answer that does not decode into the
// batch's records. Only this failure is retried.
var ErrInvalidResponse = errors.New("pipeline: invalid oracle response")

// OracleError reports an oracle call that returned no candidate at all. It
// aborts the run.
type OracleError struct {
	Batch   int
	Attempt int
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("pipeline: oracle returned no candidate for batch %d attempt %d", e.Batch, e.Attempt)
}

// Invoker is the blocking oracle call used by the extractor.
type Invoker interface {
	Invoke(ctx context.Context, systemPrompt, userPrompt string) (string, bool, error)
}

// AttemptRecorder receives the outcome of every oracle attempt.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt model.BatchAttempt) error
}

// ExtractConfig bounds batch extraction.
type ExtractConfig struct {
	BatchSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
	// Step prefixes conversation ids.
	Step string
}

func (c ExtractConfig) withDefaults() ExtractConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Step == "" {
		c.Step = StepMandatoryReviewers
	}
	return c
}

// ExtractInput is everything one extraction pass needs.
type ExtractInput struct {
	Reviewers    []model.Reviewer
	Submissions  map[int]string
	SystemPrompt string
	UserTemplate string
}

// ExtractResult partitions the input into extracted and failed records.
type ExtractResult struct {
	Succeeded     []model.Reviewer
	Failed        []model.Reviewer
	Batches       int
	FailedBatches int
	OracleCalls   int
}

// Extractor turns raw reviewers into structured ones, one batch at a time.
type Extractor struct {
	oracle      Invoker
	transcripts *TranscriptLogger
	cfg         ExtractConfig

	recorder AttemptRecorder
	runID    string
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithAttemptRecorder reports every attempt of the given run to rec.
func WithAttemptRecorder(rec AttemptRecorder, runID string) ExtractorOption {
	return func(e *Extractor) {
		e.recorder = rec
		e.runID = runID
	}
}

// NewExtractor creates an Extractor.
func NewExtractor(oracle Invoker, transcripts *TranscriptLogger, cfg ExtractConfig, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		oracle:      oracle,
		transcripts: transcripts,
		cfg:         cfg.withDefaults(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Chunk splits items into consecutive slices of at most size elements. The
// last chunk may be shorter; no chunk is empty.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Extract runs every batch in order. A batch whose answers never parse within
// the attempt bound contributes its raw records to Failed. An absent oracle
// answer, a transport failure or a transcript write failure is returned as an
// error and stops extraction.
func (e *Extractor) Extract(ctx context.Context, in ExtractInput) (*ExtractResult, error) {
	chunks := Chunk(in.Reviewers, e.cfg.BatchSize)
	res := &ExtractResult{Batches: len(chunks)}

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "pipeline: extraction cancelled")
		}
		batch := i + 1

		userPrompt, err := batchPrompt(in.UserTemplate, chunk, in.Submissions)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: build prompt for batch %d", batch)
		}

		parsed, calls, err := e.runBatch(ctx, batch, chunk, in.SystemPrompt, userPrompt)
		res.OracleCalls += calls
		switch {
		case err == nil:
			for _, r := range parsed {
				if r.HasEmail() {
					res.Succeeded = append(res.Succeeded, r)
				} else {
					res.Failed = append(res.Failed, r)
				}
			}
		case errors.Is(err, ErrInvalidResponse):
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, eris.Wrap(ctxErr, "pipeline: extraction cancelled")
			}
			zap.L().Warn("extract: batch failed after retries",
				zap.Int("batch", batch),
				zap.Int("attempts", calls),
				zap.Error(err),
			)
			res.FailedBatches++
			for _, r := range chunk {
				res.Failed = append(res.Failed, r.Raw())
			}
		default:
			return nil, err
		}

		zap.L().Info("extract: batch complete",
			zap.Int("batch", batch),
			zap.Int("batches", len(chunks)),
			zap.Int("succeeded", len(res.Succeeded)),
			zap.Int("failed", len(res.Failed)),
		)
	}

	return res, nil
}

// runBatch invokes the oracle until an answer parses or the attempt bound is
// reached. It returns the number of oracle calls made.
func (e *Extractor) runBatch(ctx context.Context, batch int, chunk []model.Reviewer, systemPrompt, userPrompt string) ([]model.Reviewer, int, error) {
	attempt := 0
	retryCfg := resilience.RetryConfig{
		MaxAttempts:    e.cfg.MaxAttempts,
		InitialBackoff: e.cfg.RetryBackoff,
		ShouldRetry: func(err error) bool {
			return errors.Is(err, ErrInvalidResponse)
		},
		OnRetry: resilience.RetryLogger("extract", "parse_batch", zap.Int("batch", batch)),
	}

	parsed, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) ([]model.Reviewer, error) {
		attempt++

		text, ok, err := e.oracle.Invoke(ctx, systemPrompt, userPrompt)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: batch %d attempt %d", batch, attempt)
		}
		if !ok {
			return nil, &OracleError{Batch: batch, Attempt: attempt}
		}

		path, err := e.transcripts.Record(ConversationID(e.cfg.Step, batch, attempt), systemPrompt, userPrompt, text)
		if err != nil {
			return nil, err
		}

		recs, parseErr := ParseReviewers(text, chunk)
		e.recordAttempt(ctx, batch, attempt, path, parseErr)
		return recs, parseErr
	})
	return parsed, attempt, err
}

func (e *Extractor) recordAttempt(ctx context.Context, batch, attempt int, transcriptPath string, parseErr error) {
	if e.recorder == nil {
		return
	}
	a := model.BatchAttempt{
		RunID:          e.runID,
		Batch:          batch,
		Attempt:        attempt,
		Outcome:        model.AttemptValid,
		TranscriptPath: transcriptPath,
		CreatedAt:      time.Now().UTC(),
	}
	if parseErr != nil {
		a.Outcome = model.AttemptInvalid
		a.Detail = parseErr.Error()
	}
	if err := e.recorder.RecordAttempt(ctx, a); err != nil {
		zap.L().Warn("extract: failed to record attempt",
			zap.Int("batch", batch),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}

// batchPrompt fills the user template with the chunk's raw records and the
// submission rows of its papers. Papers without a submission row are skipped.
func batchPrompt(template string, chunk []model.Reviewer, submissions map[int]string) (string, error) {
	raw := make([]model.Reviewer, len(chunk))
	for i, r := range chunk {
		raw[i] = r.Raw()
	}
	reviewersJSON, err := json.Marshal(raw)
	if err != nil {
		return "", err
	}

	var rows []string
	for _, r := range chunk {
		if row, ok := submissions[r.PaperID]; ok {
			rows = append(rows, row)
		}
	}

	return AssemblePrompt(template, map[string]string{
		PlaceholderReviewers:   string(reviewersJSON),
		PlaceholderSubmissions: strings.Join(rows, "\n"),
	}), nil
}

// ParseReviewers decodes an oracle answer for chunk. The answer must hold a
// JSON array with one record per input record carrying the same multiset of
// paper ids; anything else wraps ErrInvalidResponse. A record without a raw
// name takes the raw name of its input record.
func ParseReviewers(text string, chunk []model.Reviewer) ([]model.Reviewer, error) {
	body, ok := cleanJSONArray(text)
	if !ok {
		return nil, eris.Wrap(ErrInvalidResponse, "no JSON array in response")
	}

	var parsed []model.Reviewer
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, eris.Wrapf(ErrInvalidResponse, "decode records: %v", err)
	}
	if len(parsed) != len(chunk) {
		return nil, eris.Wrapf(ErrInvalidResponse, "record count %d, want %d", len(parsed), len(chunk))
	}

	want := make(map[int]int, len(chunk))
	for _, r := range chunk {
		want[r.PaperID]++
	}
	for _, r := range parsed {
		want[r.PaperID]--
	}
	for id, n := range want {
		if n != 0 {
			return nil, eris.Wrapf(ErrInvalidResponse, "paper ids do not match the batch (paper %d)", id)
		}
	}

	out := make([]model.Reviewer, len(parsed))
	used := make([]bool, len(chunk))
	for i, r := range parsed {
		src := sourceIndex(i, r.PaperID, chunk, used)
		used[src] = true
		if strings.TrimSpace(r.RawName) == "" {
			r.RawName = chunk[src].RawName
		}
		out[i] = r
	}
	return out, nil
}

// sourceIndex finds the input record a parsed record answers: the one at the
// same position when the paper ids agree, otherwise the first unused input
// with the same paper id.
func sourceIndex(pos, paperID int, chunk []model.Reviewer, used []bool) int {
	if !used[pos] && chunk[pos].PaperID == paperID {
		return pos
	}
	for j, r := range chunk {
		if !used[j] && r.PaperID == paperID {
			return j
		}
	}
	return pos
}

// cleanJSONArray strips markdown code fences and returns the text between the
// first '[' and the last ']'.
func cleanJSONArray(text string) (string, bool) {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return "", false
	}
	return strings.TrimSpace(text[start : end+1]), true
}
