package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/conftool-helper/internal/model"
	"github.com/sells-group/conftool-helper/internal/oracle"
)

// --- Oracle Mock ---

// responder computes an answer from the user prompt. A mockOracle expectation
// may return one in place of a fixed text.
type responder func(userPrompt string) (string, bool, error)

type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) Invoke(ctx context.Context, systemPrompt, userPrompt string) (string, bool, error) {
	args := m.Called(ctx, systemPrompt, userPrompt)
	if fn, ok := args.Get(0).(responder); ok {
		return fn(userPrompt)
	}
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockOracle) Usage() oracle.Usage {
	n := m.CallCount()
	return oracle.Usage{
		Calls:  n,
		Tokens: model.TokenUsage{InputTokens: 100 * n, OutputTokens: 10 * n},
		Cost:   0.001 * float64(n),
	}
}

// CallCount returns the number of Invoke calls made so far.
func (m *mockOracle) CallCount() int {
	n := 0
	for _, c := range m.Calls {
		if c.Method == "Invoke" {
			n++
		}
	}
	return n
}

// SystemPrompts returns the system prompt of every Invoke call in order.
func (m *mockOracle) SystemPrompts() []string {
	var out []string
	for _, c := range m.Calls {
		if c.Method == "Invoke" {
			out = append(out, c.Arguments.String(1))
		}
	}
	return out
}

// UserPrompts returns the user prompt of every Invoke call in order.
func (m *mockOracle) UserPrompts() []string {
	var out []string
	for _, c := range m.Calls {
		if c.Method == "Invoke" {
			out = append(out, c.Arguments.String(2))
		}
	}
	return out
}

func (m *mockOracle) onInvoke() *mock.Call {
	return m.On("Invoke", mock.Anything, mock.Anything, mock.Anything)
}

// echoResponder decodes the raw records from a user prompt built from the
// template "<REVIEWERS>" and resolves each raw name through known. Unknown
// names come back without an email.
func echoResponder(known map[string]model.Reviewer) responder {
	return func(userPrompt string) (string, bool, error) {
		var raw []model.Reviewer
		if err := json.Unmarshal([]byte(userPrompt), &raw); err != nil {
			return "", false, err
		}
		out := make([]model.Reviewer, len(raw))
		for i, r := range raw {
			if k, ok := known[r.RawName]; ok {
				k.PaperID = r.PaperID
				k.RawName = r.RawName
				out[i] = k
				continue
			}
			out[i] = model.Reviewer{PaperID: r.PaperID, RawName: r.RawName}
		}
		b, err := json.Marshal(out)
		if err != nil {
			return "", false, err
		}
		return "```json\n" + string(b) + "\n```", true, nil
	}
}

func echoOracle(known map[string]model.Reviewer) *mockOracle {
	m := &mockOracle{}
	m.onInvoke().Return(echoResponder(known), false, nil)
	return m
}

func stubOracle(text string, ok bool, err error) *mockOracle {
	m := &mockOracle{}
	m.onInvoke().Return(text, ok, err)
	return m
}

func constOracle(text string) *mockOracle {
	return stubOracle(text, true, nil)
}

// --- Attempt Recorder Mock ---

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordAttempt(ctx context.Context, attempt model.BatchAttempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

// Attempts returns every recorded attempt in order.
func (m *mockRecorder) Attempts() []model.BatchAttempt {
	var out []model.BatchAttempt
	for _, c := range m.Calls {
		out = append(out, c.Arguments.Get(1).(model.BatchAttempt))
	}
	return out
}

func newMockRecorder(err error) *mockRecorder {
	m := &mockRecorder{}
	m.On("RecordAttempt", mock.Anything, mock.AnythingOfType("model.BatchAttempt")).Return(err)
	return m
}

func rawReviewers(names ...string) []model.Reviewer {
	out := make([]model.Reviewer, len(names))
	for i, n := range names {
		out[i] = model.Reviewer{PaperID: i + 1, RawName: n}
	}
	return out
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func listTranscripts(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, e.Name())
		}
	}
	return names
}
