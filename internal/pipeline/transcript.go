package pipeline

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Transcript is one persisted oracle exchange.
type Transcript struct {
	ConversationID string `yaml:"conversation_id"`
	SystemPrompt   string `yaml:"system_prompt"`
	UserPrompt     string `yaml:"user_prompt"`
	Response       string `yaml:"response"`
}

// TranscriptLogger writes one YAML file per oracle exchange.
type TranscriptLogger struct {
	dir string
}

// NewTranscriptLogger returns a logger writing into dir. The directory is
// created on the first Record.
func NewTranscriptLogger(dir string) *TranscriptLogger {
	return &TranscriptLogger{dir: dir}
}

// ConversationID names the transcript of one attempt of one batch. Batch and
// attempt are 1-based.
func ConversationID(step string, batch, attempt int) string {
	return step + "-" + strconv.Itoa(batch) + "-" + strconv.Itoa(attempt)
}

// Record writes <dir>/<id>.yaml, replacing any earlier transcript with the
// same id, and returns its path.
func (l *TranscriptLogger) Record(id, systemPrompt, userPrompt, response string) (string, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "pipeline: create transcript dir %s", l.dir)
	}

	data, err := yaml.Marshal(Transcript{
		ConversationID: id,
		SystemPrompt:   systemPrompt,
		UserPrompt:     userPrompt,
		Response:       response,
	})
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: encode transcript %s", id)
	}

	path := filepath.Join(l.dir, id+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "pipeline: write transcript %s", path)
	}
	return path, nil
}
