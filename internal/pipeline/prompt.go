package pipeline

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Placeholders recognized by the reviewer prompt templates.
const (
	PlaceholderUserData          = "<USER_DATA>"
	PlaceholderSubmissionDetails = "<SUBMISSION_DETAILS>"
	PlaceholderReviewers         = "<REVIEWERS>"
	PlaceholderSubmissions       = "<SUBMISSIONS>"
)

// AssemblePrompt replaces every occurrence of each placeholder with its value.
// Replacement happens in a single pass, so values are never expanded again.
func AssemblePrompt(template string, substitutions map[string]string) string {
	if len(substitutions) == 0 {
		return template
	}

	keys := make([]string, 0, len(substitutions))
	for k := range substitutions {
		if k != "" {
			keys = append(keys, k)
		}
	}
	// Longer placeholders first so one that prefixes another never wins.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, substitutions[k])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// LoadTemplate reads a prompt template from disk.
func LoadTemplate(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: load template %s", path)
	}
	return string(b), nil
}
