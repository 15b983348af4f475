package pipeline

import "github.com/sells-group/conftool-helper/internal/model"

// Dedupe keeps the first reviewer for each distinct raw name. Names are
// compared byte for byte and survivors keep their input order.
func Dedupe(reviewers []model.Reviewer) []model.Reviewer {
	seen := make(map[string]struct{}, len(reviewers))
	out := make([]model.Reviewer, 0, len(reviewers))
	for _, r := range reviewers {
		if _, ok := seen[r.RawName]; ok {
			continue
		}
		seen[r.RawName] = struct{}{}
		out = append(out, r)
	}
	return out
}
