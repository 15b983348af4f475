package pipeline

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/conftool-helper/internal/model"
	"github.com/sells-group/conftool-helper/internal/records"
)

// NormalizeEmail trims an address and folds its case so that exports that
// disagree on capitalization still match.
func NormalizeEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}

// RosterEmails collects the normalized addresses found in column of the
// roster table. Blank cells are skipped.
func RosterEmails(table *records.Table, column string) (map[string]struct{}, error) {
	idx, err := table.ColumnIndex(column)
	if err != nil {
		return nil, err
	}

	roster := make(map[string]struct{}, len(table.Rows))
	for _, row := range table.Rows {
		email := NormalizeEmail(records.Cell(row, idx))
		if email == "" {
			continue
		}
		roster[email] = struct{}{}
	}
	return roster, nil
}

// Prune keeps candidates that have an email which is not on the roster.
// Roster keys must be normalized with NormalizeEmail.
func Prune(candidates []model.Reviewer, roster map[string]struct{}) []model.Reviewer {
	out := make([]model.Reviewer, 0, len(candidates))
	for _, c := range candidates {
		if !c.HasEmail() {
			continue
		}
		if _, onRoster := roster[NormalizeEmail(c.Email)]; onRoster {
			continue
		}
		out = append(out, c)
	}
	return out
}
