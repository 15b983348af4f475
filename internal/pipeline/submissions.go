package pipeline

import (
	"strconv"
	"strings"

	"github.com/sells-group/conftool-helper/internal/records"
)

// BuildSubmissionIndex maps each paper id to its full submission row joined
// by commas. A repeated paper id keeps the last row.
func BuildSubmissionIndex(table *records.Table, paperIDColumn string) (map[int]string, error) {
	idx, err := table.ColumnIndex(paperIDColumn)
	if err != nil {
		return nil, err
	}

	index := make(map[int]string, len(table.Rows))
	for i, row := range table.Rows {
		raw := strings.TrimSpace(records.Cell(row, idx))
		id, err := strconv.Atoi(raw)
		if err != nil {
			return nil, &records.ParseError{
				Path:   table.Path,
				Row:    i + 2,
				Column: paperIDColumn,
				Err:    err,
			}
		}
		index[id] = strings.Join(row, ",")
	}
	return index, nil
}
