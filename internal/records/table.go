package records

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Table is an auxiliary export with arbitrary columns.
type Table struct {
	Path   string
	Header []string
	Rows   [][]string
}

// ColumnIndex returns the position of column in the header.
func (t *Table) ColumnIndex(column string) (int, error) {
	if i := indexOf(t.Header, column); i >= 0 {
		return i, nil
	}
	return -1, &SchemaError{Path: t.Path, Column: column}
}

// Text renders the table as semicolon-joined lines, header first. Prompts
// embed auxiliary exports in this form regardless of their file format.
func (t *Table) Text() string {
	var sb strings.Builder
	sb.WriteString(strings.Join(t.Header, string(Delimiter)))
	for _, row := range t.Rows {
		sb.WriteByte('\n')
		sb.WriteString(strings.Join(row, string(Delimiter)))
	}
	return sb.String()
}

// Cell returns row[idx], or "" for short rows.
func Cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// ReadTable reads an auxiliary file. Workbooks (.xlsx) are read from their
// first sheet; anything else is parsed as semicolon-delimited text. The first
// row is the header.
func ReadTable(path string) (*Table, error) {
	var (
		rows [][]string
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		rows, err = readXLSX(path)
	} else {
		rows, err = readDelimited(path)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("records: %s has no header row", path)
	}

	return &Table{
		Path:   path,
		Header: cleanHeader(rows[0]),
		Rows:   rows[1:],
	}, nil
}

func readDelimited(path string) ([][]string, error) {
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	reader := newReader(f)
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{Path: path, Row: len(rows) + 1, Err: err}
		}
		rows = append(rows, record)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Path: path}
	}

	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "records: open workbook %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("records: workbook %s has no sheets", path)
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
