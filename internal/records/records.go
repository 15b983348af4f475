// Package records loads and saves reviewer collections as semicolon-delimited
// files and reads the heterogeneous auxiliary exports (submissions, roster).
package records

import (
	"encoding/csv"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/conftool-helper/internal/model"
)

// Delimiter separates fields in every file the tool reads or writes.
const Delimiter = ';'

// Schema lists the columns a file must provide.
type Schema []string

var (
	// RawSchema is the minimum header of the raw mandatory reviewer export.
	RawSchema = Schema{"paper_id", "raw_name"}

	// ExtractedSchema is the header of parsed, failed, reconciled and final files.
	ExtractedSchema = Schema{"paper_id", "raw_name", "first_name", "last_name", "institution", "email"}
)

// Load reads reviewers from a semicolon-delimited file whose header contains
// every column in schema. Columns outside the record are ignored.
func Load(path string, schema Schema) ([]model.Reviewer, error) {
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	reader := newReader(f)

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &SchemaError{Path: path, Column: schema[0]}
	}
	if err != nil {
		return nil, &ParseError{Path: path, Row: 1, Err: err}
	}
	header = cleanHeader(header)

	for _, col := range schema {
		if indexOf(header, col) < 0 {
			return nil, &SchemaError{Path: path, Column: col}
		}
	}

	dec, err := csvutil.NewDecoder(trimColumnReader{r: reader, col: indexOf(header, "paper_id")}, header...)
	if err != nil {
		return nil, eris.Wrapf(err, "records: init decoder for %s", path)
	}

	var out []model.Reviewer
	for row := 2; ; row++ {
		var r model.Reviewer
		err := dec.Decode(&r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, toParseError(path, row, err)
		}
		if r.PaperID <= 0 {
			return nil, &ParseError{Path: path, Row: row, Column: "paper_id", Err: eris.Errorf("paper id must be positive, got %d", r.PaperID)}
		}
		out = append(out, r)
	}

	return out, nil
}

// Save writes reviewers in order to path, replacing any existing file.
// Parent directories are created as needed. The file is written to a
// temporary sibling first and renamed into place.
func Save(reviewers []model.Reviewer, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "records: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrapf(err, "records: create temp file for %s", path)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	w := csv.NewWriter(tmp)
	w.Comma = Delimiter

	enc := csvutil.NewEncoder(w)
	enc.AutoHeader = false
	if err := enc.EncodeHeader(model.Reviewer{}); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "records: write header to %s", path)
	}
	for _, r := range reviewers {
		if err := enc.Encode(r); err != nil {
			tmp.Close() //nolint:errcheck
			return eris.Wrapf(err, "records: encode row for %s", path)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "records: flush %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "records: close %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "records: rename into %s", path)
	}
	return nil
}

// ColumnIndex returns the position of column in the header of the file at path.
func ColumnIndex(path, column string) (int, error) {
	t, err := ReadTable(path)
	if err != nil {
		return -1, err
	}
	return t.ColumnIndex(column)
}

// Exists reports whether path names an existing file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Path: path}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "records: open %s", path)
	}
	return f, nil
}

func newReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = Delimiter
	reader.LazyQuotes = true
	return reader
}

// trimColumnReader trims surrounding whitespace from one column of every row.
// Text columns keep their bytes so that deduplication stays exact.
type trimColumnReader struct {
	r   *csv.Reader
	col int
}

func (t trimColumnReader) Read() ([]string, error) {
	rec, err := t.r.Read()
	if err == nil && t.col >= 0 && t.col < len(rec) {
		rec[t.col] = strings.TrimSpace(rec[t.col])
	}
	return rec, err
}

// cleanHeader trims header cells and drops a UTF-8 byte-order mark.
func cleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		out[i] = strings.TrimSpace(h)
	}
	return out
}

func indexOf(header []string, column string) int {
	for i, h := range header {
		if h == column {
			return i
		}
	}
	return -1
}

func toParseError(path string, row int, err error) error {
	pe := &ParseError{Path: path, Row: row, Err: err}

	// paper_id is the only non-text field of a reviewer.
	var typeErr *csvutil.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		pe.Column = "paper_id"
	}
	var csvErr *csv.ParseError
	if errors.As(err, &csvErr) {
		pe.Row = csvErr.Line
	}
	return pe
}
