package records

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Submissions")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "submissions.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadTable_Delimited(t *testing.T) {
	path := writeFile(t, "submissions.csv", "paperID;title;authors\n1;Graph Things;A. Lovelace\n2;Short\n")

	table, err := ReadTable(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"paperID", "title", "authors"}, table.Header)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"2", "Short"}, table.Rows[1])

	idx, err := table.ColumnIndex("title")
	require.NoError(t, err)
	assert.Equal(t, "Short", Cell(table.Rows[1], idx))
	assert.Equal(t, "", Cell(table.Rows[1], 2))
}

func TestReadTable_XLSX(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"paperID", "title"},
		{"4", "Workbook Paper"},
	})

	table, err := ReadTable(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"paperID", "title"}, table.Header)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, []string{"4", "Workbook Paper"}, table.Rows[0])
}

func TestReadTable_Missing(t *testing.T) {
	_, err := ReadTable(filepath.Join(t.TempDir(), "none.csv"))
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = ReadTable(filepath.Join(t.TempDir(), "none.xlsx"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReadTable_Empty(t *testing.T) {
	path := writeFile(t, "empty.csv", "")
	_, err := ReadTable(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no header row")
}

func TestTable_ColumnIndexMissing(t *testing.T) {
	table := &Table{Path: "tpc.csv", Header: []string{"name"}}
	_, err := table.ColumnIndex("email")
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, `records: tpc.csv: missing required column "email"`, se.Error())
}

func TestTable_Text(t *testing.T) {
	path := writeFile(t, "users.csv", "\ufeffid ; name;email\n7;Ada Lovelace;ada@example.org\n8;Bob\n")

	table, err := ReadTable(path)
	require.NoError(t, err)
	assert.Equal(t, "id;name;email\n7;Ada Lovelace;ada@example.org\n8;Bob", table.Text())
}
