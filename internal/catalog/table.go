package catalog

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"invoice-reconciliation-service/pkg/errors"

	"github.com/xuri/excelize/v2"
)

// Table is a sheet of string cells with a header row.
type Table struct {
	File      string
	Headers   []string
	Rows      [][]string
	lines     []int
	headerMap map[string]int
}

// Row is one data row of a table. Line is the 1-based line (CSV) or row
// (XLSX) number in the source file.
type Row struct {
	Line   int
	Values []string
	table  *Table
}

func newTable(file string, headers []string) *Table {
	t := &Table{File: file, Headers: cleanHeaders(headers), headerMap: make(map[string]int)}
	for i, h := range t.Headers {
		key := headerKey(h)
		if _, ok := t.headerMap[key]; !ok {
			t.headerMap[key] = i
		}
	}
	return t
}

func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		cleaned[i] = strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
	}
	return cleaned
}

// headerKey makes "List Price", "list_price" and "LIST-PRICE" compare equal.
func headerKey(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "_", "-", "_", ".", "").Replace(h)
}

// ColumnIndex returns the index of the first column matching any of names, or -1.
func (t *Table) ColumnIndex(names ...string) int {
	for _, name := range names {
		if i, ok := t.headerMap[headerKey(name)]; ok {
			return i
		}
	}
	return -1
}

// RequireColumns checks that every column group has at least one present alias.
// Each group is a list of accepted header names for one field.
func (t *Table) RequireColumns(groups ...[]string) error {
	var missing []string
	for _, names := range groups {
		if t.ColumnIndex(names...) == -1 {
			missing = append(missing, names[0])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return errors.ParseError(errors.CodeMissingColumn, t.File, 1, strings.Join(missing, ", "), "", nil).
		WithSuggestion(fmt.Sprintf("available headers: %s", strings.Join(t.Headers, ", ")))
}

// addRow appends a data row unless all of its cells are blank.
func (t *Table) addRow(line int, values []string) {
	for _, cell := range values {
		if strings.TrimSpace(cell) != "" {
			t.Rows = append(t.Rows, values)
			t.lines = append(t.lines, line)
			return
		}
	}
}

// Each calls fn for every data row.
func (t *Table) Each(fn func(Row)) {
	for i, values := range t.Rows {
		fn(Row{Line: t.lines[i], Values: values, table: t})
	}
}

// Get returns the trimmed cell of the first matching column, or "".
func (r Row) Get(names ...string) string {
	i := r.table.ColumnIndex(names...)
	if i == -1 || i >= len(r.Values) {
		return ""
	}
	return strings.TrimSpace(r.Values[i])
}

// At returns the trimmed cell at a fixed column index, or "".
func (r Row) At(i int) string {
	if i < 0 || i >= len(r.Values) {
		return ""
	}
	return strings.TrimSpace(r.Values[i])
}

// ReadTable loads a CSV or XLSX file by extension. XLSX reads the named sheet,
// or the first sheet when sheet is empty.
func ReadTable(path, sheet string, delimiter rune) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return readCSV(path, delimiter)
	case ".xlsx", ".xlsm":
		return readXLSX(path, sheet)
	default:
		return nil, errors.FileError(errors.CodeUnsupported, path, nil)
	}
}

func openFile(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err == nil {
		return file, nil
	}
	if os.IsNotExist(err) {
		return nil, errors.FileError(errors.CodeFileNotFound, path, err)
	}
	if os.IsPermission(err) {
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	}
	return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
}

// validateEncoding rejects files whose first lines are not UTF-8.
func validateEncoding(file *os.File, path string) error {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() && line < 100 {
		line++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.ParseError(errors.CodeInvalidData, path, line, "encoding", "",
				fmt.Errorf("invalid UTF-8 encoding detected")).
				WithSuggestion("save the file in UTF-8 encoding and try again")
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	return nil
}

func readCSV(path string, delimiter rune) (*Table, error) {
	file, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := validateEncoding(file, path); err != nil {
		return nil, err
	}

	reader := csv.NewReader(file)
	if delimiter != 0 {
		reader.Comma = delimiter
	}
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, errors.ValidationError(errors.CodeMissingField, "file_content", path, nil).
			WithSuggestion("ensure the file contains a header row and data rows")
	}
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidData, path, 1, "headers", "", err)
	}

	table := newTable(path, headers)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.ParseError(errors.CodeInvalidData, path, 0, "record", "", err)
		}
		line, _ := reader.FieldPos(0)
		table.addRow(line, record)
	}
	return table, nil
}

func readXLSX(path, sheet string) (*Table, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.FileError(errors.CodeFileNotFound, path, err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.FileError(errors.CodeFileCorrupted, path, fmt.Errorf("workbook has no sheets"))
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidData, path, 0, sheet, "", err).
			WithSuggestion("check the sheet name")
	}
	if len(rows) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "file_content", path, nil).
			WithSuggestion("ensure the sheet contains a header row and data rows")
	}

	table := newTable(path, rows[0])
	for i, row := range rows[1:] {
		table.addRow(i+2, row)
	}
	return table, nil
}
