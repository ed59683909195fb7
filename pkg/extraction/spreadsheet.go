package extraction

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/textnorm"
	"github.com/ekaya-inc/obra-engine/pkg/values"
)

// minHeaderCells is how many non-empty cells a row needs to be taken as the header.
const minHeaderCells = 2

// Sheet is the raw cell grid of one worksheet. CSV files have a single sheet.
type Sheet struct {
	Name  string
	Cells [][]string
}

// SpreadsheetImporter imports xlsx and csv files by mapping header labels
// onto tabla columns.
type SpreadsheetImporter struct{}

// NewSpreadsheetImporter creates an importer.
func NewSpreadsheetImporter() *SpreadsheetImporter {
	return &SpreadsheetImporter{}
}

// Import reads every sheet, detects its header row and converts the rows
// below it. Sheets with no mapped header contribute to the preview only.
func (s *SpreadsheetImporter) Import(path string, tabla *models.Tabla) (*Result, error) {
	sheets, err := ReadSheets(path)
	if err != nil {
		return nil, err
	}

	result := &Result{Source: SourceSpreadsheet, Preview: &models.SpreadsheetPreview{}}
	for _, sheet := range sheets {
		preview, rows := importSheet(sheet, tabla)
		result.Preview.Sheets = append(result.Preview.Sheets, preview)
		result.Rows = append(result.Rows, rows...)
	}
	return result, nil
}

func importSheet(sheet Sheet, tabla *models.Tabla) (models.SheetPreview, []map[string]any) {
	preview := models.SheetPreview{Name: sheet.Name}
	header := DetectHeaderRow(sheet.Cells)
	if header < 0 {
		return preview, nil
	}
	preview.HeaderRow = header + 1
	preview.Mappings = MapHeaders(sheet.Cells[header], tabla)

	mapped := make(map[int]models.Column)
	for _, m := range preview.Mappings {
		if m.FieldKey == "" {
			continue
		}
		col, _ := tabla.ColumnByKey(m.FieldKey)
		mapped[m.ColumnIndex] = col
	}

	var rows []map[string]any
	for _, cells := range sheet.Cells[header+1:] {
		if isBlankRow(cells) {
			continue
		}
		preview.RowCount++
		if len(mapped) == 0 {
			continue
		}
		row := make(map[string]any, len(mapped))
		for idx, col := range mapped {
			if idx >= len(cells) {
				continue
			}
			if v := values.Coerce(cells[idx], col.DataType); v != nil {
				row[col.FieldKey] = v
			}
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	return preview, rows
}

// DetectHeaderRow returns the index of the first row with at least two
// non-empty cells, or -1.
func DetectHeaderRow(cells [][]string) int {
	for i, row := range cells {
		n := 0
		for _, c := range row {
			if strings.TrimSpace(c) != "" {
				n++
			}
		}
		if n >= minHeaderCells {
			return i
		}
	}
	return -1
}

// MapHeaders pairs each header cell with the writable column whose
// fieldKey or normalized label equals the normalized header. A column is
// claimed by the first header that matches it.
func MapHeaders(headers []string, tabla *models.Tabla) []models.ColumnMapping {
	index := columnIndex(tabla)
	claimed := make(map[string]bool)
	var out []models.ColumnMapping
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		m := models.ColumnMapping{Header: h, ColumnIndex: i}
		if col, ok := index[textnorm.NormalizeFieldKey(h)]; ok && !claimed[col.FieldKey] {
			m.FieldKey = col.FieldKey
			claimed[col.FieldKey] = true
		}
		out = append(out, m)
	}
	return out
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ReadSheets loads the cell grid of an xlsx/xlsm or csv file.
func ReadSheets(path string) ([]Sheet, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return readCSV(path)
	default:
		return readWorkbook(path)
	}
}

func readWorkbook(path string) ([]Sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var sheets []Sheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		sheets = append(sheets, Sheet{Name: name, Cells: rows})
	}
	return sheets, nil
}

func readCSV(path string) ([]Sheet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sniffDelimiter(data)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var cells [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		cells = append(cells, rec)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return []Sheet{{Name: name, Cells: cells}}, nil
}

// sniffDelimiter picks ';' when the first line has more semicolons than commas.
func sniffDelimiter(data []byte) rune {
	line, _ := bufio.NewReader(bytes.NewReader(data)).ReadString('\n')
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';'
	}
	return ','
}
