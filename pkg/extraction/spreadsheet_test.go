package extraction

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ekaya-inc/obra-engine/pkg/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDetectHeaderRow(t *testing.T) {
	tests := []struct {
		name  string
		cells [][]string
		want  int
	}{
		{"first row", [][]string{{"a", "b"}, {"1", "2"}}, 0},
		{"title above", [][]string{{"Certificado Nº 3"}, {}, {"Descripción", "Cantidad"}}, 2},
		{"whitespace cells", [][]string{{" ", "x", ""}, {"a", " b "}}, 1},
		{"none", [][]string{{"solo"}, {""}}, -1},
		{"empty", nil, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectHeaderRow(tt.cells))
		})
	}
}

func TestMapHeaders(t *testing.T) {
	mappings := MapHeaders([]string{"DESCRIPCION", "", "precio unitario", "Total", "Observaciones", "cantidad", "Cantidad"}, itemsTabla())

	want := []models.ColumnMapping{
		{Header: "DESCRIPCION", ColumnIndex: 0, FieldKey: "descripcion"},
		{Header: "precio unitario", ColumnIndex: 2, FieldKey: "precio_unitario"},
		{Header: "Total", ColumnIndex: 3},
		{Header: "Observaciones", ColumnIndex: 4},
		{Header: "cantidad", ColumnIndex: 5, FieldKey: "cantidad"},
		{Header: "Cantidad", ColumnIndex: 6},
	}
	assert.Equal(t, want, mappings)
}

func TestSpreadsheetImporter_CSV(t *testing.T) {
	path := writeFile(t, "certificado.csv", "\xef\xbb\xbfCertificado 3;;\n"+
		"Descripción;Cantidad;Precio Unitario;Fecha\n"+
		"Hormigón H21;10;1.500,50;2024-03-01\n"+
		";;;\n"+
		"Acero;2,5;$ 800;\n")

	result, err := NewSpreadsheetImporter().Import(path, itemsTabla())
	require.NoError(t, err)

	require.Len(t, result.Preview.Sheets, 1)
	sheet := result.Preview.Sheets[0]
	assert.Equal(t, "certificado", sheet.Name)
	assert.Equal(t, 2, sheet.HeaderRow)
	assert.Equal(t, 2, sheet.RowCount)
	assert.Len(t, sheet.Mappings, 4)

	require.Len(t, result.Rows, 2)
	assert.Equal(t, map[string]any{
		"descripcion":     "Hormigón H21",
		"cantidad":        10.0,
		"precio_unitario": 1500.5,
		"fecha":           "2024-03-01",
	}, result.Rows[0])
	assert.Equal(t, map[string]any{
		"descripcion":     "Acero",
		"cantidad":        2.5,
		"precio_unitario": 800.0,
	}, result.Rows[1])
	assert.Equal(t, SourceSpreadsheet, result.Source)
}

func TestSpreadsheetImporter_CommaCSV(t *testing.T) {
	path := writeFile(t, "items.csv", "descripcion,cantidad\n\"Arena, gruesa\",3\n")

	result, err := NewSpreadsheetImporter().Import(path, itemsTabla())
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "Arena, gruesa", result.Rows[0]["descripcion"])
	assert.Equal(t, 3.0, result.Rows[0]["cantidad"])
}

func TestSpreadsheetImporter_Workbook(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Resumen de obra"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]any{"Descripción", "Cantidad", "Notas"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A4", &[]any{"Excavación", 120.5, "zona norte"}))
	_, err := f.NewSheet("Anexo")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Anexo", "A1", &[]any{"Otra", "Cosa"}))
	require.NoError(t, f.SetSheetRow("Anexo", "A2", &[]any{"x", "y"}))

	path := filepath.Join(t.TempDir(), "obra.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	result, err := NewSpreadsheetImporter().Import(path, itemsTabla())
	require.NoError(t, err)

	require.Len(t, result.Preview.Sheets, 2)
	main := result.Preview.Sheets[0]
	assert.Equal(t, "Sheet1", main.Name)
	assert.Equal(t, 3, main.HeaderRow)
	assert.Equal(t, 1, main.RowCount)

	annex := result.Preview.Sheets[1]
	assert.Equal(t, "Anexo", annex.Name)
	assert.Equal(t, 1, annex.RowCount)
	for _, m := range annex.Mappings {
		assert.Empty(t, m.FieldKey, "unmapped sheet should not map %q", m.Header)
	}

	require.Len(t, result.Rows, 1)
	assert.Equal(t, map[string]any{"descripcion": "Excavación", "cantidad": 120.5}, result.Rows[0])
}

func TestReadSheets_MissingFile(t *testing.T) {
	_, err := ReadSheets(filepath.Join(t.TempDir(), "missing.xlsx"))
	assert.Error(t, err)
}
