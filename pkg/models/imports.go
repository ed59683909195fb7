package models

import "github.com/google/uuid"

// DocumentRef identifies the document to import, by ID or storage path.
type DocumentRef struct {
	DocumentID  *uuid.UUID `json:"document_id,omitempty"`
	StoragePath string     `json:"storage_path,omitempty"`
}

// ImportRequest triggers extraction of one document into one or more tablas.
// An empty TablaIDs list means every tabla linked to the document's folder.
type ImportRequest struct {
	Document DocumentRef `json:"document"`
	TablaIDs []uuid.UUID `json:"tabla_ids"`
	Commit   bool        `json:"commit"`
}

// TablaImportResult is reported independently for each tabla of a fan-out.
type TablaImportResult struct {
	TablaID   uuid.UUID           `json:"tabla_id"`
	TablaName string              `json:"tabla_name"`
	Inserted  int                 `json:"inserted"`
	Error     string              `json:"error,omitempty"`
	Preview   *SpreadsheetPreview `json:"preview,omitempty"`
}

// ImportResult aggregates a document import.
type ImportResult struct {
	DocumentID uuid.UUID           `json:"document_id"`
	Results    []TablaImportResult `json:"results"`
}

// Failed counts the tablas whose import failed.
func (r *ImportResult) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Error != "" {
			n++
		}
	}
	return n
}

// SpreadsheetPreview describes the detected layout of a spreadsheet source.
type SpreadsheetPreview struct {
	Sheets []SheetPreview `json:"sheets"`
}

// SheetPreview is the detected header row and column mapping of one sheet.
type SheetPreview struct {
	Name      string          `json:"name"`
	HeaderRow int             `json:"header_row"` // 1-based
	RowCount  int             `json:"row_count"`
	Mappings  []ColumnMapping `json:"mappings"`
}

// ColumnMapping maps one spreadsheet header to a tabla column.
// FieldKey is empty when no column matched.
type ColumnMapping struct {
	Header      string `json:"header"`
	ColumnIndex int    `json:"column_index"`
	FieldKey    string `json:"field_key,omitempty"`
}
