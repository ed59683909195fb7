package models

import (
	"time"

	"github.com/google/uuid"
)

// Well-known row metadata keys. They travel with row data in API payloads
// but are never part of a tabla's user schema.
const (
	SourcePathKey = "__doc_path"
	SourceNameKey = "__doc_name"
)

// Row is a persisted tabla row. Data is keyed by normalized fieldKey.
type Row struct {
	ID         uuid.UUID      `json:"id"`
	TablaID    uuid.UUID      `json:"tabla_id"`
	Data       map[string]any `json:"data"`
	SourcePath string         `json:"source_path,omitempty"`
	SourceName string         `json:"source_name,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// CellStyle is the conditional classification of a cell value.
type CellStyle string

const (
	CellStyleNone     CellStyle = "none"
	CellStyleWarn     CellStyle = "warn"
	CellStyleCritical CellStyle = "critical"
)

// ViewRow is a row after projection through the schema: typed values,
// live formula results and per-cell styles.
type ViewRow struct {
	ID         uuid.UUID            `json:"id"`
	Data       map[string]any       `json:"data"`
	Styles     map[string]CellStyle `json:"styles,omitempty"`
	SourcePath string               `json:"source_path,omitempty"`
	SourceName string               `json:"source_name,omitempty"`
}

// RowsSaveRequest is the batch payload for row persistence.
// Rows without an ID are inserted; DirtyRows are updated; DeletedRowIDs removed.
type RowsSaveRequest struct {
	Rows          []Row       `json:"rows"`
	DirtyRows     []Row       `json:"dirty_rows"`
	DeletedRowIDs []uuid.UUID `json:"deleted_row_ids"`
}

// RowPage is one page of raw rows.
type RowPage struct {
	Rows  []Row `json:"rows"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int   `json:"total"`
}

// HasMore reports whether pages remain after this one.
func (p *RowPage) HasMore() bool {
	return p.Page*p.Limit < p.Total
}
