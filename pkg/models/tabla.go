package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DataInputMethod describes how rows reach a tabla.
type DataInputMethod string

const (
	DataInputExtraction DataInputMethod = "extraction"
	DataInputManual     DataInputMethod = "manual"
	DataInputMixed      DataInputMethod = "mixed"
)

// IsValid reports whether m is a known input method.
func (m DataInputMethod) IsValid() bool {
	switch m {
	case DataInputExtraction, DataInputManual, DataInputMixed:
		return true
	}
	return false
}

// DataType is the runtime type of a column's cells.
type DataType string

const (
	DataTypeText     DataType = "text"
	DataTypeNumber   DataType = "number"
	DataTypeCurrency DataType = "currency"
	DataTypeBoolean  DataType = "boolean"
	DataTypeDate     DataType = "date"
)

// IsValid reports whether t is a known data type.
func (t DataType) IsValid() bool {
	switch t {
	case DataTypeText, DataTypeNumber, DataTypeCurrency, DataTypeBoolean, DataTypeDate:
		return true
	}
	return false
}

// IsNumeric is true for number and currency columns.
func (t DataType) IsNumeric() bool {
	return t == DataTypeNumber || t == DataTypeCurrency
}

// Tabla is a user-defined table schema. Rows live in obra_tabla_rows.
type Tabla struct {
	ID              uuid.UUID       `json:"id"`
	OwnerID         uuid.UUID       `json:"owner_id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	DataInputMethod DataInputMethod `json:"data_input_method"`
	Columns         []Column        `json:"columns"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Column describes one typed field of a tabla.
type Column struct {
	ID       uuid.UUID     `json:"id"`
	Label    string        `json:"label"`
	FieldKey string        `json:"field_key"`
	DataType DataType      `json:"data_type"`
	Required bool          `json:"required"`
	Config   *ColumnConfig `json:"config,omitempty"`
}

// ColumnConfig carries optional computation and validation metadata.
type ColumnConfig struct {
	Formula     string       `json:"formula,omitempty"`
	Conditional *Conditional `json:"conditional,omitempty"`
}

// Conditional holds the numeric thresholds used for cell styling.
type Conditional struct {
	WarnBelow     *float64 `json:"warn_below,omitempty"`
	WarnAbove     *float64 `json:"warn_above,omitempty"`
	CriticalBelow *float64 `json:"critical_below,omitempty"`
	CriticalAbove *float64 `json:"critical_above,omitempty"`
}

// Formula returns the trimmed formula text or "" for plain columns.
func (c Column) Formula() string {
	if c.Config == nil {
		return ""
	}
	return strings.TrimSpace(c.Config.Formula)
}

// IsDerived is true when the column value is computed from siblings.
// Derived columns never accept direct edits.
func (c Column) IsDerived() bool {
	return c.Formula() != ""
}

// ColumnByKey returns the column with the given normalized field key.
func (t *Tabla) ColumnByKey(fieldKey string) (Column, bool) {
	for _, c := range t.Columns {
		if c.FieldKey == fieldKey {
			return c, true
		}
	}
	return Column{}, false
}

