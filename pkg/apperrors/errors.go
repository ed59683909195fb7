package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("conflict")
	ErrInvalidInput            = errors.New("invalid input")
	ErrSchemaConflict          = errors.New("schema conflict")
	ErrInvalidFormulaReference = errors.New("formula references a derived column")
	ErrRateLimited             = errors.New("rate limited")
	ErrBackendUnavailable      = errors.New("backend unavailable")
	ErrUnsupportedDocument     = errors.New("unsupported document type")
)

// SchemaConflictError reports a normalized fieldKey claimed by more than one column.
type SchemaConflictError struct {
	FieldKey string
	Labels   []string
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("schema conflict: field key %q used by columns %s", e.FieldKey, strings.Join(e.Labels, ", "))
}

func (e *SchemaConflictError) Unwrap() error {
	return ErrSchemaConflict
}

// FormulaReferenceError reports a formula column that depends on another formula column.
type FormulaReferenceError struct {
	FieldKey   string
	References string
}

func (e *FormulaReferenceError) Error() string {
	return fmt.Sprintf("formula for %q references derived column %q", e.FieldKey, e.References)
}

func (e *FormulaReferenceError) Unwrap() error {
	return ErrInvalidFormulaReference
}
