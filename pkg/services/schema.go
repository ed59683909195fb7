package services

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/formula"
	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/textnorm"
)

// NormalizeColumns validates a column list and returns a normalized copy.
//
// Field keys are derived from the label when empty and normalized; two
// columns normalizing to the same key is a *apperrors.SchemaConflictError.
// A formula may reference plain columns (missing ones read as 0) but never
// another formula column, which returns a *apperrors.FormulaReferenceError.
func NormalizeColumns(columns []models.Column) ([]models.Column, error) {
	out := make([]models.Column, 0, len(columns))
	labelsByKey := make(map[string][]string, len(columns))

	for i, col := range columns {
		col.Label = strings.TrimSpace(col.Label)
		source := col.FieldKey
		if strings.TrimSpace(source) == "" {
			source = col.Label
		}
		col.FieldKey = textnorm.NormalizeFieldKey(source)
		if col.FieldKey == "" {
			return nil, fmt.Errorf("column %d: label or field key is required: %w", i+1, apperrors.ErrInvalidInput)
		}
		if col.Label == "" {
			col.Label = col.FieldKey
		}
		if col.DataType == "" {
			col.DataType = models.DataTypeText
		}
		if !col.DataType.IsValid() {
			return nil, fmt.Errorf("column %q: unknown data type %q: %w", col.Label, col.DataType, apperrors.ErrInvalidInput)
		}
		if col.ID == uuid.Nil {
			col.ID = uuid.New()
		}
		col.Config = normalizeConfig(col.Config)

		labelsByKey[col.FieldKey] = append(labelsByKey[col.FieldKey], col.Label)
		out = append(out, col)
	}

	for _, col := range out {
		if labels := labelsByKey[col.FieldKey]; len(labels) > 1 {
			return nil, &apperrors.SchemaConflictError{FieldKey: col.FieldKey, Labels: labels}
		}
	}

	derived := make(map[string]bool)
	for _, col := range out {
		if col.IsDerived() {
			derived[col.FieldKey] = true
		}
	}
	for _, col := range out {
		if !col.IsDerived() {
			continue
		}
		for _, ref := range formula.References(col.Formula()) {
			if derived[ref] {
				return nil, &apperrors.FormulaReferenceError{FieldKey: col.FieldKey, References: ref}
			}
		}
	}

	return out, nil
}

func normalizeConfig(cfg *models.ColumnConfig) *models.ColumnConfig {
	if cfg == nil {
		return nil
	}
	out := *cfg
	out.Formula = strings.TrimSpace(out.Formula)
	if c := out.Conditional; c != nil && c.WarnBelow == nil && c.WarnAbove == nil && c.CriticalBelow == nil && c.CriticalAbove == nil {
		out.Conditional = nil
	}
	if out.Formula == "" && out.Conditional == nil {
		return nil
	}
	return &out
}

// changedFormulas returns formula texts present in before but not in after.
func changedFormulas(before, after []models.Column) []string {
	kept := make(map[string]bool, len(after))
	for _, c := range after {
		if f := c.Formula(); f != "" {
			kept[f] = true
		}
	}
	var stale []string
	for _, c := range before {
		if f := c.Formula(); f != "" && !kept[f] {
			stale = append(stale, f)
		}
	}
	return stale
}
