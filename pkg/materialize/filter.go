package materialize

import (
	"sort"
	"strings"

	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/textnorm"
	"github.com/ekaya-inc/obra-engine/pkg/values"
)

// ColumnFilter is the predicate for one column. Text applies to text, date
// and boolean columns; Min/Max (inclusive) apply to numeric and formula columns.
type ColumnFilter struct {
	Text string   `json:"text,omitempty"`
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
}

// Filter combines column predicates with an optional source document restriction.
type Filter struct {
	Columns    map[string]ColumnFilter `json:"columns,omitempty"`
	SourcePath string                  `json:"source_path,omitempty"`
}

// IsEmpty reports whether the filter restricts nothing.
func (f Filter) IsEmpty() bool {
	if strings.TrimSpace(f.SourcePath) != "" {
		return false
	}
	for _, cf := range f.Columns {
		if cf.Text != "" || cf.Min != nil || cf.Max != nil {
			return false
		}
	}
	return true
}

// Apply returns the rows matching every predicate of f, preserving order.
// Pass columns through Materializer.EffectiveColumns first so a column with
// an unusable formula filters by its data type.
func Apply(rows []models.ViewRow, columns []models.Column, f Filter) []models.ViewRow {
	if f.IsEmpty() {
		return rows
	}
	byKey := make(map[string]models.Column, len(columns))
	for _, c := range columns {
		byKey[c.FieldKey] = c
	}
	sourcePath := strings.TrimSpace(f.SourcePath)

	out := make([]models.ViewRow, 0, len(rows))
	for _, row := range rows {
		if sourcePath != "" && row.SourcePath != sourcePath {
			continue
		}
		if matchesColumns(row, byKey, f.Columns) {
			out = append(out, row)
		}
	}
	return out
}

func matchesColumns(row models.ViewRow, byKey map[string]models.Column, filters map[string]ColumnFilter) bool {
	for key, cf := range filters {
		col, ok := byKey[key]
		if !ok {
			continue
		}
		cell := row.Data[key]
		if isNumericColumn(col) {
			if cf.Min == nil && cf.Max == nil {
				continue
			}
			n, ok := values.ToNumber(cell)
			if !ok {
				return false
			}
			if cf.Min != nil && n < *cf.Min {
				return false
			}
			if cf.Max != nil && n > *cf.Max {
				return false
			}
			continue
		}
		if cf.Text == "" {
			continue
		}
		if !textMatches(cell, cf.Text) {
			return false
		}
	}
	return true
}

func textMatches(cell any, needle string) bool {
	if b, ok := cell.(bool); ok {
		candidates := []string{"false", "no"}
		if b {
			candidates = []string{"true", "si"}
		}
		for _, c := range candidates {
			if textnorm.ContainsFold(c, needle) {
				return true
			}
		}
		return false
	}
	text, ok := values.ToText(cell).(string)
	if !ok {
		return false
	}
	return textnorm.ContainsFold(text, needle)
}

// isNumericColumn treats formula columns as numeric. Only formulas that
// compile count; EffectiveColumns clears the rest.
func isNumericColumn(c models.Column) bool {
	return c.DataType.IsNumeric() || c.IsDerived()
}

// Sort orders rows in place by fieldKey. Numeric and formula columns compare
// numerically, the rest by folded text; empty cells always sort last.
func Sort(rows []models.ViewRow, columns []models.Column, fieldKey string, desc bool) {
	var col models.Column
	found := false
	for _, c := range columns {
		if c.FieldKey == fieldKey {
			col, found = c, true
			break
		}
	}
	if !found {
		return
	}
	numeric := isNumericColumn(col)

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Data[fieldKey], rows[j].Data[fieldKey]
		if numeric {
			na, okA := values.ToNumber(a)
			nb, okB := values.ToNumber(b)
			if okA != okB {
				return okA
			}
			if !okA || na == nb {
				return false
			}
			if desc {
				return na > nb
			}
			return na < nb
		}
		ta, okA := values.ToText(a).(string)
		tb, okB := values.ToText(b).(string)
		if okA != okB {
			return okA
		}
		if !okA {
			return false
		}
		fa, fb := textnorm.Fold(ta), textnorm.Fold(tb)
		if fa == fb {
			return false
		}
		if desc {
			return fa > fb
		}
		return fa < fb
	})
}
