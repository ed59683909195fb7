// Package materialize projects raw persisted rows through a tabla schema:
// values are coerced to their column type, formula columns are recomputed
// from sibling values and every cell gets a conditional style.
package materialize

import (
	"github.com/ekaya-inc/obra-engine/pkg/formula"
	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/values"
	"go.uber.org/zap"
)

// Materializer turns raw rows into view rows. It is safe for concurrent use.
type Materializer struct {
	compiler *formula.Compiler
	logger   *zap.Logger
}

// New creates a Materializer. A nil compiler gets a private one.
func New(compiler *formula.Compiler, logger *zap.Logger) *Materializer {
	if compiler == nil {
		compiler = formula.NewCompiler()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{compiler: compiler, logger: logger.Named("materialize")}
}

// Compiler exposes the formula compiler shared by this materializer.
func (m *Materializer) Compiler() *formula.Compiler {
	return m.compiler
}

// EffectiveColumns returns columns as they behave at runtime: a formula that
// does not compile is cleared so the column acts as a plain editable field.
// The input slice is not modified.
func (m *Materializer) EffectiveColumns(columns []models.Column) []models.Column {
	out := make([]models.Column, len(columns))
	for i, col := range columns {
		if col.IsDerived() && m.compiler.Compile(col.Formula()) == nil {
			cfg := *col.Config
			cfg.Formula = ""
			col.Config = &cfg
		}
		out[i] = col
	}
	return out
}

// Materialize projects every row onto columns. Keys of removed columns are
// ignored; stored values of formula columns are always replaced.
func (m *Materializer) Materialize(rows []models.Row, columns []models.Column) []models.ViewRow {
	out := make([]models.ViewRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, m.MaterializeRow(row, columns))
	}
	return out
}

// MaterializeRow projects a single row.
func (m *Materializer) MaterializeRow(row models.Row, columns []models.Column) models.ViewRow {
	data := make(map[string]any, len(columns))

	// Source values first; formulas read only these, never another formula.
	for _, col := range columns {
		if col.IsDerived() {
			continue
		}
		data[col.FieldKey] = values.Coerce(row.Data[col.FieldKey], col.DataType)
	}
	env := make(map[string]any, len(data))
	for k, v := range data {
		env[k] = v
	}

	for _, col := range columns {
		if !col.IsDerived() {
			continue
		}
		compiled := m.compiler.Compile(col.Formula())
		if compiled == nil {
			// Unusable formula: the column behaves as a plain field.
			data[col.FieldKey] = values.Coerce(row.Data[col.FieldKey], col.DataType)
			continue
		}
		result, ok := compiled.Evaluate(env)
		if !ok {
			m.logger.Debug("Formula evaluation produced no value",
				zap.String("row_id", row.ID.String()),
				zap.String("field_key", col.FieldKey),
				zap.String("formula", compiled.Source()))
			data[col.FieldKey] = nil
			continue
		}
		data[col.FieldKey] = result
	}

	view := models.ViewRow{
		ID:         row.ID,
		Data:       data,
		SourcePath: row.SourcePath,
		SourceName: row.SourceName,
	}
	if view.SourcePath == "" {
		if p, ok := row.Data[models.SourcePathKey].(string); ok {
			view.SourcePath = p
		}
	}
	if view.SourceName == "" {
		if n, ok := row.Data[models.SourceNameKey].(string); ok {
			view.SourceName = n
		}
	}

	for _, col := range columns {
		if col.Config == nil || col.Config.Conditional == nil {
			continue
		}
		if style := Classify(data[col.FieldKey], col.Config.Conditional); style != models.CellStyleNone {
			if view.Styles == nil {
				view.Styles = make(map[string]models.CellStyle)
			}
			view.Styles[col.FieldKey] = style
		}
	}

	return view
}

// Classify grades a value against its thresholds. Tests run in the order
// criticalBelow, criticalAbove, warnBelow, warnAbove and the first that
// fires wins, so critical always beats warn.
func Classify(v any, c *models.Conditional) models.CellStyle {
	if c == nil {
		return models.CellStyleNone
	}
	n, ok := values.ToNumber(v)
	if !ok {
		return models.CellStyleNone
	}
	switch {
	case c.CriticalBelow != nil && n < *c.CriticalBelow:
		return models.CellStyleCritical
	case c.CriticalAbove != nil && n > *c.CriticalAbove:
		return models.CellStyleCritical
	case c.WarnBelow != nil && n < *c.WarnBelow:
		return models.CellStyleWarn
	case c.WarnAbove != nil && n > *c.WarnAbove:
		return models.CellStyleWarn
	}
	return models.CellStyleNone
}
