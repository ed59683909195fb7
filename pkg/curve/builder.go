// Package curve reconciles a plan table and an actual table, each with its
// own way of writing periods, into one ordered plan-vs-actual series.
package curve

import (
	"sort"
	"strings"

	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/values"
)

// Default field candidates, most specific first.
var (
	PlanPeriodFields   = []string{"periodo", "mes", "period", "month", "fecha"}
	PlanValueFields    = []string{"avance_acumulado", "avance_plan_acumulado", "porcentaje_acumulado", "acumulado", "avance"}
	ActualPeriodFields = []string{"fecha_certificacion", "fecha_emision", "fecha", "periodo", "mes", "period", "month"}
	ActualValueFields  = []string{"avance_fisico_acumulado", "avance_acumulado", "porcentaje_acumulado", "acumulado", "avance"}
)

// Options tunes a curve build. Empty field names fall back to the defaults.
type Options struct {
	// CurveStartPeriod is a "YYYY-MM" anchor for relative month indexes.
	CurveStartPeriod string `json:"curve_start_period,omitempty"`

	PlanPeriodField   string `json:"plan_period_field,omitempty"`
	PlanValueField    string `json:"plan_value_field,omitempty"`
	ActualPeriodField string `json:"actual_period_field,omitempty"`
	ActualValueField  string `json:"actual_value_field,omitempty"`
}

type series struct {
	periodFields []string
	valueFields  []string
}

func pick(override string, defaults []string) []string {
	if f := strings.TrimSpace(override); f != "" {
		return []string{f}
	}
	return defaults
}

// builder accumulates points; one per key.
type builder struct {
	anchor *Period
	points map[string]*models.CurvePoint
	order  []string
}

func (b *builder) upsert(p Period) *models.CurvePoint {
	if pt, ok := b.points[p.Key]; ok {
		if p.Order < pt.SortOrder {
			pt.SortOrder = p.Order
		}
		return pt
	}
	pt := &models.CurvePoint{Key: p.Key, Label: p.Label, SortOrder: p.Order}
	b.points[p.Key] = pt
	b.order = append(b.order, p.Key)
	return pt
}

// BuildCurvePoints merges plan and actual rows into points sorted by
// chronological order. Rows whose periods resolve to the same key share one
// point. When opts.CurveStartPeriod is set the anchor month is always part of
// the output with an actual value of at least 0.
func BuildCurvePoints(plan, actual []models.ViewRow, opts Options) []models.CurvePoint {
	b := &builder{points: make(map[string]*models.CurvePoint)}
	if anchor, ok := ParseAnchor(opts.CurveStartPeriod); ok {
		b.anchor = &anchor
	}

	b.pass(plan, series{
		periodFields: pick(opts.PlanPeriodField, PlanPeriodFields),
		valueFields:  pick(opts.PlanValueField, PlanValueFields),
	}, func(pt *models.CurvePoint, v float64) { pt.PlanValue = &v })

	b.pass(actual, series{
		periodFields: pick(opts.ActualPeriodField, ActualPeriodFields),
		valueFields:  pick(opts.ActualValueField, ActualValueFields),
	}, func(pt *models.CurvePoint, v float64) { pt.ActualValue = &v })

	if b.anchor != nil {
		pt := b.upsert(*b.anchor)
		if pt.ActualValue == nil {
			zero := 0.0
			pt.ActualValue = &zero
		}
	}

	out := make([]models.CurvePoint, 0, len(b.order))
	for _, key := range b.order {
		out = append(out, *b.points[key])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

func (b *builder) pass(rows []models.ViewRow, s series, set func(*models.CurvePoint, float64)) {
	for i, row := range rows {
		rawPeriod := firstPresent(row.Data, s.periodFields)
		value, hasValue := firstNumber(row.Data, s.valueFields)
		if rawPeriod == nil && !hasValue {
			continue
		}
		pt := b.upsert(ParsePeriod(rawPeriod, i, b.anchor))
		if hasValue {
			set(pt, value)
		}
	}
}

func firstPresent(data map[string]any, fields []string) any {
	for _, f := range fields {
		if v, ok := data[f]; ok && values.ToText(v) != nil {
			return v
		}
	}
	return nil
}

func firstNumber(data map[string]any, fields []string) (float64, bool) {
	for _, f := range fields {
		if n, ok := values.ToNumber(data[f]); ok {
			return n, true
		}
	}
	return 0, false
}
