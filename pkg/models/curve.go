package models

// CurvePoint is one period of a plan-vs-actual progress curve.
type CurvePoint struct {
	Key         string   `json:"key"`
	Label       string   `json:"label"`
	PlanValue   *float64 `json:"plan_value"`
	ActualValue *float64 `json:"actual_value"`
	SortOrder   int      `json:"sort_order"`
}
