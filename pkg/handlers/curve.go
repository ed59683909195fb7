package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/curve"
	"github.com/ekaya-inc/obra-engine/pkg/services"
)

// CurveHandler serves plan-vs-actual progress curves.
type CurveHandler struct {
	tablas services.TablaService
	curves services.CurveService
	logger *zap.Logger
}

// NewCurveHandler creates a new curve handler.
func NewCurveHandler(tablas services.TablaService, curves services.CurveService, logger *zap.Logger) *CurveHandler {
	return &CurveHandler{tablas: tablas, curves: curves, logger: logger}
}

// RegisterRoutes registers the curve handler's routes on the given mux.
func (h *CurveHandler) RegisterRoutes(mux *http.ServeMux, ownerMiddleware OwnerMiddleware) {
	mux.HandleFunc("GET /api/owners/{ownerId}/curve", ownerMiddleware(h.Get))
}

// Get handles GET /api/owners/{ownerId}/curve?plan_tabla_id=&actual_tabla_id=&curve_start_period=
// Field overrides: plan_period_field, plan_value_field, actual_period_field, actual_value_field.
func (h *CurveHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}
	q := r.URL.Query()

	planID, err := uuid.Parse(q.Get("plan_tabla_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tabla_id", "plan_tabla_id must be a UUID", h.logger)
		return
	}
	req := services.CurveRequest{
		PlanTablaID: planID,
		Options: curve.Options{
			CurveStartPeriod:  q.Get("curve_start_period"),
			PlanPeriodField:   q.Get("plan_period_field"),
			PlanValueField:    q.Get("plan_value_field"),
			ActualPeriodField: q.Get("actual_period_field"),
			ActualValueField:  q.Get("actual_value_field"),
		},
	}
	if raw := q.Get("actual_tabla_id"); raw != "" {
		if req.ActualTablaID, err = uuid.Parse(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_tabla_id", "actual_tabla_id must be a UUID", h.logger)
			return
		}
	}

	for _, id := range []uuid.UUID{req.PlanTablaID, req.ActualTablaID} {
		if id == uuid.Nil {
			continue
		}
		if _, err := ownedTabla(r.Context(), h.tablas, ownerID, id); err != nil {
			writeServiceError(w, err, "build_curve", h.logger)
			return
		}
	}

	result, err := h.curves.Build(r.Context(), req)
	if err != nil {
		writeServiceError(w, err, "build_curve", h.logger)
		return
	}
	writeData(w, http.StatusOK, result, h.logger)
}
