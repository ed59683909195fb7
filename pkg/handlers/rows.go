package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/repositories"
	"github.com/ekaya-inc/obra-engine/pkg/services"
)

// defaultRowPageLimit is the page size when the caller sends none.
const defaultRowPageLimit = 100

// RowsSavedResponse for POST /rows
type RowsSavedResponse struct {
	Rows  []models.Row `json:"rows"`
	Total int          `json:"total"`
}

// RowHandler serves raw and materialized tabla rows.
type RowHandler struct {
	tablas services.TablaService
	rows   services.RowService
	logger *zap.Logger
}

// NewRowHandler creates a new row handler.
func NewRowHandler(tablas services.TablaService, rows services.RowService, logger *zap.Logger) *RowHandler {
	return &RowHandler{tablas: tablas, rows: rows, logger: logger}
}

// RegisterRoutes registers the row handler's routes on the given mux.
func (h *RowHandler) RegisterRoutes(mux *http.ServeMux, ownerMiddleware OwnerMiddleware) {
	base := "/api/owners/{ownerId}/tablas/{tablaId}/rows"

	mux.HandleFunc("GET "+base, ownerMiddleware(h.List))
	mux.HandleFunc("POST "+base, ownerMiddleware(h.Save))
	mux.HandleFunc("POST "+base+"/query", ownerMiddleware(h.Query))
}

// List handles GET /api/owners/{ownerId}/tablas/{tablaId}/rows?page=&limit=&source_path=
func (h *RowHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, tablaID, ok := ParseOwnerAndTablaIDs(w, r, h.logger)
	if !ok {
		return
	}
	page, ok := queryInt(w, r, "page", 1, h.logger)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", defaultRowPageLimit, h.logger)
	if !ok {
		return
	}
	if limit > repositories.MaxRowPageLimit {
		limit = repositories.MaxRowPageLimit
	}
	if _, err := ownedTabla(r.Context(), h.tablas, ownerID, tablaID); err != nil {
		writeServiceError(w, err, "list_rows", h.logger)
		return
	}

	result, err := h.rows.ListRows(r.Context(), tablaID, page, limit, r.URL.Query().Get("source_path"))
	if err != nil {
		writeServiceError(w, err, "list_rows", h.logger)
		return
	}
	if result.Rows == nil {
		result.Rows = []models.Row{}
	}
	writeData(w, http.StatusOK, result, h.logger)
}

// Save handles POST /api/owners/{ownerId}/tablas/{tablaId}/rows
func (h *RowHandler) Save(w http.ResponseWriter, r *http.Request) {
	ownerID, tablaID, ok := ParseOwnerAndTablaIDs(w, r, h.logger)
	if !ok {
		return
	}
	var req models.RowsSaveRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	if _, err := ownedTabla(r.Context(), h.tablas, ownerID, tablaID); err != nil {
		writeServiceError(w, err, "save_rows", h.logger)
		return
	}

	rows, err := h.rows.SaveRows(r.Context(), tablaID, req)
	if err != nil {
		writeServiceError(w, err, "save_rows", h.logger)
		return
	}
	writeData(w, http.StatusOK, RowsSavedResponse{Rows: rows, Total: len(rows)}, h.logger)
}

// Query handles POST /api/owners/{ownerId}/tablas/{tablaId}/rows/query
// The body is a services.RowQuery; an empty body returns every row.
func (h *RowHandler) Query(w http.ResponseWriter, r *http.Request) {
	ownerID, tablaID, ok := ParseOwnerAndTablaIDs(w, r, h.logger)
	if !ok {
		return
	}
	var q services.RowQuery
	if r.ContentLength != 0 && !decodeJSON(w, r, &q, h.logger) {
		return
	}
	if _, err := ownedTabla(r.Context(), h.tablas, ownerID, tablaID); err != nil {
		writeServiceError(w, err, "query_rows", h.logger)
		return
	}

	result, err := h.rows.Materialize(r.Context(), tablaID, q)
	if err != nil {
		writeServiceError(w, err, "query_rows", h.logger)
		return
	}
	writeData(w, http.StatusOK, result, h.logger)
}
