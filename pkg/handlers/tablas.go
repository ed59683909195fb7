package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/config"
	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/services"
)

// CreateFromTemplateRequest for POST /tablas/from-template
type CreateFromTemplateRequest struct {
	TemplateKey string `json:"template_key"`
	Folder      string `json:"folder,omitempty"`
}

// UpdateColumnsRequest for PATCH /tablas/{tablaId}/columns
type UpdateColumnsRequest struct {
	Columns []models.Column `json:"columns"`
}

// TablaCreatedResponse carries the new tabla and, when a folder was given, its link.
type TablaCreatedResponse struct {
	Tabla *models.Tabla          `json:"tabla"`
	Link  *models.ExtractionLink `json:"link,omitempty"`
}

// TablaListResponse for GET /tablas
type TablaListResponse struct {
	Tablas []*models.Tabla `json:"tablas"`
	Total  int             `json:"total"`
}

// TablaHandler serves the schema registry.
type TablaHandler struct {
	tablas services.TablaService
	logger *zap.Logger
}

// NewTablaHandler creates a new tabla handler.
func NewTablaHandler(tablas services.TablaService, logger *zap.Logger) *TablaHandler {
	return &TablaHandler{tablas: tablas, logger: logger}
}

// RegisterRoutes registers the tabla handler's routes on the given mux.
func (h *TablaHandler) RegisterRoutes(mux *http.ServeMux, ownerMiddleware OwnerMiddleware) {
	base := "/api/owners/{ownerId}/tablas"

	mux.HandleFunc("GET "+base, ownerMiddleware(h.List))
	mux.HandleFunc("POST "+base, ownerMiddleware(h.Create))
	mux.HandleFunc("POST "+base+"/from-template", ownerMiddleware(h.CreateFromTemplate))
	mux.HandleFunc("GET /api/tabla-templates", h.Templates)
	mux.HandleFunc("GET "+base+"/{tablaId}", ownerMiddleware(h.Get))
	mux.HandleFunc("PATCH "+base+"/{tablaId}/columns", ownerMiddleware(h.UpdateColumns))
	mux.HandleFunc("DELETE "+base+"/{tablaId}", ownerMiddleware(h.Delete))
}

// List handles GET /api/owners/{ownerId}/tablas
func (h *TablaHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}
	tablas, err := h.tablas.ListTables(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, err, "list_tablas", h.logger)
		return
	}
	if tablas == nil {
		tablas = []*models.Tabla{}
	}
	writeData(w, http.StatusOK, TablaListResponse{Tablas: tablas, Total: len(tablas)}, h.logger)
}

// Create handles POST /api/owners/{ownerId}/tablas
func (h *TablaHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}
	var req services.CreateTablaRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	tabla, link, err := h.tablas.CreateTable(r.Context(), ownerID, req)
	if err != nil {
		writeServiceError(w, err, "create_tabla", h.logger)
		return
	}
	writeData(w, http.StatusCreated, TablaCreatedResponse{Tabla: tabla, Link: link}, h.logger)
}

// CreateFromTemplate handles POST /api/owners/{ownerId}/tablas/from-template
func (h *TablaHandler) CreateFromTemplate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}
	var req CreateFromTemplateRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	if req.TemplateKey == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "template_key is required", h.logger)
		return
	}

	tabla, link, err := h.tablas.CreateFromTemplate(r.Context(), ownerID, req.TemplateKey, req.Folder)
	if err != nil {
		writeServiceError(w, err, "create_tabla", h.logger)
		return
	}
	writeData(w, http.StatusCreated, TablaCreatedResponse{Tabla: tabla, Link: link}, h.logger)
}

// Templates handles GET /api/tabla-templates
func (h *TablaHandler) Templates(w http.ResponseWriter, r *http.Request) {
	templates := h.tablas.Templates()
	if templates == nil {
		templates = []config.TablaTemplate{}
	}
	writeData(w, http.StatusOK, templates, h.logger)
}

// Get handles GET /api/owners/{ownerId}/tablas/{tablaId}
func (h *TablaHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, tablaID, ok := ParseOwnerAndTablaIDs(w, r, h.logger)
	if !ok {
		return
	}
	tabla, err := ownedTabla(r.Context(), h.tablas, ownerID, tablaID)
	if err != nil {
		writeServiceError(w, err, "get_tabla", h.logger)
		return
	}
	writeData(w, http.StatusOK, tabla, h.logger)
}

// UpdateColumns handles PATCH /api/owners/{ownerId}/tablas/{tablaId}/columns
func (h *TablaHandler) UpdateColumns(w http.ResponseWriter, r *http.Request) {
	ownerID, tablaID, ok := ParseOwnerAndTablaIDs(w, r, h.logger)
	if !ok {
		return
	}
	var req UpdateColumnsRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	if _, err := ownedTabla(r.Context(), h.tablas, ownerID, tablaID); err != nil {
		writeServiceError(w, err, "update_columns", h.logger)
		return
	}

	tabla, err := h.tablas.UpdateColumns(r.Context(), tablaID, req.Columns)
	if err != nil {
		writeServiceError(w, err, "update_columns", h.logger)
		return
	}
	writeData(w, http.StatusOK, tabla, h.logger)
}

// Delete handles DELETE /api/owners/{ownerId}/tablas/{tablaId}
func (h *TablaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, tablaID, ok := ParseOwnerAndTablaIDs(w, r, h.logger)
	if !ok {
		return
	}
	if _, err := ownedTabla(r.Context(), h.tablas, ownerID, tablaID); err != nil {
		writeServiceError(w, err, "delete_tabla", h.logger)
		return
	}
	if err := h.tablas.DeleteTable(r.Context(), tablaID); err != nil {
		writeServiceError(w, err, "delete_tabla", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
