package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/services"
)

// CreateLinkRequest for POST /links
type CreateLinkRequest struct {
	Folder  string    `json:"folder"`
	TablaID uuid.UUID `json:"tabla_id"`
}

// LinkListResponse for GET /links and GET /links/resolve
type LinkListResponse struct {
	Links []models.ExtractionLink `json:"links"`
	Total int                     `json:"total"`
}

// LinkHandler serves extraction links.
type LinkHandler struct {
	links  services.ExtractionLinkService
	logger *zap.Logger
}

// NewLinkHandler creates a new extraction link handler.
func NewLinkHandler(links services.ExtractionLinkService, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{links: links, logger: logger}
}

// RegisterRoutes registers the link handler's routes on the given mux.
func (h *LinkHandler) RegisterRoutes(mux *http.ServeMux, ownerMiddleware OwnerMiddleware) {
	base := "/api/owners/{ownerId}/links"

	mux.HandleFunc("GET "+base, ownerMiddleware(h.List))
	mux.HandleFunc("POST "+base, ownerMiddleware(h.Create))
	mux.HandleFunc("GET "+base+"/resolve", ownerMiddleware(h.Resolve))
	mux.HandleFunc("DELETE "+base+"/{linkId}", ownerMiddleware(h.Delete))
}

// List handles GET /api/owners/{ownerId}/links
func (h *LinkHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}
	links, err := h.links.ListLinks(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, err, "list_links", h.logger)
		return
	}
	writeLinks(w, links, h.logger)
}

// Create handles POST /api/owners/{ownerId}/links
func (h *LinkHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}
	var req CreateLinkRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	link, err := h.links.CreateLink(r.Context(), ownerID, req.Folder, req.TablaID)
	if err != nil {
		writeServiceError(w, err, "create_link", h.logger)
		return
	}
	writeData(w, http.StatusCreated, link, h.logger)
}

// Resolve handles GET /api/owners/{ownerId}/links/resolve?folder=
func (h *LinkHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}
	folder := r.URL.Query().Get("folder")
	if folder == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "folder is required", h.logger)
		return
	}

	links, err := h.links.ResolveFolder(r.Context(), ownerID, folder)
	if err != nil {
		writeServiceError(w, err, "resolve_links", h.logger)
		return
	}
	writeLinks(w, links, h.logger)
}

// Delete handles DELETE /api/owners/{ownerId}/links/{linkId}
func (h *LinkHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}
	linkID, ok := ParseLinkID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.links.DeleteLink(r.Context(), ownerID, linkID); err != nil {
		writeServiceError(w, err, "delete_link", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeLinks(w http.ResponseWriter, links []models.ExtractionLink, logger *zap.Logger) {
	if links == nil {
		links = []models.ExtractionLink{}
	}
	writeData(w, http.StatusOK, LinkListResponse{Links: links, Total: len(links)}, logger)
}
