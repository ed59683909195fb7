package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/services"
)

// MoveDocumentRequest for PATCH /documents/{documentId}
type MoveDocumentRequest struct {
	Folder string `json:"folder"`
}

// DocumentHandler serves uploads, the documents tree and imports.
type DocumentHandler struct {
	docs           services.DocumentService
	imports        services.ImportService
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewDocumentHandler creates a new document handler. maxUploadBytes bounds
// the multipart body of an upload.
func NewDocumentHandler(docs services.DocumentService, imports services.ImportService, maxUploadBytes int64, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		docs:           docs,
		imports:        imports,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// RegisterRoutes registers the document handler's routes on the given mux.
func (h *DocumentHandler) RegisterRoutes(mux *http.ServeMux, ownerMiddleware OwnerMiddleware) {
	base := "/api/owners/{ownerId}"

	mux.HandleFunc("GET "+base+"/documents-tree", ownerMiddleware(h.Tree))
	mux.HandleFunc("POST "+base+"/documents", ownerMiddleware(h.Upload))
	mux.HandleFunc("GET "+base+"/documents/{documentId}", ownerMiddleware(h.Get))
	mux.HandleFunc("PATCH "+base+"/documents/{documentId}", ownerMiddleware(h.Move))
	mux.HandleFunc("DELETE "+base+"/documents/{documentId}", ownerMiddleware(h.Delete))
	mux.HandleFunc("POST "+base+"/import", ownerMiddleware(h.Import))
}

// Tree handles GET /api/owners/{ownerId}/documents-tree
func (h *DocumentHandler) Tree(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}
	tree, err := h.docs.Tree(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, err, "documents_tree", h.logger)
		return
	}
	writeData(w, http.StatusOK, tree, h.logger)
}

// Upload handles POST /api/owners/{ownerId}/documents as multipart/form-data
// with a "file" part and optional "folder" and "extraction_folder" fields.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "Upload exceeds the size limit", h.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "Expected a multipart form", h.logger)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Missing file part", h.logger)
		return
	}
	defer file.Close()

	doc, err := h.docs.Upload(r.Context(), ownerID, services.UploadRequest{
		Folder:           r.FormValue("folder"),
		FileName:         header.Filename,
		MimeType:         header.Header.Get("Content-Type"),
		ExtractionFolder: r.FormValue("extraction_folder"),
		Body:             file,
	})
	if err != nil {
		writeServiceError(w, err, "upload_document", h.logger)
		return
	}
	writeData(w, http.StatusCreated, doc, h.logger)
}

// Get handles GET /api/owners/{ownerId}/documents/{documentId}
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}
	docID, ok := ParseDocumentID(w, r, h.logger)
	if !ok {
		return
	}
	doc, err := h.docs.Get(r.Context(), ownerID, docID)
	if err != nil {
		writeServiceError(w, err, "get_document", h.logger)
		return
	}
	writeData(w, http.StatusOK, doc, h.logger)
}

// Move handles PATCH /api/owners/{ownerId}/documents/{documentId}
func (h *DocumentHandler) Move(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}
	docID, ok := ParseDocumentID(w, r, h.logger)
	if !ok {
		return
	}
	var req MoveDocumentRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	doc, err := h.docs.Move(r.Context(), ownerID, docID, req.Folder)
	if err != nil {
		writeServiceError(w, err, "move_document", h.logger)
		return
	}
	writeData(w, http.StatusOK, doc, h.logger)
}

// Delete handles DELETE /api/owners/{ownerId}/documents/{documentId}
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}
	docID, ok := ParseDocumentID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.docs.Delete(r.Context(), ownerID, docID); err != nil {
		writeServiceError(w, err, "delete_document", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Import handles POST /api/owners/{ownerId}/import
// Per-tabla failures are part of a 200 response; only a missing document or
// an unreadable request fails the call.
func (h *DocumentHandler) Import(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}
	var req models.ImportRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	result, err := h.imports.Import(r.Context(), ownerID, req)
	if err != nil {
		writeServiceError(w, err, "import_document", h.logger)
		return
	}
	writeData(w, http.StatusOK, result, h.logger)
}
