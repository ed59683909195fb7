package handlers

import (
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"

	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/services"
	"github.com/ekaya-inc/obra-engine/pkg/storage"
)

// FileHandler issues signed file links and serves the files behind them.
type FileHandler struct {
	files  services.FileAccessService
	logger *zap.Logger
}

// NewFileHandler creates a new file handler.
func NewFileHandler(files services.FileAccessService, logger *zap.Logger) *FileHandler {
	return &FileHandler{files: files, logger: logger}
}

// RegisterRoutes registers the file handler's routes on the given mux.
// The raw route is authorized by its signature alone.
func (h *FileHandler) RegisterRoutes(mux *http.ServeMux, ownerMiddleware OwnerMiddleware) {
	mux.HandleFunc("GET /api/owners/{ownerId}/files/signed-url", ownerMiddleware(h.SignedURL))
	mux.HandleFunc("GET /api/files/raw", h.Raw)
}

// SignedURL handles GET /api/owners/{ownerId}/files/signed-url?path=
func (h *FileHandler) SignedURL(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}
	p := r.URL.Query().Get("path")
	if p == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "path is required", h.logger)
		return
	}

	signed, err := h.files.SignedURL(r.Context(), ownerID, p)
	if err != nil {
		writeServiceError(w, err, "sign_url", h.logger)
		return
	}
	writeData(w, http.StatusOK, signed, h.logger)
}

// Raw handles GET /api/files/raw?path=&expires=&sig=
func (h *FileHandler) Raw(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
	if err != nil {
		writeError(w, http.StatusForbidden, "invalid_signature", storage.ErrInvalidSignature.Error(), h.logger)
		return
	}
	p := q.Get("path")

	body, err := h.files.OpenSigned(r.Context(), p, expires, q.Get("sig"))
	if err != nil {
		writeServiceError(w, err, "read_file", h.logger)
		return
	}
	defer body.Close()

	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("Failed to stream file", zap.String("path", p), zap.Error(err))
	}
}
