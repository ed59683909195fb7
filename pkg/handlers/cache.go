package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/cache"
)

// CacheHandler exposes the per-owner cache scope lifecycle.
type CacheHandler struct {
	caches *cache.Manager
	logger *zap.Logger
}

// NewCacheHandler creates a new cache handler.
func NewCacheHandler(caches *cache.Manager, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{caches: caches, logger: logger}
}

// RegisterRoutes registers the cache handler's routes on the given mux.
func (h *CacheHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("DELETE /api/owners/{ownerId}/cache", h.Dispose)
}

// Dispose handles DELETE /api/owners/{ownerId}/cache
// Drops every cached value of the owner and releases downloaded blobs.
func (h *CacheHandler) Dispose(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}
	h.caches.Dispose(ownerID)
	h.logger.Info("Disposed owner cache scope", zap.String("owner_id", ownerID.String()))
	w.WriteHeader(http.StatusNoContent)
}
