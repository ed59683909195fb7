package database

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OwnerPathValue is the route wildcard that carries the owner ID.
const OwnerPathValue = "ownerId"

// slowAcquire is logged when getting an owner connection takes longer.
const slowAcquire = 500 * time.Millisecond

// WithOwnerContext returns middleware that pins a pooled connection to the
// {ownerId} of the route for the duration of the request. Row level security
// on every obra table reads the owner from that connection.
func WithOwnerContext(db *DB, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ownerID, err := uuid.Parse(r.PathValue(OwnerPathValue))
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid_owner_id", "Invalid owner ID format")
				return
			}

			start := time.Now()
			scope, err := db.WithOwner(r.Context(), ownerID)
			if err != nil {
				logger.Error("Failed to acquire owner connection",
					zap.String("owner_id", ownerID.String()),
					zap.Error(err))
				writeJSONError(w, http.StatusServiceUnavailable, "database_unavailable", "Database connection error")
				return
			}
			defer scope.Close()
			if waited := time.Since(start); waited > slowAcquire {
				logger.Warn("Slow owner connection acquire",
					zap.String("owner_id", ownerID.String()),
					zap.Duration("waited", waited))
			}

			next(w, r.WithContext(SetOwnerScope(r.Context(), scope)))
		}
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
