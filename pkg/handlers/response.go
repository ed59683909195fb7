package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/logging"
	"github.com/ekaya-inc/obra-engine/pkg/storage"
)

// ApiResponse is the envelope of every successful JSON response.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeData wraps data in a successful ApiResponse.
func writeData(w http.ResponseWriter, statusCode int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, statusCode int, errorCode, message string, logger *zap.Logger) {
	if err := ErrorResponse(w, statusCode, errorCode, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// writeServiceError maps a service error onto a status code. Unexpected
// errors are logged and reported as "<op>_failed".
func writeServiceError(w http.ResponseWriter, err error, op string, logger *zap.Logger) {
	msg := logging.SanitizeError(err)

	var conflict *apperrors.SchemaConflictError
	var ref *apperrors.FormulaReferenceError
	switch {
	case errors.As(err, &conflict), errors.As(err, &ref):
		writeError(w, http.StatusConflict, "schema_conflict", msg, logger)
	case errors.Is(err, apperrors.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", msg, logger)
	case errors.Is(err, apperrors.ErrInvalidInput), errors.Is(err, storage.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, "invalid_request", msg, logger)
	case errors.Is(err, apperrors.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", msg, logger)
	case errors.Is(err, storage.ErrInvalidSignature):
		writeError(w, http.StatusForbidden, "invalid_signature", msg, logger)
	case errors.Is(err, apperrors.ErrUnsupportedDocument):
		writeError(w, http.StatusUnprocessableEntity, "unsupported_document", msg, logger)
	case errors.Is(err, apperrors.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", msg, logger)
	default:
		logger.Error("Request failed", zap.String("operation", op), zap.String("error", msg))
		writeError(w, http.StatusInternalServerError, op+"_failed", "Internal server error", logger)
	}
}

// decodeJSON reads the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, logger *zap.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", logger)
		return false
	}
	return true
}
