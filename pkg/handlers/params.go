package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/database"
	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/services"
)

// OwnerMiddleware wraps a handler with the owner-scoped database context.
type OwnerMiddleware func(http.HandlerFunc) http.HandlerFunc

// ParseOwnerID extracts and validates the owner ID from the request path.
// Expects path parameter: ownerId
func ParseOwnerID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, database.OwnerPathValue, "invalid_owner_id", "Invalid owner ID format", logger)
}

// ParseTablaID extracts and validates the tabla ID from the request path.
// Expects path parameter: tablaId
func ParseTablaID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "tablaId", "invalid_tabla_id", "Invalid tabla ID format", logger)
}

// ParseLinkID extracts and validates the extraction link ID from the request path.
// Expects path parameter: linkId
func ParseLinkID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "linkId", "invalid_link_id", "Invalid link ID format", logger)
}

// ParseDocumentID extracts and validates the document ID from the request path.
// Expects path parameter: documentId
func ParseDocumentID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "documentId", "invalid_document_id", "Invalid document ID format", logger)
}

// ParseOwnerAndTablaIDs extracts and validates both owner and tabla IDs.
func ParseOwnerAndTablaIDs(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, uuid.UUID, bool) {
	ownerID, ok := ParseOwnerID(w, r, logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	tablaID, ok := ParseTablaID(w, r, logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return ownerID, tablaID, true
}

func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(pathParam))
	if err != nil {
		writeError(w, http.StatusBadRequest, errorCode, errorMessage, logger)
		return uuid.Nil, false
	}
	return id, true
}

// queryInt reads a positive integer query parameter, falling back to def
// when absent. Returns false after writing a 400 for malformed values.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int, logger *zap.Logger) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "invalid_"+name, "Query parameter "+name+" must be a positive integer", logger)
		return 0, false
	}
	return n, true
}

// ownedTabla loads a tabla, reporting tablas of other owners as not found.
func ownedTabla(ctx context.Context, tablas services.TablaService, ownerID, tablaID uuid.UUID) (*models.Tabla, error) {
	tabla, err := tablas.GetTable(ctx, tablaID)
	if err != nil {
		return nil, err
	}
	if tabla.OwnerID != ownerID {
		return nil, fmt.Errorf("tabla %s: %w", tablaID, apperrors.ErrNotFound)
	}
	return tabla, nil
}
