// Package tools provides MCP tool implementations for obra-engine.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/services"
)

// OwnerScoper opens an owner-scoped database context for one tool call.
type OwnerScoper interface {
	WithOwnerScope(ctx context.Context, ownerID uuid.UUID) (context.Context, func(), error)
}

// ToolDeps contains the dependencies shared by the obra tools.
type ToolDeps struct {
	Scopes OwnerScoper
	Tablas services.TablaService
	Rows   services.RowService
	Links  services.ExtractionLinkService
	Curves services.CurveService
	Logger *zap.Logger
}

// RegisterObraTools registers every tabla, row, link and curve tool.
func RegisterObraTools(s *server.MCPServer, deps *ToolDeps) {
	registerListTablasTool(s, deps)
	registerGetTablaRowsTool(s, deps)
	registerResolveLinksTool(s, deps)
	registerProgressCurveTool(s, deps)
}

// ownerParam describes the owner_id argument shared by every tool.
func ownerParam() mcp.ToolOption {
	return mcp.WithString(
		"owner_id",
		mcp.Required(),
		mcp.Description("UUID of the owner (company workspace) whose data is read"),
	)
}

// acquireOwner parses owner_id and opens the owner's scope. An invalid
// owner ID is returned as a ready tool result.
func acquireOwner(ctx context.Context, deps *ToolDeps, req mcp.CallToolRequest) (uuid.UUID, context.Context, func(), *mcp.CallToolResult, error) {
	raw, err := req.RequireString("owner_id")
	if err != nil {
		return uuid.Nil, nil, nil, NewErrorResult("invalid_parameters", err.Error()), nil
	}
	ownerID, err := uuid.Parse(trimString(raw))
	if err != nil {
		return uuid.Nil, nil, nil, NewErrorResult("invalid_owner_id", fmt.Sprintf("owner_id %q is not a UUID", raw)), nil
	}
	scoped, cleanup, err := deps.Scopes.WithOwnerScope(ctx, ownerID)
	if err != nil {
		return uuid.Nil, nil, nil, nil, fmt.Errorf("failed to acquire owner scope: %w", err)
	}
	return ownerID, scoped, cleanup, nil, nil
}

// parseUUIDParam reads a required UUID argument.
func parseUUIDParam(req mcp.CallToolRequest, name string) (uuid.UUID, *mcp.CallToolResult) {
	raw, err := req.RequireString(name)
	if err != nil {
		return uuid.Nil, NewErrorResult("invalid_parameters", err.Error())
	}
	id, err := uuid.Parse(trimString(raw))
	if err != nil {
		return uuid.Nil, NewErrorResult("invalid_parameters", fmt.Sprintf("%s %q is not a UUID", name, raw))
	}
	return id, nil
}

// ownedTabla loads a tabla of the owner. Missing and foreign tablas are
// returned as a not_found tool result.
func ownedTabla(ctx context.Context, deps *ToolDeps, ownerID, tablaID uuid.UUID) (*models.Tabla, *mcp.CallToolResult, error) {
	tabla, err := deps.Tablas.GetTable(ctx, tablaID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil, fmt.Errorf("failed to get tabla: %w", err)
	}
	if err != nil || tabla.OwnerID != ownerID {
		return nil, NewErrorResult("not_found", fmt.Sprintf("tabla %s not found", tablaID)), nil
	}
	return tabla, nil, nil
}

// failed turns a service error into a tool result or a Go error.
func failed(deps *ToolDeps, tool string, err error) (*mcp.CallToolResult, error) {
	if result := serviceErrorResult(err); result != nil {
		deps.Logger.Debug("Tool input error", zap.String("tool", tool), zap.Error(err))
		return result, nil
	}
	return nil, fmt.Errorf("%s: %w", tool, err)
}
