package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/obra-engine/pkg/materialize"
	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/services"
)

const (
	defaultRowsLimit = 100
	maxRowsLimit     = 500
)

type tablaRowsResponse struct {
	Tabla     string           `json:"tabla"`
	Rows      []models.ViewRow `json:"rows"`
	Total     int              `json:"total"`
	Returned  int              `json:"returned"`
	Truncated bool             `json:"truncated"`
}

// registerGetTablaRowsTool adds the get_tabla_rows tool.
func registerGetTablaRowsTool(s *server.MCPServer, deps *ToolDeps) {
	tool := mcp.NewTool(
		"get_tabla_rows",
		mcp.WithDescription(
			"Read the materialized rows of a tabla: values typed by column, formulas computed, "+
				"and each cell classified as normal, warning or critical. "+
				"Optionally filter by source document path or by column, and sort by a column.",
		),
		ownerParam(),
		mcp.WithString(
			"tabla_id",
			mcp.Required(),
			mcp.Description("UUID of the tabla, from list_tablas"),
		),
		mcp.WithString(
			"source_path",
			mcp.Description("Only rows extracted from this document storage path"),
		),
		mcp.WithObject(
			"filter",
			mcp.Description(`Column filters keyed by field_key: {"saldo": {"min": 100}, "proveedor": {"text": "acme"}}`),
		),
		mcp.WithString(
			"sort_by",
			mcp.Description("field_key to sort by; empty values sort last"),
		),
		mcp.WithBoolean(
			"desc",
			mcp.Description("Sort descending"),
		),
		mcp.WithNumber(
			"limit",
			mcp.Description("Maximum rows to return (default 100, max 500)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ownerID, ownerCtx, cleanup, result, err := acquireOwner(ctx, deps, req)
		if result != nil || err != nil {
			return result, err
		}
		defer cleanup()

		tablaID, result := parseUUIDParam(req, "tabla_id")
		if result != nil {
			return result, nil
		}
		if _, result, err := ownedTabla(ownerCtx, deps, ownerID, tablaID); result != nil || err != nil {
			return result, err
		}

		obj, err := extractObjectParam(req.GetArguments(), "filter", deps.Logger)
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		columns, err := decodeObject[map[string]materialize.ColumnFilter](obj)
		if err != nil {
			return NewErrorResult("invalid_parameters", "filter entries must look like {\"text\": ..., \"min\": ..., \"max\": ...}"), nil
		}

		limit := req.GetInt("limit", defaultRowsLimit)
		if limit < 1 {
			return NewErrorResult("invalid_parameters", "limit must be positive"), nil
		}
		if limit > maxRowsLimit {
			limit = maxRowsLimit
		}

		view, err := deps.Rows.Materialize(ownerCtx, tablaID, services.RowQuery{
			Filter: materialize.Filter{
				Columns:    columns,
				SourcePath: trimString(req.GetString("source_path", "")),
			},
			SortBy: trimString(req.GetString("sort_by", "")),
			Desc:   req.GetBool("desc", false),
		})
		if err != nil {
			return failed(deps, "get_tabla_rows", err)
		}

		rows := view.Rows
		if rows == nil {
			rows = []models.ViewRow{}
		}
		resp := tablaRowsResponse{Tabla: view.Tabla.Name, Total: len(rows)}
		if len(rows) > limit {
			rows = rows[:limit]
			resp.Truncated = true
		}
		resp.Rows = rows
		resp.Returned = len(rows)
		return jsonResult(resp)
	})
}
