package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/obra-engine/pkg/models"
)

type tablaColumnResponse struct {
	Label    string          `json:"label"`
	FieldKey string          `json:"field_key"`
	DataType models.DataType `json:"data_type"`
	Formula  string          `json:"formula,omitempty"`
	Required bool            `json:"required,omitempty"`
}

type tablaResponse struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description,omitempty"`
	DataInputMethod models.DataInputMethod `json:"data_input_method"`
	Columns         []tablaColumnResponse  `json:"columns"`
}

type listTablasResponse struct {
	Tablas []tablaResponse `json:"tablas"`
	Count  int             `json:"count"`
}

func toTablaResponse(t *models.Tabla) tablaResponse {
	cols := make([]tablaColumnResponse, 0, len(t.Columns))
	for _, c := range t.Columns {
		cols = append(cols, tablaColumnResponse{
			Label:    c.Label,
			FieldKey: c.FieldKey,
			DataType: c.DataType,
			Formula:  c.Formula(),
			Required: c.Required,
		})
	}
	return tablaResponse{
		ID:              t.ID.String(),
		Name:            t.Name,
		Description:     t.Description,
		DataInputMethod: t.DataInputMethod,
		Columns:         cols,
	}
}

// registerListTablasTool adds the list_tablas tool.
func registerListTablasTool(s *server.MCPServer, deps *ToolDeps) {
	tool := mcp.NewTool(
		"list_tablas",
		mcp.WithDescription(
			"List the owner's tablas (user-defined table schemas) with their columns. "+
				"Formula columns show their expression; their values are computed when rows are read. "+
				"Use the returned field_key values for filters and sorting in get_tabla_rows.",
		),
		ownerParam(),
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

		tablas, err := deps.Tablas.ListTables(ownerCtx, ownerID)
		if err != nil {
			return failed(deps, "list_tablas", err)
		}

		resp := listTablasResponse{Tablas: make([]tablaResponse, 0, len(tablas))}
		for _, t := range tablas {
			resp.Tablas = append(resp.Tablas, toTablaResponse(t))
		}
		resp.Count = len(resp.Tablas)
		return jsonResult(resp)
	})
}
