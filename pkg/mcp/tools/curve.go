package tools

import (
	"context"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/obra-engine/pkg/curve"
	"github.com/ekaya-inc/obra-engine/pkg/services"
)

// registerProgressCurveTool adds the get_progress_curve tool.
func registerProgressCurveTool(s *server.MCPServer, deps *ToolDeps) {
	tool := mcp.NewTool(
		"get_progress_curve",
		mcp.WithDescription(
			"Build the plan-vs-actual progress curve of a project. Periods are read from both tablas, "+
				"merged chronologically and labeled like 'Mar 2024'. Relative periods ('Mes 3') are placed "+
				"after curve_start_period.",
		),
		ownerParam(),
		mcp.WithString(
			"plan_tabla_id",
			mcp.Required(),
			mcp.Description("UUID of the tabla holding the planned curve"),
		),
		mcp.WithString(
			"actual_tabla_id",
			mcp.Description("UUID of the tabla holding actual progress"),
		),
		mcp.WithString(
			"curve_start_period",
			mcp.Description("Anchor month as YYYY-MM for relative periods"),
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

		planID, result := parseUUIDParam(req, "plan_tabla_id")
		if result != nil {
			return result, nil
		}
		var actualID uuid.UUID
		if trimString(req.GetString("actual_tabla_id", "")) != "" {
			if actualID, result = parseUUIDParam(req, "actual_tabla_id"); result != nil {
				return result, nil
			}
		}
		for _, id := range []uuid.UUID{planID, actualID} {
			if id == uuid.Nil {
				continue
			}
			if _, result, err := ownedTabla(ownerCtx, deps, ownerID, id); result != nil || err != nil {
				return result, err
			}
		}

		built, err := deps.Curves.Build(ownerCtx, services.CurveRequest{
			PlanTablaID:   planID,
			ActualTablaID: actualID,
			Options:       curve.Options{CurveStartPeriod: trimString(req.GetString("curve_start_period", ""))},
		})
		if err != nil {
			return failed(deps, "get_progress_curve", err)
		}
		return jsonResult(built)
	})
}
