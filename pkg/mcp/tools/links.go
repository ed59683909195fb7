package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type resolvedLinkResponse struct {
	LinkID     string `json:"link_id"`
	FolderPath string `json:"folder_path"`
	TablaID    string `json:"tabla_id"`
}

type resolveLinksResponse struct {
	Folder string                 `json:"folder"`
	Links  []resolvedLinkResponse `json:"links"`
}

// registerResolveLinksTool adds the resolve_extraction_links tool.
func registerResolveLinksTool(s *server.MCPServer, deps *ToolDeps) {
	tool := mcp.NewTool(
		"resolve_extraction_links",
		mcp.WithDescription(
			"Find the tablas that documents in a folder are extracted into. "+
				"Matching ignores case and accents and falls back to the nearest linked ancestor folder.",
		),
		ownerParam(),
		mcp.WithString(
			"folder",
			mcp.Required(),
			mcp.Description("Folder path, e.g. 'Certificados/2024'"),
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

		folder, err := req.RequireString("folder")
		if err != nil || trimString(folder) == "" {
			return NewErrorResult("invalid_parameters", "folder cannot be empty"), nil
		}

		links, err := deps.Links.ResolveFolder(ownerCtx, ownerID, folder)
		if err != nil {
			return failed(deps, "resolve_extraction_links", err)
		}

		resp := resolveLinksResponse{Folder: folder, Links: make([]resolvedLinkResponse, 0, len(links))}
		for _, l := range links {
			resp.Links = append(resp.Links, resolvedLinkResponse{
				LinkID:     l.ID.String(),
				FolderPath: l.FolderPath,
				TablaID:    l.TablaID.String(),
			})
		}
		return jsonResult(resp)
	})
}
