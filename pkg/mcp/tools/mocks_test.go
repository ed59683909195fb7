package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/services"
)

// mockScoper records the owners it opened scopes for.
type mockScoper struct {
	opened  []uuid.UUID
	closed  int
	openErr error
}

func (m *mockScoper) WithOwnerScope(ctx context.Context, ownerID uuid.UUID) (context.Context, func(), error) {
	if m.openErr != nil {
		return nil, nil, m.openErr
	}
	m.opened = append(m.opened, ownerID)
	return ctx, func() { m.closed++ }, nil
}

// mockTablaService implements services.TablaService for the read paths the tools use.
type mockTablaService struct {
	services.TablaService
	tablas  []*models.Tabla
	listErr error
}

func (m *mockTablaService) ListTables(ctx context.Context, ownerID uuid.UUID) ([]*models.Tabla, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.Tabla
	for _, t := range m.tablas {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTablaService) GetTable(ctx context.Context, tablaID uuid.UUID) (*models.Tabla, error) {
	for _, t := range m.tablas {
		if t.ID == tablaID {
			return t, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

// mockRowService implements services.RowService.Materialize.
type mockRowService struct {
	services.RowService
	view  *services.MaterializedRows
	query services.RowQuery
	err   error
}

func (m *mockRowService) Materialize(ctx context.Context, tablaID uuid.UUID, q services.RowQuery) (*services.MaterializedRows, error) {
	m.query = q
	return m.view, m.err
}

// mockLinkService implements services.ExtractionLinkService.ResolveFolder.
type mockLinkService struct {
	services.ExtractionLinkService
	links  []models.ExtractionLink
	folder string
}

func (m *mockLinkService) ResolveFolder(ctx context.Context, ownerID uuid.UUID, folder string) ([]models.ExtractionLink, error) {
	m.folder = folder
	return m.links, nil
}

// mockCurveService implements services.CurveService.
type mockCurveService struct {
	req    services.CurveRequest
	points []models.CurvePoint
}

func (m *mockCurveService) Build(ctx context.Context, req services.CurveRequest) (*services.Curve, error) {
	m.req = req
	return &services.Curve{PlanTablaID: req.PlanTablaID, ActualTablaID: req.ActualTablaID, Points: m.points}, nil
}

type toolFixture struct {
	ownerID uuid.UUID
	scopes  *mockScoper
	tablas  *mockTablaService
	rows    *mockRowService
	links   *mockLinkService
	curves  *mockCurveService
	server  *server.MCPServer
}

func newToolFixture(tablas ...*models.Tabla) *toolFixture {
	f := &toolFixture{
		ownerID: uuid.New(),
		scopes:  &mockScoper{},
		tablas:  &mockTablaService{tablas: tablas},
		rows:    &mockRowService{},
		links:   &mockLinkService{},
		curves:  &mockCurveService{},
		server:  server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true)),
	}
	RegisterObraTools(f.server, &ToolDeps{
		Scopes: f.scopes,
		Tablas: f.tablas,
		Rows:   f.rows,
		Links:  f.links,
		Curves: f.curves,
		Logger: zap.NewNop(),
	})
	return f
}

type mcpError struct {
	Code    int
	Message string
}

func (e *mcpError) Error() string { return e.Message }

// callTool executes an MCP tool via the server's HandleMessage method.
func (f *toolFixture) callTool(t *testing.T, toolName string, arguments map[string]any) (*mcp.CallToolResult, error) {
	t.Helper()

	reqBytes, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "tools/call",
		"id":      1,
		"params": map[string]any{
			"name":      toolName,
			"arguments": arguments,
		},
	})
	require.NoError(t, err)

	resultBytes, err := json.Marshal(f.server.HandleMessage(context.Background(), reqBytes))
	require.NoError(t, err)

	var response struct {
		Result *mcp.CallToolResult `json:"result,omitempty"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &response))
	if response.Error != nil {
		return nil, &mcpError{Code: response.Error.Code, Message: response.Error.Message}
	}
	return response.Result, nil
}

// decodeResult parses the JSON text of a successful tool result.
func decodeResult[T any](t *testing.T, result *mcp.CallToolResult) T {
	t.Helper()
	require.NotNil(t, result)
	require.False(t, result.IsError, getTextContent(result))
	var out T
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &out))
	return out
}

// errorCodeOf parses the code of an error tool result.
func errorCodeOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.True(t, result.IsError)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &resp))
	return resp.Code
}

var errBackend = errors.New("backend unavailable")
