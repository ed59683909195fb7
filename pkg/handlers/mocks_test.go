package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/config"
	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/repositories"
	"github.com/ekaya-inc/obra-engine/pkg/services"
	"github.com/ekaya-inc/obra-engine/pkg/storage"
)

// passthroughOwner stands in for the owner-scoped database middleware.
func passthroughOwner(next http.HandlerFunc) http.HandlerFunc {
	return next
}

// mockTablaService implements services.TablaService.
type mockTablaService struct {
	tablas    map[uuid.UUID]*models.Tabla
	createErr error
	created   services.CreateTablaRequest
	templates []config.TablaTemplate
}

func newMockTablaService(tablas ...*models.Tabla) *mockTablaService {
	m := &mockTablaService{tablas: make(map[uuid.UUID]*models.Tabla)}
	for _, t := range tablas {
		m.tablas[t.ID] = t
	}
	return m
}

func (m *mockTablaService) CreateTable(ctx context.Context, ownerID uuid.UUID, req services.CreateTablaRequest) (*models.Tabla, *models.ExtractionLink, error) {
	m.created = req
	if m.createErr != nil {
		return nil, nil, m.createErr
	}
	t := &models.Tabla{ID: uuid.New(), OwnerID: ownerID, Name: req.Name, Columns: req.Columns}
	m.tablas[t.ID] = t
	var link *models.ExtractionLink
	if req.Folder != "" {
		link = &models.ExtractionLink{ID: uuid.New(), OwnerID: ownerID, FolderPath: strings.ToLower(req.Folder), TablaID: t.ID}
	}
	return t, link, nil
}

func (m *mockTablaService) CreateFromTemplate(ctx context.Context, ownerID uuid.UUID, templateKey, folder string) (*models.Tabla, *models.ExtractionLink, error) {
	for _, tpl := range m.templates {
		if tpl.Key == templateKey {
			return m.CreateTable(ctx, ownerID, services.CreateTablaRequest{Name: tpl.Name, Folder: folder})
		}
	}
	return nil, nil, apperrors.ErrNotFound
}

func (m *mockTablaService) Templates() []config.TablaTemplate { return m.templates }

func (m *mockTablaService) GetTable(ctx context.Context, tablaID uuid.UUID) (*models.Tabla, error) {
	if t, ok := m.tablas[tablaID]; ok {
		return t, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockTablaService) ListTables(ctx context.Context, ownerID uuid.UUID) ([]*models.Tabla, error) {
	var out []*models.Tabla
	for _, t := range m.tablas {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTablaService) UpdateColumns(ctx context.Context, tablaID uuid.UUID, columns []models.Column) (*models.Tabla, error) {
	t, err := m.GetTable(ctx, tablaID)
	if err != nil {
		return nil, err
	}
	if _, err := services.NormalizeColumns(columns); err != nil {
		return nil, err
	}
	t.Columns = columns
	return t, nil
}

func (m *mockTablaService) DeleteTable(ctx context.Context, tablaID uuid.UUID) error {
	if _, ok := m.tablas[tablaID]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.tablas, tablaID)
	return nil
}

// mockRowService implements services.RowService.
type mockRowService struct {
	page      *models.RowPage
	pageArgs  [3]any
	saved     models.RowsSaveRequest
	query     services.RowQuery
	view      *services.MaterializedRows
	returnErr error
}

func (m *mockRowService) SaveRows(ctx context.Context, tablaID uuid.UUID, req models.RowsSaveRequest) ([]models.Row, error) {
	m.saved = req
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return append(req.Rows, req.DirtyRows...), nil
}

func (m *mockRowService) ListRows(ctx context.Context, tablaID uuid.UUID, page, limit int, sourcePath string) (*models.RowPage, error) {
	m.pageArgs = [3]any{page, limit, sourcePath}
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return m.page, nil
}

func (m *mockRowService) AllRows(ctx context.Context, tablaID uuid.UUID) ([]models.Row, error) {
	return nil, nil
}

func (m *mockRowService) Materialize(ctx context.Context, tablaID uuid.UUID, q services.RowQuery) (*services.MaterializedRows, error) {
	m.query = q
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return m.view, nil
}

func (m *mockRowService) ReplaceDocumentRows(ctx context.Context, tabla *models.Tabla, doc *models.Document, data []map[string]any) (int, error) {
	return len(data), nil
}

// mockLinkService implements services.ExtractionLinkService.
type mockLinkService struct {
	links     []models.ExtractionLink
	resolved  string
	returnErr error
}

func (m *mockLinkService) CreateLink(ctx context.Context, ownerID uuid.UUID, folder string, tablaID uuid.UUID) (*models.ExtractionLink, error) {
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &models.ExtractionLink{ID: uuid.New(), OwnerID: ownerID, FolderPath: folder, TablaID: tablaID}, nil
}

func (m *mockLinkService) DeleteLink(ctx context.Context, ownerID, linkID uuid.UUID) error {
	return m.returnErr
}

func (m *mockLinkService) ListLinks(ctx context.Context, ownerID uuid.UUID) ([]models.ExtractionLink, error) {
	return m.links, m.returnErr
}

func (m *mockLinkService) ResolveFolder(ctx context.Context, ownerID uuid.UUID, folder string) ([]models.ExtractionLink, error) {
	m.resolved = folder
	return m.links, m.returnErr
}

func (m *mockLinkService) ResolveDocument(ctx context.Context, ownerID uuid.UUID, doc *models.Document) ([]models.ExtractionLink, error) {
	return m.links, m.returnErr
}

// mockDocumentService implements services.DocumentService.
type mockDocumentService struct {
	uploaded     services.UploadRequest
	uploadedBody string
	doc          *models.Document
	tree         *models.DocumentsTree
	movedTo      string
	returnErr    error
}

func (m *mockDocumentService) Upload(ctx context.Context, ownerID uuid.UUID, req services.UploadRequest) (*models.Document, error) {
	body, _ := io.ReadAll(req.Body)
	m.uploaded = req
	m.uploadedBody = string(body)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &models.Document{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		StoragePath: services.StoragePath(ownerID, req.Folder, req.FileName),
		DisplayName: req.FileName,
		SizeBytes:   int64(len(body)),
	}, nil
}

func (m *mockDocumentService) Get(ctx context.Context, ownerID, id uuid.UUID) (*models.Document, error) {
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return m.doc, nil
}

func (m *mockDocumentService) Find(ctx context.Context, ownerID uuid.UUID, ref models.DocumentRef) (*models.Document, error) {
	return m.Get(ctx, ownerID, uuid.Nil)
}

func (m *mockDocumentService) Tree(ctx context.Context, ownerID uuid.UUID) (*models.DocumentsTree, error) {
	return m.tree, m.returnErr
}

func (m *mockDocumentService) SetStatus(ctx context.Context, doc *models.Document, update repositories.DocumentStatusUpdate) error {
	return nil
}

func (m *mockDocumentService) Move(ctx context.Context, ownerID, id uuid.UUID, folder string) (*models.Document, error) {
	m.movedTo = folder
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return m.doc, nil
}

func (m *mockDocumentService) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	return m.returnErr
}

// mockImportService implements services.ImportService.
type mockImportService struct {
	req       models.ImportRequest
	result    *models.ImportResult
	returnErr error
}

func (m *mockImportService) Import(ctx context.Context, ownerID uuid.UUID, req models.ImportRequest) (*models.ImportResult, error) {
	m.req = req
	return m.result, m.returnErr
}

// mockCurveService implements services.CurveService.
type mockCurveService struct {
	req services.CurveRequest
}

func (m *mockCurveService) Build(ctx context.Context, req services.CurveRequest) (*services.Curve, error) {
	m.req = req
	return &services.Curve{PlanTablaID: req.PlanTablaID, ActualTablaID: req.ActualTablaID, Points: []models.CurvePoint{}}, nil
}

// mockFileAccessService implements services.FileAccessService.
type mockFileAccessService struct {
	signed  storage.SignedURL
	content string
	verify  error
}

func (m *mockFileAccessService) SignedURL(ctx context.Context, ownerID uuid.UUID, path string) (storage.SignedURL, error) {
	if !strings.HasPrefix(path, ownerID.String()+"/") {
		return storage.SignedURL{}, apperrors.ErrNotFound
	}
	return m.signed, nil
}

func (m *mockFileAccessService) OpenSigned(ctx context.Context, path string, expires int64, signature string) (io.ReadCloser, error) {
	if m.verify != nil {
		return nil, m.verify
	}
	return io.NopCloser(strings.NewReader(m.content)), nil
}

type routeRegistrar interface {
	RegisterRoutes(mux *http.ServeMux, ownerMiddleware OwnerMiddleware)
}

// serve routes one request through a mux carrying the given handlers.
func serve(t *testing.T, method, target string, body io.Reader, handlers ...routeRegistrar) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	for _, h := range handlers {
		h.RegisterRoutes(mux, passthroughOwner)
	}
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// jsonBody encodes v as a request body.
func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

// decodeData unwraps the ApiResponse envelope into T.
func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Success bool `json:"success"`
		Data    T    `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope), rec.Body.String())
	require.True(t, envelope.Success)
	return envelope.Data
}

// errorCode reads the error code of an error response.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["error"]
}

func stringsBody(s string) io.Reader {
	return strings.NewReader(s)
}
