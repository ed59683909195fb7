package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/cache"
	"github.com/ekaya-inc/obra-engine/pkg/extraction"
	"github.com/ekaya-inc/obra-engine/pkg/formula"
	"github.com/ekaya-inc/obra-engine/pkg/materialize"
	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/repositories"
	"github.com/ekaya-inc/obra-engine/pkg/storage"
)

// passthroughTx runs fn without a database transaction.
func passthroughTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// memTablaRepository is an in-memory TablaRepository.
type memTablaRepository struct {
	mu        sync.Mutex
	tablas    map[uuid.UUID]*models.Tabla
	createErr error
}

func newMemTablaRepository() *memTablaRepository {
	return &memTablaRepository{tablas: make(map[uuid.UUID]*models.Tabla)}
}

func copyTabla(t *models.Tabla) *models.Tabla {
	c := *t
	c.Columns = append([]models.Column(nil), t.Columns...)
	return &c
}

func (r *memTablaRepository) Create(ctx context.Context, tabla *models.Tabla) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tabla.ID = uuid.New()
	tabla.CreatedAt = time.Now()
	tabla.UpdatedAt = tabla.CreatedAt
	r.tablas[tabla.ID] = copyTabla(tabla)
	return nil
}

func (r *memTablaRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tabla, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tablas[id]; ok {
		return copyTabla(t), nil
	}
	return nil, nil
}

func (r *memTablaRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Tabla, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uuid.UUID]*models.Tabla)
	for _, id := range ids {
		if t, ok := r.tablas[id]; ok {
			out[id] = copyTabla(t)
		}
	}
	return out, nil
}

func (r *memTablaRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Tabla, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Tabla
	for _, t := range r.tablas {
		if t.OwnerID == ownerID {
			out = append(out, copyTabla(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memTablaRepository) UpdateColumns(ctx context.Context, id uuid.UUID, columns []models.Column) (*models.Tabla, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tablas[id]
	if !ok {
		return nil, nil
	}
	t.Columns = append([]models.Column(nil), columns...)
	t.UpdatedAt = time.Now()
	return copyTabla(t), nil
}

func (r *memTablaRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tablas[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.tablas, id)
	return nil
}

// memRowRepository is an in-memory RowRepository keeping insertion order.
type memRowRepository struct {
	mu        sync.Mutex
	rows      []models.Row
	insertErr map[uuid.UUID]error
}

func newMemRowRepository() *memRowRepository {
	return &memRowRepository{insertErr: make(map[uuid.UUID]error)}
}

func (r *memRowRepository) InsertBatch(ctx context.Context, ownerID, tablaID uuid.UUID, rows []models.Row) error {
	if err := r.insertErr[tablaID]; err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range rows {
		rows[i].ID = uuid.New()
		rows[i].TablaID = tablaID
		r.rows = append(r.rows, rows[i])
	}
	return nil
}

func (r *memRowRepository) Upsert(ctx context.Context, ownerID, tablaID uuid.UUID, rows []models.Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		row.TablaID = tablaID
		replaced := false
		for i := range r.rows {
			if r.rows[i].ID == row.ID {
				if r.rows[i].TablaID != tablaID {
					return apperrors.ErrConflict
				}
				r.rows[i] = row
				replaced = true
			}
		}
		if !replaced {
			r.rows = append(r.rows, row)
		}
	}
	return nil
}

func (r *memRowRepository) DeleteByIDs(ctx context.Context, tablaID uuid.UUID, ids []uuid.UUID) (int64, error) {
	drop := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	return r.deleteWhere(func(row models.Row) bool { return row.TablaID == tablaID && drop[row.ID] }), nil
}

func (r *memRowRepository) DeleteBySourcePath(ctx context.Context, tablaID uuid.UUID, sourcePath string) (int64, error) {
	return r.deleteWhere(func(row models.Row) bool { return row.TablaID == tablaID && row.SourcePath == sourcePath }), nil
}

func (r *memRowRepository) deleteWhere(match func(models.Row) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	var n int64
	for _, row := range r.rows {
		if match(row) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	r.rows = kept
	return n
}

func (r *memRowRepository) ListPage(ctx context.Context, tablaID uuid.UUID, page, limit int, sourcePath string) (*models.RowPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []models.Row
	for _, row := range r.rows {
		if row.TablaID == tablaID && (sourcePath == "" || row.SourcePath == sourcePath) {
			matched = append(matched, row)
		}
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = repositories.MaxRowPageLimit
	}
	start := (page - 1) * limit
	end := start + limit
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}
	return &models.RowPage{Rows: append([]models.Row{}, matched[start:end]...), Page: page, Limit: limit, Total: len(matched)}, nil
}

func (r *memRowRepository) ListAll(ctx context.Context, tablaID uuid.UUID) ([]models.Row, error) {
	p, err := r.ListPage(ctx, tablaID, 1, 1<<30, "")
	if err != nil {
		return nil, err
	}
	return p.Rows, nil
}

func (r *memRowRepository) CountBySourcePath(ctx context.Context, sourcePath string) (map[uuid.UUID]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uuid.UUID]int)
	for _, row := range r.rows {
		if row.SourcePath == sourcePath {
			out[row.TablaID]++
		}
	}
	return out, nil
}

// memLinkRepository is an in-memory ExtractionLinkRepository.
type memLinkRepository struct {
	mu        sync.Mutex
	links     []models.ExtractionLink
	listCalls int
}

func (r *memLinkRepository) Create(ctx context.Context, link *models.ExtractionLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.OwnerID == link.OwnerID && l.FolderPath == link.FolderPath && l.TablaID == link.TablaID {
			return apperrors.ErrConflict
		}
	}
	link.ID = uuid.New()
	link.CreatedAt = time.Now()
	r.links = append(r.links, *link)
	return nil
}

func (r *memLinkRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ExtractionLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.ID == id {
			l := l
			return &l, nil
		}
	}
	return nil, nil
}

func (r *memLinkRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.ExtractionLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	out := []models.ExtractionLink{}
	for _, l := range r.links {
		if l.OwnerID == ownerID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memLinkRepository) ListByTabla(ctx context.Context, tablaID uuid.UUID) ([]models.ExtractionLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.ExtractionLink{}
	for _, l := range r.links {
		if l.TablaID == tablaID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memLinkRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, l := range r.links {
		if l.ID == id {
			r.links = append(r.links[:i], r.links[i+1:]...)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

// memDocumentRepository is an in-memory DocumentRepository.
type memDocumentRepository struct {
	mu       sync.Mutex
	docs     map[uuid.UUID]*models.Document
	statuses []models.OCRStatus
}

func newMemDocumentRepository() *memDocumentRepository {
	return &memDocumentRepository{docs: make(map[uuid.UUID]*models.Document)}
}

func (r *memDocumentRepository) Upsert(ctx context.Context, doc *models.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.OwnerID == doc.OwnerID && d.StoragePath == doc.StoragePath {
			doc.ID = d.ID
		}
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	c := *doc
	r.docs[doc.ID] = &c
	return nil
}

func (r *memDocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.docs[id]; ok {
		c := *d
		return &c, nil
	}
	return nil, nil
}

func (r *memDocumentRepository) GetByPath(ctx context.Context, ownerID uuid.UUID, storagePath string) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.OwnerID == ownerID && d.StoragePath == storagePath {
			c := *d
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memDocumentRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Document{}
	for _, d := range r.docs {
		if d.OwnerID == ownerID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StoragePath < out[j].StoragePath })
	return out, nil
}

func (r *memDocumentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, update repositories.DocumentStatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	d.OCRStatus = update.Status
	if update.PageCount != nil {
		d.PageCount = update.PageCount
	}
	if update.ExtractedRows != nil {
		d.ExtractedRows = *update.ExtractedRows
	}
	if update.Errors != nil {
		d.ExtractionErrors = update.Errors
	}
	r.statuses = append(r.statuses, update.Status)
	return nil
}

func (r *memDocumentRepository) Move(ctx context.Context, id uuid.UUID, storagePath, displayName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	d.StoragePath = storagePath
	d.DisplayName = displayName
	return nil
}

func (r *memDocumentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.docs, id)
	return nil
}

// fakeExtractor returns canned rows per tabla name.
type fakeExtractor struct {
	mu    sync.Mutex
	rows  map[string][]map[string]any
	errs  map[string]error
	calls []string
	paths []string
}

func (f *fakeExtractor) Extract(ctx context.Context, req extraction.Request) (*extraction.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Tabla.Name)
	f.paths = append(f.paths, req.Path)
	f.mu.Unlock()
	if err := f.errs[req.Tabla.Name]; err != nil {
		return nil, err
	}
	rows := f.rows[req.Tabla.Name]
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = extraction.ShapeRow(r, req.Tabla)
	}
	return &extraction.Result{Source: extraction.SourcePDF, Rows: out}, nil
}

// engine wires every service over in-memory repositories.
type engine struct {
	tablaRepo *memTablaRepository
	rowRepo   *memRowRepository
	linkRepo  *memLinkRepository
	docRepo   *memDocumentRepository
	store     *storage.LocalStore
	caches    *cache.Manager
	extractor *fakeExtractor

	tablas  TablaService
	rows    RowService
	links   ExtractionLinkService
	docs    DocumentService
	imports ImportService
	curves  CurveService
	files   FileAccessService
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	logger := zap.NewNop()

	store, err := storage.NewLocalStore(t.TempDir(), "http://localhost:3443", []byte("test-signing-key"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	e := &engine{
		tablaRepo: newMemTablaRepository(),
		rowRepo:   newMemRowRepository(),
		linkRepo:  &memLinkRepository{},
		docRepo:   newMemDocumentRepository(),
		store:     store,
		caches:    cache.NewManager(cache.DefaultConfig(), logger),
		extractor: &fakeExtractor{rows: map[string][]map[string]any{}, errs: map[string]error{}},
	}
	t.Cleanup(e.caches.DisposeAll)

	compiler := formula.NewCompiler()
	mat := materialize.New(compiler, logger)

	tablas := NewTablaService(e.tablaRepo, e.linkRepo, nil, compiler, e.caches, logger)
	tablas.(*tablaService).inTx = passthroughTx
	rows := NewRowService(e.tablaRepo, e.rowRepo, mat, e.caches, logger)
	rows.(*rowService).inTx = passthroughTx
	rows.(*rowService).pageSize = 2

	e.tablas = tablas
	e.rows = rows
	e.links = NewExtractionLinkService(e.linkRepo, e.tablaRepo, e.caches, logger)
	e.docs = NewDocumentService(e.docRepo, e.tablaRepo, rows, e.links, store, mat, e.caches, logger)
	e.imports = NewImportService(e.docs, e.links, e.tablaRepo, rows, e.extractor, store, e.caches, 4, logger)
	e.curves = NewCurveService(tablas, rows, mat, logger)
	e.files = NewFileAccessService(store, e.caches, time.Hour, logger)
	return e
}

// upload stores a small file under folder.
func (e *engine) upload(t *testing.T, ownerID uuid.UUID, folder, name string) *models.Document {
	t.Helper()
	doc, err := e.docs.Upload(context.Background(), ownerID, UploadRequest{
		Folder:   folder,
		FileName: name,
		Body:     strings.NewReader("%PDF-1.4 test"),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return doc
}
