package services

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/cache"
	"github.com/ekaya-inc/obra-engine/pkg/linking"
	"github.com/ekaya-inc/obra-engine/pkg/materialize"
	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/repositories"
	"github.com/ekaya-inc/obra-engine/pkg/storage"
	"github.com/ekaya-inc/obra-engine/pkg/textnorm"
)

// UploadRequest describes a document upload. Folder is relative to the
// owner root and may be nested ("Certificados/2024").
type UploadRequest struct {
	Folder           string
	FileName         string
	MimeType         string
	ExtractionFolder string
	Body             io.Reader
}

// DocumentService manages source documents and the owner's documents tree.
type DocumentService interface {
	// Upload stores the document bytes and records its metadata.
	Upload(ctx context.Context, ownerID uuid.UUID, req UploadRequest) (*models.Document, error)

	// Get returns a document or apperrors.ErrNotFound.
	Get(ctx context.Context, ownerID, id uuid.UUID) (*models.Document, error)

	// Find resolves a document reference by ID or storage path.
	Find(ctx context.Context, ownerID uuid.UUID, ref models.DocumentRef) (*models.Document, error)

	// Tree returns the owner's folders, files and extraction links, each link
	// with its tabla and materialized rows.
	Tree(ctx context.Context, ownerID uuid.UUID) (*models.DocumentsTree, error)

	// SetStatus records an extraction status transition.
	SetStatus(ctx context.Context, doc *models.Document, update repositories.DocumentStatusUpdate) error

	// Move relocates a document. Rows it produced keep their source path
	// until the document is extracted again.
	Move(ctx context.Context, ownerID, id uuid.UUID, folder string) (*models.Document, error)

	// Delete removes the document bytes and metadata. Its rows are kept.
	Delete(ctx context.Context, ownerID, id uuid.UUID) error
}

type documentService struct {
	docs         repositories.DocumentRepository
	tablas       repositories.TablaRepository
	rows         RowService
	links        ExtractionLinkService
	blobs        storage.BlobStore
	materializer *materialize.Materializer
	caches       *cache.Manager
	logger       *zap.Logger
}

// NewDocumentService creates a new document service.
func NewDocumentService(
	docs repositories.DocumentRepository,
	tablas repositories.TablaRepository,
	rows RowService,
	links ExtractionLinkService,
	blobs storage.BlobStore,
	materializer *materialize.Materializer,
	caches *cache.Manager,
	logger *zap.Logger,
) DocumentService {
	return &documentService{
		docs:         docs,
		tablas:       tablas,
		rows:         rows,
		links:        links,
		blobs:        blobs,
		materializer: materializer,
		caches:       caches,
		logger:       logger.Named("documents"),
	}
}

// StoragePath joins the owner root, folder and file name.
func StoragePath(ownerID uuid.UUID, folder, fileName string) string {
	parts := []string{ownerID.String()}
	for _, seg := range strings.Split(strings.ReplaceAll(folder, "\\", "/"), "/") {
		if seg = strings.TrimSpace(seg); seg != "" {
			parts = append(parts, seg)
		}
	}
	return path.Join(append(parts, fileName)...)
}

func (s *documentService) Upload(ctx context.Context, ownerID uuid.UUID, req UploadRequest) (*models.Document, error) {
	fileName := path.Base(strings.ReplaceAll(strings.TrimSpace(req.FileName), "\\", "/"))
	if fileName == "" || fileName == "." || fileName == "/" {
		return nil, fmt.Errorf("file name is required: %w", apperrors.ErrInvalidInput)
	}
	storagePath, err := storage.CleanPath(StoragePath(ownerID, req.Folder, fileName))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), apperrors.ErrInvalidInput)
	}

	size, err := s.blobs.Put(ctx, storagePath, req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	mimeType := req.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(path.Ext(fileName))); byExt != "" {
			mimeType = byExt
		}
	}

	doc := &models.Document{
		OwnerID:          ownerID,
		StoragePath:      storagePath,
		DisplayName:      fileName,
		MimeType:         mimeType,
		SizeBytes:        size,
		ExtractionFolder: strings.TrimSpace(req.ExtractionFolder),
		OCRStatus:        models.OCRStatusUnprocessed,
	}
	if err := s.docs.Upsert(ctx, doc); err != nil {
		return nil, err
	}

	s.caches.Init(ownerID).InvalidatePath(storagePath)
	s.logger.Info("Uploaded document",
		zap.String("owner_id", ownerID.String()),
		zap.String("path", storagePath),
		zap.Int64("size", size))
	return doc, nil
}

func (s *documentService) Get(ctx context.Context, ownerID, id uuid.UUID) (*models.Document, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.OwnerID != ownerID {
		return nil, fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
	}
	return doc, nil
}

func (s *documentService) Find(ctx context.Context, ownerID uuid.UUID, ref models.DocumentRef) (*models.Document, error) {
	if ref.DocumentID != nil {
		return s.Get(ctx, ownerID, *ref.DocumentID)
	}
	if ref.StoragePath == "" {
		return nil, fmt.Errorf("document id or storage path is required: %w", apperrors.ErrInvalidInput)
	}
	doc, err := s.docs.GetByPath(ctx, ownerID, ref.StoragePath)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document %q: %w", ref.StoragePath, apperrors.ErrNotFound)
	}
	return doc, nil
}

func (s *documentService) Tree(ctx context.Context, ownerID uuid.UUID) (*models.DocumentsTree, error) {
	scope := s.caches.Init(ownerID)
	return scope.Trees.GetOrLoad(ctx, cache.TreeKey, func(ctx context.Context) (*models.DocumentsTree, error) {
		return s.buildTree(ctx, ownerID)
	})
}

func (s *documentService) buildTree(ctx context.Context, ownerID uuid.UUID) (*models.DocumentsTree, error) {
	docs, err := s.docs.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	links, err := s.links.ListLinks(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	root := &models.FolderNode{}
	for _, doc := range docs {
		node := root
		if folder := doc.FolderPath(); folder != "" {
			for _, seg := range strings.Split(folder, "/") {
				node = node.Child(seg)
			}
		}
		node.Files = append(node.Files, doc)
	}

	// Links of folders that hold no documents yet still show up.
	for _, link := range links {
		if link.FolderName == "" {
			continue
		}
		node := root
		for _, seg := range strings.Split(strings.Trim(strings.ReplaceAll(link.FolderName, "\\", "/"), "/"), "/") {
			if seg = strings.TrimSpace(seg); seg != "" {
				node = childFold(node, seg)
			}
		}
	}

	resolver := linking.NewResolver(links)
	attachLinks(root, resolver)

	withTablas, err := s.expandLinks(ctx, links)
	if err != nil {
		return nil, err
	}

	return &models.DocumentsTree{OwnerID: ownerID, Root: root, Links: withTablas}, nil
}

// childFold returns the sub-folder whose name folds to the same text as
// name, creating it if none does.
func childFold(node *models.FolderNode, name string) *models.FolderNode {
	for _, f := range node.Folders {
		if textnorm.Fold(f.Name) == textnorm.Fold(name) {
			return f
		}
	}
	return node.Child(name)
}

func attachLinks(node *models.FolderNode, resolver *linking.Resolver) {
	if node.Path != "" {
		for _, link := range resolver.ResolveFolder(node.Path) {
			node.LinkIDs = append(node.LinkIDs, link.ID)
		}
	}
	for _, child := range node.Folders {
		attachLinks(child, resolver)
	}
}

// expandLinks attaches each link's tabla and materialized rows. Tablas
// shared by several links are loaded once.
func (s *documentService) expandLinks(ctx context.Context, links []models.ExtractionLink) ([]models.ExtractionLink, error) {
	ids := make([]uuid.UUID, 0, len(links))
	for _, l := range linking.DistinctTablas(links) {
		ids = append(ids, l.TablaID)
	}
	tablas, err := s.tablas.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	rowsByTabla := make(map[uuid.UUID][]models.ViewRow, len(tablas))
	for id, tabla := range tablas {
		raw, err := s.rows.AllRows(ctx, id)
		if err != nil {
			return nil, err
		}
		rowsByTabla[id] = s.materializer.Materialize(raw, tabla.Columns)
	}

	out := make([]models.ExtractionLink, 0, len(links))
	for _, link := range links {
		if tabla, ok := tablas[link.TablaID]; ok {
			link.Tabla = tabla
			link.Rows = rowsByTabla[link.TablaID]
		}
		out = append(out, link)
	}
	return out, nil
}

func (s *documentService) SetStatus(ctx context.Context, doc *models.Document, update repositories.DocumentStatusUpdate) error {
	if err := s.docs.UpdateStatus(ctx, doc.ID, update); err != nil {
		return err
	}
	doc.OCRStatus = update.Status
	if update.PageCount != nil {
		doc.PageCount = update.PageCount
	}
	if update.ExtractedRows != nil {
		doc.ExtractedRows = *update.ExtractedRows
	}
	if update.Errors != nil {
		doc.ExtractionErrors = update.Errors
	}
	s.caches.Init(doc.OwnerID).InvalidateContent()
	return nil
}

func (s *documentService) Move(ctx context.Context, ownerID, id uuid.UUID, folder string) (*models.Document, error) {
	doc, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	target, err := storage.CleanPath(StoragePath(ownerID, folder, doc.FileName()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), apperrors.ErrInvalidInput)
	}
	if target == doc.StoragePath {
		return doc, nil
	}

	src, err := s.blobs.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	_, err = s.blobs.Put(ctx, target, src)
	src.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to copy document: %w", err)
	}
	if err := s.docs.Move(ctx, id, target, doc.DisplayName); err != nil {
		return nil, err
	}
	if err := s.blobs.Delete(ctx, doc.StoragePath); err != nil {
		s.logger.Warn("Failed to delete moved document source",
			zap.String("path", doc.StoragePath), zap.Error(err))
	}

	scope := s.caches.Init(ownerID)
	scope.InvalidatePath(doc.StoragePath)
	scope.InvalidatePath(target)

	s.logger.Info("Moved document",
		zap.String("from", doc.StoragePath),
		zap.String("to", target))
	doc.StoragePath = target
	return doc, nil
}

func (s *documentService) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	doc, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, doc.StoragePath); err != nil {
		s.logger.Warn("Failed to delete document bytes",
			zap.String("path", doc.StoragePath), zap.Error(err))
	}
	if err := s.docs.Delete(ctx, id); err != nil {
		return err
	}
	s.caches.Init(ownerID).InvalidatePath(doc.StoragePath)
	return nil
}

// Ensure documentService implements DocumentService at compile time.
var _ DocumentService = (*documentService)(nil)
