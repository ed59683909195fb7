package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/cache"
	"github.com/ekaya-inc/obra-engine/pkg/extraction"
	"github.com/ekaya-inc/obra-engine/pkg/linking"
	"github.com/ekaya-inc/obra-engine/pkg/logging"
	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/repositories"
	"github.com/ekaya-inc/obra-engine/pkg/storage"
)

// ImportService extracts one document into every tabla it feeds.
type ImportService interface {
	// Import runs the extraction fan-out. Each tabla succeeds or fails on
	// its own; a failed tabla never undoes the rows of its siblings. With
	// Commit false nothing is written and spreadsheet previews are returned.
	Import(ctx context.Context, ownerID uuid.UUID, req models.ImportRequest) (*models.ImportResult, error)
}

type importService struct {
	docs        DocumentService
	links       ExtractionLinkService
	tablas      repositories.TablaRepository
	rows        RowService
	extractor   extraction.Extractor
	blobs       storage.BlobStore
	caches      *cache.Manager
	concurrency int
	logger      *zap.Logger
}

// NewImportService creates a new import service. concurrency bounds the
// number of tablas extracted at once.
func NewImportService(
	docs DocumentService,
	links ExtractionLinkService,
	tablas repositories.TablaRepository,
	rows RowService,
	extractor extraction.Extractor,
	blobs storage.BlobStore,
	caches *cache.Manager,
	concurrency int,
	logger *zap.Logger,
) ImportService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &importService{
		docs:        docs,
		links:       links,
		tablas:      tablas,
		rows:        rows,
		extractor:   extractor,
		blobs:       blobs,
		caches:      caches,
		concurrency: concurrency,
		logger:      logger.Named("import"),
	}
}

// target is one tabla of the fan-out and its extraction outcome.
type target struct {
	tablaID uuid.UUID
	tabla   *models.Tabla
	result  *extraction.Result
	err     error
}

func (s *importService) Import(ctx context.Context, ownerID uuid.UUID, req models.ImportRequest) (*models.ImportResult, error) {
	doc, err := s.docs.Find(ctx, ownerID, req.Document)
	if err != nil {
		return nil, err
	}

	targets, err := s.targets(ctx, ownerID, doc, req.TablaIDs)
	if err != nil {
		return nil, err
	}
	result := &models.ImportResult{DocumentID: doc.ID, Results: []models.TablaImportResult{}}
	if len(targets) == 0 {
		s.logger.Debug("Document has no linked tablas", zap.String("document", doc.StoragePath))
		return result, nil
	}

	start := time.Now()
	if req.Commit {
		s.setStatus(ctx, doc, repositories.DocumentStatusUpdate{Status: models.OCRStatusPending})
		s.setStatus(ctx, doc, repositories.DocumentStatusUpdate{Status: models.OCRStatusProcessing})
	}

	blob, err := s.caches.Init(ownerID).Blobs.GetOrLoad(ctx, doc.StoragePath, func(ctx context.Context) (*storage.Blob, error) {
		return s.blobs.Download(ctx, doc.StoragePath)
	})
	if err != nil {
		if req.Commit {
			s.setStatus(ctx, doc, repositories.DocumentStatusUpdate{
				Status: models.OCRStatusFailed,
				Errors: []string{logging.SanitizeError(err)},
			})
		}
		return nil, fmt.Errorf("failed to download document: %w", err)
	}

	s.extractAll(ctx, doc, blob, targets)

	var pageCount *int
	var failures []string
	inserted := 0
	for _, t := range targets {
		res := models.TablaImportResult{TablaID: t.tablaID}
		if t.tabla != nil {
			res.TablaName = t.tabla.Name
		}
		if t.err == nil && t.result != nil {
			res.Preview = t.result.Preview
			if t.result.PageCount != nil {
				pageCount = t.result.PageCount
			}
			if req.Commit {
				// Persisted one tabla at a time on the owner connection.
				res.Inserted, t.err = s.rows.ReplaceDocumentRows(ctx, t.tabla, doc, t.result.Rows)
			} else {
				res.Inserted = len(t.result.Rows)
			}
		}
		if t.err != nil {
			res.Error = logging.SanitizeError(t.err)
			res.Inserted = 0
			failures = append(failures, fmt.Sprintf("%s: %s", res.TablaName, res.Error))
		}
		inserted += res.Inserted
		result.Results = append(result.Results, res)
	}

	if req.Commit {
		status := models.OCRStatusCompleted
		if len(failures) == len(targets) {
			status = models.OCRStatusFailed
		}
		if failures == nil {
			failures = []string{}
		}
		s.setStatus(ctx, doc, repositories.DocumentStatusUpdate{
			Status:        status,
			PageCount:     pageCount,
			ExtractedRows: &inserted,
			Errors:        failures,
		})
	}

	s.logger.Info("Imported document",
		zap.String("owner_id", ownerID.String()),
		zap.String("document", doc.StoragePath),
		zap.Int("tablas", len(targets)),
		zap.Int("failed", result.Failed()),
		zap.String("errors", summarize(result.Results)),
		zap.Int("rows", inserted),
		zap.Bool("commit", req.Commit),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// targets lists the tablas to extract into: the requested ones, or every
// tabla linked to the document's folder.
func (s *importService) targets(ctx context.Context, ownerID uuid.UUID, doc *models.Document, requested []uuid.UUID) ([]*target, error) {
	ids := requested
	if len(ids) == 0 {
		links, err := s.links.ResolveDocument(ctx, ownerID, doc)
		if err != nil {
			return nil, err
		}
		for _, l := range linking.DistinctTablas(links) {
			ids = append(ids, l.TablaID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	tablas, err := s.tablas.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]*target, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		t := &target{tablaID: id}
		tabla, ok := tablas[id]
		switch {
		case !ok || tabla.OwnerID != ownerID:
			t.err = fmt.Errorf("tabla %s: %w", id, apperrors.ErrNotFound)
		case tabla.DataInputMethod == models.DataInputManual:
			t.tabla = tabla
			t.err = fmt.Errorf("tabla %q only accepts manual rows: %w", tabla.Name, apperrors.ErrInvalidInput)
		default:
			t.tabla = tabla
		}
		out = append(out, t)
	}
	return out, nil
}

// extractAll runs the extractor for every viable target concurrently.
// Errors stay on their target.
func (s *importService) extractAll(ctx context.Context, doc *models.Document, blob *storage.Blob, targets []*target) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, t := range targets {
		if t.err != nil {
			continue
		}
		g.Go(func() error {
			t.result, t.err = s.extractor.Extract(gctx, extraction.Request{
				Document: doc,
				Path:     blob.LocalPath,
				Tabla:    t.tabla,
			})
			return nil
		})
	}
	_ = g.Wait()
}

func (s *importService) setStatus(ctx context.Context, doc *models.Document, update repositories.DocumentStatusUpdate) {
	if err := s.docs.SetStatus(ctx, doc, update); err != nil {
		s.logger.Warn("Failed to update document status",
			zap.String("document", doc.StoragePath),
			zap.String("status", string(update.Status)),
			zap.Error(err))
	}
}

// summarize joins per-tabla errors for log lines.
func summarize(results []models.TablaImportResult) string {
	var parts []string
	for _, r := range results {
		if r.Error != "" {
			parts = append(parts, r.TablaName+": "+r.Error)
		}
	}
	return strings.Join(parts, "; ")
}

// Ensure importService implements ImportService at compile time.
var _ ImportService = (*importService)(nil)
