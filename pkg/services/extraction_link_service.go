package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/cache"
	"github.com/ekaya-inc/obra-engine/pkg/linking"
	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/repositories"
	"github.com/ekaya-inc/obra-engine/pkg/textnorm"
)

// ExtractionLinkService registers folder to tabla links and resolves them.
// Link sets are read through the owner's link cache.
type ExtractionLinkService interface {
	// CreateLink binds folder to tablaID. Several tablas may share a folder.
	CreateLink(ctx context.Context, ownerID uuid.UUID, folder string, tablaID uuid.UUID) (*models.ExtractionLink, error)

	// DeleteLink removes a link; the tabla and its rows are kept.
	DeleteLink(ctx context.Context, ownerID, linkID uuid.UUID) error

	// ListLinks returns every link of the owner.
	ListLinks(ctx context.Context, ownerID uuid.UUID) ([]models.ExtractionLink, error)

	// ResolveFolder returns the links of folder: exact, flattened, then ancestors.
	ResolveFolder(ctx context.Context, ownerID uuid.UUID, folder string) ([]models.ExtractionLink, error)

	// ResolveDocument returns the links of the folder doc is extracted as.
	ResolveDocument(ctx context.Context, ownerID uuid.UUID, doc *models.Document) ([]models.ExtractionLink, error)
}

type extractionLinkService struct {
	links  repositories.ExtractionLinkRepository
	tablas repositories.TablaRepository
	caches *cache.Manager
	logger *zap.Logger
}

// NewExtractionLinkService creates a new extraction link service.
func NewExtractionLinkService(
	links repositories.ExtractionLinkRepository,
	tablas repositories.TablaRepository,
	caches *cache.Manager,
	logger *zap.Logger,
) ExtractionLinkService {
	return &extractionLinkService{
		links:  links,
		tablas: tablas,
		caches: caches,
		logger: logger.Named("links"),
	}
}

func (s *extractionLinkService) CreateLink(ctx context.Context, ownerID uuid.UUID, folder string, tablaID uuid.UUID) (*models.ExtractionLink, error) {
	folder = strings.TrimSpace(folder)
	normalized := textnorm.NormalizeFolderPath(folder)
	if normalized == "" {
		return nil, fmt.Errorf("folder is required: %w", apperrors.ErrInvalidInput)
	}

	tabla, err := s.tablas.GetByID(ctx, tablaID)
	if err != nil {
		return nil, err
	}
	if tabla == nil || tabla.OwnerID != ownerID {
		return nil, fmt.Errorf("tabla %s: %w", tablaID, apperrors.ErrNotFound)
	}

	link := &models.ExtractionLink{
		OwnerID:    ownerID,
		FolderPath: normalized,
		FolderName: folder,
		TablaID:    tablaID,
	}
	if err := s.links.Create(ctx, link); err != nil {
		return nil, err
	}

	s.caches.Init(ownerID).InvalidateContent()
	s.logger.Info("Created extraction link",
		zap.String("owner_id", ownerID.String()),
		zap.String("folder", normalized),
		zap.String("tabla_id", tablaID.String()))

	link.Tabla = tabla
	return link, nil
}

func (s *extractionLinkService) DeleteLink(ctx context.Context, ownerID, linkID uuid.UUID) error {
	link, err := s.links.GetByID(ctx, linkID)
	if err != nil {
		return err
	}
	if link == nil || link.OwnerID != ownerID {
		return fmt.Errorf("extraction link %s: %w", linkID, apperrors.ErrNotFound)
	}
	if err := s.links.Delete(ctx, linkID); err != nil {
		return err
	}
	s.caches.Init(ownerID).InvalidateContent()
	return nil
}

func (s *extractionLinkService) ListLinks(ctx context.Context, ownerID uuid.UUID) ([]models.ExtractionLink, error) {
	scope := s.caches.Init(ownerID)
	return scope.Links.GetOrLoad(ctx, cache.AllLinksKey, func(ctx context.Context) ([]models.ExtractionLink, error) {
		return s.links.ListByOwner(ctx, ownerID)
	})
}

func (s *extractionLinkService) resolver(ctx context.Context, ownerID uuid.UUID) (*linking.Resolver, error) {
	links, err := s.ListLinks(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return linking.NewResolver(links), nil
}

func (s *extractionLinkService) ResolveFolder(ctx context.Context, ownerID uuid.UUID, folder string) ([]models.ExtractionLink, error) {
	key := textnorm.NormalizeFolderPath(folder)
	if key == "" {
		return nil, nil
	}
	scope := s.caches.Init(ownerID)
	return scope.Links.GetOrLoad(ctx, "folder:"+key, func(ctx context.Context) ([]models.ExtractionLink, error) {
		r, err := s.resolver(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		return r.ResolveFolder(key), nil
	})
}

func (s *extractionLinkService) ResolveDocument(ctx context.Context, ownerID uuid.UUID, doc *models.Document) ([]models.ExtractionLink, error) {
	r, err := s.resolver(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return r.ResolveDocument(doc), nil
}

// Ensure extractionLinkService implements ExtractionLinkService at compile time.
var _ ExtractionLinkService = (*extractionLinkService)(nil)
