package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/cache"
	"github.com/ekaya-inc/obra-engine/pkg/config"
	"github.com/ekaya-inc/obra-engine/pkg/formula"
	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/repositories"
	"github.com/ekaya-inc/obra-engine/pkg/textnorm"
)

// CreateTablaRequest is the payload of CreateTable. A non-empty Folder
// binds the new tabla to that folder in the same transaction.
type CreateTablaRequest struct {
	Name            string                 `json:"name"`
	Description     string                 `json:"description,omitempty"`
	DataInputMethod models.DataInputMethod `json:"data_input_method"`
	Columns         []models.Column        `json:"columns"`
	Folder          string                 `json:"folder,omitempty"`
}

// TablaService is the schema registry.
type TablaService interface {
	// CreateTable creates a tabla and, when req.Folder is set, its extraction link.
	CreateTable(ctx context.Context, ownerID uuid.UUID, req CreateTablaRequest) (*models.Tabla, *models.ExtractionLink, error)

	// CreateFromTemplate creates a tabla from a configured template. An empty
	// folder uses the template's default folder.
	CreateFromTemplate(ctx context.Context, ownerID uuid.UUID, templateKey, folder string) (*models.Tabla, *models.ExtractionLink, error)

	// Templates lists the configured tabla templates.
	Templates() []config.TablaTemplate

	// GetTable returns a tabla or apperrors.ErrNotFound.
	GetTable(ctx context.Context, tablaID uuid.UUID) (*models.Tabla, error)

	// ListTables returns every tabla of an owner.
	ListTables(ctx context.Context, ownerID uuid.UUID) ([]*models.Tabla, error)

	// UpdateColumns replaces the schema. Stored row data is never touched.
	UpdateColumns(ctx context.Context, tablaID uuid.UUID, columns []models.Column) (*models.Tabla, error)

	// DeleteTable removes a tabla with its rows and links.
	DeleteTable(ctx context.Context, tablaID uuid.UUID) error
}

type tablaService struct {
	tablas    repositories.TablaRepository
	links     repositories.ExtractionLinkRepository
	templates []config.TablaTemplate
	compiler  *formula.Compiler
	caches    *cache.Manager
	inTx      TxRunner
	logger    *zap.Logger
}

// NewTablaService creates a new schema registry service.
func NewTablaService(
	tablas repositories.TablaRepository,
	links repositories.ExtractionLinkRepository,
	templates []config.TablaTemplate,
	compiler *formula.Compiler,
	caches *cache.Manager,
	logger *zap.Logger,
) TablaService {
	return &tablaService{
		tablas:    tablas,
		links:     links,
		templates: templates,
		compiler:  compiler,
		caches:    caches,
		inTx:      DefaultTxRunner,
		logger:    logger.Named("tablas"),
	}
}

func (s *tablaService) CreateTable(ctx context.Context, ownerID uuid.UUID, req CreateTablaRequest) (*models.Tabla, *models.ExtractionLink, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, nil, fmt.Errorf("tabla name is required: %w", apperrors.ErrInvalidInput)
	}
	method := req.DataInputMethod
	if method == "" {
		method = models.DataInputMixed
	}
	if !method.IsValid() {
		return nil, nil, fmt.Errorf("unknown data input method %q: %w", method, apperrors.ErrInvalidInput)
	}

	columns, err := NormalizeColumns(req.Columns)
	if err != nil {
		return nil, nil, err
	}

	tabla := &models.Tabla{
		OwnerID:         ownerID,
		Name:            name,
		Description:     strings.TrimSpace(req.Description),
		DataInputMethod: method,
		Columns:         columns,
	}

	var link *models.ExtractionLink
	folder := strings.TrimSpace(req.Folder)
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.tablas.Create(ctx, tabla); err != nil {
			return err
		}
		if folder == "" {
			return nil
		}
		link = &models.ExtractionLink{
			OwnerID:    ownerID,
			FolderPath: textnorm.NormalizeFolderPath(folder),
			FolderName: folder,
			TablaID:    tabla.ID,
		}
		if link.FolderPath == "" {
			return fmt.Errorf("folder %q normalizes to nothing: %w", folder, apperrors.ErrInvalidInput)
		}
		return s.links.Create(ctx, link)
	})
	if err != nil {
		return nil, nil, err
	}

	s.invalidate(ownerID)
	s.logger.Info("Created tabla",
		zap.String("owner_id", ownerID.String()),
		zap.String("tabla_id", tabla.ID.String()),
		zap.String("name", tabla.Name),
		zap.Int("columns", len(tabla.Columns)),
		zap.String("folder", folder))

	if link != nil {
		link.Tabla = tabla
	}
	return tabla, link, nil
}

func (s *tablaService) CreateFromTemplate(ctx context.Context, ownerID uuid.UUID, templateKey, folder string) (*models.Tabla, *models.ExtractionLink, error) {
	for i := range s.templates {
		tpl := &s.templates[i]
		if tpl.Key != templateKey {
			continue
		}
		if strings.TrimSpace(folder) == "" {
			folder = tpl.Folder
		}
		return s.CreateTable(ctx, ownerID, CreateTablaRequest{
			Name:            tpl.Name,
			Description:     tpl.Description,
			DataInputMethod: models.DataInputMethod(tpl.DataInputMethod),
			Columns:         tpl.ModelColumns(),
			Folder:          folder,
		})
	}
	return nil, nil, fmt.Errorf("template %q: %w", templateKey, apperrors.ErrNotFound)
}

func (s *tablaService) Templates() []config.TablaTemplate {
	return s.templates
}

func (s *tablaService) GetTable(ctx context.Context, tablaID uuid.UUID) (*models.Tabla, error) {
	tabla, err := s.tablas.GetByID(ctx, tablaID)
	if err != nil {
		return nil, err
	}
	if tabla == nil {
		return nil, fmt.Errorf("tabla %s: %w", tablaID, apperrors.ErrNotFound)
	}
	return tabla, nil
}

func (s *tablaService) ListTables(ctx context.Context, ownerID uuid.UUID) ([]*models.Tabla, error) {
	return s.tablas.ListByOwner(ctx, ownerID)
}

func (s *tablaService) UpdateColumns(ctx context.Context, tablaID uuid.UUID, columns []models.Column) (*models.Tabla, error) {
	normalized, err := NormalizeColumns(columns)
	if err != nil {
		return nil, err
	}

	var before, updated *models.Tabla
	err = s.inTx(ctx, func(ctx context.Context) error {
		var err error
		before, err = s.GetTable(ctx, tablaID)
		if err != nil {
			return err
		}
		updated, err = s.tablas.UpdateColumns(ctx, tablaID, normalized)
		if err != nil {
			return err
		}
		if updated == nil {
			return fmt.Errorf("tabla %s: %w", tablaID, apperrors.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, f := range changedFormulas(before.Columns, updated.Columns) {
		s.compiler.Invalidate(f)
	}
	s.invalidate(updated.OwnerID)

	s.logger.Info("Updated tabla columns",
		zap.String("tabla_id", tablaID.String()),
		zap.Int("columns_before", len(before.Columns)),
		zap.Int("columns_after", len(updated.Columns)))
	return updated, nil
}

func (s *tablaService) DeleteTable(ctx context.Context, tablaID uuid.UUID) error {
	tabla, err := s.GetTable(ctx, tablaID)
	if err != nil {
		return err
	}
	if err := s.tablas.Delete(ctx, tablaID); err != nil {
		return err
	}
	s.invalidate(tabla.OwnerID)
	s.logger.Info("Deleted tabla", zap.String("tabla_id", tablaID.String()))
	return nil
}

func (s *tablaService) invalidate(ownerID uuid.UUID) {
	if s.caches != nil {
		s.caches.Init(ownerID).InvalidateContent()
	}
}

// Ensure tablaService implements TablaService at compile time.
var _ TablaService = (*tablaService)(nil)
