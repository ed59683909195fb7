package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/database"
	"github.com/ekaya-inc/obra-engine/pkg/models"
)

// ExtractionLinkRepository defines the interface for folder to tabla links.
// Several links may share a folder path; a (folder, tabla) pair is unique.
type ExtractionLinkRepository interface {
	// Create inserts a link. Returns apperrors.ErrConflict if the folder is already linked to the tabla.
	Create(ctx context.Context, link *models.ExtractionLink) error

	// GetByID retrieves a link. Returns nil, nil if not found.
	GetByID(ctx context.Context, id uuid.UUID) (*models.ExtractionLink, error)

	// ListByOwner retrieves every link of an owner ordered by folder path.
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.ExtractionLink, error)

	// ListByTabla retrieves the links pointing at a tabla.
	ListByTabla(ctx context.Context, tablaID uuid.UUID) ([]models.ExtractionLink, error)

	// Delete removes a link. The tabla and its rows are kept.
	Delete(ctx context.Context, id uuid.UUID) error
}

type extractionLinkRepository struct{}

// NewExtractionLinkRepository creates a new extraction link repository.
func NewExtractionLinkRepository() ExtractionLinkRepository {
	return &extractionLinkRepository{}
}

const linkColumns = `id, owner_id, folder_path, folder_name, tabla_id, created_at`

func (r *extractionLinkRepository) Create(ctx context.Context, link *models.ExtractionLink) error {
	q, err := database.Querier(ctx)
	if err != nil {
		return err
	}

	link.CreatedAt = time.Now()

	query := `
		INSERT INTO obra_extraction_links (owner_id, folder_path, folder_name, tabla_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err = q.QueryRow(ctx, query,
		link.OwnerID,
		link.FolderPath,
		link.FolderName,
		link.TablaID,
		link.CreatedAt,
	).Scan(&link.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create extraction link: %w", err)
	}

	return nil
}

func (r *extractionLinkRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ExtractionLink, error) {
	q, err := database.Querier(ctx)
	if err != nil {
		return nil, err
	}

	var link models.ExtractionLink
	err = q.QueryRow(ctx, `SELECT `+linkColumns+` FROM obra_extraction_links WHERE id = $1`, id).Scan(
		&link.ID,
		&link.OwnerID,
		&link.FolderPath,
		&link.FolderName,
		&link.TablaID,
		&link.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get extraction link: %w", err)
	}

	return &link, nil
}

func (r *extractionLinkRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.ExtractionLink, error) {
	return r.list(ctx, `SELECT `+linkColumns+` FROM obra_extraction_links WHERE owner_id = $1 ORDER BY folder_path, created_at`, ownerID)
}

func (r *extractionLinkRepository) ListByTabla(ctx context.Context, tablaID uuid.UUID) ([]models.ExtractionLink, error) {
	return r.list(ctx, `SELECT `+linkColumns+` FROM obra_extraction_links WHERE tabla_id = $1 ORDER BY folder_path`, tablaID)
}

func (r *extractionLinkRepository) list(ctx context.Context, query string, arg uuid.UUID) ([]models.ExtractionLink, error) {
	q, err := database.Querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list extraction links: %w", err)
	}
	defer rows.Close()

	links := []models.ExtractionLink{}
	for rows.Next() {
		var link models.ExtractionLink
		if err := rows.Scan(
			&link.ID,
			&link.OwnerID,
			&link.FolderPath,
			&link.FolderName,
			&link.TablaID,
			&link.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan extraction link: %w", err)
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating extraction links: %w", err)
	}

	return links, nil
}

func (r *extractionLinkRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q, err := database.Querier(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx, `DELETE FROM obra_extraction_links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete extraction link: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// Ensure extractionLinkRepository implements ExtractionLinkRepository at compile time.
var _ ExtractionLinkRepository = (*extractionLinkRepository)(nil)
