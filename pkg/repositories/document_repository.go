package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/database"
	"github.com/ekaya-inc/obra-engine/pkg/models"
)

// DocumentStatusUpdate carries the outcome of one extraction step.
type DocumentStatusUpdate struct {
	Status        models.OCRStatus
	PageCount     *int
	ExtractedRows *int
	Errors        []string
}

// DocumentRepository defines the interface for source document metadata.
type DocumentRepository interface {
	// Upsert creates or replaces the metadata of the document at StoragePath.
	Upsert(ctx context.Context, doc *models.Document) error

	// GetByID retrieves a document. Returns nil, nil if not found.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)

	// GetByPath retrieves a document by storage path. Returns nil, nil if not found.
	GetByPath(ctx context.Context, ownerID uuid.UUID, storagePath string) (*models.Document, error)

	// ListByOwner retrieves every document of an owner ordered by storage path.
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Document, error)

	// UpdateStatus records an extraction status transition.
	UpdateStatus(ctx context.Context, id uuid.UUID, update DocumentStatusUpdate) error

	// Move changes the storage path of a document. Rows keep their old source path.
	Move(ctx context.Context, id uuid.UUID, storagePath, displayName string) error

	// Delete removes document metadata.
	Delete(ctx context.Context, id uuid.UUID) error
}

type documentRepository struct{}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository() DocumentRepository {
	return &documentRepository{}
}

const documentColumns = `id, owner_id, storage_path, display_name, mime_type, size_bytes, extraction_folder,
	ocr_status, page_count, extracted_rows, extraction_errors, created_at, updated_at`

func (r *documentRepository) Upsert(ctx context.Context, doc *models.Document) error {
	q, err := database.Querier(ctx)
	if err != nil {
		return err
	}

	if doc.OCRStatus == "" {
		doc.OCRStatus = models.OCRStatusUnprocessed
	}
	errorsJSON, err := marshalErrors(doc.ExtractionErrors)
	if err != nil {
		return err
	}

	now := time.Now()
	query := `
		INSERT INTO obra_documents (owner_id, storage_path, display_name, mime_type, size_bytes,
			extraction_folder, ocr_status, page_count, extracted_rows, extraction_errors, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (owner_id, storage_path) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    mime_type = EXCLUDED.mime_type,
		    size_bytes = EXCLUDED.size_bytes,
		    extraction_folder = EXCLUDED.extraction_folder,
		    ocr_status = EXCLUDED.ocr_status,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at`

	err = q.QueryRow(ctx, query,
		doc.OwnerID,
		doc.StoragePath,
		doc.DisplayName,
		doc.MimeType,
		doc.SizeBytes,
		doc.ExtractionFolder,
		doc.OCRStatus,
		doc.PageCount,
		doc.ExtractedRows,
		errorsJSON,
		now,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	return nil
}

func (r *documentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	return r.get(ctx, `SELECT `+documentColumns+` FROM obra_documents WHERE id = $1`, id)
}

func (r *documentRepository) GetByPath(ctx context.Context, ownerID uuid.UUID, storagePath string) (*models.Document, error) {
	return r.get(ctx, `SELECT `+documentColumns+` FROM obra_documents WHERE owner_id = $1 AND storage_path = $2`, ownerID, storagePath)
}

func (r *documentRepository) get(ctx context.Context, query string, args ...any) (*models.Document, error) {
	q, err := database.Querier(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := scanDocument(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return doc, nil
}

func (r *documentRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Document, error) {
	q, err := database.Querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `SELECT `+documentColumns+` FROM obra_documents WHERE owner_id = $1 ORDER BY storage_path`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, *doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return docs, nil
}

func (r *documentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, update DocumentStatusUpdate) error {
	q, err := database.Querier(ctx)
	if err != nil {
		return err
	}

	var errorsJSON []byte
	if update.Errors != nil {
		errorsJSON, err = marshalErrors(update.Errors)
		if err != nil {
			return err
		}
	}

	query := `
		UPDATE obra_documents
		SET ocr_status = $2,
		    page_count = COALESCE($3, page_count),
		    extracted_rows = COALESCE($4, extracted_rows),
		    extraction_errors = COALESCE($5::jsonb, extraction_errors),
		    updated_at = $6
		WHERE id = $1`

	result, err := q.Exec(ctx, query, id, update.Status, update.PageCount, update.ExtractedRows, errorsJSON, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *documentRepository) Move(ctx context.Context, id uuid.UUID, storagePath, displayName string) error {
	q, err := database.Querier(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx, `
		UPDATE obra_documents
		SET storage_path = $2, display_name = $3, updated_at = $4
		WHERE id = $1`, id, storagePath, displayName, time.Now())
	if err != nil {
		return fmt.Errorf("failed to move document: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *documentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q, err := database.Querier(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx, `DELETE FROM obra_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	var errorsJSON []byte
	err := row.Scan(
		&d.ID,
		&d.OwnerID,
		&d.StoragePath,
		&d.DisplayName,
		&d.MimeType,
		&d.SizeBytes,
		&d.ExtractionFolder,
		&d.OCRStatus,
		&d.PageCount,
		&d.ExtractedRows,
		&errorsJSON,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &d.ExtractionErrors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extraction errors: %w", err)
		}
	}
	return &d, nil
}

func marshalErrors(errs []string) ([]byte, error) {
	if errs == nil {
		errs = []string{}
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extraction errors: %w", err)
	}
	return b, nil
}

// Ensure documentRepository implements DocumentRepository at compile time.
var _ DocumentRepository = (*documentRepository)(nil)
