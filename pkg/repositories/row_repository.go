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

// MaxRowPageLimit caps the page size of ListPage.
const MaxRowPageLimit = 500

// RowRepository defines the interface for raw tabla row data access.
// Row data is stored verbatim as JSONB; typing happens on write in the service
// layer and on read in materialization.
type RowRepository interface {
	// InsertBatch inserts rows into a tabla and fills their IDs and timestamps.
	InsertBatch(ctx context.Context, ownerID, tablaID uuid.UUID, rows []models.Row) error

	// Upsert updates rows by ID, inserting those that no longer exist.
	Upsert(ctx context.Context, ownerID, tablaID uuid.UUID, rows []models.Row) error

	// DeleteByIDs removes rows of a tabla. Unknown IDs are ignored.
	DeleteByIDs(ctx context.Context, tablaID uuid.UUID, ids []uuid.UUID) (int64, error)

	// DeleteBySourcePath removes the rows a document produced in a tabla.
	DeleteBySourcePath(ctx context.Context, tablaID uuid.UUID, sourcePath string) (int64, error)

	// ListPage retrieves one page of rows in insertion order. Page is 1-based.
	// A non-empty sourcePath restricts the page to rows produced by that document.
	ListPage(ctx context.Context, tablaID uuid.UUID, page, limit int, sourcePath string) (*models.RowPage, error)

	// ListAll retrieves every row of a tabla in insertion order.
	ListAll(ctx context.Context, tablaID uuid.UUID) ([]models.Row, error)

	// CountBySourcePath counts rows per tabla produced by a document.
	CountBySourcePath(ctx context.Context, sourcePath string) (map[uuid.UUID]int, error)
}

type rowRepository struct{}

// NewRowRepository creates a new row repository.
func NewRowRepository() RowRepository {
	return &rowRepository{}
}

const rowColumns = `id, tabla_id, data, source_path, source_name, created_at, updated_at`

func (r *rowRepository) InsertBatch(ctx context.Context, ownerID, tablaID uuid.UUID, rows []models.Row) error {
	if len(rows) == 0 {
		return nil
	}

	q, err := database.Querier(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	batch := &pgx.Batch{}
	query := `
		INSERT INTO obra_tabla_rows (owner_id, tabla_id, data, source_path, source_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id`

	for i := range rows {
		dataJSON, err := marshalRowData(rows[i].Data)
		if err != nil {
			return err
		}
		rows[i].TablaID = tablaID
		// Distinct timestamps keep insertion order stable within a batch.
		rows[i].CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
		rows[i].UpdatedAt = rows[i].CreatedAt
		batch.Queue(query,
			ownerID,
			tablaID,
			dataJSON,
			nullableString(rows[i].SourcePath),
			nullableString(rows[i].SourceName),
			rows[i].CreatedAt,
		)
	}

	results := q.SendBatch(ctx, batch)
	defer results.Close()

	for i := range rows {
		if err := results.QueryRow().Scan(&rows[i].ID); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	return nil
}

func (r *rowRepository) Upsert(ctx context.Context, ownerID, tablaID uuid.UUID, rows []models.Row) error {
	if len(rows) == 0 {
		return nil
	}

	q, err := database.Querier(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	batch := &pgx.Batch{}
	query := `
		INSERT INTO obra_tabla_rows (id, owner_id, tabla_id, data, source_path, source_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE
		SET data = EXCLUDED.data,
		    source_path = EXCLUDED.source_path,
		    source_name = EXCLUDED.source_name,
		    updated_at = EXCLUDED.updated_at
		WHERE obra_tabla_rows.tabla_id = EXCLUDED.tabla_id
		RETURNING created_at`

	for i := range rows {
		if rows[i].ID == uuid.Nil {
			return fmt.Errorf("upsert row %d: missing id", i)
		}
		dataJSON, err := marshalRowData(rows[i].Data)
		if err != nil {
			return err
		}
		rows[i].TablaID = tablaID
		rows[i].UpdatedAt = now
		batch.Queue(query,
			rows[i].ID,
			ownerID,
			tablaID,
			dataJSON,
			nullableString(rows[i].SourcePath),
			nullableString(rows[i].SourceName),
			now,
		)
	}

	results := q.SendBatch(ctx, batch)
	defer results.Close()

	for i := range rows {
		if err := results.QueryRow().Scan(&rows[i].CreatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// The ID exists under another tabla.
				return fmt.Errorf("row %s: %w", rows[i].ID, apperrors.ErrConflict)
			}
			return fmt.Errorf("failed to upsert row %d: %w", i, err)
		}
	}

	return nil
}

func (r *rowRepository) DeleteByIDs(ctx context.Context, tablaID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	q, err := database.Querier(ctx)
	if err != nil {
		return 0, err
	}

	result, err := q.Exec(ctx, `DELETE FROM obra_tabla_rows WHERE tabla_id = $1 AND id = ANY($2)`, tablaID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete rows: %w", err)
	}

	return result.RowsAffected(), nil
}

func (r *rowRepository) DeleteBySourcePath(ctx context.Context, tablaID uuid.UUID, sourcePath string) (int64, error) {
	q, err := database.Querier(ctx)
	if err != nil {
		return 0, err
	}

	result, err := q.Exec(ctx, `DELETE FROM obra_tabla_rows WHERE tabla_id = $1 AND source_path = $2`, tablaID, sourcePath)
	if err != nil {
		return 0, fmt.Errorf("failed to delete document rows: %w", err)
	}

	return result.RowsAffected(), nil
}

func (r *rowRepository) ListPage(ctx context.Context, tablaID uuid.UUID, page, limit int, sourcePath string) (*models.RowPage, error) {
	q, err := database.Querier(ctx)
	if err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > MaxRowPageLimit {
		limit = MaxRowPageLimit
	}

	where := "tabla_id = $1"
	args := []any{tablaID}
	if sourcePath != "" {
		where += " AND source_path = $2"
		args = append(args, sourcePath)
	}

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM obra_tabla_rows WHERE `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}

	argIdx := len(args) + 1
	query := fmt.Sprintf(`
		SELECT %s
		FROM obra_tabla_rows
		WHERE %s
		ORDER BY created_at, id
		LIMIT $%d OFFSET $%d`, rowColumns, where, argIdx, argIdx+1)
	args = append(args, limit, (page-1)*limit)

	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}

	return &models.RowPage{Rows: rows, Page: page, Limit: limit, Total: total}, nil
}

func (r *rowRepository) ListAll(ctx context.Context, tablaID uuid.UUID) ([]models.Row, error) {
	q, err := database.Querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + rowColumns + ` FROM obra_tabla_rows WHERE tabla_id = $1 ORDER BY created_at, id`
	return r.query(ctx, q, query, tablaID)
}

func (r *rowRepository) CountBySourcePath(ctx context.Context, sourcePath string) (map[uuid.UUID]int, error) {
	q, err := database.Querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT tabla_id, COUNT(*)
		FROM obra_tabla_rows
		WHERE source_path = $1
		GROUP BY tabla_id`, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to count document rows: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var tablaID uuid.UUID
		var n int
		if err := rows.Scan(&tablaID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan row count: %w", err)
		}
		counts[tablaID] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating row counts: %w", err)
	}

	return counts, nil
}

func (r *rowRepository) query(ctx context.Context, q database.DBTX, query string, args ...any) ([]models.Row, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	defer rows.Close()

	result := []models.Row{}
	for rows.Next() {
		var row models.Row
		var dataJSON []byte
		var sourcePath, sourceName *string
		if err := rows.Scan(
			&row.ID,
			&row.TablaID,
			&dataJSON,
			&sourcePath,
			&sourceName,
			&row.CreatedAt,
			&row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(dataJSON, &row.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal row data: %w", err)
		}
		if sourcePath != nil {
			row.SourcePath = *sourcePath
		}
		if sourceName != nil {
			row.SourceName = *sourceName
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

func marshalRowData(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal row data: %w", err)
	}
	return b, nil
}

// nullableString maps "" to SQL NULL.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Ensure rowRepository implements RowRepository at compile time.
var _ RowRepository = (*rowRepository)(nil)
