package repositories

import (
	"context"
	"encoding/json"
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

// TablaRepository defines the interface for tabla schema data access.
// Columns are stored as a JSONB array in column order.
type TablaRepository interface {
	// Create inserts a new tabla and assigns its ID and timestamps.
	Create(ctx context.Context, tabla *models.Tabla) error

	// GetByID retrieves a tabla. Returns nil, nil if not found.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tabla, error)

	// GetByIDs retrieves several tablas keyed by ID. Missing IDs are absent from the map.
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Tabla, error)

	// ListByOwner retrieves all tablas of an owner ordered by name.
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Tabla, error)

	// UpdateColumns replaces the column list of a tabla.
	UpdateColumns(ctx context.Context, id uuid.UUID, columns []models.Column) (*models.Tabla, error)

	// Delete removes a tabla together with its rows and links.
	Delete(ctx context.Context, id uuid.UUID) error
}

type tablaRepository struct{}

// NewTablaRepository creates a new tabla repository.
func NewTablaRepository() TablaRepository {
	return &tablaRepository{}
}

const tablaColumns = `id, owner_id, name, description, data_input_method, columns, created_at, updated_at`

func (r *tablaRepository) Create(ctx context.Context, tabla *models.Tabla) error {
	q, err := database.Querier(ctx)
	if err != nil {
		return err
	}

	columnsJSON, err := json.Marshal(nonNilColumns(tabla.Columns))
	if err != nil {
		return fmt.Errorf("failed to marshal columns: %w", err)
	}

	now := time.Now()
	tabla.CreatedAt = now
	tabla.UpdatedAt = now

	query := `
		INSERT INTO obra_tablas (owner_id, name, description, data_input_method, columns, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err = q.QueryRow(ctx, query,
		tabla.OwnerID,
		tabla.Name,
		tabla.Description,
		tabla.DataInputMethod,
		columnsJSON,
		tabla.CreatedAt,
		tabla.UpdatedAt,
	).Scan(&tabla.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create tabla: %w", err)
	}

	return nil
}

func (r *tablaRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tabla, error) {
	q, err := database.Querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + tablaColumns + ` FROM obra_tablas WHERE id = $1`

	tabla, err := scanTabla(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tabla: %w", err)
	}

	return tabla, nil
}

func (r *tablaRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Tabla, error) {
	result := make(map[uuid.UUID]*models.Tabla, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	q, err := database.Querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + tablaColumns + ` FROM obra_tablas WHERE id = ANY($1)`

	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get tablas: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		tabla, err := scanTabla(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tabla: %w", err)
		}
		result[tabla.ID] = tabla
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tablas: %w", err)
	}

	return result, nil
}

func (r *tablaRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Tabla, error) {
	q, err := database.Querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + tablaColumns + ` FROM obra_tablas WHERE owner_id = $1 ORDER BY name, created_at`

	rows, err := q.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tablas: %w", err)
	}
	defer rows.Close()

	var tablas []*models.Tabla
	for rows.Next() {
		tabla, err := scanTabla(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tabla: %w", err)
		}
		tablas = append(tablas, tabla)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tablas: %w", err)
	}

	return tablas, nil
}

func (r *tablaRepository) UpdateColumns(ctx context.Context, id uuid.UUID, columns []models.Column) (*models.Tabla, error) {
	q, err := database.Querier(ctx)
	if err != nil {
		return nil, err
	}

	columnsJSON, err := json.Marshal(nonNilColumns(columns))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal columns: %w", err)
	}

	query := `
		UPDATE obra_tablas
		SET columns = $2, updated_at = $3
		WHERE id = $1
		RETURNING ` + tablaColumns

	tabla, err := scanTabla(q.QueryRow(ctx, query, id, columnsJSON, time.Now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update tabla columns: %w", err)
	}

	return tabla, nil
}

func (r *tablaRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q, err := database.Querier(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx, `DELETE FROM obra_tablas WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tabla: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func scanTabla(row pgx.Row) (*models.Tabla, error) {
	var t models.Tabla
	var columnsJSON []byte
	err := row.Scan(
		&t.ID,
		&t.OwnerID,
		&t.Name,
		&t.Description,
		&t.DataInputMethod,
		&columnsJSON,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(columnsJSON) > 0 {
		if err := json.Unmarshal(columnsJSON, &t.Columns); err != nil {
			return nil, fmt.Errorf("failed to unmarshal columns: %w", err)
		}
	}
	return &t, nil
}

func nonNilColumns(columns []models.Column) []models.Column {
	if columns == nil {
		return []models.Column{}
	}
	return columns
}

// Ensure tablaRepository implements TablaRepository at compile time.
var _ TablaRepository = (*tablaRepository)(nil)
