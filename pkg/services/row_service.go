package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/cache"
	"github.com/ekaya-inc/obra-engine/pkg/materialize"
	"github.com/ekaya-inc/obra-engine/pkg/metrics"
	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/repositories"
	"github.com/ekaya-inc/obra-engine/pkg/values"
)

// RowQuery selects and orders materialized rows.
type RowQuery struct {
	Filter materialize.Filter `json:"filter"`
	SortBy string             `json:"sort_by,omitempty"`
	Desc   bool               `json:"desc,omitempty"`
}

// MaterializedRows is a tabla together with its typed view rows.
type MaterializedRows struct {
	Tabla *models.Tabla    `json:"tabla"`
	Rows  []models.ViewRow `json:"rows"`
	Total int              `json:"total"`
}

// RowService persists raw rows and serves materialized views of them.
type RowService interface {
	// SaveRows applies a batch of inserts, updates and deletes in one
	// transaction and returns every persisted row of the tabla.
	SaveRows(ctx context.Context, tablaID uuid.UUID, req models.RowsSaveRequest) ([]models.Row, error)

	// ListRows returns one page of raw rows. Page is 1-based.
	ListRows(ctx context.Context, tablaID uuid.UUID, page, limit int, sourcePath string) (*models.RowPage, error)

	// AllRows pages through every raw row of a tabla.
	AllRows(ctx context.Context, tablaID uuid.UUID) ([]models.Row, error)

	// Materialize returns filtered and sorted view rows. Total counts the
	// rows before filtering.
	Materialize(ctx context.Context, tablaID uuid.UUID, q RowQuery) (*MaterializedRows, error)

	// ReplaceDocumentRows swaps the rows a document produced in a tabla for
	// a new extraction, in one transaction. Returns the inserted count.
	ReplaceDocumentRows(ctx context.Context, tabla *models.Tabla, doc *models.Document, data []map[string]any) (int, error)
}

type rowService struct {
	tablas       repositories.TablaRepository
	rows         repositories.RowRepository
	materializer *materialize.Materializer
	caches       *cache.Manager
	inTx         TxRunner
	pageSize     int
	logger       *zap.Logger
}

// NewRowService creates a new row service.
func NewRowService(
	tablas repositories.TablaRepository,
	rows repositories.RowRepository,
	materializer *materialize.Materializer,
	caches *cache.Manager,
	logger *zap.Logger,
) RowService {
	return &rowService{
		tablas:       tablas,
		rows:         rows,
		materializer: materializer,
		caches:       caches,
		inTx:         DefaultTxRunner,
		pageSize:     repositories.MaxRowPageLimit,
		logger:       logger.Named("rows"),
	}
}

func (s *rowService) tabla(ctx context.Context, tablaID uuid.UUID) (*models.Tabla, error) {
	tabla, err := s.tablas.GetByID(ctx, tablaID)
	if err != nil {
		return nil, err
	}
	if tabla == nil {
		return nil, fmt.Errorf("tabla %s: %w", tablaID, apperrors.ErrNotFound)
	}
	return tabla, nil
}

func (s *rowService) SaveRows(ctx context.Context, tablaID uuid.UUID, req models.RowsSaveRequest) ([]models.Row, error) {
	tabla, err := s.tabla(ctx, tablaID)
	if err != nil {
		return nil, err
	}

	columns := s.materializer.EffectiveColumns(tabla.Columns)
	var inserts, upserts []models.Row
	for _, row := range req.Rows {
		row = PrepareRow(row, columns)
		if row.ID == uuid.Nil {
			inserts = append(inserts, row)
		} else {
			upserts = append(upserts, row)
		}
	}
	for _, row := range req.DirtyRows {
		if row.ID == uuid.Nil {
			return nil, fmt.Errorf("dirty row without id: %w", apperrors.ErrInvalidInput)
		}
		upserts = append(upserts, PrepareRow(row, columns))
	}

	var deleted int64
	err = s.inTx(ctx, func(ctx context.Context) error {
		var err error
		if deleted, err = s.rows.DeleteByIDs(ctx, tablaID, req.DeletedRowIDs); err != nil {
			return err
		}
		if err := s.rows.Upsert(ctx, tabla.OwnerID, tablaID, upserts); err != nil {
			return err
		}
		return s.rows.InsertBatch(ctx, tabla.OwnerID, tablaID, inserts)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(tabla.OwnerID)
	s.logger.Info("Saved rows",
		zap.String("tabla_id", tablaID.String()),
		zap.Int("inserted", len(inserts)),
		zap.Int("updated", len(upserts)),
		zap.Int64("deleted", deleted))

	return s.AllRows(ctx, tablaID)
}

func (s *rowService) ListRows(ctx context.Context, tablaID uuid.UUID, page, limit int, sourcePath string) (*models.RowPage, error) {
	if _, err := s.tabla(ctx, tablaID); err != nil {
		return nil, err
	}
	return s.rows.ListPage(ctx, tablaID, page, limit, sourcePath)
}

func (s *rowService) AllRows(ctx context.Context, tablaID uuid.UUID) ([]models.Row, error) {
	var all []models.Row
	for page := 1; ; page++ {
		p, err := s.rows.ListPage(ctx, tablaID, page, s.pageSize, "")
		if err != nil {
			return nil, err
		}
		all = append(all, p.Rows...)
		if !p.HasMore() || len(p.Rows) == 0 {
			break
		}
	}
	if all == nil {
		all = []models.Row{}
	}
	return all, nil
}

func (s *rowService) Materialize(ctx context.Context, tablaID uuid.UUID, q RowQuery) (*MaterializedRows, error) {
	tabla, err := s.tabla(ctx, tablaID)
	if err != nil {
		return nil, err
	}
	raw, err := s.AllRows(ctx, tablaID)
	if err != nil {
		return nil, err
	}

	columns := s.materializer.EffectiveColumns(tabla.Columns)
	view := s.materializer.Materialize(raw, columns)
	total := len(view)
	if !q.Filter.IsEmpty() {
		view = materialize.Apply(view, columns, q.Filter)
	}
	if q.SortBy != "" {
		materialize.Sort(view, columns, q.SortBy, q.Desc)
	}

	return &MaterializedRows{Tabla: tabla, Rows: view, Total: total}, nil
}

func (s *rowService) ReplaceDocumentRows(ctx context.Context, tabla *models.Tabla, doc *models.Document, data []map[string]any) (int, error) {
	columns := s.materializer.EffectiveColumns(tabla.Columns)
	rows := make([]models.Row, 0, len(data))
	for _, d := range data {
		rows = append(rows, PrepareRow(models.Row{
			Data:       d,
			SourcePath: doc.StoragePath,
			SourceName: doc.DisplayName,
		}, columns))
	}

	var replaced int64
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		if replaced, err = s.rows.DeleteBySourcePath(ctx, tabla.ID, doc.StoragePath); err != nil {
			return err
		}
		return s.rows.InsertBatch(ctx, tabla.OwnerID, tabla.ID, rows)
	})
	if err != nil {
		return 0, err
	}

	metrics.RowsInserted.Add(float64(len(rows)))
	s.invalidate(tabla.OwnerID)
	s.logger.Debug("Replaced document rows",
		zap.String("tabla_id", tabla.ID.String()),
		zap.String("document", doc.StoragePath),
		zap.Int64("replaced", replaced),
		zap.Int("inserted", len(rows)))
	return len(rows), nil
}

func (s *rowService) invalidate(ownerID uuid.UUID) {
	if s.caches != nil {
		s.caches.Init(ownerID).InvalidateContent()
	}
}

// PrepareRow readies a row for persistence: formula values are dropped
// (pass columns through Materializer.EffectiveColumns so unusable formulas
// keep their edits),
// values of schema columns are coerced to their type, keys unknown to the
// schema are kept as they are, and source metadata carried inside the data
// moves to the row's source fields.
func PrepareRow(row models.Row, columns []models.Column) models.Row {
	data := make(map[string]any, len(row.Data))
	for k, v := range row.Data {
		data[k] = v
	}

	if v, ok := data[models.SourcePathKey]; ok {
		if s, isStr := v.(string); isStr && row.SourcePath == "" {
			row.SourcePath = strings.TrimSpace(s)
		}
		delete(data, models.SourcePathKey)
	}
	if v, ok := data[models.SourceNameKey]; ok {
		if s, isStr := v.(string); isStr && row.SourceName == "" {
			row.SourceName = strings.TrimSpace(s)
		}
		delete(data, models.SourceNameKey)
	}

	for _, col := range columns {
		if col.IsDerived() {
			delete(data, col.FieldKey)
			continue
		}
		if v, ok := data[col.FieldKey]; ok {
			data[col.FieldKey] = values.Coerce(v, col.DataType)
		}
	}

	row.Data = data
	return row
}

// Ensure rowService implements RowService at compile time.
var _ RowService = (*rowService)(nil)
