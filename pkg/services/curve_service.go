package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/curve"
	"github.com/ekaya-inc/obra-engine/pkg/materialize"
	"github.com/ekaya-inc/obra-engine/pkg/models"
)

// CurveRequest names the plan and actual tablas of a progress curve.
// ActualTablaID may be uuid.Nil for a plan-only curve.
type CurveRequest struct {
	PlanTablaID   uuid.UUID     `json:"plan_tabla_id"`
	ActualTablaID uuid.UUID     `json:"actual_tabla_id"`
	Options       curve.Options `json:"options"`
}

// Curve is a built progress curve.
type Curve struct {
	PlanTablaID   uuid.UUID           `json:"plan_tabla_id"`
	ActualTablaID uuid.UUID           `json:"actual_tabla_id,omitempty"`
	Points        []models.CurvePoint `json:"points"`
}

// CurveService builds plan-vs-actual progress curves.
type CurveService interface {
	// Build reads every row of both tablas before merging them.
	Build(ctx context.Context, req CurveRequest) (*Curve, error)
}

type curveService struct {
	tablas       TablaService
	rows         RowService
	materializer *materialize.Materializer
	logger       *zap.Logger
}

// NewCurveService creates a new curve service.
func NewCurveService(tablas TablaService, rows RowService, materializer *materialize.Materializer, logger *zap.Logger) CurveService {
	return &curveService{
		tablas:       tablas,
		rows:         rows,
		materializer: materializer,
		logger:       logger.Named("curve"),
	}
}

func (s *curveService) Build(ctx context.Context, req CurveRequest) (*Curve, error) {
	plan, err := s.viewRows(ctx, req.PlanTablaID)
	if err != nil {
		return nil, err
	}

	var actual []models.ViewRow
	if req.ActualTablaID != uuid.Nil {
		if actual, err = s.viewRows(ctx, req.ActualTablaID); err != nil {
			return nil, err
		}
	}

	points := curve.BuildCurvePoints(plan, actual, req.Options)
	s.logger.Debug("Built curve",
		zap.String("plan_tabla_id", req.PlanTablaID.String()),
		zap.String("actual_tabla_id", req.ActualTablaID.String()),
		zap.Int("plan_rows", len(plan)),
		zap.Int("actual_rows", len(actual)),
		zap.Int("points", len(points)))

	return &Curve{
		PlanTablaID:   req.PlanTablaID,
		ActualTablaID: req.ActualTablaID,
		Points:        points,
	}, nil
}

func (s *curveService) viewRows(ctx context.Context, tablaID uuid.UUID) ([]models.ViewRow, error) {
	tabla, err := s.tablas.GetTable(ctx, tablaID)
	if err != nil {
		return nil, err
	}
	raw, err := s.rows.AllRows(ctx, tablaID)
	if err != nil {
		return nil, err
	}
	return s.materializer.Materialize(raw, tabla.Columns), nil
}

// Ensure curveService implements CurveService at compile time.
var _ CurveService = (*curveService)(nil)
