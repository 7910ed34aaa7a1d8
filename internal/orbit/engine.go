package orbit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/saviobatista/orbit-tracker/internal/types"
)

// AdjustmentSource looks up the trajectory adjustment currently in force for a spacecraft
type AdjustmentSource interface {
	Latest(ctx context.Context, externalID int64, operatorID uuid.UUID) (types.Adjustment, error)
}

// Params sizes the two prediction modes
type Params struct {
	ShortSteps       int
	ShortStepSeconds int
	FullOrbitPoints  int
}

// DefaultParams returns 60 one-minute linear steps and a 120 point orbit
func DefaultParams() Params {
	return Params{ShortSteps: 60, ShortStepSeconds: 60, FullOrbitPoints: 120}
}

// Result holds both prediction lists for one spacecraft
type Result struct {
	Short      []types.PredictionPoint
	FullOrbit  []types.PredictionPoint
	Adjustment types.Adjustment
	Clamped    int
}

// Engine runs both prediction modes with the adjustment taken from executed commands
type Engine struct {
	adjustments AdjustmentSource
	params      Params
	logger      *slog.Logger
}

// NewEngine creates an Engine; adjustments may be nil to disable command lookups
func NewEngine(adjustments AdjustmentSource, params Params, logger *slog.Logger) *Engine {
	return &Engine{
		adjustments: adjustments,
		params:      params,
		logger:      logger.With("component", "prediction"),
	}
}

// Predict computes both prediction modes for one spacecraft. A failed adjustment
// lookup degrades to no adjustment.
func (e *Engine) Predict(ctx context.Context, externalID int64, operatorID uuid.UUID, history []types.GeoPoint) Result {
	if len(history) < 2 {
		return Result{}
	}

	adj := e.adjustment(ctx, externalID, operatorID)

	res := Result{
		Short:      PredictLinear(history, e.params.ShortSteps, e.params.ShortStepSeconds, adj),
		FullOrbit:  PredictFullOrbit(history, e.params.FullOrbitPoints, adj),
		Adjustment: adj,
	}
	for _, p := range res.FullOrbit {
		if p.Clamped {
			res.Clamped++
		}
	}
	if len(res.FullOrbit) == 0 {
		e.logger.Debug("no full orbit reconstruction", "external_id", externalID)
	}
	return res
}

func (e *Engine) adjustment(ctx context.Context, externalID int64, operatorID uuid.UUID) types.Adjustment {
	if e.adjustments == nil {
		return types.NoAdjustment()
	}
	adj, err := e.adjustments.Latest(ctx, externalID, operatorID)
	if err != nil {
		e.logger.Warn("failed to fetch commands", "external_id", externalID, "operator_id", operatorID, "error", err)
		return types.NoAdjustment()
	}
	if !adj.IsIdentity() {
		e.logger.Info("applying command adjustments", "external_id", externalID, "adjustment", adj.String())
	}
	return adj
}
