package distribution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/saviobatista/orbit-tracker/internal/nats"
	"github.com/saviobatista/orbit-tracker/internal/orbit"
	"github.com/saviobatista/orbit-tracker/internal/stats"
	"github.com/saviobatista/orbit-tracker/internal/types"
)

// AlertOrbitClamped is raised when a full-orbit reconstruction dipped below the altitude floor
const AlertOrbitClamped = "ORBIT_CLAMPED"

// Store reads references and persisted trajectory points
type Store interface {
	ListReferences(ctx context.Context) ([]*types.SatelliteReference, error)
	LatestTrajectoryPoints(ctx context.Context, externalIDs []int64) (map[int64]*types.TrajectoryPoint, error)
	RecentHistory(ctx context.Context, externalID int64, n int) ([]*types.TrajectoryPoint, error)
}

// Predictor computes both prediction modes for one spacecraft
type Predictor interface {
	Predict(ctx context.Context, externalID int64, operatorID uuid.UUID, history []types.GeoPoint) orbit.Result
}

// Bus publishes keyed messages
type Bus interface {
	Publish(ctx context.Context, topic, key string, body []byte) error
}

// Alert is published on the alerts topic
type Alert struct {
	Type          string    `json:"type"`
	OperatorID    uuid.UUID `json:"operatorId"`
	ExternalID    int64     `json:"externalId"`
	ClampedPoints int       `json:"clampedPoints"`
	Timestamp     time.Time `json:"timestamp"`
}

// PublisherConfig sizes the publisher's pools
type PublisherConfig struct {
	Interval          time.Duration
	Workers           int
	PredictionWorkers int
	HistorySize       int
}

// Publisher builds and publishes one telemetry bundle per operator every interval
type Publisher struct {
	store     Store
	predictor Predictor
	bus       Bus
	stats     *stats.Stats
	logger    *slog.Logger
	cfg       PublisherConfig
}

// NewPublisher creates a publisher
func NewPublisher(store Store, predictor Predictor, bus Bus, st *stats.Stats, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PredictionWorkers < 1 {
		cfg.PredictionWorkers = 1
	}
	if cfg.HistorySize < 2 {
		cfg.HistorySize = 5
	}
	return &Publisher{
		store:     store,
		predictor: predictor,
		bus:       bus,
		stats:     st,
		logger:    logger.With("component", "publisher"),
		cfg:       cfg,
	}
}

// Run publishes immediately and then every interval until ctx is cancelled.
// Ticks may overlap; a failed publish is simply superseded by the next one.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	launch := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := p.Tick(ctx)
			if err != nil && ctx.Err() == nil {
				p.logger.Error("publish tick failed", "error", err)
				return
			}
			p.logger.Debug("publish tick complete", "bundles", n)
		}()
	}

	launch()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			launch()
		}
	}
}

// Tick publishes one bundle for every operator that has data and returns how many were sent
func (p *Publisher) Tick(ctx context.Context) (int, error) {
	refs, err := p.store.ListReferences(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list references: %w", err)
	}

	operators, owned := groupByOperator(refs)

	var published atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, op := range operators {
		g.Go(func() error {
			if p.publishOperator(gctx, op, owned[op]) {
				published.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(published.Load()), nil
}

// groupByOperator returns the distinct operators in first-seen order and their spacecraft
func groupByOperator(refs []*types.SatelliteReference) ([]uuid.UUID, map[uuid.UUID][]int64) {
	var operators []uuid.UUID
	owned := make(map[uuid.UUID][]int64)
	for _, ref := range refs {
		if _, ok := owned[ref.EnterpriseID]; !ok {
			operators = append(operators, ref.EnterpriseID)
		}
		owned[ref.EnterpriseID] = append(owned[ref.EnterpriseID], ref.ExternalID)
	}
	return operators, owned
}

func (p *Publisher) publishOperator(ctx context.Context, operatorID uuid.UUID, ids []int64) bool {
	log := p.logger.With("operator_id", operatorID)

	bundle, alerts, err := p.Build(ctx, operatorID, ids)
	if err != nil {
		log.Warn("failed to build telemetry bundle", "error", err)
		return false
	}
	if len(bundle.Telemetry) == 0 {
		log.Debug("no telemetry for operator")
		return false
	}

	body, err := json.Marshal(bundle)
	if err != nil {
		log.Error("failed to marshal telemetry bundle", "error", err)
		return false
	}
	if err := p.bus.Publish(ctx, nats.TopicTelemetry, operatorID.String(), body); err != nil {
		p.stats.IncrementPublishFailures()
		log.Warn("failed to publish telemetry bundle", "error", err)
		return false
	}
	p.stats.IncrementPublishedBundles()

	for _, a := range alerts {
		data, err := json.Marshal(a)
		if err != nil {
			continue
		}
		if err := p.bus.Publish(ctx, nats.TopicAlerts, operatorID.String(), data); err != nil {
			log.Warn("failed to publish alert", "external_id", a.ExternalID, "error", err)
		}
	}

	log.Debug("published telemetry bundle", "spacecraft", len(bundle.Telemetry), "bytes", len(body))
	return true
}

type prediction struct {
	externalID int64
	telemetry  types.SpacecraftTelemetry
	clamped    int
}

// Build assembles the bundle for one operator. Predictions run on a bounded pool and
// their results are merged here by a single goroutine.
func (p *Publisher) Build(ctx context.Context, operatorID uuid.UUID, ids []int64) (*types.TelemetryBundle, []Alert, error) {
	bundle := &types.TelemetryBundle{
		OperatorID: operatorID,
		Telemetry:  make(map[string]types.SpacecraftTelemetry),
	}

	latest, err := p.store.LatestTrajectoryPoints(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	if len(latest) == 0 {
		return bundle, nil, nil
	}

	results := make(chan prediction)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.PredictionWorkers)

	go func() {
		for _, id := range ids {
			point, ok := latest[id]
			if !ok {
				continue
			}
			g.Go(func() error {
				results <- p.predict(gctx, operatorID, point)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	var alerts []Alert
	for r := range results {
		bundle.Telemetry[strconv.FormatInt(r.externalID, 10)] = r.telemetry
		if r.clamped > 0 {
			p.stats.AddClampedPoints(r.clamped)
			alerts = append(alerts, Alert{
				Type:          AlertOrbitClamped,
				OperatorID:    operatorID,
				ExternalID:    r.externalID,
				ClampedPoints: r.clamped,
				Timestamp:     r.telemetry.Telemetry.Timestamp,
			})
		}
	}
	return bundle, alerts, nil
}

// predict never fails; a spacecraft without usable history keeps its telemetry
// with empty prediction lists
func (p *Publisher) predict(ctx context.Context, operatorID uuid.UUID, point *types.TrajectoryPoint) (res prediction) {
	log := p.logger.With("operator_id", operatorID, "external_id", point.ExternalID)

	res = prediction{
		externalID: point.ExternalID,
		telemetry: types.SpacecraftTelemetry{
			Telemetry:            types.NewLatestTelemetry(point),
			ShortPredictions:     []types.PredictionPoint{},
			FullOrbitPredictions: []types.PredictionPoint{},
		},
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("prediction panicked", "panic", r)
		}
	}()

	history, err := p.store.RecentHistory(ctx, point.ExternalID, p.cfg.HistorySize)
	if err != nil {
		log.Warn("failed to load history", "error", err)
		return res
	}
	if len(history) < 2 {
		return res
	}

	geo := make([]types.GeoPoint, 0, len(history))
	for _, h := range history {
		geo = append(geo, h.Geo())
	}

	out := p.predictor.Predict(ctx, point.ExternalID, operatorID, geo)
	if out.Short != nil {
		res.telemetry.ShortPredictions = out.Short
	}
	if out.FullOrbit != nil {
		res.telemetry.FullOrbitPredictions = out.FullOrbit
	}
	res.clamped = out.Clamped
	return res
}
