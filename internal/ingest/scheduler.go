package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saviobatista/orbit-tracker/internal/parser"
	"github.com/saviobatista/orbit-tracker/internal/source"
	"github.com/saviobatista/orbit-tracker/internal/stats"
	"github.com/saviobatista/orbit-tracker/internal/trajectory"
	"github.com/saviobatista/orbit-tracker/internal/types"
)

// Fetcher reads raw samples for one spacecraft from the tracking source
type Fetcher interface {
	FetchPositions(ctx context.Context, externalID int64) (*types.SourceResponse, error)
}

// Deriver turns a sample window into a trajectory point
type Deriver interface {
	Derive(ctx context.Context, externalID int64, samples []types.TelemetrySample) (*types.TrajectoryPoint, error)
	Sweep() int
}

// Store lists tracked spacecraft and persists derived points
type Store interface {
	ListReferences(ctx context.Context) ([]*types.SatelliteReference, error)
	SaveTrajectoryPoint(ctx context.Context, p *types.TrajectoryPoint) error
}

// LatestCache keeps the newest point of each spacecraft for fast reads
type LatestCache interface {
	StoreLatestPoint(ctx context.Context, p *types.TrajectoryPoint) error
}

// Archiver keeps the raw source responses
type Archiver interface {
	Record(externalID int64, resp *types.SourceResponse) error
}

type outcome int

const (
	outcomeStored outcome = iota
	outcomeSkipped
	outcomeFailed
)

// TickResult summarises one ingestion cycle
type TickResult struct {
	References int
	Stored     int
	Skipped    int
	Failed     int
}

// Scheduler polls the tracking source for every registered spacecraft at a fixed rate
type Scheduler struct {
	fetcher  Fetcher
	deriver  Deriver
	store    Store
	cache    LatestCache
	archive  Archiver
	stats    *stats.Stats
	logger   *slog.Logger
	interval time.Duration
	workers  int

	inFlight atomic.Int32
}

// NewScheduler creates a scheduler running every interval with at most workers
// concurrent fetches per tick
func NewScheduler(fetcher Fetcher, deriver Deriver, store Store, st *stats.Stats, logger *slog.Logger, interval time.Duration, workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		fetcher:  fetcher,
		deriver:  deriver,
		store:    store,
		stats:    st,
		logger:   logger.With("component", "ingest"),
		interval: interval,
		workers:  workers,
	}
}

// WithCache refreshes c with every stored point
func (s *Scheduler) WithCache(c LatestCache) *Scheduler {
	s.cache = c
	return s
}

// WithArchive records every successful source response in a
func (s *Scheduler) WithArchive(a Archiver) *Scheduler {
	s.archive = a
	return s
}

// Run ticks immediately and then every interval until ctx is cancelled.
// Each tick runs in its own goroutine so a slow cycle never delays the next one.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	launch := func() {
		if n := s.inFlight.Load(); n > 0 {
			s.logger.Warn("previous ingestion tick still running", "in_flight", n)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.inFlight.Add(1)
			defer s.inFlight.Add(-1)

			if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("ingestion tick failed", "error", err)
			}
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

// Tick performs one ingestion cycle over every registered spacecraft.
// Only a failure to list the references is returned; per-spacecraft failures are
// logged, counted and never abort the other spacecraft.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	start := time.Now()
	refs, err := s.store.ListReferences(ctx)
	if err != nil {
		return TickResult{}, err
	}

	outcomes := make([]outcome, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, ref := range refs {
		g.Go(func() error {
			outcomes[i] = s.process(gctx, ref.ExternalID)
			return nil
		})
	}
	_ = g.Wait()

	res := TickResult{References: len(refs)}
	for _, o := range outcomes {
		switch o {
		case outcomeStored:
			res.Stored++
		case outcomeSkipped:
			res.Skipped++
		case outcomeFailed:
			res.Failed++
		}
	}

	if swept := s.deriver.Sweep(); swept > 0 {
		s.logger.Debug("expired previous velocities", "count", swept)
	}

	s.stats.RecordTick(time.Since(start))
	s.logger.Info("ingestion tick complete",
		"references", res.References, "stored", res.Stored,
		"skipped", res.Skipped, "failed", res.Failed,
		"duration", time.Since(start))
	return res, nil
}

func (s *Scheduler) process(ctx context.Context, externalID int64) outcome {
	log := s.logger.With("external_id", externalID)

	s.stats.IncrementFetches()
	resp, err := s.fetcher.FetchPositions(ctx, externalID)
	if err != nil {
		if errors.Is(err, parser.ErrInsufficientPositions) {
			log.Debug("skipping spacecraft with too few samples")
			return outcomeSkipped
		}
		s.stats.IncrementFetchFailures()
		var fe *source.FetchError
		if errors.As(err, &fe) && fe.StatusCode != 0 {
			log.Warn("telemetry fetch failed", "status", fe.StatusCode, "error", err)
		} else {
			log.Warn("telemetry fetch failed", "error", err)
		}
		return outcomeFailed
	}

	if s.archive != nil {
		if err := s.archive.Record(externalID, resp); err != nil {
			log.Warn("failed to archive source response", "error", err)
		}
	}

	point, err := s.deriver.Derive(ctx, externalID, resp.Positions)
	if err != nil {
		if errors.Is(err, trajectory.ErrInvalidSampleWindow) {
			s.stats.IncrementInvalidWindows()
		}
		log.Warn("trajectory derivation failed", "error", err)
		return outcomeFailed
	}
	if point == nil {
		return outcomeSkipped
	}
	s.stats.IncrementDerivedPoints()

	if err := s.store.SaveTrajectoryPoint(ctx, point); err != nil {
		log.Warn("failed to store trajectory point", "error", err)
		return outcomeFailed
	}
	s.stats.IncrementStoredPoints()

	if s.cache != nil {
		if err := s.cache.StoreLatestPoint(ctx, point); err != nil {
			log.Warn("failed to cache latest point", "error", err)
		}
	}
	return outcomeStored
}
