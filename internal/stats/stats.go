package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/saviobatista/orbit-tracker/internal/db"
)

// ErrNoStore is returned by Persist before a store is set
var ErrNoStore = errors.New("database client not set")

// Store persists counter snapshots
type Store interface {
	StoreSystemStats(ctx context.Context, s *db.SystemStats) error
}

// Stats tracks pipeline counters shared by the ingestion, distribution and delivery stages
type Stats struct {
	// Ingestion
	Fetches        uint64
	FetchFailures  uint64
	DerivedPoints  uint64
	StoredPoints   uint64
	InvalidWindows uint64

	// Distribution
	PublishedBundles  uint64
	PublishFailures   uint64
	ForwardedMessages uint64
	DroppedMessages   uint64
	ClampedPoints     uint64

	// Delivery
	ActiveSessions int64

	StartedAt    time.Time
	lastTick     time.Time
	tickDuration time.Duration

	store Store
	mu    sync.RWMutex
}

// New creates a new Stats instance
func New() *Stats {
	return &Stats{StartedAt: time.Now()}
}

// SetDB sets the store used for persistence
func (s *Stats) SetDB(store Store) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
}

func (s *Stats) IncrementFetches()          { atomic.AddUint64(&s.Fetches, 1) }
func (s *Stats) IncrementFetchFailures()    { atomic.AddUint64(&s.FetchFailures, 1) }
func (s *Stats) IncrementDerivedPoints()    { atomic.AddUint64(&s.DerivedPoints, 1) }
func (s *Stats) IncrementStoredPoints()     { atomic.AddUint64(&s.StoredPoints, 1) }
func (s *Stats) IncrementInvalidWindows()   { atomic.AddUint64(&s.InvalidWindows, 1) }
func (s *Stats) IncrementPublishedBundles() { atomic.AddUint64(&s.PublishedBundles, 1) }
func (s *Stats) IncrementPublishFailures()  { atomic.AddUint64(&s.PublishFailures, 1) }
func (s *Stats) IncrementForwarded()        { atomic.AddUint64(&s.ForwardedMessages, 1) }
func (s *Stats) IncrementDropped()          { atomic.AddUint64(&s.DroppedMessages, 1) }

// AddClampedPoints counts predicted points raised to the minimum altitude
func (s *Stats) AddClampedPoints(n int) {
	if n > 0 {
		atomic.AddUint64(&s.ClampedPoints, uint64(n))
	}
}

// SessionOpened and SessionClosed track connected delivery sessions
func (s *Stats) SessionOpened() { atomic.AddInt64(&s.ActiveSessions, 1) }
func (s *Stats) SessionClosed() { atomic.AddInt64(&s.ActiveSessions, -1) }

// RecordTick stores when the last scheduler tick finished and how long it took
func (s *Stats) RecordTick(d time.Duration) {
	s.mu.Lock()
	s.lastTick = time.Now()
	s.tickDuration = d
	s.mu.Unlock()
}

// Snapshot returns the current counters in their persisted form
func (s *Stats) Snapshot() *db.SystemStats {
	return &db.SystemStats{
		Time:              time.Now().UTC(),
		Fetches:           int64(atomic.LoadUint64(&s.Fetches)),
		FetchFailures:     int64(atomic.LoadUint64(&s.FetchFailures)),
		DerivedPoints:     int64(atomic.LoadUint64(&s.DerivedPoints)),
		StoredPoints:      int64(atomic.LoadUint64(&s.StoredPoints)),
		InvalidWindows:    int64(atomic.LoadUint64(&s.InvalidWindows)),
		PublishedBundles:  int64(atomic.LoadUint64(&s.PublishedBundles)),
		PublishFailures:   int64(atomic.LoadUint64(&s.PublishFailures)),
		ForwardedMessages: int64(atomic.LoadUint64(&s.ForwardedMessages)),
		DroppedMessages:   int64(atomic.LoadUint64(&s.DroppedMessages)),
		ClampedPoints:     int64(atomic.LoadUint64(&s.ClampedPoints)),
		ActiveSessions:    atomic.LoadInt64(&s.ActiveSessions),
		Uptime:            time.Since(s.StartedAt),
	}
}

// GetStats returns a copy of the current statistics
func (s *Stats) GetStats() map[string]interface{} {
	snap := s.Snapshot()

	s.mu.RLock()
	lastTick, tickDuration := s.lastTick, s.tickDuration
	s.mu.RUnlock()

	return map[string]interface{}{
		"fetches":            snap.Fetches,
		"fetch_failures":     snap.FetchFailures,
		"derived_points":     snap.DerivedPoints,
		"stored_points":      snap.StoredPoints,
		"invalid_windows":    snap.InvalidWindows,
		"published_bundles":  snap.PublishedBundles,
		"publish_failures":   snap.PublishFailures,
		"forwarded_messages": snap.ForwardedMessages,
		"dropped_messages":   snap.DroppedMessages,
		"clamped_points":     snap.ClampedPoints,
		"active_sessions":    snap.ActiveSessions,
		"last_tick":          lastTick,
		"tick_duration_ms":   tickDuration.Milliseconds(),
		"uptime_seconds":     int64(snap.Uptime.Seconds()),
	}
}

// Persist stores the current statistics in the database
func (s *Stats) Persist(ctx context.Context) error {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		return ErrNoStore
	}
	return store.StoreSystemStats(ctx, s.Snapshot())
}

// String renders the counters for logs
func (s *Stats) String() string {
	snap := s.Snapshot()
	return fmt.Sprintf(
		"Fetches: %s (%s failed)\n"+
			"Derived Points: %s\n"+
			"Stored Points: %s\n"+
			"Invalid Windows: %s\n"+
			"Published Bundles: %s (%s failed)\n"+
			"Forwarded Messages: %s (%s dropped)\n"+
			"Clamped Points: %s\n"+
			"Active Sessions: %d\n"+
			"Started: %s",
		humanize.Comma(snap.Fetches), humanize.Comma(snap.FetchFailures),
		humanize.Comma(snap.DerivedPoints),
		humanize.Comma(snap.StoredPoints),
		humanize.Comma(snap.InvalidWindows),
		humanize.Comma(snap.PublishedBundles), humanize.Comma(snap.PublishFailures),
		humanize.Comma(snap.ForwardedMessages), humanize.Comma(snap.DroppedMessages),
		humanize.Comma(snap.ClampedPoints),
		snap.ActiveSessions,
		humanize.Time(s.StartedAt),
	)
}

// StartPersistence persists the counters every interval and once more on shutdown
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// ctx is already cancelled; give the final write its own deadline
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Persist(final); err != nil {
				logger.Warn("failed to persist final statistics", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := s.Persist(ctx); err != nil {
				logger.Warn("failed to persist statistics", "error", err)
			}
		}
	}
}

// StartLogging writes the counters to logger every interval until ctx is cancelled
func (s *Stats) StartLogging(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("statistics\n" + s.String())
		}
	}
}

// Register exposes the counters on reg, defaulting to the global registry when nil
func (s *Stats) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counter := func(name, help string, v *uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "orbit_tracker",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(atomic.LoadUint64(v)) })
	}

	collectors := []prometheus.Collector{
		counter("fetches_total", "Calls made to the tracking source.", &s.Fetches),
		counter("fetch_failures_total", "Tracking source calls that failed.", &s.FetchFailures),
		counter("derived_points_total", "Trajectory points derived from samples.", &s.DerivedPoints),
		counter("stored_points_total", "Trajectory points written to the store.", &s.StoredPoints),
		counter("invalid_windows_total", "Sample pairs rejected for a non-positive time delta.", &s.InvalidWindows),
		counter("published_bundles_total", "Operator telemetry bundles published to the bus.", &s.PublishedBundles),
		counter("publish_failures_total", "Operator telemetry bundles that failed to publish.", &s.PublishFailures),
		counter("forwarded_messages_total", "Bus messages forwarded to delivery sessions.", &s.ForwardedMessages),
		counter("dropped_messages_total", "Bus messages dropped for a malformed key or body.", &s.DroppedMessages),
		counter("clamped_points_total", "Predicted points raised to the minimum altitude.", &s.ClampedPoints),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "orbit_tracker",
			Name:      "active_sessions",
			Help:      "Connected real-time delivery sessions.",
		}, func() float64 { return float64(atomic.LoadInt64(&s.ActiveSessions)) }),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("failed to register stats collector: %w", err)
		}
	}
	return nil
}
