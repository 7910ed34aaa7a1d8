package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/saviobatista/orbit-tracker/internal/archive"
	"github.com/saviobatista/orbit-tracker/internal/logging"
	"github.com/saviobatista/orbit-tracker/internal/parser"
	"github.com/saviobatista/orbit-tracker/internal/source"
	"github.com/saviobatista/orbit-tracker/internal/stats"
	"github.com/saviobatista/orbit-tracker/internal/testutils"
	"github.com/saviobatista/orbit-tracker/internal/trajectory"
	"github.com/saviobatista/orbit-tracker/internal/types"
)

type mockFetcher struct {
	errs  map[int64]error
	delay time.Duration
	calls atomic.Int32
	peak  atomic.Int32
	cur   atomic.Int32
}

func (m *mockFetcher) FetchPositions(ctx context.Context, externalID int64) (*types.SourceResponse, error) {
	m.calls.Add(1)
	n := m.cur.Add(1)
	defer m.cur.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := m.errs[externalID]; ok {
		return nil, err
	}
	return &types.SourceResponse{
		Info: types.SourceInfo{SatID: externalID},
		Positions: []types.TelemetrySample{
			{Latitude: 10, Longitude: 20, Altitude: 420, Timestamp: 1700000000},
			{Latitude: 10.05, Longitude: 20.05, Altitude: 420.01, Timestamp: 1700000001},
		},
	}, nil
}

type mockStore struct {
	mu      sync.Mutex
	refs    []*types.SatelliteReference
	listErr error
	saveErr map[int64]error
	saved   []*types.TrajectoryPoint
}

func (m *mockStore) ListReferences(context.Context) ([]*types.SatelliteReference, error) {
	return m.refs, m.listErr
}

func (m *mockStore) SaveTrajectoryPoint(_ context.Context, p *types.TrajectoryPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveErr[p.ExternalID]; err != nil {
		return err
	}
	m.saved = append(m.saved, p)
	return nil
}

func (m *mockStore) savedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

type mockCache struct {
	mu     sync.Mutex
	points map[int64]*types.TrajectoryPoint
	err    error
}

func (m *mockCache) StoreLatestPoint(_ context.Context, p *types.TrajectoryPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.points == nil {
		m.points = make(map[int64]*types.TrajectoryPoint)
	}
	m.points[p.ExternalID] = p
	return nil
}

func refs(ids ...int64) []*types.SatelliteReference {
	op := uuid.New()
	out := make([]*types.SatelliteReference, 0, len(ids))
	for _, id := range ids {
		out = append(out, testutils.MockReference(id, op))
	}
	return out
}

func newTestScheduler(f Fetcher, store Store, workers int) (*Scheduler, *stats.Stats) {
	st := stats.New()
	deriver := trajectory.NewDeriver(trajectory.NewMemoryVelocityStore(time.Hour), logging.Nop())
	return NewScheduler(f, deriver, store, st, logging.Nop(), time.Minute, workers), st
}

func TestTick(t *testing.T) {
	tests := []struct {
		name        string
		ids         []int64
		fetchErrs   map[int64]error
		saveErrs    map[int64]error
		wantStored  int
		wantSkipped int
		wantFailed  int
		wantFetchKO int64
	}{
		{
			name:       "all succeed",
			ids:        []int64{1, 2, 3},
			wantStored: 3,
		},
		{
			name: "fetch failure does not abort siblings",
			ids:  []int64{1, 2, 3},
			fetchErrs: map[int64]error{
				2: &source.FetchError{ExternalID: 2, StatusCode: 502, Err: errors.New("unexpected status")},
			},
			wantStored:  2,
			wantFailed:  1,
			wantFetchKO: 1,
		},
		{
			name: "too few samples is a skip",
			ids:  []int64{1, 2},
			fetchErrs: map[int64]error{
				1: &source.FetchError{ExternalID: 1, Err: parser.ErrInsufficientPositions},
			},
			wantStored:  1,
			wantSkipped: 1,
		},
		{
			name:       "store failure counted as failed",
			ids:        []int64{1, 2},
			saveErrs:   map[int64]error{2: errors.New("connection reset")},
			wantStored: 1,
			wantFailed: 1,
		},
		{
			name: "no references",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{refs: refs(tt.ids...), saveErr: tt.saveErrs}
			s, st := newTestScheduler(&mockFetcher{errs: tt.fetchErrs}, store, 4)

			res, err := s.Tick(context.Background())
			if err != nil {
				t.Fatalf("Tick() failed: %v", err)
			}
			if res.References != len(tt.ids) {
				t.Errorf("References = %d, want %d", res.References, len(tt.ids))
			}
			if res.Stored != tt.wantStored || res.Skipped != tt.wantSkipped || res.Failed != tt.wantFailed {
				t.Errorf("got %+v, want stored=%d skipped=%d failed=%d", res, tt.wantStored, tt.wantSkipped, tt.wantFailed)
			}
			if store.savedCount() != tt.wantStored {
				t.Errorf("saved %d points, want %d", store.savedCount(), tt.wantStored)
			}
			snap := st.Snapshot()
			if snap.FetchFailures != tt.wantFetchKO {
				t.Errorf("FetchFailures = %d, want %d", snap.FetchFailures, tt.wantFetchKO)
			}
			if snap.StoredPoints != int64(tt.wantStored) {
				t.Errorf("StoredPoints = %d, want %d", snap.StoredPoints, tt.wantStored)
			}
			if snap.Fetches != int64(len(tt.ids)) {
				t.Errorf("Fetches = %d, want %d", snap.Fetches, len(tt.ids))
			}
		})
	}
}

func TestTick_ListError(t *testing.T) {
	store := &mockStore{listErr: errors.New("db down")}
	s, _ := newTestScheduler(&mockFetcher{}, store, 2)

	if _, err := s.Tick(context.Background()); err == nil {
		t.Fatal("Expected list error to be returned")
	}
}

func TestTick_InvalidWindow(t *testing.T) {
	store := &mockStore{refs: refs(7)}
	st := stats.New()
	deriver := &failingDeriver{err: fmt.Errorf("spacecraft 7: %w", trajectory.ErrInvalidSampleWindow)}
	s := NewScheduler(&mockFetcher{}, deriver, store, st, logging.Nop(), time.Minute, 1)

	res, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick() failed: %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("Expected one failure, got %+v", res)
	}
	if st.Snapshot().InvalidWindows != 1 {
		t.Errorf("Expected invalid window to be counted")
	}
	if !deriver.swept {
		t.Error("Expected velocity sweep after tick")
	}
}

type failingDeriver struct {
	err   error
	swept bool
}

func (d *failingDeriver) Derive(context.Context, int64, []types.TelemetrySample) (*types.TrajectoryPoint, error) {
	return nil, d.err
}

func (d *failingDeriver) Sweep() int {
	d.swept = true
	return 0
}

func TestTick_BoundedConcurrency(t *testing.T) {
	ids := make([]int64, 12)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	fetcher := &mockFetcher{delay: 20 * time.Millisecond}
	s, _ := newTestScheduler(fetcher, &mockStore{refs: refs(ids...)}, 3)

	if _, err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() failed: %v", err)
	}
	if peak := fetcher.peak.Load(); peak > 3 {
		t.Errorf("Expected at most 3 concurrent fetches, saw %d", peak)
	}
	if fetcher.calls.Load() != 12 {
		t.Errorf("Expected 12 fetches, got %d", fetcher.calls.Load())
	}
}

func TestTick_Cache(t *testing.T) {
	store := &mockStore{refs: refs(1, 2)}
	cache := &mockCache{}
	s, _ := newTestScheduler(&mockFetcher{}, store, 2)
	s.WithCache(cache)

	if _, err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() failed: %v", err)
	}
	if len(cache.points) != 2 {
		t.Errorf("Expected 2 cached points, got %d", len(cache.points))
	}

	// cache failures never fail the spacecraft
	cache.err = errors.New("redis down")
	res, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick() failed: %v", err)
	}
	if res.Stored != 2 {
		t.Errorf("Expected 2 stored despite cache failure, got %d", res.Stored)
	}
}

func TestTick_Archive(t *testing.T) {
	dir := t.TempDir()
	w := archive.New(dir, logging.Nop())
	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	fetcher := &mockFetcher{errs: map[int64]error{3: &source.FetchError{ExternalID: 3, StatusCode: 500, Err: errors.New("boom")}}}
	s, _ := newTestScheduler(fetcher, &mockStore{refs: refs(1, 2, 3)}, 2)
	s.WithArchive(w)

	if _, err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, archive.FileName(time.Now()))) // #nosec G304 - controlled test path
	if err != nil {
		t.Fatalf("Failed to read archive: %v", err)
	}
	// failed fetches have nothing to archive
	if lines := strings.Count(string(data), "\n"); lines != 2 {
		t.Errorf("Expected 2 archived responses, got %d", lines)
	}
}

func TestTick_DerivesAcceleration(t *testing.T) {
	store := &mockStore{refs: refs(42)}
	s, _ := newTestScheduler(&mockFetcher{}, store, 1)

	for i := 0; i < 2; i++ {
		if _, err := s.Tick(context.Background()); err != nil {
			t.Fatalf("Tick() failed: %v", err)
		}
	}
	if store.savedCount() != 2 {
		t.Fatalf("Expected 2 saved points, got %d", store.savedCount())
	}
	first, second := store.saved[0], store.saved[1]
	if first.Acceleration != 0 {
		t.Errorf("Expected zero acceleration without previous velocity, got %f", first.Acceleration)
	}
	// identical windows give identical velocity, so acceleration stays zero
	if second.Acceleration != 0 {
		t.Errorf("Expected zero acceleration for unchanged velocity, got %f", second.Acceleration)
	}
	if first.Speed <= 0 {
		t.Errorf("Expected positive speed, got %f", first.Speed)
	}
}

func TestRun(t *testing.T) {
	store := &mockStore{refs: refs(1)}
	fetcher := &mockFetcher{}
	st := stats.New()
	deriver := trajectory.NewDeriver(trajectory.NewMemoryVelocityStore(time.Hour), logging.Nop())
	s := NewScheduler(fetcher, deriver, store, st, logging.Nop(), 30*time.Millisecond, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// the first tick fires immediately, later ones on the interval
	if err := testutils.WaitForCondition(func() bool { return fetcher.calls.Load() >= 3 }, 2*time.Second); err != nil {
		t.Fatalf("Expected repeated ticks: %v", err)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_SlowTickDoesNotDelayNext(t *testing.T) {
	store := &mockStore{refs: refs(1)}
	fetcher := &mockFetcher{delay: 120 * time.Millisecond}
	s, _ := newTestScheduler(fetcher, store, 1)
	s.interval = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// a single fetch outlasts several intervals; overlapping ticks must still start
	if err := testutils.WaitForCondition(func() bool { return fetcher.peak.Load() >= 2 }, 2*time.Second); err != nil {
		t.Fatalf("Expected overlapping ticks: %v", err)
	}
}

func TestRun_LongTickStoresEverySpacecraft(t *testing.T) {
	store := &mockStore{refs: refs(1, 2, 3, 4, 5, 6)}
	// one worker at 80ms per fetch keeps a tick running for several intervals
	fetcher := &mockFetcher{delay: 80 * time.Millisecond}
	s, _ := newTestScheduler(fetcher, store, 1)
	s.interval = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	stored := func() map[int64]bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		ids := make(map[int64]bool)
		for _, p := range store.saved {
			ids[p.ExternalID] = true
		}
		return ids
	}
	err := testutils.WaitForCondition(func() bool { return len(stored()) == 6 }, 3*time.Second)
	cancel()
	<-done
	if err != nil {
		t.Fatalf("Expected all 6 spacecraft stored, got %v: %v", stored(), err)
	}
}
