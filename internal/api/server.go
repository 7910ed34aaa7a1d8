package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saviobatista/orbit-tracker/internal/db"
	"github.com/saviobatista/orbit-tracker/internal/stats"
	"github.com/saviobatista/orbit-tracker/internal/types"
)

// Store is the persistence the API reads and writes
type Store interface {
	RegisterReference(ctx context.Context, ref *types.SatelliteReference) (bool, error)
	ListReferencesByEnterprise(ctx context.Context, enterpriseID uuid.UUID) ([]*types.SatelliteReference, error)
	GetReference(ctx context.Context, externalID int64) (*types.SatelliteReference, error)
	LatestTrajectoryPoints(ctx context.Context, externalIDs []int64) (map[int64]*types.TrajectoryPoint, error)
	CountSince(ctx context.Context, externalID int64, since time.Time) (int64, error)
}

// LatestCache serves the newest point of a spacecraft without touching the store
type LatestCache interface {
	GetLatestPoint(ctx context.Context, externalID int64) (*types.TrajectoryPoint, error)
}

// Syncer pulls the fleet listing from the spacecraft service
type Syncer interface {
	Sync(ctx context.Context) (int, error)
}

// StatsHistory reads persisted counter snapshots
type StatsHistory interface {
	GetSystemStats(ctx context.Context, start, end time.Time) ([]*db.SystemStats, error)
}

// Check reports whether a dependency is ready
type Check func(ctx context.Context) error

// Options wires the optional parts of the server
type Options struct {
	Cache     LatestCache
	Syncer    Syncer
	Stats     *stats.Stats
	History   StatsHistory
	Realtime  http.Handler
	Gatherer  prometheus.Gatherer
	Metrics   *Metrics
	Readiness map[string]Check
}

// Server holds the HTTP server and its dependencies
type Server struct {
	httpServer *http.Server
	store      Store
	opts       Options
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server
func NewServer(addr string, store Store, logger *slog.Logger, opts Options) *Server {
	s := &Server{
		store:  store,
		opts:   opts,
		logger: logger.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("GET /readyz", s.readyz)
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if opts.Realtime != nil {
		mux.Handle("GET /ws/telemetry", opts.Realtime)
	}

	mux.HandleFunc("POST /api/telemetry/references", s.addReference)
	mux.HandleFunc("GET /api/telemetry/references/{externalId}", s.getReference)
	mux.HandleFunc("POST /api/telemetry/sync", s.triggerSync)
	mux.HandleFunc("GET /api/telemetry/refs", s.listReferences)
	mux.HandleFunc("GET /api/telemetry/active/count", s.activeCount)
	mux.HandleFunc("GET /api/telemetry/average-orbit", s.averageOrbit)
	mux.HandleFunc("GET /api/telemetry/summary", s.summary)

	var handler http.Handler = mux
	handler = loggingMiddleware(s.logger)(handler)
	if opts.Metrics != nil {
		handler = opts.Metrics.Middleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// NewProbeServer serves only health, readiness and metrics, for processes without the telemetry API
func NewProbeServer(addr string, logger *slog.Logger, opts Options) *Server {
	s := &Server{
		opts:   opts,
		logger: logger.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("GET /readyz", s.readyz)
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	handler = loggingMiddleware(s.logger)(handler)
	if opts.Metrics != nil {
		handler = opts.Metrics.Middleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return s
}

// Handler returns the routed handler, useful in tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range s.opts.Readiness {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", "check", name, "error", err)
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(name + " not ready\n"))
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: kind, Message: message})
}
