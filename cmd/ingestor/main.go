package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/saviobatista/orbit-tracker/internal/api"
	"github.com/saviobatista/orbit-tracker/internal/archive"
	"github.com/saviobatista/orbit-tracker/internal/config"
	"github.com/saviobatista/orbit-tracker/internal/db"
	"github.com/saviobatista/orbit-tracker/internal/ingest"
	"github.com/saviobatista/orbit-tracker/internal/logging"
	"github.com/saviobatista/orbit-tracker/internal/redis"
	"github.com/saviobatista/orbit-tracker/internal/source"
	"github.com/saviobatista/orbit-tracker/internal/stats"
	"github.com/saviobatista/orbit-tracker/internal/trajectory"
)

const retentionInterval = time.Hour

// parseEnvironment loads the configuration and checks the source credentials
func parseEnvironment() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireSource(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createClients connects to Postgres and Redis. Redis is optional: when it is
// unreachable the velocity cache falls back to process memory.
func createClients(cfg *config.Config, logger *slog.Logger) (*db.Client, *redis.Client, error) {
	dbClient, err := db.New(cfg.DBConnStr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database client: %w", err)
	}

	redisClient, err := redis.New(cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, using in-process velocity cache", "addr", cfg.RedisAddr, "error", err)
		return dbClient, nil, nil
	}
	return dbClient, redisClient.WithVelocityTTL(cfg.Ingest.VelocityTTL), nil
}

// newVelocityStore shares previous velocities through Redis when available
func newVelocityStore(redisClient *redis.Client, ttl time.Duration) trajectory.VelocityStore {
	if redisClient != nil {
		return redisClient
	}
	return trajectory.NewMemoryVelocityStore(ttl)
}

// setupScheduler wires the ingestion scheduler
func setupScheduler(cfg *config.Config, dbClient *db.Client, redisClient *redis.Client, st *stats.Stats, logger *slog.Logger) *ingest.Scheduler {
	deriver := trajectory.NewDeriver(newVelocityStore(redisClient, cfg.Ingest.VelocityTTL), logger)
	scheduler := ingest.NewScheduler(source.New(cfg.Source), deriver, dbClient, st, logger, cfg.Ingest.Interval, cfg.Ingest.Workers)
	if redisClient != nil {
		scheduler.WithCache(redisClient)
	}
	return scheduler
}

// setupArchive opens the raw response archive when a directory is configured
func setupArchive(cfg *config.Config, logger *slog.Logger) (*archive.Writer, error) {
	if cfg.Ingest.ArchiveDir == "" {
		return nil, nil
	}
	w := archive.New(cfg.Ingest.ArchiveDir, logger)
	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("failed to start archive: %w", err)
	}
	return w, nil
}

// readiness builds the probe checks for the connected dependencies
func readiness(dbClient *db.Client, redisClient *redis.Client) map[string]api.Check {
	checks := map[string]api.Check{"database": dbClient.Ping}
	if redisClient != nil {
		checks["redis"] = redisClient.Ping
	}
	return checks
}

// waitForShutdown blocks until SIGINT or SIGTERM
func waitForShutdown(logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", "signal", sig.String())
}

func main() {
	cfg, err := parseEnvironment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Log)
	defer logCloser.Close()
	logger = logger.With("service", "ingestor")

	dbClient, redisClient, err := createClients(cfg, logger)
	if err != nil {
		logger.Error("failed to create clients", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logger.Warn("error closing database client", "error", err)
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("error closing redis client", "error", err)
			}
		}
	}()

	st := stats.New()
	st.SetDB(dbClient)
	reg := prometheus.NewRegistry()
	if err := st.Register(reg); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	scheduler := setupScheduler(cfg, dbClient, redisClient, st, logger)
	archiveWriter, err := setupArchive(cfg, logger)
	if err != nil {
		logger.Error("failed to set up archive", "error", err)
		os.Exit(1)
	}
	if archiveWriter != nil {
		scheduler.WithArchive(archiveWriter)
	}
	syncer := ingest.NewSyncer(cfg.SpacecraftServiceURL, cfg.Source.Timeout, dbClient, logger)

	done := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(done)
	}()
	go syncer.Run(ctx, cfg.Ingest.SyncInterval)
	go ingest.RunRetention(ctx, dbClient, cfg.Ingest.Retention, retentionInterval, logger)
	go st.StartPersistence(ctx, cfg.StatsInterval, logger)
	go st.StartLogging(ctx, time.Minute, logger)

	probes := api.NewProbeServer(cfg.HTTPAddr, logger, api.Options{
		Gatherer:  reg,
		Readiness: readiness(dbClient, redisClient),
	})
	go func() {
		if err := probes.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("probe server failed", "error", err)
		}
	}()

	logger.Info("ingestor started",
		"interval", cfg.Ingest.Interval, "workers", cfg.Ingest.Workers, "http_addr", cfg.HTTPAddr)

	waitForShutdown(logger)
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = probes.Shutdown(shutdownCtx)

	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("ingestion tick still running at shutdown")
	}

	if archiveWriter != nil {
		if err := archiveWriter.Stop(); err != nil {
			logger.Warn("error closing archive", "error", err)
		}
	}
}
