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
	"github.com/saviobatista/orbit-tracker/internal/config"
	"github.com/saviobatista/orbit-tracker/internal/db"
	"github.com/saviobatista/orbit-tracker/internal/delivery"
	"github.com/saviobatista/orbit-tracker/internal/distribution"
	"github.com/saviobatista/orbit-tracker/internal/ingest"
	"github.com/saviobatista/orbit-tracker/internal/logging"
	"github.com/saviobatista/orbit-tracker/internal/nats"
	"github.com/saviobatista/orbit-tracker/internal/redis"
	"github.com/saviobatista/orbit-tracker/internal/stats"
)

// clients groups the connections the streamer holds
type clients struct {
	nats  *nats.Client
	db    *db.Client
	redis *redis.Client
}

func (c *clients) close(logger *slog.Logger) {
	if c.nats != nil {
		c.nats.Close()
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			logger.Warn("error closing database client", "error", err)
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			logger.Warn("error closing redis client", "error", err)
		}
	}
}

// createClients connects to NATS and Postgres. Redis only serves the latest
// point cache and is skipped when unreachable.
func createClients(cfg *config.Config, logger *slog.Logger) (*clients, error) {
	natsClient, err := nats.New(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS client: %w", err)
	}

	dbClient, err := db.New(cfg.DBConnStr)
	if err != nil {
		natsClient.Close()
		return nil, fmt.Errorf("failed to create database client: %w", err)
	}

	c := &clients{nats: natsClient, db: dbClient}
	if cfg.RedisAddr != "" {
		redisClient, err := redis.New(cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, reading latest points from the database", "addr", cfg.RedisAddr, "error", err)
		} else {
			c.redis = redisClient
		}
	}
	return c, nil
}

// setupServer builds the telemetry API with the realtime endpoint mounted
func setupServer(cfg *config.Config, c *clients, hub *delivery.Hub, st *stats.Stats, reg *prometheus.Registry, logger *slog.Logger) (*api.Server, error) {
	metrics, err := api.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}

	opts := api.Options{
		Syncer:    ingest.NewSyncer(cfg.SpacecraftServiceURL, cfg.Source.Timeout, c.db, logger),
		Stats:     st,
		History:   c.db,
		Realtime:  hub,
		Gatherer:  reg,
		Metrics:   metrics,
		Readiness: map[string]api.Check{"database": c.db.Ping},
	}
	if c.nats != nil {
		opts.Readiness["nats"] = func(context.Context) error {
			if !c.nats.Connected() {
				return errors.New("not connected")
			}
			return nil
		}
	}
	if c.redis != nil {
		opts.Cache = c.redis
		opts.Readiness["redis"] = c.redis.Ping
	}
	return api.NewServer(cfg.HTTPAddr, c.db, logger, opts), nil
}

// waitForShutdown blocks until SIGINT or SIGTERM
func waitForShutdown(logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", "signal", sig.String())
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Log)
	defer logCloser.Close()
	logger = logger.With("service", "streamer")

	c, err := createClients(cfg, logger)
	if err != nil {
		logger.Error("failed to create clients", "error", err)
		os.Exit(1)
	}
	defer c.close(logger)

	st := stats.New()
	reg := prometheus.NewRegistry()
	if err := st.Register(reg); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	hub := delivery.NewHub(st, logger)
	defer hub.Close()
	if err := hub.Register(reg); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	if err := distribution.NewForwarder(hub, st, logger).Start(c.nats); err != nil {
		logger.Error("failed to subscribe to the bus", "error", err)
		os.Exit(1)
	}

	server, err := setupServer(cfg, c, hub, st, reg, logger)
	if err != nil {
		logger.Error("failed to set up server", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go st.StartLogging(ctx, time.Minute, logger)

	go func() {
		logger.Info("streamer listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	waitForShutdown(logger)
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error during server shutdown", "error", err)
	}
}
