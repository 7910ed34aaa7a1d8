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
	"github.com/saviobatista/orbit-tracker/internal/command"
	"github.com/saviobatista/orbit-tracker/internal/config"
	"github.com/saviobatista/orbit-tracker/internal/db"
	"github.com/saviobatista/orbit-tracker/internal/distribution"
	"github.com/saviobatista/orbit-tracker/internal/logging"
	"github.com/saviobatista/orbit-tracker/internal/nats"
	"github.com/saviobatista/orbit-tracker/internal/orbit"
	"github.com/saviobatista/orbit-tracker/internal/stats"
)

const commandCacheSize = 4096

// createClients connects to NATS and Postgres
func createClients(cfg *config.Config) (*nats.Client, *db.Client, error) {
	natsClient, err := nats.New(cfg.NATSURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create NATS client: %w", err)
	}

	dbClient, err := db.New(cfg.DBConnStr)
	if err != nil {
		natsClient.Close()
		return nil, nil, fmt.Errorf("failed to create database client: %w", err)
	}
	return natsClient, dbClient, nil
}

// predictionParams maps the publish settings onto the engine's sizes
func predictionParams(cfg config.PublishConfig) orbit.Params {
	p := orbit.DefaultParams()
	if cfg.ShortSteps > 0 {
		p.ShortSteps = cfg.ShortSteps
	}
	if cfg.ShortStepSeconds > 0 {
		p.ShortStepSeconds = cfg.ShortStepSeconds
	}
	if cfg.FullOrbitPoints > 0 {
		p.FullOrbitPoints = cfg.FullOrbitPoints
	}
	return p
}

// setupPublisher wires the prediction engine and the publisher
func setupPublisher(cfg *config.Config, store distribution.Store, bus distribution.Bus, st *stats.Stats, logger *slog.Logger) *distribution.Publisher {
	commands := command.NewClient(cfg.SpacecraftServiceURL, cfg.Source.Timeout, logger).
		WithCache(commandCacheSize, cfg.Publish.CommandCacheTTL)
	engine := orbit.NewEngine(commands, predictionParams(cfg.Publish), logger)
	return distribution.NewPublisher(store, engine, bus, st, logger, distribution.PublisherConfig{
		Interval:          cfg.Publish.Interval,
		Workers:           cfg.Publish.Workers,
		PredictionWorkers: cfg.Publish.PredictionWorkers,
		HistorySize:       cfg.Publish.HistorySize,
	})
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
	logger = logger.With("service", "publisher")

	natsClient, dbClient, err := createClients(cfg)
	if err != nil {
		logger.Error("failed to create clients", "error", err)
		os.Exit(1)
	}
	defer func() {
		natsClient.Close()
		if err := dbClient.Close(); err != nil {
			logger.Warn("error closing database client", "error", err)
		}
	}()

	st := stats.New()
	reg := prometheus.NewRegistry()
	if err := st.Register(reg); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	publisher := setupPublisher(cfg, dbClient, natsClient, st, logger)
	done := make(chan struct{})
	go func() {
		publisher.Run(ctx)
		close(done)
	}()
	go st.StartLogging(ctx, time.Minute, logger)

	probes := api.NewProbeServer(cfg.HTTPAddr, logger, api.Options{
		Gatherer: reg,
		Readiness: map[string]api.Check{
			"database": dbClient.Ping,
			"nats": func(context.Context) error {
				if !natsClient.Connected() {
					return errors.New("not connected")
				}
				return nil
			},
		},
	})
	go func() {
		if err := probes.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("probe server failed", "error", err)
		}
	}()

	logger.Info("publisher started",
		"interval", cfg.Publish.Interval, "workers", cfg.Publish.Workers,
		"prediction_workers", cfg.Publish.PredictionWorkers)

	waitForShutdown(logger)
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = probes.Shutdown(shutdownCtx)

	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("publish tick still running at shutdown")
	}
}
