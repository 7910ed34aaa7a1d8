package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	natsMod "github.com/testcontainers/testcontainers-go/modules/nats"
	postgresMod "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saviobatista/orbit-tracker/internal/config"
	"github.com/saviobatista/orbit-tracker/internal/db/migrations"
	"github.com/saviobatista/orbit-tracker/internal/logging"
	"github.com/saviobatista/orbit-tracker/internal/nats"
	"github.com/saviobatista/orbit-tracker/internal/stats"
	"github.com/saviobatista/orbit-tracker/internal/testutils"
	"github.com/saviobatista/orbit-tracker/internal/types"
)

func setupContainers(t *testing.T) (connStr, natsURL string) {
	t.Helper()
	ctx := context.Background()

	pg, err := postgresMod.Run(ctx, "postgres:14-alpine",
		postgresMod.WithDatabase("orbit_tracker"),
		postgresMod.WithUsername("orbit"),
		postgresMod.WithPassword("orbit_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pg.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	})

	nc, err := natsMod.Run(ctx, "nats:2.9-alpine",
		testcontainers.WithWaitStrategy(wait.ForLog("Server is ready")),
	)
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}
	t.Cleanup(func() {
		if err := nc.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate NATS container: %v", err)
		}
	})

	connStr, err = pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	natsURL, err = nc.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get NATS connection string: %v", err)
	}
	return connStr, natsURL
}

func TestPublisher_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	connStr, natsURL := setupContainers(t)

	commands := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))
	defer commands.Close()

	cfg := config.Default()
	cfg.DBConnStr = connStr
	cfg.NATSURL = natsURL
	cfg.SpacecraftServiceURL = commands.URL

	natsClient, dbClient, err := createClients(cfg)
	if err != nil {
		t.Fatalf("createClients() failed: %v", err)
	}
	defer natsClient.Close()
	defer dbClient.Close()

	if _, err := migrations.New(dbClient.DB(), logging.Nop()).Migrate(ctx, migrations.All()); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	opA, opB := uuid.New(), uuid.New()
	fleet := map[int64]uuid.UUID{25544: opA, 48274: opA, 20580: opB}
	start := time.Now().Add(-10 * time.Minute).UTC().Truncate(time.Second)
	for id, op := range fleet {
		if _, err := dbClient.RegisterReference(ctx, &types.SatelliteReference{ExternalID: id, EnterpriseID: op}); err != nil {
			t.Fatalf("RegisterReference(%d) failed: %v", id, err)
		}
		for _, p := range testutils.MockHistory(id, start, 5, 10*time.Second) {
			if err := dbClient.SaveTrajectoryPoint(ctx, p); err != nil {
				t.Fatalf("SaveTrajectoryPoint(%d) failed: %v", id, err)
			}
		}
	}

	listener, err := nats.New(natsURL)
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	defer listener.Close()

	var mu sync.Mutex
	bundles := map[string]types.TelemetryBundle{}
	err = listener.Subscribe(nats.TopicTelemetry, func(key string, body []byte) {
		var b types.TelemetryBundle
		if err := json.Unmarshal(body, &b); err != nil {
			t.Errorf("Undecodable bundle: %v", err)
			return
		}
		mu.Lock()
		bundles[key] = b
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	publisher := setupPublisher(cfg, dbClient, natsClient, stats.New(), logging.Nop())
	n, err := publisher.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 bundles published, got %d", n)
	}

	err = testutils.WaitForCondition(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bundles) == 2
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("Expected one bundle per operator: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got := len(bundles[opA.String()].Telemetry); got != 2 {
		t.Errorf("Expected 2 spacecraft for operator A, got %d", got)
	}
	b := bundles[opB.String()]
	sc, ok := b.Telemetry["20580"]
	if !ok {
		t.Fatalf("Expected spacecraft 20580 in operator B bundle, got %v", b.Telemetry)
	}
	if len(sc.ShortPredictions) == 0 {
		t.Error("Expected short predictions")
	}
}
