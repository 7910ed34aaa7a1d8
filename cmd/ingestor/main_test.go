package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/saviobatista/orbit-tracker/internal/config"
	"github.com/saviobatista/orbit-tracker/internal/db"
	"github.com/saviobatista/orbit-tracker/internal/logging"
	"github.com/saviobatista/orbit-tracker/internal/stats"
	"github.com/saviobatista/orbit-tracker/internal/trajectory"
)

func TestParseEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(t *testing.T, interval time.Duration, workers int)
	}{
		{
			name:    "missing source credentials",
			env:     map[string]string{"SOURCE_BASE_URL": "http://source", "SOURCE_API_KEY": ""},
			wantErr: true,
		},
		{
			name: "custom scheduling",
			env: map[string]string{
				"SOURCE_BASE_URL": "http://source",
				"SOURCE_API_KEY":  "key",
				"INGEST_INTERVAL": "30s",
				"INGEST_WORKERS":  "3",
			},
			check: func(t *testing.T, interval time.Duration, workers int) {
				if interval != 30*time.Second || workers != 3 {
					t.Errorf("got interval=%v workers=%d", interval, workers)
				}
			},
		},
		{
			name: "invalid worker count",
			env: map[string]string{
				"SOURCE_BASE_URL": "http://source",
				"SOURCE_API_KEY":  "key",
				"INGEST_WORKERS":  "many",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := parseEnvironment()
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseEnvironment() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg.Ingest.Interval, cfg.Ingest.Workers)
			}
		})
	}
}

func TestNewVelocityStore_Fallback(t *testing.T) {
	store := newVelocityStore(nil, time.Minute)
	if _, ok := store.(*trajectory.MemoryVelocityStore); !ok {
		t.Errorf("Expected in-process store without redis, got %T", store)
	}
}

func TestSetupScheduler(t *testing.T) {
	t.Setenv("SOURCE_BASE_URL", "http://source")
	t.Setenv("SOURCE_API_KEY", "key")
	cfg, err := parseEnvironment()
	if err != nil {
		t.Fatalf("parseEnvironment() failed: %v", err)
	}

	// sql.Open does not dial, so no database is needed here
	dbClient, err := db.New("postgres://localhost:1/none?sslmode=disable")
	if err != nil {
		t.Fatalf("db.New() failed: %v", err)
	}
	defer dbClient.Close()

	if s := setupScheduler(cfg, dbClient, nil, stats.New(), logging.Nop()); s == nil {
		t.Fatal("Expected scheduler")
	}

	checks := readiness(dbClient, nil)
	if _, ok := checks["database"]; !ok || len(checks) != 1 {
		t.Errorf("Expected only the database check, got %v", len(checks))
	}
}


func TestSetupArchive(t *testing.T) {
	cfg := config.Default()
	w, err := setupArchive(cfg, logging.Nop())
	if err != nil || w != nil {
		t.Fatalf("Expected no archive without a directory, got %v, %v", w, err)
	}

	cfg.Ingest.ArchiveDir = filepath.Join(t.TempDir(), "raw")
	w, err = setupArchive(cfg, logging.Nop())
	if err != nil {
		t.Fatalf("setupArchive() failed: %v", err)
	}
	if w == nil {
		t.Fatal("Expected archive writer")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
}
