package main

import (
	"testing"

	"github.com/saviobatista/orbit-tracker/internal/config"
	"github.com/saviobatista/orbit-tracker/internal/db"
	"github.com/saviobatista/orbit-tracker/internal/logging"
	"github.com/saviobatista/orbit-tracker/internal/nats"
	"github.com/saviobatista/orbit-tracker/internal/orbit"
	"github.com/saviobatista/orbit-tracker/internal/stats"
)

func TestPredictionParams(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.PublishConfig
		want orbit.Params
	}{
		{
			name: "zero values keep defaults",
			want: orbit.DefaultParams(),
		},
		{
			name: "overrides",
			cfg:  config.PublishConfig{ShortSteps: 10, ShortStepSeconds: 30, FullOrbitPoints: 48},
			want: orbit.Params{ShortSteps: 10, ShortStepSeconds: 30, FullOrbitPoints: 48},
		},
		{
			name: "partial override",
			cfg:  config.PublishConfig{FullOrbitPoints: 240},
			want: orbit.Params{ShortSteps: 60, ShortStepSeconds: 60, FullOrbitPoints: 240},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := predictionParams(tt.cfg); got != tt.want {
				t.Errorf("predictionParams() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCreateClients_BadNATS(t *testing.T) {
	cfg := config.Default()
	cfg.NATSURL = "nats://127.0.0.1:1"
	if _, _, err := createClients(cfg); err == nil {
		t.Fatal("Expected error for unreachable NATS")
	}
}

func TestSetupPublisher(t *testing.T) {
	cfg := config.Default()

	dbClient, err := db.New("postgres://localhost:1/none?sslmode=disable")
	if err != nil {
		t.Fatalf("db.New() failed: %v", err)
	}
	defer dbClient.Close()

	var bus *nats.Client
	if p := setupPublisher(cfg, dbClient, bus, stats.New(), logging.Nop()); p == nil {
		t.Fatal("Expected publisher")
	}
}
