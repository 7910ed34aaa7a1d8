package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/saviobatista/orbit-tracker/internal/types"
)

// Registrar records references idempotently
type Registrar interface {
	RegisterReference(ctx context.Context, ref *types.SatelliteReference) (bool, error)
}

// Syncer copies the spacecraft service's fleet listing into the reference table
type Syncer struct {
	baseURL    string
	httpClient *http.Client
	registrar  Registrar
	logger     *slog.Logger
}

// NewSyncer creates a syncer against the spacecraft service at baseURL
func NewSyncer(baseURL string, timeout time.Duration, registrar Registrar, logger *slog.Logger) *Syncer {
	return &Syncer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		registrar:  registrar,
		logger:     logger.With("component", "sync"),
	}
}

// Summaries fetches the fleet listing
func (s *Syncer) Summaries(ctx context.Context) ([]types.SpacecraftSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/spacecraft/summary", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch spacecraft summary: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from spacecraft service", resp.StatusCode)
	}

	var out []types.SpacecraftSummary
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode spacecraft summary: %w", err)
	}
	return out, nil
}

// Sync registers every listed spacecraft not yet known and returns how many were added
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	summaries, err := s.Summaries(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, sum := range summaries {
		if sum.ExternalID == 0 {
			continue
		}
		ok, err := s.registrar.RegisterReference(ctx, &types.SatelliteReference{
			ExternalID:     sum.ExternalID,
			EnterpriseID:   sum.EnterpriseID,
			SpacecraftName: sum.Name,
		})
		if err != nil {
			s.logger.Warn("failed to register spacecraft", "external_id", sum.ExternalID, "error", err)
			continue
		}
		if ok {
			created++
			s.logger.Info("registered spacecraft", "external_id", sum.ExternalID, "enterprise_id", sum.EnterpriseID)
		}
	}
	return created, nil
}

// Run syncs immediately and then every interval until ctx is cancelled
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sync(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("spacecraft sync failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
