package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/saviobatista/orbit-tracker/internal/config"
	"github.com/saviobatista/orbit-tracker/internal/parser"
	"github.com/saviobatista/orbit-tracker/internal/types"
)

const maxBodyBytes = 1 << 20

// FetchError reports a failed call to the tracking source for one spacecraft
type FetchError struct {
	ExternalID int64
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch telemetry for %d: status %d: %v", e.ExternalID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch telemetry for %d: %v", e.ExternalID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client calls the external tracking source
type Client struct {
	cfg        config.SourceConfig
	baseURL    string
	httpClient *http.Client
}

// New creates a source client; the per-request timeout comes from cfg.Timeout
func New(cfg config.SourceConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// PositionsURL builds the positions endpoint for one spacecraft
func (c *Client) PositionsURL(externalID int64) string {
	return fmt.Sprintf("%s/satellite/positions/%d/%.6f/%.6f/%.1f/%d?apiKey=%s",
		c.baseURL, externalID,
		c.cfg.ObserverLat, c.cfg.ObserverLng, c.cfg.ObserverAlt,
		c.cfg.SampleCount, url.QueryEscape(c.cfg.APIKey))
}

// FetchPositions returns the samples for one spacecraft, oldest first.
// Every failure is reported as a *FetchError.
func (c *Client) FetchPositions(ctx context.Context, externalID int64) (*types.SourceResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PositionsURL(externalID), nil)
	if err != nil {
		return nil, &FetchError{ExternalID: externalID, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{ExternalID: externalID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{ExternalID: externalID, StatusCode: resp.StatusCode, Err: errors.New("unexpected status")}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{ExternalID: externalID, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	parsed, err := parser.ParseResponse(body)
	if err != nil {
		return nil, &FetchError{ExternalID: externalID, StatusCode: resp.StatusCode, Err: err}
	}
	return parsed, nil
}
