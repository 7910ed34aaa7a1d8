package command

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/saviobatista/orbit-tracker/internal/types"
)

const maxResponseBytes = 1 << 20

type cacheKey struct {
	externalID int64
	operatorID uuid.UUID
}

// Client reads executed commands from the spacecraft command store
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	cache      *expirable.LRU[cacheKey, types.Adjustment]
}

// NewClient creates a command store client
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "commands"),
	}
}

// WithCache keeps up to size resolved adjustments for ttl. A new command then
// takes effect at most ttl after it is executed. A ttl of zero disables caching.
func (c *Client) WithCache(size int, ttl time.Duration) *Client {
	if size <= 0 || ttl <= 0 {
		c.cache = nil
		return c
	}
	c.cache = expirable.NewLRU[cacheKey, types.Adjustment](size, nil, ttl)
	return c
}

// Commands lists every command recorded for a spacecraft of an enterprise
func (c *Client) Commands(ctx context.Context, externalID int64, enterpriseID uuid.UUID) ([]types.Command, error) {
	q := url.Values{}
	q.Set("externalId", strconv.FormatInt(externalID, 10))
	q.Set("enterpriseId", enterpriseID.String())
	endpoint := c.baseURL + "/api/commands?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch commands: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from command store", resp.StatusCode)
	}

	var cmds []types.Command
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&cmds); err != nil {
		return nil, fmt.Errorf("failed to decode commands: %w", err)
	}
	return cmds, nil
}

// Latest returns the adjustment of the latest executed trajectory command.
// A malformed payload is logged and treated as no adjustment.
func (c *Client) Latest(ctx context.Context, externalID int64, operatorID uuid.UUID) (types.Adjustment, error) {
	key := cacheKey{externalID: externalID, operatorID: operatorID}
	if c.cache != nil {
		if adj, ok := c.cache.Get(key); ok {
			return adj, nil
		}
	}

	adj, err := c.resolve(ctx, externalID, operatorID)
	if err != nil {
		return adj, err
	}
	if c.cache != nil {
		c.cache.Add(key, adj)
	}
	return adj, nil
}

func (c *Client) resolve(ctx context.Context, externalID int64, operatorID uuid.UUID) (types.Adjustment, error) {
	cmds, err := c.Commands(ctx, externalID, operatorID)
	if err != nil {
		return types.NoAdjustment(), err
	}

	latest := SelectLatestTrajectoryCommand(cmds)
	if latest == nil {
		return types.NoAdjustment(), nil
	}

	p, err := ParsePayload(latest.Payload)
	if err != nil {
		c.logger.Warn("ignoring command payload", "external_id", externalID, "command_id", latest.ID, "error", err)
		return types.NoAdjustment(), nil
	}
	if p.Inclination != nil {
		c.logger.Info("inclination adjustment requested but not applied", "external_id", externalID, "inclination", *p.Inclination)
	}
	return p.Adjustment, nil
}
