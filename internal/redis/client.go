package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saviobatista/orbit-tracker/internal/types"
)

const (
	defaultVelocityTTL = 10 * time.Minute
	latestPointTTL     = time.Hour
)

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// Client is the shared cache for previous velocities and latest trajectory points
type Client struct {
	client      RedisClientInterface
	velocityTTL time.Duration
}

// New creates a new Redis client
func New(addr string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client, velocityTTL: defaultVelocityTTL}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface) *Client {
	return &Client{client: client, velocityTTL: defaultVelocityTTL}
}

// WithVelocityTTL sets how long a previous velocity survives without updates
func (c *Client) WithVelocityTTL(ttl time.Duration) *Client {
	if ttl > 0 {
		c.velocityTTL = ttl
	}
	return c
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func velocityKey(externalID int64) string {
	return fmt.Sprintf("velocity:%d", externalID)
}

func latestPointKey(externalID int64) string {
	return fmt.Sprintf("trajectory:latest:%d", externalID)
}

// getData retrieves data from Redis and unmarshals it into the target.
// It reports false when the key does not exist.
func (c *Client) getData(ctx context.Context, key string, target interface{}, dataType string) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s data: %w", dataType, err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s data: %w", dataType, err)
	}
	return true, nil
}

func (c *Client) setData(ctx context.Context, key string, value interface{}, ttl time.Duration, dataType string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s data: %w", dataType, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetVelocity returns the previous velocity of a spacecraft; an expired or
// missing entry reports false
func (c *Client) GetVelocity(ctx context.Context, externalID int64) (types.Vector3, bool, error) {
	var v types.Vector3
	ok, err := c.getData(ctx, velocityKey(externalID), &v, "velocity")
	if err != nil || !ok {
		return types.Vector3{}, false, err
	}
	return v, true, nil
}

// SetVelocity records the latest velocity of a spacecraft and refreshes its TTL
func (c *Client) SetVelocity(ctx context.Context, externalID int64, v types.Vector3) error {
	return c.setData(ctx, velocityKey(externalID), v, c.velocityTTL, "velocity")
}

// StoreLatestPoint caches the newest derived point of a spacecraft
func (c *Client) StoreLatestPoint(ctx context.Context, p *types.TrajectoryPoint) error {
	return c.setData(ctx, latestPointKey(p.ExternalID), p, latestPointTTL, "trajectory point")
}

// GetLatestPoint returns the cached newest point, or nil when none is cached
func (c *Client) GetLatestPoint(ctx context.Context, externalID int64) (*types.TrajectoryPoint, error) {
	var p types.TrajectoryPoint
	ok, err := c.getData(ctx, latestPointKey(externalID), &p, "trajectory point")
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}
