package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/saviobatista/orbit-tracker/internal/types"
)

// ErrUnknownSpacecraft is returned when no reference exists for an external id
var ErrUnknownSpacecraft = errors.New("unknown spacecraft")

type Client struct {
	db *sql.DB
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return &Client{db: db}, nil
}

// DB exposes the underlying handle for the migrator
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Ping verifies the database is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

const referenceColumns = `id, external_id, enterprise_id, spacecraft_name, created_at`

// RegisterReference inserts a reference unless its external id is already known.
// It reports whether a row was created.
func (c *Client) RegisterReference(ctx context.Context, ref *types.SatelliteReference) (bool, error) {
	if ref.ID == uuid.Nil {
		ref.ID = uuid.New()
	}
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO satellite_reference (id, external_id, enterprise_id, spacecraft_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id) DO NOTHING
	`
	res, err := c.db.ExecContext(ctx, query, ref.ID, ref.ExternalID, ref.EnterpriseID, ref.SpacecraftName, ref.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to register spacecraft %d: %w", ref.ExternalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListReferences returns every registered reference
func (c *Client) ListReferences(ctx context.Context) ([]*types.SatelliteReference, error) {
	query := `SELECT ` + referenceColumns + ` FROM satellite_reference ORDER BY external_id`
	return c.queryReferences(ctx, query)
}

// ListReferencesByEnterprise returns the references owned by one operator
func (c *Client) ListReferencesByEnterprise(ctx context.Context, enterpriseID uuid.UUID) ([]*types.SatelliteReference, error) {
	query := `SELECT ` + referenceColumns + ` FROM satellite_reference WHERE enterprise_id = $1 ORDER BY external_id`
	return c.queryReferences(ctx, query, enterpriseID)
}

// GetReference returns the reference for one external id or ErrUnknownSpacecraft
func (c *Client) GetReference(ctx context.Context, externalID int64) (*types.SatelliteReference, error) {
	query := `SELECT ` + referenceColumns + ` FROM satellite_reference WHERE external_id = $1`
	var ref types.SatelliteReference
	err := c.db.QueryRowContext(ctx, query, externalID).Scan(
		&ref.ID, &ref.ExternalID, &ref.EnterpriseID, &ref.SpacecraftName, &ref.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("spacecraft %d: %w", externalID, ErrUnknownSpacecraft)
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (c *Client) queryReferences(ctx context.Context, query string, args ...interface{}) ([]*types.SatelliteReference, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []*types.SatelliteReference
	for rows.Next() {
		var ref types.SatelliteReference
		if err := rows.Scan(&ref.ID, &ref.ExternalID, &ref.EnterpriseID, &ref.SpacecraftName, &ref.CreatedAt); err != nil {
			return nil, err
		}
		refs = append(refs, &ref)
	}
	return refs, rows.Err()
}

// SystemStats is one persisted snapshot of the pipeline counters
type SystemStats struct {
	Time              time.Time     `json:"time"`
	Fetches           int64         `json:"fetches"`
	FetchFailures     int64         `json:"fetchFailures"`
	DerivedPoints     int64         `json:"derivedPoints"`
	StoredPoints      int64         `json:"storedPoints"`
	InvalidWindows    int64         `json:"invalidWindows"`
	PublishedBundles  int64         `json:"publishedBundles"`
	PublishFailures   int64         `json:"publishFailures"`
	ForwardedMessages int64         `json:"forwardedMessages"`
	DroppedMessages   int64         `json:"droppedMessages"`
	ClampedPoints     int64         `json:"clampedPoints"`
	ActiveSessions    int64         `json:"activeSessions"`
	Uptime            time.Duration `json:"uptime"`
}

// StoreSystemStats stores a counters snapshot
func (c *Client) StoreSystemStats(ctx context.Context, s *SystemStats) error {
	query := `
		INSERT INTO system_stats (
			time, fetches, fetch_failures, derived_points, stored_points,
			invalid_windows, published_bundles, publish_failures,
			forwarded_messages, dropped_messages, clamped_points,
			active_sessions, uptime_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := c.db.ExecContext(ctx, query,
		s.Time, s.Fetches, s.FetchFailures, s.DerivedPoints, s.StoredPoints,
		s.InvalidWindows, s.PublishedBundles, s.PublishFailures,
		s.ForwardedMessages, s.DroppedMessages, s.ClampedPoints,
		s.ActiveSessions, int64(s.Uptime.Seconds()),
	)
	return err
}

// GetSystemStats retrieves counter snapshots for a time range, newest first
func (c *Client) GetSystemStats(ctx context.Context, start, end time.Time) ([]*SystemStats, error) {
	query := `
		SELECT
			time, fetches, fetch_failures, derived_points, stored_points,
			invalid_windows, published_bundles, publish_failures,
			forwarded_messages, dropped_messages, clamped_points,
			active_sessions, uptime_seconds
		FROM system_stats
		WHERE time BETWEEN $1 AND $2
		ORDER BY time DESC
	`
	rows, err := c.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SystemStats
	for rows.Next() {
		var (
			s      SystemStats
			uptime int64
		)
		if err := rows.Scan(
			&s.Time, &s.Fetches, &s.FetchFailures, &s.DerivedPoints, &s.StoredPoints,
			&s.InvalidWindows, &s.PublishedBundles, &s.PublishFailures,
			&s.ForwardedMessages, &s.DroppedMessages, &s.ClampedPoints,
			&s.ActiveSessions, &uptime,
		); err != nil {
			return nil, err
		}
		s.Uptime = time.Duration(uptime) * time.Second
		out = append(out, &s)
	}
	return out, rows.Err()
}

// Prune removes trajectory rows and stats snapshots older than the given retentions
// and returns the number of trajectory rows removed
func (c *Client) Prune(ctx context.Context, trajectoryRetention, statsRetention time.Duration) (int64, error) {
	var removed int64
	err := c.db.QueryRowContext(ctx,
		`SELECT prune_trajectory_data($1::interval, $2::interval)`,
		interval(trajectoryRetention), interval(statsRetention),
	).Scan(&removed)
	if err != nil {
		return 0, fmt.Errorf("failed to prune trajectory data: %w", err)
	}
	return removed, nil
}

func interval(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d.Seconds()))
}
