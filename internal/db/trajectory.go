package db

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/saviobatista/orbit-tracker/internal/types"
)

const trajectoryColumns = `
	external_id, timestamp,
	position_x, position_y, position_z,
	velocity_x, velocity_y, velocity_z,
	velocity, acceleration, orbit_radius,
	sat_latitude, sat_longitude, sat_altitude,
	azimuth, elevation, right_ascension, declination`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrajectoryPoint(row rowScanner) (*types.TrajectoryPoint, error) {
	var p types.TrajectoryPoint
	if err := row.Scan(
		&p.ExternalID, &p.Timestamp,
		&p.Position.X, &p.Position.Y, &p.Position.Z,
		&p.Velocity.X, &p.Velocity.Y, &p.Velocity.Z,
		&p.Speed, &p.Acceleration, &p.OrbitRadius,
		&p.Latitude, &p.Longitude, &p.Altitude,
		&p.Azimuth, &p.Elevation, &p.RightAscension, &p.Declination,
	); err != nil {
		return nil, err
	}
	p.Timestamp = p.Timestamp.UTC()
	return &p, nil
}

// SaveTrajectoryPoint upserts a point; writing the same (external_id, timestamp) twice
// leaves the last values
func (c *Client) SaveTrajectoryPoint(ctx context.Context, p *types.TrajectoryPoint) error {
	query := `
		INSERT INTO trajectory_data (` + trajectoryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (external_id, timestamp) DO UPDATE SET
			position_x = EXCLUDED.position_x,
			position_y = EXCLUDED.position_y,
			position_z = EXCLUDED.position_z,
			velocity_x = EXCLUDED.velocity_x,
			velocity_y = EXCLUDED.velocity_y,
			velocity_z = EXCLUDED.velocity_z,
			velocity = EXCLUDED.velocity,
			acceleration = EXCLUDED.acceleration,
			orbit_radius = EXCLUDED.orbit_radius,
			sat_latitude = EXCLUDED.sat_latitude,
			sat_longitude = EXCLUDED.sat_longitude,
			sat_altitude = EXCLUDED.sat_altitude,
			azimuth = EXCLUDED.azimuth,
			elevation = EXCLUDED.elevation,
			right_ascension = EXCLUDED.right_ascension,
			declination = EXCLUDED.declination
	`
	_, err := c.db.ExecContext(ctx, query,
		p.ExternalID, p.Timestamp,
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Velocity.X, p.Velocity.Y, p.Velocity.Z,
		p.Speed, p.Acceleration, p.OrbitRadius,
		p.Latitude, p.Longitude, p.Altitude,
		p.Azimuth, p.Elevation, p.RightAscension, p.Declination,
	)
	if err != nil {
		return fmt.Errorf("failed to store trajectory point for %d: %w", p.ExternalID, err)
	}
	return nil
}

// LatestTrajectoryPoints returns the newest point of each given spacecraft.
// Spacecraft without data are absent from the map.
func (c *Client) LatestTrajectoryPoints(ctx context.Context, externalIDs []int64) (map[int64]*types.TrajectoryPoint, error) {
	out := make(map[int64]*types.TrajectoryPoint, len(externalIDs))
	if len(externalIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT DISTINCT ON (external_id) ` + trajectoryColumns + `
		FROM trajectory_data
		WHERE external_id = ANY($1)
		ORDER BY external_id, timestamp DESC
	`
	rows, err := c.db.QueryContext(ctx, query, pq.Array(externalIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanTrajectoryPoint(rows)
		if err != nil {
			return nil, err
		}
		out[p.ExternalID] = p
	}
	return out, rows.Err()
}

// RecentHistory returns up to n most recent points of a spacecraft, oldest first
func (c *Client) RecentHistory(ctx context.Context, externalID int64, n int) ([]*types.TrajectoryPoint, error) {
	if n <= 0 {
		return nil, nil
	}

	query := `
		SELECT ` + trajectoryColumns + `
		FROM trajectory_data
		WHERE external_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, query, externalID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []*types.TrajectoryPoint
	for rows.Next() {
		p, err := scanTrajectoryPoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// CountSince counts the points stored for a spacecraft at or after since
func (c *Client) CountSince(ctx context.Context, externalID int64, since time.Time) (int64, error) {
	var count int64
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trajectory_data WHERE external_id = $1 AND timestamp >= $2`,
		externalID, since,
	).Scan(&count)
	return count, err
}
