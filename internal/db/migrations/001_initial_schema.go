package migrations

import "time"

// InitialSchema creates the reference, trajectory and statistics tables
var InitialSchema = &Migration{
	ID:   "001_initial_schema",
	Name: "001_initial_schema",
	UpSQL: `
		CREATE TABLE IF NOT EXISTS satellite_reference (
			id UUID PRIMARY KEY,
			external_id BIGINT NOT NULL UNIQUE,
			enterprise_id UUID NOT NULL,
			spacecraft_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_satellite_reference_enterprise ON satellite_reference (enterprise_id);

		CREATE TABLE IF NOT EXISTS trajectory_data (
			external_id BIGINT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			position_x DOUBLE PRECISION NOT NULL,
			position_y DOUBLE PRECISION NOT NULL,
			position_z DOUBLE PRECISION NOT NULL,
			velocity_x DOUBLE PRECISION NOT NULL,
			velocity_y DOUBLE PRECISION NOT NULL,
			velocity_z DOUBLE PRECISION NOT NULL,
			velocity DOUBLE PRECISION NOT NULL,
			acceleration DOUBLE PRECISION NOT NULL,
			orbit_radius DOUBLE PRECISION NOT NULL,
			sat_latitude DOUBLE PRECISION NOT NULL,
			sat_longitude DOUBLE PRECISION NOT NULL,
			sat_altitude DOUBLE PRECISION NOT NULL,
			azimuth DOUBLE PRECISION NOT NULL DEFAULT 0,
			elevation DOUBLE PRECISION NOT NULL DEFAULT 0,
			right_ascension DOUBLE PRECISION NOT NULL DEFAULT 0,
			declination DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (external_id, timestamp)
		);

		CREATE TABLE IF NOT EXISTS system_stats (
			time TIMESTAMPTZ NOT NULL,
			fetches BIGINT NOT NULL,
			fetch_failures BIGINT NOT NULL,
			derived_points BIGINT NOT NULL,
			stored_points BIGINT NOT NULL,
			invalid_windows BIGINT NOT NULL,
			published_bundles BIGINT NOT NULL,
			publish_failures BIGINT NOT NULL,
			forwarded_messages BIGINT NOT NULL,
			dropped_messages BIGINT NOT NULL,
			clamped_points BIGINT NOT NULL,
			active_sessions BIGINT NOT NULL,
			uptime_seconds BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_system_stats_time ON system_stats (time DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS system_stats;
		DROP TABLE IF EXISTS trajectory_data;
		DROP TABLE IF EXISTS satellite_reference;
	`,
	CreatedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
}
