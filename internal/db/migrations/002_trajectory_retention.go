package migrations

import "time"

// TrajectoryRetention adds the time index used by history reads and a pruning
// function for old trajectory and statistics rows
var TrajectoryRetention = &Migration{
	ID:   "002_trajectory_retention",
	Name: "002_trajectory_retention",
	UpSQL: `
	CREATE INDEX IF NOT EXISTS idx_trajectory_data_timestamp ON trajectory_data (timestamp DESC);

	CREATE OR REPLACE FUNCTION prune_trajectory_data(trajectory_retention INTERVAL, stats_retention INTERVAL)
	RETURNS BIGINT AS $$
	DECLARE
		removed BIGINT;
	BEGIN
		DELETE FROM trajectory_data WHERE timestamp < NOW() - trajectory_retention;
		GET DIAGNOSTICS removed = ROW_COUNT;
		DELETE FROM system_stats WHERE time < NOW() - stats_retention;
		RETURN removed;
	END;
	$$ LANGUAGE plpgsql;

	CREATE OR REPLACE VIEW system_stats_daily AS
	SELECT
		date_trunc('day', time) AS day,
		MAX(fetches) AS fetches,
		MAX(fetch_failures) AS fetch_failures,
		MAX(stored_points) AS stored_points,
		MAX(published_bundles) AS published_bundles,
		MAX(forwarded_messages) AS forwarded_messages
	FROM system_stats
	GROUP BY day;
	`,
	DownSQL: `
	DROP VIEW IF EXISTS system_stats_daily;
	DROP FUNCTION IF EXISTS prune_trajectory_data(INTERVAL, INTERVAL);
	DROP INDEX IF EXISTS idx_trajectory_data_timestamp;
	`,
	CreatedAt: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
}
