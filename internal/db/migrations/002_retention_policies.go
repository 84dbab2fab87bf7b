package migrations

// RetentionPolicies expires old rows and adds an hourly position rollup
var RetentionPolicies = &Migration{
	Name: "002_retention_policies",
	UpSQL: `
	SELECT add_retention_policy('positions', INTERVAL '90 days');
	SELECT add_retention_policy('system_stats', INTERVAL '90 days');

	CREATE MATERIALIZED VIEW IF NOT EXISTS positions_hourly
	WITH (timescaledb.continuous) AS
	SELECT
		time_bucket('1 hour', time) AS hour,
		device_id,
		COUNT(*) AS position_count,
		MAX(speed) AS max_speed,
		AVG(satellites) AS avg_satellites
	FROM positions
	GROUP BY hour, device_id
	WITH NO DATA;

	CREATE MATERIALIZED VIEW IF NOT EXISTS system_stats_daily
	WITH (timescaledb.continuous) AS
	SELECT
		time_bucket('1 day', time) AS day,
		service,
		MAX(total_frames) AS total_frames,
		MAX(decoded_positions) AS decoded_positions,
		MAX(stored_positions) AS stored_positions,
		MAX(failed_positions) AS failed_positions
	FROM system_stats
	GROUP BY day, service
	WITH NO DATA;
	`,
	DownSQL: `
	DROP MATERIALIZED VIEW IF EXISTS system_stats_daily;
	DROP MATERIALIZED VIEW IF EXISTS positions_hourly;
	SELECT remove_retention_policy('positions');
	SELECT remove_retention_policy('system_stats');
	`,
}
