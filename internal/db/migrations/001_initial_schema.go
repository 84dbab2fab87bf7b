package migrations

// InitialSchema creates devices, positions and system_stats
var InitialSchema = &Migration{
	Name: "001_initial_schema",
	UpSQL: `
		CREATE EXTENSION IF NOT EXISTS timescaledb;

		CREATE TABLE IF NOT EXISTS devices (
			id BIGSERIAL PRIMARY KEY,
			identifier TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS positions (
			time TIMESTAMPTZ NOT NULL,
			id UUID NOT NULL,
			device_id BIGINT NOT NULL REFERENCES devices (id),
			protocol TEXT NOT NULL,
			valid BOOLEAN NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			speed DOUBLE PRECISION NOT NULL,
			course DOUBLE PRECISION NOT NULL,
			altitude DOUBLE PRECISION NOT NULL,
			satellites INTEGER NOT NULL,
			attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		SELECT create_hypertable('positions', 'time');

		CREATE INDEX IF NOT EXISTS idx_positions_device_time ON positions (device_id, time DESC);

		CREATE TABLE IF NOT EXISTS system_stats (
			time TIMESTAMPTZ NOT NULL,
			service TEXT NOT NULL DEFAULT '',
			total_frames BIGINT NOT NULL,
			handshake_frames BIGINT NOT NULL,
			data_frames BIGINT NOT NULL,
			incomplete_frames BIGINT NOT NULL,
			rejected_frames BIGINT NOT NULL,
			decoded_positions BIGINT NOT NULL,
			dropped_positions BIGINT NOT NULL,
			stored_positions BIGINT NOT NULL,
			failed_positions BIGINT NOT NULL,
			acks_sent BIGINT NOT NULL,
			active_connections BIGINT NOT NULL,
			active_devices BIGINT NOT NULL,
			packet_types BIGINT[] NOT NULL,
			processing_time_ms BIGINT NOT NULL,
			uptime_seconds BIGINT NOT NULL
		);

		SELECT create_hypertable('system_stats', 'time');

		CREATE INDEX IF NOT EXISTS idx_system_stats_time ON system_stats (time DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS system_stats;
		DROP TABLE IF EXISTS positions;
		DROP TABLE IF EXISTS devices;
	`,
}
