package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/saviobatista/arnavi-gateway/internal/types"
)

// Client wraps the Postgres connection pool
type Client struct {
	db *sql.DB
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Client{db: db}, nil
}

// NewWithDB wraps an existing connection pool
func NewWithDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// DB returns the underlying connection pool
func (c *Client) DB() *sql.DB {
	return c.db
}

// Ping verifies the database is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// GetDevice looks a device up by identifier. It returns nil when the
// device is not registered.
func (c *Client) GetDevice(ctx context.Context, identifier string) (*types.Device, error) {
	var d types.Device
	err := c.db.QueryRowContext(ctx,
		`SELECT id, identifier, name, created_at FROM devices WHERE identifier = $1`,
		identifier,
	).Scan(&d.ID, &d.Identifier, &d.Name, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device %s: %w", identifier, err)
	}
	return &d, nil
}

// ListDevices returns every registered device
func (c *Client) ListDevices(ctx context.Context) ([]*types.Device, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, identifier, name, created_at FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*types.Device
	for rows.Next() {
		var d types.Device
		if err := rows.Scan(&d.ID, &d.Identifier, &d.Name, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, &d)
	}
	return devices, rows.Err()
}

// CreateDevice registers a device. Registering an existing identifier
// returns the stored row unchanged.
func (c *Client) CreateDevice(ctx context.Context, identifier, name string) (*types.Device, error) {
	query := `
		INSERT INTO devices (identifier, name)
		VALUES ($1, $2)
		ON CONFLICT (identifier) DO UPDATE SET identifier = EXCLUDED.identifier
		RETURNING id, identifier, name, created_at
	`
	var d types.Device
	if err := c.db.QueryRowContext(ctx, query, identifier, name).
		Scan(&d.ID, &d.Identifier, &d.Name, &d.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create device %s: %w", identifier, err)
	}
	return &d, nil
}

// StorePosition inserts one decoded position
func (c *Client) StorePosition(ctx context.Context, p *types.Position) error {
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	query := `
		INSERT INTO positions (
			time, id, device_id, protocol, valid,
			latitude, longitude, speed, course, altitude,
			satellites, attributes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = c.db.ExecContext(ctx, query,
		p.Time, p.ID, p.DeviceID, p.Protocol, p.Valid,
		p.Latitude, p.Longitude, p.Speed, p.Course, p.Altitude,
		p.Satellites, attrs,
	)
	if err != nil {
		return fmt.Errorf("failed to store position %s: %w", p.ID, err)
	}
	return nil
}

// SystemStats is one row of the system_stats table
type SystemStats struct {
	Time              time.Time
	Service           string
	TotalFrames       uint64
	HandshakeFrames   uint64
	DataFrames        uint64
	IncompleteFrames  uint64
	RejectedFrames    uint64
	DecodedPositions  uint64
	DroppedPositions  uint64
	StoredPositions   uint64
	FailedPositions   uint64
	AcksSent          uint64
	ActiveConnections uint64
	ActiveDevices     uint64
	PacketTypes       []uint64
	ProcessingTime    time.Duration
	Uptime            time.Duration
}

// StoreSystemStats stores a statistics snapshot
func (c *Client) StoreSystemStats(ctx context.Context, s SystemStats) error {
	query := `
		INSERT INTO system_stats (
			time, total_frames, handshake_frames, data_frames,
			incomplete_frames, rejected_frames, decoded_positions,
			dropped_positions, stored_positions, failed_positions,
			acks_sent, active_connections, active_devices, packet_types,
			processing_time_ms, uptime_seconds, service
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
	`

	packetTypes := make([]int64, len(s.PacketTypes))
	for i, v := range s.PacketTypes {
		packetTypes[i] = int64(v)
	}

	_, err := c.db.ExecContext(ctx, query,
		s.Time,
		int64(s.TotalFrames),
		int64(s.HandshakeFrames),
		int64(s.DataFrames),
		int64(s.IncompleteFrames),
		int64(s.RejectedFrames),
		int64(s.DecodedPositions),
		int64(s.DroppedPositions),
		int64(s.StoredPositions),
		int64(s.FailedPositions),
		int64(s.AcksSent),
		int64(s.ActiveConnections),
		int64(s.ActiveDevices),
		pq.Array(packetTypes),
		s.ProcessingTime.Milliseconds(),
		int64(s.Uptime.Seconds()),
		s.Service,
	)
	if err != nil {
		return fmt.Errorf("failed to store system stats: %w", err)
	}
	return nil
}
