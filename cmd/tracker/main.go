package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/saviobatista/arnavi-gateway/internal/config"
	"github.com/saviobatista/arnavi-gateway/internal/db"
	"github.com/saviobatista/arnavi-gateway/internal/logging"
	"github.com/saviobatista/arnavi-gateway/internal/nats"
	"github.com/saviobatista/arnavi-gateway/internal/redis"
	"github.com/saviobatista/arnavi-gateway/internal/stats"
	"github.com/saviobatista/arnavi-gateway/internal/types"
)

const (
	// activeWindow is how recently a device must have reported to count as active
	activeWindow     = 10 * time.Minute
	durableConsumer  = "tracker"
	statsLogInterval = time.Minute
	statsInterval    = 5 * time.Minute
)

// DBClient interface for testability
type DBClient interface {
	ListDevices(ctx context.Context) ([]*types.Device, error)
	StorePosition(ctx context.Context, p *types.Position) error
	Close() error
}

// RedisClient interface for testability
type RedisClient interface {
	StoreDevice(ctx context.Context, device *types.Device) error
	UpdateLastPosition(ctx context.Context, position *types.Position) (bool, error)
	Close() error
}

// PositionTracker persists decoded positions and keeps the last known
// position of every device in the cache
type PositionTracker struct {
	db     DBClient
	redis  RedisClient
	stats  *stats.Stats
	logger zerolog.Logger

	mu       sync.Mutex
	lastSeen map[int64]time.Time
}

// NewPositionTracker creates a new position tracker
func NewPositionTracker(db DBClient, redis RedisClient, logger zerolog.Logger) *PositionTracker {
	st := stats.New(logger)
	st.SetService("tracker")
	return &PositionTracker{
		db:       db,
		redis:    redis,
		stats:    st,
		logger:   logger,
		lastSeen: make(map[int64]time.Time),
	}
}

// Start warms the device cache and starts statistics logging and persistence
func (t *PositionTracker) Start(ctx context.Context) error {
	devices, err := t.db.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to load devices: %w", err)
	}

	for _, device := range devices {
		if err := t.redis.StoreDevice(ctx, device); err != nil {
			t.logger.Warn().Err(err).Str("identifier", device.Identifier).Msg("failed to cache device")
		}
	}
	t.logger.Info().Int("devices", len(devices)).Msg("device cache warmed")

	if store, ok := t.db.(stats.Store); ok {
		t.stats.SetStore(store)
		go t.stats.StartPersistence(ctx, statsInterval)
	}
	go t.stats.StartLogging(ctx, statsLogInterval)

	return nil
}

// ProcessBatch stores every position of batch and refreshes the cached last
// position once per device. Positions that fail to store are counted and
// reported together.
func (t *PositionTracker) ProcessBatch(ctx context.Context, batch *types.PositionBatch) error {
	start := time.Now()
	defer func() { t.stats.AddProcessingTime(time.Since(start)) }()

	var errs []error
	latest := make(map[int64]*types.Position)

	for _, p := range batch.Positions {
		if p == nil {
			continue
		}
		if err := t.db.StorePosition(ctx, p); err != nil {
			t.stats.IncrementFailedPositions()
			errs = append(errs, fmt.Errorf("position %s: %w", p.ID, err))
			continue
		}
		t.stats.IncrementStoredPositions()

		if cur, ok := latest[p.DeviceID]; !ok || p.Time.After(cur.Time) {
			latest[p.DeviceID] = p
		}
	}

	for _, p := range latest {
		updated, err := t.redis.UpdateLastPosition(ctx, p)
		if err != nil {
			t.logger.Warn().Err(err).Int64("device_id", p.DeviceID).Msg("failed to update last position")
			continue
		}
		if !updated {
			t.logger.Debug().Int64("device_id", p.DeviceID).Time("time", p.Time).Msg("cached position is newer")
		}
	}

	t.markSeen(latest, batch.ReceivedAt)

	if len(errs) > 0 {
		return fmt.Errorf("failed to store %d of %d positions: %w", len(errs), len(batch.Positions), errors.Join(errs...))
	}
	return nil
}

// markSeen records device activity and refreshes the active devices gauge
func (t *PositionTracker) markSeen(latest map[int64]*types.Position, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for id := range latest {
		t.lastSeen[id] = at
	}
	cutoff := time.Now().Add(-activeWindow)
	for id, seen := range t.lastSeen {
		if seen.Before(cutoff) {
			delete(t.lastSeen, id)
		}
	}
	t.stats.SetActiveDevices(uint64(len(t.lastSeen)))
}

// Stats returns the tracker statistics
func (t *PositionTracker) Stats() *stats.Stats {
	return t.stats
}

// createClients creates all the required clients for the application
func createClients(cfg *config.Config, logger zerolog.Logger) (*nats.Client, *db.Client, *redis.Client, error) {
	natsClient, err := nats.New(cfg.NATSURL, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create NATS client: %w", err)
	}

	dbClient, err := db.New(cfg.DBConnStr)
	if err != nil {
		natsClient.Close()
		return nil, nil, nil, fmt.Errorf("failed to create database client: %w", err)
	}

	redisClient, err := redis.New(cfg.RedisAddr)
	if err != nil {
		natsClient.Close()
		if closeErr := dbClient.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).Msg("error closing database client")
		}
		return nil, nil, nil, fmt.Errorf("failed to create Redis client: %w", err)
	}

	return natsClient, dbClient, redisClient, nil
}

// setupNATSSubscription subscribes the tracker to decoded positions through a
// durable consumer, so batches published while the tracker is down are
// delivered on restart
func setupNATSSubscription(ctx context.Context, natsClient *nats.Client, tracker *PositionTracker, logger zerolog.Logger) error {
	err := natsClient.SubscribePositions(func(batch *types.PositionBatch) {
		if err := tracker.ProcessBatch(ctx, batch); err != nil {
			logger.Error().Err(err).Str("identifier", batch.Identifier).Msg("failed to process batch")
		}
	}, natsgo.Durable(durableConsumer))
	if err != nil {
		return fmt.Errorf("failed to subscribe to positions: %w", err)
	}
	return nil
}

func closeClients(natsClient *nats.Client, dbClient *db.Client, redisClient *redis.Client, logger zerolog.Logger) {
	natsClient.Close()
	if err := dbClient.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing database client")
	}
	if err := redisClient.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing Redis client")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	natsClient, dbClient, redisClient, err := createClients(cfg, logger)
	if err != nil {
		return err
	}
	defer closeClients(natsClient, dbClient, redisClient, logger)

	tracker := NewPositionTracker(dbClient, redisClient, logger)
	if err := tracker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start position tracker: %w", err)
	}

	if err := setupNATSSubscription(ctx, natsClient, tracker, logger); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("tracker", cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("tracker failed")
		os.Exit(1)
	}
}
