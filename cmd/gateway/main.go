package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/saviobatista/arnavi-gateway/internal/capture"
	"github.com/saviobatista/arnavi-gateway/internal/config"
	"github.com/saviobatista/arnavi-gateway/internal/db"
	"github.com/saviobatista/arnavi-gateway/internal/logging"
	"github.com/saviobatista/arnavi-gateway/internal/nats"
	"github.com/saviobatista/arnavi-gateway/internal/redis"
	"github.com/saviobatista/arnavi-gateway/internal/registry"
	"github.com/saviobatista/arnavi-gateway/internal/stats"
	"github.com/saviobatista/arnavi-gateway/internal/types"
)

// Publisher forwards gateway output to the message bus
type Publisher interface {
	PublishRawFrame(frame *types.RawFrame) error
	PublishPositions(batch *types.PositionBatch) error
}

// Source is what the gateway reads decoded output from
type Source interface {
	Positions() <-chan types.PositionBatch
	Frames() <-chan types.RawFrame
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("gateway", cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("gateway failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	natsClient, err := nats.New(cfg.NATSURL, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close()

	backends := connectBackends(cfg, logger)
	defer backends.Close()

	reg, err := buildRegistry(cfg, backends, logger)
	if err != nil {
		return err
	}

	st := stats.New(logger)
	st.SetService("gateway")
	opts := capture.Options{
		ReadTimeout: cfg.ReadTimeout,
		MaxBuffer:   cfg.MaxBuffer,
		Stats:       st,
	}
	if backends.db != nil {
		st.SetStore(backends.db)
		go st.StartPersistence(ctx, 5*time.Minute)
	}
	if backends.redis != nil {
		opts.Presence = backends.redis
	}
	go st.StartLogging(ctx, time.Minute)

	server := capture.New(cfg.ListenAddr, reg, logger, opts)
	if err := server.Start(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		forward(server, natsClient, logger)
		close(done)
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	server.Stop()
	<-done
	return nil
}

// backends holds the optional database and cache connections
type backends struct {
	db    *db.Client
	redis *redis.Client
}

// connectBackends connects to Postgres and Redis. Either may be unavailable;
// the gateway then runs on the remaining registry tiers.
func connectBackends(cfg *config.Config, logger zerolog.Logger) *backends {
	b := &backends{}

	dbClient, err := db.New(cfg.DBConnStr)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = dbClient.Ping(ctx)
		cancel()
		if err != nil {
			_ = dbClient.Close()
		}
	}
	if err != nil {
		logger.Warn().Err(err).Msg("database unavailable, device lookups use the static list and cache only")
	} else {
		b.db = dbClient
	}

	redisClient, err := redis.New(cfg.RedisAddr)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, device cache and presence disabled")
	} else {
		b.redis = redisClient
	}

	return b
}

func (b *backends) Close() {
	if b.db != nil {
		_ = b.db.Close()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
}

// buildRegistry assembles the device registry from the static file and
// whichever backends are connected
func buildRegistry(cfg *config.Config, b *backends, logger zerolog.Logger) (*registry.Registry, error) {
	var static []*types.Device
	if cfg.DevicesFile != "" {
		devices, err := config.LoadDevices(cfg.DevicesFile)
		if err != nil {
			return nil, err
		}
		static = devices
		logger.Info().Int("devices", len(devices)).Str("file", cfg.DevicesFile).Msg("loaded static devices")
	}

	var cache registry.DeviceCache
	var store registry.DeviceStore
	if b != nil && b.redis != nil {
		cache = b.redis
	}
	if b != nil && b.db != nil {
		store = b.db
	}

	if static == nil && store == nil {
		logger.Warn().Msg("no device source configured, every handshake will be rejected")
	}
	if cfg.AutoRegister && store == nil {
		logger.Warn().Msg("AUTO_REGISTER needs a database, devices will not be registered")
	}

	return registry.New(static, cache, store, logger, registry.Options{AutoRegister: cfg.AutoRegister}), nil
}

// forward publishes everything the source emits until both of its
// channels are closed
func forward(src Source, pub Publisher, logger zerolog.Logger) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for frame := range src.Frames() {
			if err := pub.PublishRawFrame(&frame); err != nil {
				logger.Error().Err(err).Str("remote", frame.Remote).Msg("failed to publish raw frame")
			}
		}
	}()

	go func() {
		defer wg.Done()
		for batch := range src.Positions() {
			if err := pub.PublishPositions(&batch); err != nil {
				logger.Error().Err(err).
					Str("identifier", batch.Identifier).
					Int("positions", len(batch.Positions)).
					Msg("failed to publish positions")
			}
		}
	}()

	wg.Wait()
}
