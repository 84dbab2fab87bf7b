package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/saviobatista/arnavi-gateway/internal/config"
	"github.com/saviobatista/arnavi-gateway/internal/logging"
	"github.com/saviobatista/arnavi-gateway/internal/nats"
	"github.com/saviobatista/arnavi-gateway/internal/storage"
	"github.com/saviobatista/arnavi-gateway/internal/types"
)

const durableConsumer = "logger"

// FrameSubscriber delivers raw frames from the message bus
type FrameSubscriber interface {
	SubscribeRawFrames(handler func(*types.RawFrame), opts ...natsgo.SubOpt) error
	Close()
}

// FrameWriter archives raw frames
type FrameWriter interface {
	WriteFrame(frame *types.RawFrame) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("logger", cfg.LogLevel, cfg.LogFormat)
	if err := runLogger(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("logger failed")
		os.Exit(1)
	}
}

// runLogger contains the main application logic and can be tested
func runLogger(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := nats.New(cfg.NATSURL, logger)
	if err != nil {
		return fmt.Errorf("failed to create NATS client: %w", err)
	}

	archive := storage.New(cfg.OutputDir, logger)
	if err := archive.Start(); err != nil {
		client.Close()
		return fmt.Errorf("failed to start storage: %w", err)
	}

	if err := subscribe(client, archive, logger); err != nil {
		client.Close()
		_ = archive.Stop()
		return err
	}
	logger.Info().Str("dir", cfg.OutputDir).Msg("archiving raw frames")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	// stop deliveries before closing the file they are written to
	client.Close()
	return archive.Stop()
}

// subscribe archives every raw frame delivered by sub
func subscribe(sub FrameSubscriber, w FrameWriter, logger zerolog.Logger) error {
	err := sub.SubscribeRawFrames(func(frame *types.RawFrame) {
		if err := w.WriteFrame(frame); err != nil {
			logger.Error().Err(err).Str("remote", frame.Remote).Msg("failed to write frame")
		}
	}, natsgo.Durable(durableConsumer))
	if err != nil {
		return fmt.Errorf("failed to subscribe to raw frames: %w", err)
	}
	return nil
}
