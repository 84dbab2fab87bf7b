package nats

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/saviobatista/arnavi-gateway/internal/types"
)

const (
	StreamName       = "ARNAVI"
	SubjectRaw       = "arnavi.raw"
	SubjectPositions = "arnavi.positions"

	// HeaderIdentifier carries the device identifier of a published message
	HeaderIdentifier = "Arnavi-Identifier"
)

var errNotConnected = errors.New("nats client not connected")

// Client represents a NATS client
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger zerolog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// New connects to NATS and makes sure the ARNAVI stream exists
func New(url string, logger zerolog.Logger) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("arnavi-gateway"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectRaw, SubjectPositions},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{
		conn:   nc,
		js:     js,
		logger: logger,
	}, nil
}

// PublishRawFrame publishes bytes consumed from a device connection
func (c *Client) PublishRawFrame(frame *types.RawFrame) error {
	return c.publish(SubjectRaw, frame.Identifier, frame)
}

// PublishPositions publishes a batch of decoded positions
func (c *Client) PublishPositions(batch *types.PositionBatch) error {
	return c.publish(SubjectPositions, batch.Identifier, batch)
}

func (c *Client) publish(subject, identifier string, v interface{}) error {
	if c.js == nil {
		return errNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	if identifier != "" {
		msg.Header.Set(HeaderIdentifier, identifier)
	}

	if _, err := c.js.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// SubscribeRawFrames subscribes to raw device frames
func (c *Client) SubscribeRawFrames(handler func(*types.RawFrame), opts ...nats.SubOpt) error {
	return c.subscribe(SubjectRaw, rawFrameHandler(c.logger, handler), opts)
}

// SubscribePositions subscribes to decoded position batches
func (c *Client) SubscribePositions(handler func(*types.PositionBatch), opts ...nats.SubOpt) error {
	return c.subscribe(SubjectPositions, positionsHandler(c.logger, handler), opts)
}

func (c *Client) subscribe(subject string, handler nats.MsgHandler, opts []nats.SubOpt) error {
	if c.js == nil {
		return errNotConnected
	}

	sub, err := c.js.Subscribe(subject, handler, opts...)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

func rawFrameHandler(logger zerolog.Logger, handler func(*types.RawFrame)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var frame types.RawFrame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			logger.Error().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal raw frame")
			return
		}
		handler(&frame)
	}
}

func positionsHandler(logger zerolog.Logger, handler func(*types.PositionBatch)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var batch types.PositionBatch
		if err := json.Unmarshal(msg.Data, &batch); err != nil {
			logger.Error().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal position batch")
			return
		}
		handler(&batch)
	}
}

// Close unsubscribes every subscription and closes the NATS connection
func (c *Client) Close() {
	c.mu.Lock()
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Debug().Err(err).Str("subject", sub.Subject).Msg("failed to unsubscribe")
		}
	}
	c.subs = nil
	c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}
}
