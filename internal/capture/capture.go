// Package capture accepts tracker TCP connections, feeds their bytes to the
// Arnavi decoder and writes acknowledgments back on the same socket.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/saviobatista/arnavi-gateway/internal/parser"
	"github.com/saviobatista/arnavi-gateway/internal/registry"
	"github.com/saviobatista/arnavi-gateway/internal/stats"
	"github.com/saviobatista/arnavi-gateway/internal/types"
)

const (
	defaultReadTimeout  = 5 * time.Minute
	defaultWriteTimeout = 10 * time.Second
	defaultMaxBuffer    = 64 * 1024
	defaultQueueSize    = 1000
	readChunkSize       = 4096
)

// Presence records which devices are connected
type Presence interface {
	SetDeviceOnline(ctx context.Context, identifier, remote string) error
}

// Options tunes a Server. Zero values select defaults.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBuffer    int
	QueueSize    int
	Stats        *stats.Stats
	Presence     Presence
}

// Server is the device-facing TCP listener
type Server struct {
	addr     string
	resolver registry.Resolver
	logger   zerolog.Logger
	opts     Options
	stats    *stats.Stats

	listener  net.Listener
	positions chan types.PositionBatch
	frames    chan types.RawFrame
	conns     map[string]net.Conn
	closed    bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopChan  chan struct{}
	stopOnce  sync.Once
	mu        sync.Mutex
}

// New creates a Server listening on addr once started
func New(addr string, resolver registry.Resolver, logger zerolog.Logger, opts Options) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.MaxBuffer <= 0 {
		opts.MaxBuffer = defaultMaxBuffer
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	st := opts.Stats
	if st == nil {
		st = stats.New(logger)
	}

	return &Server{
		addr:      addr,
		resolver:  resolver,
		logger:    logger,
		opts:      opts,
		stats:     st,
		positions: make(chan types.PositionBatch, opts.QueueSize),
		frames:    make(chan types.RawFrame, opts.QueueSize),
		conns:     make(map[string]net.Conn),
		stopChan:  make(chan struct{}),
	}
}

// Start begins accepting connections
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening for devices")

	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)
	return nil
}

// Stop closes the listener and every connection, then closes the output channels
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)

		s.mu.Lock()
		s.closed = true
		if s.cancel != nil {
			s.cancel()
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
		for _, conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
		close(s.positions)
		close(s.frames)
	})
}

// Positions returns the channel of decoded position batches
func (s *Server) Positions() <-chan types.PositionBatch {
	return s.positions
}

// Frames returns the channel of consumed raw frames
func (s *Server) Frames() <-chan types.RawFrame {
	return s.frames
}

// Addr returns the listening address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stats returns the server statistics
func (s *Server) Stats() *stats.Stats {
	return s.stats
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("failed to accept connection")
			time.Sleep(100 * time.Millisecond)
			continue
		}

		id := uuid.NewString()
		if !s.track(id, conn) {
			_ = conn.Close()
			return
		}
		s.configureTCPKeepalive(conn)

		s.wg.Add(1)
		go s.handleConnection(ctx, id, conn)
	}
}

// track registers conn so Stop can close it. It fails once Stop has begun.
func (s *Server) track(id string, conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[id] = conn
	return true
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

// configureTCPKeepalive configures TCP keepalive settings
func (s *Server) configureTCPKeepalive(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	remote := conn.RemoteAddr().String()
	if err := tcpConn.SetKeepAlive(true); err != nil {
		s.logger.Warn().Err(err).Str("remote", remote).Msg("failed to set keepalive")
	}
	if err := tcpConn.SetKeepAlivePeriod(30 * time.Second); err != nil {
		s.logger.Warn().Err(err).Str("remote", remote).Msg("failed to set keepalive period")
	}
	if err := tcpConn.SetNoDelay(true); err != nil {
		s.logger.Warn().Err(err).Str("remote", remote).Msg("failed to set no delay")
	}
}

func (s *Server) handleConnection(ctx context.Context, id string, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	logger := s.logger.With().Str("conn", id).Str("remote", remote).Logger()
	sess := &connSession{resolver: s.resolver}
	dec := parser.NewDecoder(sess, logger)
	out := &connWriter{conn: conn, timeout: s.opts.WriteTimeout}

	s.stats.ConnectionOpened()
	logger.Debug().Msg("device connected")

	defer func() {
		_ = conn.Close()
		s.untrack(id)
		s.stats.ConnectionClosed()
		if ident := sess.identifier(); ident != "" {
			s.setPresence(ident, "")
		}
		logger.Debug().Msg("device disconnected")
		s.wg.Done()
	}()

	chunk := make([]byte, min(readChunkSize, s.opts.MaxBuffer))
	var pending []byte

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil {
			logger.Warn().Err(err).Msg("failed to set read deadline")
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			s.stats.UpdateLastFrameTime()
			pending = append(pending, chunk[:n]...)
			if len(pending) > s.opts.MaxBuffer {
				logger.Warn().Int("bytes", len(pending)).Msg("pending buffer over limit, discarding")
				s.stats.IncrementRejectedFrames()
				pending = pending[:0]
				continue
			}
			var ok bool
			if pending, ok = s.process(ctx, logger, dec, sess, out, remote, pending); !ok {
				return
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				logger.Info().Dur("timeout", s.opts.ReadTimeout).Msg("closing idle connection")
			}
			return
		}
	}
}

// process decodes the complete frames at the head of pending and returns the
// bytes to keep for the next read. A frame still missing bytes is kept whole,
// so nothing is acknowledged before it can be decoded. It reports false when
// the server is stopping.
func (s *Server) process(ctx context.Context, logger zerolog.Logger, dec *parser.Decoder, sess *connSession, out parser.Responder, remote string, pending []byte) ([]byte, bool) {
	for len(pending) > 0 {
		n, framed := parser.FrameLength(pending)
		if framed && n == 0 {
			s.stats.IncrementIncompleteFrames()
			return pending, true
		}
		frame := pending
		if framed {
			frame = pending[:n]
		}

		start := time.Now()
		res, err := dec.Decode(ctx, frame, out)
		s.stats.AddProcessingTime(time.Since(start))

		switch {
		case errors.Is(err, parser.ErrIncomplete):
			s.stats.IncrementIncompleteFrames()
			return pending, true
		case errors.Is(err, parser.ErrNoSession):
			s.stats.IncrementTotalFrames()
			s.stats.IncrementRejectedFrames()
			logger.Warn().Int("bytes", len(frame)).Msg("data frame without identified device, discarding")
			if framed {
				pending = pending[n:]
				continue
			}
			return pending[:0], true
		case err != nil:
			logger.Error().Err(err).Msg("decode failed")
			return pending[:0], true
		}

		if res.Consumed == 0 {
			s.stats.IncrementRejectedFrames()
			logger.Debug().Hex("data", pending).Msg("unrecognised bytes, discarding")
			return pending[:0], true
		}

		s.stats.IncrementTotalFrames()
		s.stats.AddAcks(res.Acks)
		if !s.emitFrame(sess, remote, pending[:res.Consumed]) {
			return nil, false
		}

		if res.Handshake != nil {
			s.stats.IncrementHandshakeFrames()
			if res.Device == nil {
				s.stats.IncrementRejectedFrames()
				logger.Warn().Str("identifier", res.Handshake.Identifier).Msg("unknown device")
			} else {
				logger.Info().
					Str("identifier", res.Device.Identifier).
					Int64("device_id", res.Device.ID).
					Uint8("version", res.Handshake.Version).
					Msg("device identified")
				s.setPresence(res.Device.Identifier, remote)
			}
		} else {
			s.stats.IncrementDataFrames()
			s.stats.AddDecodedPositions(len(res.Positions))
			s.stats.AddDroppedPositions(res.Dropped)
			s.stats.AddPacketTypes(res.PacketTypes)
		}

		if res.Positions != nil {
			if !s.emitPositions(sess, remote, res.Positions) {
				return nil, false
			}
		}

		pending = pending[res.Consumed:]
		if res.Truncated {
			logger.Debug().Int("bytes", len(pending)).Msg("truncated frame, discarding remainder")
			return pending[:0], true
		}
	}
	return pending, true
}

func (s *Server) emitFrame(sess *connSession, remote string, data []byte) bool {
	frame := types.RawFrame{
		Data:       append([]byte(nil), data...),
		Timestamp:  time.Now().UTC(),
		Remote:     remote,
		Identifier: sess.identifier(),
	}
	select {
	case s.frames <- frame:
		return true
	case <-s.stopChan:
		return false
	}
}

func (s *Server) emitPositions(sess *connSession, remote string, positions []*types.Position) bool {
	for _, p := range positions {
		p.ID = uuid.NewString()
	}
	batch := types.PositionBatch{
		Identifier: sess.identifier(),
		Remote:     remote,
		ReceivedAt: time.Now().UTC(),
		Positions:  positions,
	}
	select {
	case s.positions <- batch:
		return true
	case <-s.stopChan:
		return false
	}
}

func (s *Server) setPresence(identifier, remote string) {
	if s.opts.Presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.opts.Presence.SetDeviceOnline(ctx, identifier, remote); err != nil {
		s.logger.Warn().Err(err).Str("identifier", identifier).Msg("failed to update device presence")
	}
}
