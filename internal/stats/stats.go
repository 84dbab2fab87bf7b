package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/saviobatista/arnavi-gateway/internal/db"
)

// PacketTypeSlots is the number of inner packet types counted individually
const PacketTypeSlots = 16

// ErrNoStore is returned by Persist when no store was set
var ErrNoStore = errors.New("statistics store not set")

// Store persists statistics snapshots
type Store interface {
	StoreSystemStats(ctx context.Context, s db.SystemStats) error
}

// Stats tracks frame and position processing statistics
type Stats struct {
	// Frame counts
	TotalFrames      uint64
	HandshakeFrames  uint64
	DataFrames       uint64
	IncompleteFrames uint64
	RejectedFrames   uint64

	// Position counts
	DecodedPositions uint64
	DroppedPositions uint64
	StoredPositions  uint64
	FailedPositions  uint64
	AcksSent         uint64

	// Inner packet counts by type
	PacketTypeCounts [PacketTypeSlots]uint64

	ActiveConnections int64
	ActiveDevices     uint64

	startedAt      time.Time
	lastFrameTime  time.Time
	processingTime time.Duration

	service string
	store   Store
	logger  zerolog.Logger

	mu sync.RWMutex
}

// New creates a new Stats instance
func New(logger zerolog.Logger) *Stats {
	now := time.Now()
	return &Stats{
		startedAt:     now,
		lastFrameTime: now,
		logger:        logger,
	}
}

// SetService names the process the statistics belong to
func (s *Stats) SetService(name string) {
	s.mu.Lock()
	s.service = name
	s.mu.Unlock()
}

// SetStore sets the persistence target
func (s *Stats) SetStore(store Store) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
}

func (s *Stats) IncrementTotalFrames()      { atomic.AddUint64(&s.TotalFrames, 1) }
func (s *Stats) IncrementHandshakeFrames()  { atomic.AddUint64(&s.HandshakeFrames, 1) }
func (s *Stats) IncrementDataFrames()       { atomic.AddUint64(&s.DataFrames, 1) }
func (s *Stats) IncrementIncompleteFrames() { atomic.AddUint64(&s.IncompleteFrames, 1) }
func (s *Stats) IncrementRejectedFrames()   { atomic.AddUint64(&s.RejectedFrames, 1) }
func (s *Stats) IncrementStoredPositions()  { atomic.AddUint64(&s.StoredPositions, 1) }
func (s *Stats) IncrementFailedPositions()  { atomic.AddUint64(&s.FailedPositions, 1) }

// AddDecodedPositions adds to the decoded positions counter
func (s *Stats) AddDecodedPositions(n int) {
	if n > 0 {
		atomic.AddUint64(&s.DecodedPositions, uint64(n))
	}
}

// AddDroppedPositions adds to the counter of records dropped for lack of a fix
func (s *Stats) AddDroppedPositions(n int) {
	if n > 0 {
		atomic.AddUint64(&s.DroppedPositions, uint64(n))
	}
}

// AddAcks adds to the acknowledgments counter
func (s *Stats) AddAcks(n int) {
	if n > 0 {
		atomic.AddUint64(&s.AcksSent, uint64(n))
	}
}

// AddPacketTypes adds per-type inner packet counts
func (s *Stats) AddPacketTypes(counts [PacketTypeSlots]int) {
	for i, n := range counts {
		if n > 0 {
			atomic.AddUint64(&s.PacketTypeCounts[i], uint64(n))
		}
	}
}

// ConnectionOpened increments the active connections gauge
func (s *Stats) ConnectionOpened() { atomic.AddInt64(&s.ActiveConnections, 1) }

// ConnectionClosed decrements the active connections gauge
func (s *Stats) ConnectionClosed() { atomic.AddInt64(&s.ActiveConnections, -1) }

// SetActiveDevices sets the number of devices with a recent position
func (s *Stats) SetActiveDevices(count uint64) {
	atomic.StoreUint64(&s.ActiveDevices, count)
}

// UpdateLastFrameTime records the arrival of a frame
func (s *Stats) UpdateLastFrameTime() {
	s.mu.Lock()
	s.lastFrameTime = time.Now()
	s.mu.Unlock()
}

// AddProcessingTime adds to the total processing time
func (s *Stats) AddProcessingTime(d time.Duration) {
	s.mu.Lock()
	s.processingTime += d
	s.mu.Unlock()
}

// Snapshot returns a copy of the current statistics
func (s *Stats) Snapshot() db.SystemStats {
	s.mu.RLock()
	processing := s.processingTime
	started := s.startedAt
	service := s.service
	s.mu.RUnlock()

	counts := make([]uint64, PacketTypeSlots)
	for i := range s.PacketTypeCounts {
		counts[i] = atomic.LoadUint64(&s.PacketTypeCounts[i])
	}

	active := atomic.LoadInt64(&s.ActiveConnections)
	if active < 0 {
		active = 0
	}

	return db.SystemStats{
		Time:              time.Now(),
		Service:           service,
		TotalFrames:       atomic.LoadUint64(&s.TotalFrames),
		HandshakeFrames:   atomic.LoadUint64(&s.HandshakeFrames),
		DataFrames:        atomic.LoadUint64(&s.DataFrames),
		IncompleteFrames:  atomic.LoadUint64(&s.IncompleteFrames),
		RejectedFrames:    atomic.LoadUint64(&s.RejectedFrames),
		DecodedPositions:  atomic.LoadUint64(&s.DecodedPositions),
		DroppedPositions:  atomic.LoadUint64(&s.DroppedPositions),
		StoredPositions:   atomic.LoadUint64(&s.StoredPositions),
		FailedPositions:   atomic.LoadUint64(&s.FailedPositions),
		AcksSent:          atomic.LoadUint64(&s.AcksSent),
		ActiveConnections: uint64(active),
		ActiveDevices:     atomic.LoadUint64(&s.ActiveDevices),
		PacketTypes:       counts,
		ProcessingTime:    processing,
		Uptime:            time.Since(started),
	}
}

// LastFrameTime returns when the last frame was seen
func (s *Stats) LastFrameTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFrameTime
}

// String returns a one-line summary
func (s *Stats) String() string {
	snap := s.Snapshot()
	return fmt.Sprintf(
		"frames=%d handshakes=%d data=%d incomplete=%d rejected=%d "+
			"positions decoded=%d dropped=%d stored=%d failed=%d acks=%d "+
			"connections=%d devices=%d processing=%s uptime=%s",
		snap.TotalFrames, snap.HandshakeFrames, snap.DataFrames, snap.IncompleteFrames, snap.RejectedFrames,
		snap.DecodedPositions, snap.DroppedPositions, snap.StoredPositions, snap.FailedPositions, snap.AcksSent,
		snap.ActiveConnections, snap.ActiveDevices, snap.ProcessingTime, snap.Uptime.Truncate(time.Second),
	)
}

// Log writes the current statistics as one structured entry
func (s *Stats) Log() {
	snap := s.Snapshot()
	s.logger.Info().
		Uint64("frames", snap.TotalFrames).
		Uint64("handshakes", snap.HandshakeFrames).
		Uint64("data_frames", snap.DataFrames).
		Uint64("incomplete", snap.IncompleteFrames).
		Uint64("rejected", snap.RejectedFrames).
		Uint64("decoded", snap.DecodedPositions).
		Uint64("dropped", snap.DroppedPositions).
		Uint64("stored", snap.StoredPositions).
		Uint64("failed", snap.FailedPositions).
		Uint64("acks", snap.AcksSent).
		Uint64("connections", snap.ActiveConnections).
		Uint64("devices", snap.ActiveDevices).
		Dur("uptime", snap.Uptime).
		Msg("statistics")
}

// Persist stores the current statistics
func (s *Stats) Persist(ctx context.Context) error {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		return ErrNoStore
	}
	return store.StoreSystemStats(ctx, s.Snapshot())
}

// StartPersistence persists statistics every interval until ctx is done,
// then once more with a short deadline.
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Persist(final); err != nil {
				s.logger.Error().Err(err).Msg("failed to persist final statistics")
			}
			cancel()
			return
		case <-ticker.C:
			if err := s.Persist(ctx); err != nil {
				s.logger.Error().Err(err).Msg("failed to persist statistics")
			}
		}
	}
}

// StartLogging logs statistics every interval until ctx is done
func (s *Stats) StartLogging(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Log()
		}
	}
}
