package testutils

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/saviobatista/arnavi-gateway/internal/types"
)

// Wire constants duplicated here so test builders do not depend on the
// package they exercise.
const (
	handshakeStart byte = 0xFF
	packetStart    byte = 0x5B
	packetEnd      byte = 0x5D
	recordType     byte = 0x01
)

// Handshake builds a device identification frame
func Handshake(version byte, identifier uint64) []byte {
	buf := make([]byte, 10)
	buf[0] = handshakeStart
	buf[1] = version
	binary.LittleEndian.PutUint64(buf[2:], identifier)
	return buf
}

// Tag builds one tag record: tag byte, little-endian value, then any extra bytes
func Tag(tag byte, raw uint32, extra ...byte) []byte {
	buf := make([]byte, 5, 5+len(extra))
	buf[0] = tag
	binary.LittleEndian.PutUint32(buf[1:], raw)
	return append(buf, extra...)
}

// Coordinate builds a latitude (3) or longitude (4) tag holding f as float32 bits
func Coordinate(tag byte, f float32) []byte {
	return Tag(tag, math.Float32bits(f))
}

// InnerPacket builds a typed inner packet with its trailing checksum byte
func InnerPacket(packetType byte, timestamp uint32, payload []byte) []byte {
	buf := make([]byte, 7, 7+len(payload)+1)
	buf[0] = packetType
	binary.LittleEndian.PutUint16(buf[1:], uint16(len(payload)))
	binary.LittleEndian.PutUint32(buf[3:], timestamp)
	buf = append(buf, payload...)

	var sum byte
	for _, b := range payload {
		sum += b
	}
	return append(buf, sum)
}

// RecordPacket builds a position data inner packet from tag records
func RecordPacket(timestamp uint32, tags ...[]byte) []byte {
	return InnerPacket(recordType, timestamp, Concat(tags...))
}

// SubPacket wraps inner packets between the sub-packet start and end markers
func SubPacket(index byte, inner ...[]byte) []byte {
	buf := []byte{packetStart, index}
	buf = append(buf, Concat(inner...)...)
	return append(buf, packetEnd)
}

// Concat joins byte slices into a new slice
func Concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	buf := make([]byte, 0, n)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

// MockRawFrame creates a raw frame for testing
func MockRawFrame(identifier string, data []byte) *types.RawFrame {
	return &types.RawFrame{
		Data:       data,
		Timestamp:  time.Now().UTC(),
		Remote:     "127.0.0.1:40000",
		Identifier: identifier,
	}
}

// MockPosition creates a decoded position with a fix for testing
func MockPosition(deviceID int64, identifier string, lat, lon float64) *types.Position {
	p := types.NewPosition(&types.Device{ID: deviceID, Identifier: identifier}, time.Now().UTC().Truncate(time.Second))
	p.ID = fmt.Sprintf("pos-%d-%s", deviceID, identifier)
	p.Valid = true
	p.Latitude = lat
	p.Longitude = lon
	p.Speed = 12
	p.Satellites = 9
	p.Attributes.Set(types.KeyPower, types.Number(12.6))
	return p
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
