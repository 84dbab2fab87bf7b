// Package parser decodes the Arnavi binary tracker protocol: the handshake
// frame that identifies a device and the data frames made of sub-packets,
// each holding typed inner packets. Position data inner packets are decoded
// tag by tag into types.Position records.
//
// Decoding is stateless: every call parses one buffer start to finish and
// reports how many bytes it consumed. Malformed or short input never fails
// the call; parsing stops and whatever was assembled so far is returned.
package parser

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/saviobatista/arnavi-gateway/internal/types"
)

// Frame markers and versions
const (
	HeaderStart    byte = 0xFF
	HeaderVersion1 byte = 0x22
	HeaderVersion2 byte = 0x23

	PacketStart byte = 0x5B
	PacketEnd   byte = 0x5D

	// PacketTypeRecord marks an inner packet holding position data.
	// Every other inner packet type is skipped by its declared length.
	PacketTypeRecord byte = 0x01
)

const (
	handshakeLength   = 10
	innerHeaderLength = 7
	packetTypeSlots   = 16
)

var (
	// ErrIncomplete means the buffer ends inside a handshake. Nothing was
	// consumed; decode again once more bytes arrived.
	ErrIncomplete = errors.New("parser: incomplete handshake")
	// ErrNoSession means a data frame arrived without a resolvable device.
	ErrNoSession = errors.New("parser: no device session")
)

// SessionResolver maps a device identifier to a device. An empty identifier
// asks for the device already bound to the connection.
type SessionResolver interface {
	Resolve(ctx context.Context, identifier string) (*types.Device, error)
}

// Responder delivers acknowledgment frames to the device
type Responder interface {
	Send(frame []byte) error
}

// Result is the outcome of one Decode call. A nil Positions slice means no
// position was decoded.
type Result struct {
	Positions  []*types.Position
	Consumed   int
	Handshake  *types.Handshake
	Device     *types.Device
	SubPackets int
	Acks       int
	Dropped    int
	// Truncated is set when a sub-packet ended before its end marker
	// because the buffer ran out.
	Truncated bool
	// PacketTypes counts inner packets by type for types 0..15.
	PacketTypes [packetTypeSlots]int
}

// Option configures a Decoder
type Option func(*Decoder)

// WithClock sets the time source used for version 2 handshake acks
func WithClock(now func() time.Time) Option {
	return func(d *Decoder) {
		d.now = now
	}
}

// Decoder parses Arnavi frames
type Decoder struct {
	resolver SessionResolver
	logger   zerolog.Logger
	now      func() time.Time
}

// NewDecoder creates a decoder resolving devices through resolver
func NewDecoder(resolver SessionResolver, logger zerolog.Logger, opts ...Option) *Decoder {
	d := &Decoder{
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode parses data, sends acknowledgments through out (which may be nil)
// and returns the decoded positions.
func (d *Decoder) Decode(ctx context.Context, data []byte, out Responder) (Result, error) {
	c := newCursor(data)
	first, ok := c.peek()
	if !ok {
		return Result{}, nil
	}

	if first == HeaderStart {
		return d.decodeHandshake(ctx, c, out)
	}

	device := d.resolve(ctx, "")
	if device == nil {
		return Result{}, ErrNoSession
	}

	res := Result{Device: device}
	for {
		if b, ok := c.peek(); !ok || b != PacketStart {
			break
		}
		if c.remaining() < 2 {
			res.Truncated = true
			break
		}

		var sp subPacket
		sp, c = decodeSubPacket(device, c)

		res.SubPackets++
		res.Positions = append(res.Positions, sp.positions...)
		res.Dropped += sp.dropped
		for _, t := range sp.packetTypes {
			if int(t) < packetTypeSlots {
				res.PacketTypes[t]++
			}
		}
		if sp.truncated {
			res.Truncated = true
		}

		// Sub-packets are always acknowledged with version 1 framing,
		// whatever version the handshake announced.
		d.send(out, BuildAck(HeaderVersion1, sp.index, d.now()), &res)
	}

	res.Consumed = c.pos
	return res, nil
}

func (d *Decoder) decodeHandshake(ctx context.Context, c cursor, out Responder) (Result, error) {
	if c.remaining() < handshakeLength {
		return Result{}, ErrIncomplete
	}

	var version byte
	var id uint64
	_, c = c.readByte()
	version, c = c.readByte()
	id, c = c.readUint64LE()

	res := Result{
		Consumed: c.pos,
		Handshake: &types.Handshake{
			Version:    version,
			Identifier: strconv.FormatUint(id, 10),
		},
	}

	device := d.resolve(ctx, res.Handshake.Identifier)
	if device == nil {
		return res, nil
	}
	res.Device = device
	d.send(out, BuildAck(version, 0, d.now()), &res)
	return res, nil
}

func (d *Decoder) resolve(ctx context.Context, identifier string) *types.Device {
	if d.resolver == nil {
		return nil
	}
	device, err := d.resolver.Resolve(ctx, identifier)
	if err != nil {
		d.logger.Debug().Err(err).Str("identifier", identifier).Msg("device session not resolved")
		return nil
	}
	return device
}

func (d *Decoder) send(out Responder, frame []byte, res *Result) {
	if out == nil {
		return
	}
	if err := out.Send(frame); err != nil {
		d.logger.Warn().Err(err).Hex("frame", frame).Msg("failed to send acknowledgment")
		return
	}
	res.Acks++
}

type subPacket struct {
	index       byte
	positions   []*types.Position
	packetTypes []byte
	dropped     int
	truncated   bool
}

// decodeSubPacket parses one 0x5B .. 0x5D group starting at the start marker.
// The caller guarantees the marker and index byte are present.
func decodeSubPacket(device *types.Device, c cursor) (subPacket, cursor) {
	var sp subPacket
	_, c = c.readByte()
	sp.index, c = c.readByte()

	for c.remaining() > 0 {
		if b, _ := c.peek(); b == PacketEnd {
			_, c = c.readByte()
			return sp, c
		}
		if c.remaining() < innerHeaderLength {
			break
		}

		var packetType byte
		var length uint16
		var ts uint32
		packetType, c = c.readByte()
		length, c = c.readUint16LE()
		ts, c = c.readUint32LE()

		// payload plus the trailing checksum byte
		if c.remaining() < int(length)+1 {
			break
		}

		sp.packetTypes = append(sp.packetTypes, packetType)
		if packetType == PacketTypeRecord {
			var position *types.Position
			position, c = assemblePosition(device, c, int(length), time.Unix(int64(ts), 0).UTC())
			if position.HasFix() {
				sp.positions = append(sp.positions, position)
			} else {
				sp.dropped++
			}
		} else {
			c = c.skip(int(length))
		}

		if c.remaining() > 0 {
			_, c = c.readByte() // checksum
		}
	}

	sp.truncated = true
	return sp, c
}
