package parser

import (
	"time"

	"github.com/saviobatista/arnavi-gateway/internal/types"
)

// AssemblePosition decodes a position data payload of the given declared
// length from the start of segment. It returns the record and the number of
// bytes consumed, which is always the declared length unless segment is
// shorter. The record is returned even without a fix; callers decide.
func AssemblePosition(device *types.Device, segment []byte, length int, at time.Time) (*types.Position, int) {
	pos, c := assemblePosition(device, newCursor(segment), length, at)
	return pos, c.pos
}

func assemblePosition(device *types.Device, c cursor, length int, at time.Time) (*types.Position, cursor) {
	position := types.NewPosition(device, at)
	start := c.pos
	seg := c.limit(length)

	read := 0
	for read+tagRecordLength <= length && seg.remaining() >= tagRecordLength {
		var tag byte
		var raw uint32
		tag, seg = seg.readByte()
		raw, seg = seg.readUint32LE()

		res := DecodeTag(tag, raw)
		for _, attr := range res.Attributes {
			applyAttribute(position, attr)
		}

		seg = seg.skip(res.Extra)
		read += tagRecordLength + res.Extra
	}

	// Realign on the declared length whatever the tags consumed.
	if remaining := length - (seg.pos - start); remaining > 0 {
		seg = seg.skip(remaining)
	}

	c.pos = seg.pos
	return position, c
}

func applyAttribute(p *types.Position, attr types.Attribute) {
	v := attr.Value.Float()
	switch attr.Key {
	case types.KeyLatitude:
		p.Latitude = v
		p.Valid = true
	case types.KeyLongitude:
		p.Longitude = v
		p.Valid = true
	case types.KeySpeed:
		p.Speed = v
	case types.KeyCourse:
		p.Course = v
	case types.KeyAltitude:
		p.Altitude = v
	case types.KeySatellites:
		p.Satellites = int(v)
	default:
		p.Attributes.Set(attr.Key, attr.Value)
	}
}
