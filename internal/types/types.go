package types

import (
	"time"
)

// ProtocolArnavi is the protocol name stamped on every decoded position
const ProtocolArnavi = "arnavi"

// Device represents a tracker known to the gateway
type Device struct {
	ID         int64     `json:"id"`
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Handshake is the device identification frame sent when a tracker connects
type Handshake struct {
	Version    byte   `json:"version"`
	Identifier string `json:"identifier"`
}

// RawFrame represents bytes received from a tracker and consumed by the decoder
type RawFrame struct {
	Data       []byte    `json:"data"`
	Timestamp  time.Time `json:"timestamp"`
	Remote     string    `json:"remote"`
	Identifier string    `json:"identifier,omitempty"`
}

// Position represents one decoded location-and-telemetry record
type Position struct {
	ID         string     `json:"id"`
	DeviceID   int64      `json:"device_id"`
	Identifier string     `json:"identifier"`
	Protocol   string     `json:"protocol"`
	Time       time.Time  `json:"time"`
	Valid      bool       `json:"valid"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	Speed      float64    `json:"speed"`
	Course     float64    `json:"course"`
	Altitude   float64    `json:"altitude"`
	Satellites int        `json:"satellites"`
	Attributes Attributes `json:"attributes"`
}

// NewPosition creates an empty position for a device
func NewPosition(device *Device, at time.Time) *Position {
	p := &Position{
		Protocol:   ProtocolArnavi,
		Time:       at,
		Attributes: make(Attributes),
	}
	if device != nil {
		p.DeviceID = device.ID
		p.Identifier = device.Identifier
	}
	return p
}

// HasFix reports whether the record carries a usable coordinate. A record
// whose latitude and longitude are both still zero has no fix.
func (p *Position) HasFix() bool {
	return p.Latitude != 0 || p.Longitude != 0
}

// PositionBatch groups the positions decoded from one read of a connection
type PositionBatch struct {
	Identifier string      `json:"identifier"`
	Remote     string      `json:"remote"`
	ReceivedAt time.Time   `json:"received_at"`
	Positions  []*Position `json:"positions"`
}
