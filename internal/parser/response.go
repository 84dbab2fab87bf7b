package parser

import (
	"encoding/binary"
	"time"
)

const (
	ackStart byte = 0x7B
	ackEnd   byte = 0x7D
)

// Checksum returns the modulo-256 sum of data
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// BuildAck builds the acknowledgment frame for a protocol version.
// Version 1 echoes index; version 2 carries the server time and its
// checksum. Any other version gets an empty frame.
func BuildAck(version byte, index byte, now time.Time) []byte {
	ack := []byte{ackStart}
	switch version {
	case HeaderVersion1:
		ack = append(ack, 0x00, index)
	case HeaderVersion2:
		var ts [4]byte
		binary.LittleEndian.PutUint32(ts[:], uint32(now.Unix()))
		ack = append(ack, 0x04, 0x00, Checksum(ts[:]))
		ack = append(ack, ts[:]...)
	}
	return append(ack, ackEnd)
}
