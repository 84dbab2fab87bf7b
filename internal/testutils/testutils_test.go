package testutils

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshake(t *testing.T) {
	frame := Handshake(0x22, 0x0102030405060708)
	assert.Equal(t, []byte{0xFF, 0x22, 0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}, frame)
}

func TestTag(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x34, 0x08, 0x01, 0x00}, Tag(0x01, 0x00010834))
	assert.Equal(t, []byte{0x35, 0x01, 0x00, 0x00, 0x00, 0xAA, 0xBB, 0xCC, 0xDD}, Tag(53, 1, 0xAA, 0xBB, 0xCC, 0xDD))
}

func TestCoordinate(t *testing.T) {
	tag := Coordinate(3, 55.75)
	require.Len(t, tag, 5)
	assert.Equal(t, byte(3), tag[0])

	bits := uint32(tag[1]) | uint32(tag[2])<<8 | uint32(tag[3])<<16 | uint32(tag[4])<<24
	assert.Equal(t, float32(55.75), math.Float32frombits(bits))
}

func TestInnerPacket(t *testing.T) {
	pkt := InnerPacket(0x01, 0x11223344, []byte{0x10, 0x20, 0xF0})
	assert.Equal(t, []byte{
		0x01,       // type
		0x03, 0x00, // length
		0x44, 0x33, 0x22, 0x11, // timestamp
		0x10, 0x20, 0xF0, // payload
		0x20, // checksum (0x120 mod 256)
	}, pkt)
}

func TestSubPacket(t *testing.T) {
	sp := SubPacket(7, []byte{0xAA}, []byte{0xBB, 0xCC})
	assert.Equal(t, []byte{0x5B, 0x07, 0xAA, 0xBB, 0xCC, 0x5D}, sp)

	empty := SubPacket(1)
	assert.Equal(t, []byte{0x5B, 0x01, 0x5D}, empty)
}

func TestRecordPacket(t *testing.T) {
	pkt := RecordPacket(100, Tag(1, 0), Tag(9, 0))
	assert.Equal(t, byte(0x01), pkt[0])
	assert.Equal(t, byte(10), pkt[1])
	assert.Len(t, pkt, 7+10+1)
}

func TestMockRawFrame(t *testing.T) {
	frame := MockRawFrame("123", []byte{0xFF})
	require.NotNil(t, frame)
	assert.Equal(t, "123", frame.Identifier)
	assert.WithinDuration(t, time.Now(), frame.Timestamp, 5*time.Second)
}

func TestMockPosition(t *testing.T) {
	p := MockPosition(3, "abc", 10, 20)
	assert.True(t, p.HasFix())
	assert.Equal(t, int64(3), p.DeviceID)
	assert.NotEmpty(t, p.ID)
}

func TestWaitForCondition_Success(t *testing.T) {
	err := WaitForCondition(func() bool { return true }, 1*time.Second)
	assert.NoError(t, err)
}

func TestWaitForCondition_Timeout(t *testing.T) {
	err := WaitForCondition(func() bool { return false }, 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "timeout"))
}

func TestWaitForCondition_ConditionBecomesTrue(t *testing.T) {
	counter := 0
	err := WaitForCondition(func() bool {
		counter++
		return counter >= 3
	}, 1*time.Second)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, counter, 3)
}
