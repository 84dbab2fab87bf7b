package parser

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saviobatista/arnavi-gateway/internal/testutils"
	"github.com/saviobatista/arnavi-gateway/internal/types"
)

func recordSubPacket(index byte) []byte {
	return testutils.SubPacket(index, testutils.RecordPacket(1700000000,
		testutils.Coordinate(3, 10),
		testutils.Coordinate(4, 20),
	))
}

func TestFrameLength_Handshake(t *testing.T) {
	hs := testutils.Handshake(HeaderVersion1, testIdentifier)

	for i := 1; i < len(hs); i++ {
		n, ok := FrameLength(hs[:i])
		assert.True(t, ok, "prefix %d", i)
		assert.Zero(t, n, "prefix %d", i)
	}

	n, ok := FrameLength(testutils.Concat(hs, recordSubPacket(1)))
	assert.True(t, ok)
	assert.Equal(t, handshakeLength, n)
}

func TestFrameLength_Empty(t *testing.T) {
	n, ok := FrameLength(nil)
	assert.True(t, ok)
	assert.Zero(t, n)
}

func TestFrameLength_SubPacketPrefixes(t *testing.T) {
	frame := recordSubPacket(5)

	for i := 1; i < len(frame); i++ {
		n, ok := FrameLength(frame[:i])
		assert.True(t, ok, "prefix %d", i)
		assert.Zero(t, n, "prefix %d", i)
	}

	n, ok := FrameLength(frame)
	assert.True(t, ok)
	assert.Equal(t, len(frame), n)
}

func TestFrameLength_StopsAtIncompleteSubPacket(t *testing.T) {
	first := recordSubPacket(1)
	second := recordSubPacket(2)
	data := testutils.Concat(first, second[:9])

	n, ok := FrameLength(data)
	assert.True(t, ok)
	assert.Equal(t, len(first), n)
}

func TestFrameLength_ConsecutiveAndEmptySubPackets(t *testing.T) {
	data := testutils.Concat(
		recordSubPacket(1),
		testutils.SubPacket(2),
		testutils.SubPacket(3, testutils.InnerPacket(0x02, 1, []byte{1, 2, 3})),
	)

	n, ok := FrameLength(data)
	assert.True(t, ok)
	assert.Equal(t, len(data), n)
}

func TestFrameLength_StopsAtForeignByte(t *testing.T) {
	frame := recordSubPacket(1)

	n, ok := FrameLength(testutils.Concat(frame, []byte{0x00, 0x5B}))
	assert.True(t, ok)
	assert.Equal(t, len(frame), n)
}

func TestFrameLength_NotAFrame(t *testing.T) {
	_, ok := FrameLength([]byte{0x00, 0x01, 0x02})
	assert.False(t, ok)
}

// A sub-packet cut anywhere decodes to the same result once its framed
// bytes are passed to Decode together.
func TestFrameLength_DecodeAfterReassembly(t *testing.T) {
	frame := recordSubPacket(5)
	device := &types.Device{ID: 7, Identifier: "860719020212696"}

	for split := 1; split < len(frame); split++ {
		resolver := newFakeResolver(device)
		resolver.bound = device
		dec := NewDecoder(resolver, zerolog.Nop())
		out := &recorder{}

		var pending []byte
		var positions []*types.Position
		for _, part := range [][]byte{frame[:split], frame[split:]} {
			pending = append(pending, part...)
			n, ok := FrameLength(pending)
			require.True(t, ok)
			if n == 0 {
				continue
			}
			res, err := dec.Decode(context.Background(), pending[:n], out)
			require.NoError(t, err)
			assert.False(t, res.Truncated, "split %d", split)
			assert.Equal(t, n, res.Consumed, "split %d", split)
			positions = append(positions, res.Positions...)
			pending = pending[n:]
		}

		require.Len(t, positions, 1, "split %d", split)
		assert.Equal(t, 10.0, positions[0].Latitude)
		assert.Equal(t, [][]byte{{0x7B, 0x00, 0x05, 0x7D}}, out.frames, "split %d", split)
	}
}
