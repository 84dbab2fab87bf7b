package parser

// FrameLength reports how many leading bytes of data hold complete frames,
// so that Decode over data[:n] never runs out of input. A handshake is
// complete at 10 bytes. A data frame is measured sub-packet by sub-packet,
// walking the declared inner packet lengths up to each end marker.
//
// n == 0 with ok set means the buffer starts a frame that needs more bytes.
// ok is false when data does not start with a frame marker at all.
func FrameLength(data []byte) (n int, ok bool) {
	c := newCursor(data)
	first, more := c.peek()
	if !more {
		return 0, true
	}

	switch first {
	case HeaderStart:
		if c.remaining() < handshakeLength {
			return 0, true
		}
		return handshakeLength, true
	case PacketStart:
	default:
		return 0, false
	}

	for {
		if b, more := c.peek(); !more || b != PacketStart {
			return c.pos, true
		}
		end, complete := subPacketEnd(c)
		if !complete {
			return c.pos, true
		}
		c = end
	}
}

// subPacketEnd returns the cursor just past the end marker of the sub-packet
// starting at c, or false when the buffer ends first.
func subPacketEnd(c cursor) (cursor, bool) {
	if c.remaining() < 2 {
		return c, false
	}
	c = c.skip(2)

	for {
		b, more := c.peek()
		if !more {
			return c, false
		}
		if b == PacketEnd {
			return c.skip(1), true
		}
		if c.remaining() < innerHeaderLength {
			return c, false
		}

		var length uint16
		_, c = c.readByte()
		length, c = c.readUint16LE()
		c = c.skip(4)

		// payload plus checksum
		if c.remaining() < int(length)+1 {
			return c, false
		}
		c = c.skip(int(length) + 1)
	}
}
