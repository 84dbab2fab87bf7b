package parser

import "encoding/binary"

// cursor is a read position over an immutable frame. Methods take and
// return cursors by value so nested parsing units cannot move each other's
// position. Read methods assume the caller checked remaining() first.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) cursor {
	return cursor{buf: buf}
}

func (c cursor) remaining() int {
	return len(c.buf) - c.pos
}

func (c cursor) peek() (byte, bool) {
	if c.pos >= len(c.buf) {
		return 0, false
	}
	return c.buf[c.pos], true
}

func (c cursor) readByte() (byte, cursor) {
	b := c.buf[c.pos]
	c.pos++
	return b, c
}

func (c cursor) readUint16LE() (uint16, cursor) {
	v := binary.LittleEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, c
}

func (c cursor) readUint32LE() (uint32, cursor) {
	v := binary.LittleEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, c
}

func (c cursor) readUint64LE() (uint64, cursor) {
	v := binary.LittleEndian.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v, c
}

// skip advances by n bytes, stopping at the end of the buffer.
func (c cursor) skip(n int) cursor {
	if n <= 0 {
		return c
	}
	if n > c.remaining() {
		n = c.remaining()
	}
	c.pos += n
	return c
}

// limit returns a cursor that cannot read past pos+n.
func (c cursor) limit(n int) cursor {
	end := c.pos + n
	if n < 0 || end > len(c.buf) {
		end = len(c.buf)
	}
	c.buf = c.buf[:end]
	return c
}
