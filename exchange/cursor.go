package exchange

import "encoding/binary"

// cursor walks an optional caller buffer one unit at a time. A nil buffer
// yields the dummy unit on read, swallows stores and never moves.
type cursor struct {
	buf   []byte
	mode  TransferMode
	step  int
	pos   int
	dummy uint16
}

func newCursor(buf []byte, mode TransferMode, dummy uint16) cursor {
	c := cursor{buf: buf, mode: mode, dummy: dummy & mode.mask()}
	if buf != nil {
		c.step = mode.UnitSize()
	}
	return c
}

// fits reports whether the buffer is absent or holds at least units units.
func (c *cursor) fits(units int) bool {
	return c.buf == nil || len(c.buf) >= units*c.mode.UnitSize()
}

func (c *cursor) current() uint16 {
	if c.buf == nil {
		return c.dummy
	}
	if c.mode == Width16 {
		return binary.LittleEndian.Uint16(c.buf[c.pos:])
	}
	return uint16(c.buf[c.pos])
}

func (c *cursor) store(v uint16) {
	if c.buf == nil {
		return
	}
	if c.mode == Width16 {
		binary.LittleEndian.PutUint16(c.buf[c.pos:], v)
		return
	}
	c.buf[c.pos] = byte(v)
}

func (c *cursor) advance() {
	c.pos += c.step
}
