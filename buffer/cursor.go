// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package buffer

// Cursor addresses one byte of a Sequence. Besides the bytes themselves a
// cursor can sit on two sentinels: BeforeBegin and End. Cursors stay valid
// while the sequence grows; they are invalidated by Destroy.
//
// A cursor that is not a sentinel always points at a byte of a non-empty
// chunk.
type Cursor struct {
	seq   *Sequence
	chunk int // -1 before begin, len(chunks) at end
	off   int
}

// settle moves c off an empty chunk opened after c was taken. Such a cursor
// is End until bytes are appended to that chunk, then it addresses the
// first of them.
func (c Cursor) settle() Cursor {
	if c.chunk < 0 {
		return c
	}
	return c.skipEmpty()
}

// skipEmpty moves forward past empty chunks.
func (c Cursor) skipEmpty() Cursor {
	for c.chunk < len(c.seq.chunks) && c.off >= len(c.seq.chunks[c.chunk]) {
		c.off -= len(c.seq.chunks[c.chunk])
		c.chunk++
	}
	if c.chunk >= len(c.seq.chunks) {
		c.chunk, c.off = len(c.seq.chunks), 0
	}
	return c
}

// Sequence returns the sequence c belongs to.
func (c Cursor) Sequence() *Sequence { return c.seq }

// BeforeBegin reports whether c is the before-begin sentinel.
func (c Cursor) BeforeBegin() bool { return c.chunk < 0 }

// AtEnd reports whether c is the past-the-end sentinel.
func (c Cursor) AtEnd() bool { return c.settle().chunk >= len(c.seq.chunks) }

// Valid reports whether c points at a byte.
func (c Cursor) Valid() bool { return !c.BeforeBegin() && !c.AtEnd() }

// Pos returns the absolute position of c: -1 before begin, Len at end.
func (c Cursor) Pos() int {
	if c.chunk < 0 {
		return -1
	}
	pos := c.off
	for i := 0; i < c.chunk && i < len(c.seq.chunks); i++ {
		pos += len(c.seq.chunks[i])
	}
	return pos
}

// Distance returns other.Pos() - c.Pos().
func (c Cursor) Distance(other Cursor) int {
	return other.Pos() - c.Pos()
}

// Next returns the cursor one byte forward.
func (c Cursor) Next() Cursor { return c.Advance(1) }

// Prev returns the cursor one byte back.
func (c Cursor) Prev() Cursor { return c.Advance(-1) }

// Advance moves c by n bytes in either direction. Moving past either end
// saturates at the corresponding sentinel.
func (c Cursor) Advance(n int) Cursor {
	switch {
	case n > 0:
		return c.forward(n)
	case n < 0:
		return c.backward(-n)
	}
	return c
}

func (c Cursor) forward(n int) Cursor {
	if c.chunk < 0 {
		c = c.seq.Begin()
		n--
	}
	c = c.settle()
	for n > 0 && c.chunk < len(c.seq.chunks) {
		rem := len(c.seq.chunks[c.chunk]) - c.off
		if n < rem {
			c.off += n
			return c
		}
		n -= rem
		c.chunk++
		c.off = 0
		c = c.skipEmpty()
	}
	return c
}

func (c Cursor) backward(n int) Cursor {
	if c.chunk < 0 {
		return c
	}
	for n > 0 {
		if c.chunk >= len(c.seq.chunks) || c.off == 0 {
			prev := c.chunk - 1
			if prev >= len(c.seq.chunks) {
				prev = len(c.seq.chunks) - 1
			}
			for prev >= 0 && len(c.seq.chunks[prev]) == 0 {
				prev--
			}
			if prev < 0 {
				return c.seq.BeforeBegin()
			}
			c.chunk, c.off = prev, len(c.seq.chunks[prev])
		}
		step := min(n, c.off)
		c.off -= step
		n -= step
	}
	return c
}

// Byte returns the byte under c.
func (c Cursor) Byte() (byte, bool) {
	c = c.settle()
	if !c.Valid() {
		return 0, false
	}
	return c.seq.chunks[c.chunk][c.off], true
}

// SetByte overwrites the byte under c.
func (c Cursor) SetByte(b byte) bool {
	c = c.settle()
	if !c.Valid() {
		return false
	}
	c.seq.chunks[c.chunk][c.off] = b
	return true
}

// Read copies bytes starting at c into dst, crossing chunk boundaries, and
// returns the cursor past the last byte copied along with the count.
func (c Cursor) Read(dst []byte) (Cursor, int) {
	if c.chunk < 0 {
		c = c.seq.Begin()
	}
	c = c.settle()
	total := 0
	for len(dst) > 0 && c.Valid() {
		n := copy(dst, c.seq.chunks[c.chunk][c.off:])
		dst = dst[n:]
		total += n
		c = c.forward(n)
	}
	return c, total
}

// Write overwrites existing bytes starting at c with src. It never grows the
// sequence; the returned count is short when src runs past End.
func (c Cursor) Write(src []byte) (Cursor, int) {
	if c.chunk < 0 {
		c = c.seq.Begin()
	}
	c = c.settle()
	total := 0
	for len(src) > 0 && c.Valid() {
		n := copy(c.seq.chunks[c.chunk][c.off:], src)
		src = src[n:]
		total += n
		c = c.forward(n)
	}
	return c, total
}
