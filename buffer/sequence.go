// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package buffer provides a chunked byte store addressed as one logical
// sequence through random-access cursors.
//
// Writers append to the last chunk and open fresh chunks whenever a region
// must be finalized later (a length or version header that is only known
// once the region is complete). Filling such a placeholder chunk never moves
// bytes that were already written.
package buffer

import (
	"errors"
	"io"
	"net"
)

// ErrDestroyed is returned when a destroyed sequence is used.
var ErrDestroyed = errors.New("buffer: sequence destroyed")

// ErrChunkRange is returned when a chunk index is out of range.
var ErrChunkRange = errors.New("buffer: chunk index out of range")

const defaultChunkSize = 256

// Sequence is an ordered list of growable byte chunks. It is not safe for
// concurrent use; one sequence belongs to one message.
type Sequence struct {
	chunks    [][]byte
	destroyed bool
}

// New returns an empty sequence with one open chunk.
func New() *Sequence {
	return &Sequence{chunks: [][]byte{make([]byte, 0, defaultChunkSize)}}
}

// FromBytes returns a sequence holding b as its only chunk. The sequence
// aliases b.
func FromBytes(b []byte) *Sequence {
	return &Sequence{chunks: [][]byte{b}}
}

// Destroy releases the chunks. Every later operation fails with ErrDestroyed.
func (s *Sequence) Destroy() {
	s.chunks = nil
	s.destroyed = true
}

// Destroyed reports whether Destroy was called.
func (s *Sequence) Destroyed() bool { return s.destroyed }

// OpenChunk appends a new empty chunk with the given capacity and returns its
// index. Subsequent appends go to the new chunk.
func (s *Sequence) OpenChunk(capacity int) (int, error) {
	if s.destroyed {
		return 0, ErrDestroyed
	}
	s.chunks = append(s.chunks, make([]byte, 0, capacity))
	return len(s.chunks) - 1, nil
}

// Append writes p at the end of the last chunk.
func (s *Sequence) Append(p []byte) error {
	if s.destroyed {
		return ErrDestroyed
	}
	last := len(s.chunks) - 1
	s.chunks[last] = append(s.chunks[last], p...)
	return nil
}

// AppendByte writes c at the end of the last chunk.
func (s *Sequence) AppendByte(c byte) error {
	if s.destroyed {
		return ErrDestroyed
	}
	last := len(s.chunks) - 1
	s.chunks[last] = append(s.chunks[last], c)
	return nil
}

// Tail returns the last chunk for in-place appends; the caller must hand the
// grown slice back through SetTail.
func (s *Sequence) Tail() ([]byte, error) {
	if s.destroyed {
		return nil, ErrDestroyed
	}
	return s.chunks[len(s.chunks)-1], nil
}

// SetTail replaces the last chunk.
func (s *Sequence) SetTail(b []byte) {
	s.chunks[len(s.chunks)-1] = b
}

// SetChunk replaces the contents of chunk i. It is used to fill placeholder
// chunks once their contents are known.
func (s *Sequence) SetChunk(i int, b []byte) error {
	if s.destroyed {
		return ErrDestroyed
	}
	if i < 0 || i >= len(s.chunks) {
		return ErrChunkRange
	}
	s.chunks[i] = append(s.chunks[i][:0], b...)
	return nil
}

// NumChunks returns the number of chunks.
func (s *Sequence) NumChunks() int { return len(s.chunks) }

// Len returns the total number of bytes.
func (s *Sequence) Len() int {
	return s.LenFrom(0)
}

// LenFrom returns the number of bytes held in chunks i and later.
func (s *Sequence) LenFrom(i int) int {
	n := 0
	for ; i < len(s.chunks); i++ {
		n += len(s.chunks[i])
	}
	return n
}

// Bytes returns the logical contents as one slice. A single-chunk sequence
// returns its chunk without copying.
func (s *Sequence) Bytes() []byte {
	nonEmpty := 0
	var only []byte
	for _, c := range s.chunks {
		if len(c) > 0 {
			nonEmpty++
			only = c
		}
	}
	if nonEmpty <= 1 {
		return only
	}
	out := make([]byte, 0, s.Len())
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out
}

// Buffers returns the chunks as net.Buffers for vectored writes.
func (s *Sequence) Buffers() net.Buffers {
	bufs := make(net.Buffers, 0, len(s.chunks))
	for _, c := range s.chunks {
		if len(c) > 0 {
			bufs = append(bufs, c)
		}
	}
	return bufs
}

// WriteTo writes every chunk to w.
func (s *Sequence) WriteTo(w io.Writer) (int64, error) {
	if s.destroyed {
		return 0, ErrDestroyed
	}
	bufs := s.Buffers()
	return bufs.WriteTo(w)
}

// Begin returns a cursor at the first byte, or End for an empty sequence.
func (s *Sequence) Begin() Cursor {
	c := Cursor{seq: s, chunk: 0}
	return c.skipEmpty()
}

// End returns the past-the-end cursor.
func (s *Sequence) End() Cursor {
	return Cursor{seq: s, chunk: len(s.chunks)}
}

// BeforeBegin returns the sentinel cursor that precedes the first byte.
func (s *Sequence) BeforeBegin() Cursor {
	return Cursor{seq: s, chunk: -1}
}

// At returns a cursor at absolute position pos. Positions below zero map to
// BeforeBegin and positions at or past Len map to End.
func (s *Sequence) At(pos int) Cursor {
	if pos < 0 {
		return s.BeforeBegin()
	}
	for i, c := range s.chunks {
		if pos < len(c) {
			return Cursor{seq: s, chunk: i, off: pos}
		}
		pos -= len(c)
	}
	return s.End()
}
