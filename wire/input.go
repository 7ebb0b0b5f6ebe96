// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/luxfi/orb/buffer"
)

// InputStream reads an encoding from a bounded cursor range. Reads never
// cross the end of the innermost open encapsulation or slice.
type InputStream struct {
	seq    *buffer.Sequence
	cur    buffer.Cursor
	pos    int // absolute position of cur
	limit  int // end of the readable range
	encaps []*inEncaps
	opts   options
}

type inEncaps struct {
	version    Version
	size       int
	end        int
	outerLimit int
	types      inTypeTable
	objects    readQueue
	slice      *inSlice
	peeked     *SegmentHeader
	finished   bool
}

type inSlice struct {
	hdr        SegmentHeader
	end        int
	outerLimit int
}

// NewInputStream reads the whole of seq.
func NewInputStream(seq *buffer.Sequence, opts ...Option) *InputStream {
	return NewInputStreamRange(seq.Begin(), seq.End(), opts...)
}

// NewInputStreamBytes reads b.
func NewInputStreamBytes(b []byte, opts ...Option) *InputStream {
	return NewInputStream(buffer.FromBytes(b), opts...)
}

// NewInputStreamRange reads the range [begin, end) of one sequence.
func NewInputStreamRange(begin, end buffer.Cursor, opts ...Option) *InputStream {
	if begin.BeforeBegin() {
		begin = begin.Next()
	}
	return &InputStream{
		seq:   begin.Sequence(),
		cur:   begin,
		pos:   begin.Pos(),
		limit: end.Pos(),
		opts:  newOptions(opts),
	}
}

// Cursor returns the read position.
func (s *InputStream) Cursor() buffer.Cursor { return s.cur }

// Remaining returns the number of bytes readable in the current scope.
func (s *InputStream) Remaining() int { return s.limit - s.pos }

func (s *InputStream) advance(n int) {
	s.cur = s.cur.Advance(n)
	s.pos += n
}

// Skip moves past n bytes.
func (s *InputStream) Skip(n int) error {
	if n < 0 || n > s.Remaining() {
		return unmarshalErr("skip", ErrTruncated)
	}
	s.advance(n)
	return nil
}

// read copies the next len(p) bytes into p.
func (s *InputStream) read(op string, p []byte) error {
	if len(p) > s.Remaining() {
		return unmarshalErr(op, ErrTruncated)
	}
	if s.seq.Destroyed() {
		return unmarshalErr(op, buffer.ErrDestroyed)
	}
	var n int
	s.cur, n = s.cur.Read(p)
	s.pos += n
	if n != len(p) {
		return unmarshalErr(op, ErrTruncated)
	}
	return nil
}

// ReadRaw returns the next n bytes.
func (s *InputStream) ReadRaw(n int) ([]byte, error) {
	if n < 0 || n > s.Remaining() {
		return nil, unmarshalErr("read raw", ErrTruncated)
	}
	p := make([]byte, n)
	if err := s.read("read raw", p); err != nil {
		return nil, err
	}
	return p, nil
}

// ReadByte reads one byte.
func (s *InputStream) ReadByte() (byte, error) {
	var b [1]byte
	if err := s.read("read byte", b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBool reads one byte as a boolean.
func (s *InputStream) ReadBool() (bool, error) {
	b, err := s.ReadByte()
	if err != nil {
		return false, err
	}
	if b > 1 {
		return false, unmarshalErr("read bool", fmt.Errorf("%w: %#x", ErrBadMessage, b))
	}
	return b == 1, nil
}

// ReadUvarint reads a varint. The bytes are peeked without moving the
// cursor, decoded by the strict decoder and then consumed.
func (s *InputStream) ReadUvarint() (uint64, error) {
	var buf [MaxVarintLen64]byte
	n := min(len(buf), s.Remaining())
	if n <= 0 {
		return 0, unmarshalErr("read uvarint", ErrTruncated)
	}
	_, got := s.cur.Read(buf[:n])
	v, used, err := Uvarint(buf[:got])
	if err != nil {
		return 0, err
	}
	s.advance(used)
	return v, nil
}

// ReadVarint reads a zig-zag varint.
func (s *InputStream) ReadVarint() (int64, error) {
	u, err := s.ReadUvarint()
	if err != nil {
		return 0, err
	}
	return Unzigzag(u), nil
}

func (s *InputStream) ReadUint16() (uint16, error) { return ReadUnsigned[uint16](s) }
func (s *InputStream) ReadUint32() (uint32, error) { return ReadUnsigned[uint32](s) }
func (s *InputStream) ReadUint64() (uint64, error) { return s.ReadUvarint() }
func (s *InputStream) ReadInt16() (int16, error)   { return ReadSigned[int16](s) }
func (s *InputStream) ReadInt32() (int32, error)   { return ReadSigned[int32](s) }
func (s *InputStream) ReadInt64() (int64, error)   { return s.ReadVarint() }

// ReadFloat32 reads four little-endian bytes.
func (s *InputStream) ReadFloat32() (float32, error) {
	var b [4]byte
	if err := s.read("read float32", b[:]); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b[:])), nil
}

// ReadFloat64 reads eight little-endian bytes.
func (s *InputStream) ReadFloat64() (float64, error) {
	var b [8]byte
	if err := s.read("read float64", b[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b[:])), nil
}

// ReadSize reads a length or count and checks it against the bytes left.
// Every counted element takes at least one byte, so a larger count cannot
// be valid.
func (s *InputStream) ReadSize() (int, error) {
	u, err := s.ReadUvarint()
	if err != nil {
		return 0, err
	}
	if u > math.MaxUint32 {
		return 0, unmarshalErr("read size", ErrOverflow)
	}
	if u > uint64(s.Remaining()) {
		return 0, unmarshalErr("read size", ErrTruncated)
	}
	return int(u), nil
}

// ReadString reads a length-prefixed string.
func (s *InputStream) ReadString() (string, error) {
	n, err := s.ReadSize()
	if err != nil {
		return "", err
	}
	b, err := s.ReadRaw(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes reads a length-prefixed byte string.
func (s *InputStream) ReadBytes() ([]byte, error) {
	n, err := s.ReadSize()
	if err != nil {
		return nil, err
	}
	return s.ReadRaw(n)
}

// ReadStringSeq reads a count followed by that many strings.
func (s *InputStream) ReadStringSeq() ([]string, error) {
	n, err := s.ReadSize()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		v, err := s.ReadString()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadUnsigned reads a varint into T.
func ReadUnsigned[T Unsigned](s *InputStream) (T, error) {
	u, err := s.ReadUvarint()
	if err != nil {
		return 0, err
	}
	v := T(u)
	if uint64(v) != u {
		return 0, unmarshalErr("read unsigned", ErrOverflow)
	}
	return v, nil
}

// ReadSigned reads a zig-zag varint into T.
func ReadSigned[T Signed](s *InputStream) (T, error) {
	i, err := s.ReadVarint()
	if err != nil {
		return 0, err
	}
	v := T(i)
	if int64(v) != i {
		return 0, unmarshalErr("read signed", ErrOverflow)
	}
	return v, nil
}

// ReadEnum reads an enumerator. A non-nil valid rejects enumerators the
// reader does not know.
func ReadEnum[E Enum](s *InputStream, valid func(E) bool) (E, error) {
	u, err := s.ReadUvarint()
	if err != nil {
		return 0, err
	}
	var zero E
	if u&^widthMask(zero) != 0 {
		return 0, unmarshalErr("read enum", ErrOverflow)
	}
	e := E(u)
	if valid != nil && !valid(e) {
		return 0, unmarshalErr("read enum", fmt.Errorf("%w: enumerator %d", ErrBadMessage, u))
	}
	return e, nil
}

// readEncapsHeader reads {major, minor, size}.
func (s *InputStream) readEncapsHeader() (Version, int, error) {
	var v [2]byte
	if err := s.read("encapsulation header", v[:]); err != nil {
		return Version{}, 0, err
	}
	size, err := s.ReadUvarint()
	if err != nil {
		return Version{}, 0, err
	}
	if size > uint64(s.Remaining()) {
		return Version{}, 0, unmarshalErr("encapsulation header", fmt.Errorf("%w: size %d, %d bytes left", ErrTruncated, size, s.Remaining()))
	}
	return Version{Major: v[0], Minor: v[1]}, int(size), nil
}

// BeginEncapsulation reads an encapsulation header and bounds reads to its
// body.
func (s *InputStream) BeginEncapsulation() (Version, error) {
	v, size, err := s.readEncapsHeader()
	if err != nil {
		return Version{}, err
	}
	if !v.supported() {
		return Version{}, unmarshalErr("begin encapsulation", fmt.Errorf("%w: %s", ErrUnsupportedVersion, v))
	}
	s.encaps = append(s.encaps, &inEncaps{
		version:    v,
		size:       size,
		end:        s.pos + size,
		outerLimit: s.limit,
	})
	s.limit = s.pos + size
	return v, nil
}

// BeginEncapsulationAt moves the read position to c, which must lie within
// the current range, and begins an encapsulation there.
func (s *InputStream) BeginEncapsulationAt(c buffer.Cursor) (Version, error) {
	pos := c.Pos()
	if c.Sequence() != s.seq || pos < s.pos || pos > s.limit {
		return Version{}, unmarshalErr("begin encapsulation", ErrScopeMismatch)
	}
	s.cur, s.pos = c, pos
	return s.BeginEncapsulation()
}

// EndEncapsulation reads the object table, checks that every referenced
// object was defined and that the body was consumed exactly, and pops the
// encapsulation.
func (s *InputStream) EndEncapsulation() error {
	top := s.top()
	if top == nil || top.slice != nil {
		return unmarshalErr("end encapsulation", ErrScopeMismatch)
	}
	if err := s.ReadPendingObjects(); err != nil {
		return err
	}
	if s.pos != top.end {
		return unmarshalErr("end encapsulation", fmt.Errorf("%w: %d bytes left", ErrSizeMismatch, top.end-s.pos))
	}
	s.limit = top.outerLimit
	s.encaps = s.encaps[:len(s.encaps)-1]
	return nil
}

// SkipEncapsulation moves past an encapsulation without decoding it.
func (s *InputStream) SkipEncapsulation() (Version, error) {
	v, size, err := s.readEncapsHeader()
	if err != nil {
		return Version{}, err
	}
	s.advance(size)
	return v, nil
}

// CurrentEncapsulation describes the innermost open encapsulation; Size is
// its declared body size.
func (s *InputStream) CurrentEncapsulation() (Encapsulation, bool) {
	top := s.top()
	if top == nil {
		return Encapsulation{}, false
	}
	return Encapsulation{Version: top.version, Depth: len(s.encaps), Size: top.size}, true
}

func (s *InputStream) top() *inEncaps {
	if len(s.encaps) == 0 {
		return nil
	}
	return s.encaps[len(s.encaps)-1]
}

// ReadSegmentHeader reads the next segment header and resolves its type id
// through the encapsulation's type table.
func (s *InputStream) ReadSegmentHeader() (SegmentHeader, error) {
	top := s.top()
	if top == nil {
		return SegmentHeader{}, unmarshalErr("segment header", ErrNoEncapsulation)
	}
	if top.peeked != nil {
		h := *top.peeked
		top.peeked = nil
		return h, nil
	}
	b, err := s.ReadByte()
	if err != nil {
		return SegmentHeader{}, err
	}
	h := SegmentHeader{Flags: SegmentFlags(b)}
	if h.Flags&^segmentFlagMask != 0 || h.Flags&(FlagStringTypeID|FlagHashTypeID) == FlagStringTypeID|FlagHashTypeID {
		return SegmentHeader{}, unmarshalErr("segment header", fmt.Errorf("%w: flags %#x", ErrBadMessage, b))
	}
	switch {
	case h.Flags&FlagStringTypeID != 0:
		if h.TypeID, err = s.ReadString(); err != nil {
			return SegmentHeader{}, err
		}
		top.types.add(h.TypeID)
	case h.Flags&FlagHashTypeID != 0:
		var raw [8]byte
		if err := s.read("segment header", raw[:]); err != nil {
			return SegmentHeader{}, err
		}
		h.Hash = binary.LittleEndian.Uint64(raw[:])
		id, ok := s.opts.registry.LookupHash(h.Hash)
		if !ok {
			id = fmt.Sprintf("#%016x", h.Hash)
		}
		h.TypeID = id
		top.types.add(id)
	default:
		idx, err := s.ReadUvarint()
		if err != nil {
			return SegmentHeader{}, err
		}
		if idx > math.MaxUint32 {
			return SegmentHeader{}, unmarshalErr("segment header", ErrBadTypeIndex)
		}
		h.Index = uint32(idx)
		id, ok := top.types.get(h.Index)
		if !ok {
			return SegmentHeader{}, unmarshalErr("segment header", fmt.Errorf("%w: %d of %d", ErrBadTypeIndex, idx, len(top.types.ids)))
		}
		h.TypeID = id
	}
	size, err := s.ReadUvarint()
	if err != nil {
		return SegmentHeader{}, err
	}
	if size > uint64(s.Remaining()) {
		return SegmentHeader{}, unmarshalErr("segment header", ErrTruncated)
	}
	h.Size = uint32(size)
	return h, nil
}

// SkipSegment moves past the body of a segment whose header was just read.
func (s *InputStream) SkipSegment(h SegmentHeader) error {
	return s.Skip(int(h.Size))
}

// StartSlice reads the next segment header, checks that it names typeID and
// bounds reads to its body.
func (s *InputStream) StartSlice(typeID string) (SegmentHeader, error) {
	top := s.top()
	if top == nil {
		return SegmentHeader{}, unmarshalErr("start slice", ErrNoEncapsulation)
	}
	if top.slice != nil {
		return SegmentHeader{}, unmarshalErr("start slice", ErrScopeMismatch)
	}
	h, err := s.ReadSegmentHeader()
	if err != nil {
		return SegmentHeader{}, err
	}
	if h.TypeID != typeID {
		return SegmentHeader{}, unmarshalErr("start slice", fmt.Errorf("%w: slice %q, want %q", ErrTypeMismatch, h.TypeID, typeID))
	}
	top.slice = &inSlice{hdr: h, end: s.pos + int(h.Size), outerLimit: s.limit}
	s.limit = s.pos + int(h.Size)
	return h, nil
}

// EndSlice skips whatever the slice body still holds, such as fields added
// by a newer peer, and restores the enclosing bound.
func (s *InputStream) EndSlice() error {
	top := s.top()
	if top == nil || top.slice == nil {
		return unmarshalErr("end slice", ErrScopeMismatch)
	}
	sl := top.slice
	if err := s.Skip(sl.end - s.pos); err != nil {
		return err
	}
	s.limit = sl.outerLimit
	top.slice = nil
	return nil
}

// ReadObject reads an object reference. patch is called with the object
// once it is resolved: immediately when its payload was already read,
// otherwise when the object table reaches it. A nil reference patches nil
// at once.
func (s *InputStream) ReadObject(patch func(Object) error) error {
	top := s.top()
	if top == nil {
		return unmarshalErr("read object", ErrNoEncapsulation)
	}
	id, err := s.ReadUvarint()
	if err != nil {
		return err
	}
	if id == 0 {
		return patch(nil)
	}
	// every id not yet read needs at least one payload byte
	if id > uint64(top.objects.read)+uint64(top.end-s.pos) {
		return unmarshalErr("read object", fmt.Errorf("%w: %d", ErrBadObjectID, id))
	}
	slot := top.objects.slot(uint32(id))
	if slot.resolved {
		return patch(slot.target)
	}
	slot.patches = append(slot.patches, patch)
	return nil
}

// ReadPendingObjects reads the object table that ends the current
// encapsulation. It is called by EndEncapsulation and is a no-op once done.
func (s *InputStream) ReadPendingObjects() error {
	top := s.top()
	if top == nil {
		return unmarshalErr("read objects", ErrNoEncapsulation)
	}
	if top.finished {
		return nil
	}
	for {
		n, err := s.ReadSize()
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		for i := 0; i < n; i++ {
			top.objects.read++
			if err := s.readInstance(top, top.objects.slot(top.objects.read)); err != nil {
				return err
			}
		}
	}
	top.finished = true
	if id, ok := top.objects.unresolved(); ok {
		return unmarshalErr("read objects", fmt.Errorf("%w: %d", ErrUnresolved, id))
	}
	return nil
}

// readInstance reads one payload. Segments of types without a registered
// factory are skipped until a known base type is found.
func (s *InputStream) readInstance(top *inEncaps, slot *readSlot) error {
	for {
		h, err := s.ReadSegmentHeader()
		if err != nil {
			return err
		}
		factory, ok := s.opts.registry.Lookup(h.TypeID)
		if !ok {
			if h.Last() {
				return unmarshalErr("read object", fmt.Errorf("%w: %q", ErrUnknownType, h.TypeID))
			}
			if err := s.SkipSegment(h); err != nil {
				return err
			}
			continue
		}
		o := factory()
		slot.resolve(o)
		top.peeked = &h
		if err := s.readSlices(o); err != nil {
			return err
		}
		if err := slot.fire(); err != nil {
			return unmarshalErr("read object", err)
		}
		return nil
	}
}

func (s *InputStream) readSlices(o Object) error {
	slices := o.Slices()
	for i, sl := range slices {
		h, err := s.StartSlice(sl.TypeID)
		if err != nil {
			return err
		}
		if sl.Unmarshal != nil {
			if err := sl.Unmarshal(s); err != nil {
				return unmarshalErr("read slice "+sl.TypeID, err)
			}
		}
		if err := s.EndSlice(); err != nil {
			return err
		}
		if h.Last() {
			if i != len(slices)-1 {
				return unmarshalErr("read object", fmt.Errorf("%w: chain ends at %q", ErrTypeMismatch, sl.TypeID))
			}
			return nil
		}
	}
	// the writer knows base slices this reader does not
	for {
		h, err := s.ReadSegmentHeader()
		if err != nil {
			return err
		}
		if err := s.SkipSegment(h); err != nil {
			return err
		}
		if h.Last() {
			return nil
		}
	}
}

// ReadMessageHeader reads a message envelope at the current position.
func (s *InputStream) ReadMessageHeader() (MessageHeader, error) {
	var buf [messageHeaderCap]byte
	n := min(len(buf), s.Remaining())
	_, got := s.cur.Read(buf[:n])
	h, used, err := ReadMessageHeader(buf[:got])
	if err != nil {
		return MessageHeader{}, err
	}
	s.advance(used)
	if int(h.Size) != s.Remaining() {
		return MessageHeader{}, unmarshalErr("message header", fmt.Errorf("%w: header %d, body %d", ErrSizeMismatch, h.Size, s.Remaining()))
	}
	return h, nil
}
