// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"encoding/binary"
	"math"

	"github.com/luxfi/orb/buffer"
)

const (
	encapsHeaderCap  = 2 + 5
	segmentHeaderCap = 16
	messageHeaderCap = 1 + 5
)

// OutputStream builds one encoding on a chunked buffer. Primitive writes go
// to the innermost open scope. A write on a destroyed buffer records a
// MarshalError that is reported by Err and by every scope close.
type OutputStream struct {
	seq     *buffer.Sequence
	encaps  []*outEncaps
	message int // header chunk of the open message, -1 if none
	opts    options
	err     error
	scratch []byte
}

type outEncaps struct {
	version Version
	header  int // placeholder chunk index
	types   outTypeTable
	objects writeQueue
	segment *outSegment
}

type outSegment struct {
	header int
	hdr    SegmentHeader
}

// NewOutputStream returns an empty stream on a fresh buffer.
func NewOutputStream(opts ...Option) *OutputStream {
	return &OutputStream{
		seq:     buffer.New(),
		message: -1,
		opts:    newOptions(opts),
	}
}

// Sequence returns the underlying buffer.
func (s *OutputStream) Sequence() *buffer.Sequence { return s.seq }

// Bytes returns the encoded bytes.
func (s *OutputStream) Bytes() []byte { return s.seq.Bytes() }

// Len returns the number of bytes written.
func (s *OutputStream) Len() int { return s.seq.Len() }

// Err returns the first write error.
func (s *OutputStream) Err() error { return s.err }

// Destroy releases the buffer.
func (s *OutputStream) Destroy() { s.seq.Destroy() }

func (s *OutputStream) fail(op string, err error) {
	if s.err == nil {
		s.err = marshalErr(op, err)
	}
}

// append writes p to the tail chunk.
func (s *OutputStream) append(p []byte) {
	if err := s.seq.Append(p); err != nil {
		s.fail("write", err)
	}
}

// WriteRaw writes p verbatim.
func (s *OutputStream) WriteRaw(p []byte) { s.append(p) }

// WriteByte writes one byte.
func (s *OutputStream) WriteByte(c byte) error {
	if err := s.seq.AppendByte(c); err != nil {
		s.fail("write", err)
		return s.err
	}
	return nil
}

// WriteBool writes b as one byte.
func (s *OutputStream) WriteBool(b bool) {
	if b {
		s.WriteByte(1)
	} else {
		s.WriteByte(0)
	}
}

// WriteUvarint writes v as a varint.
func (s *OutputStream) WriteUvarint(v uint64) {
	s.scratch = AppendUvarint(s.scratch[:0], v)
	s.append(s.scratch)
}

// WriteVarint writes v zig-zag encoded.
func (s *OutputStream) WriteVarint(v int64) {
	s.scratch = AppendVarint(s.scratch[:0], v)
	s.append(s.scratch)
}

func (s *OutputStream) WriteUint16(v uint16) { s.WriteUvarint(uint64(v)) }
func (s *OutputStream) WriteUint32(v uint32) { s.WriteUvarint(uint64(v)) }
func (s *OutputStream) WriteUint64(v uint64) { s.WriteUvarint(v) }
func (s *OutputStream) WriteInt16(v int16)   { s.WriteVarint(int64(v)) }
func (s *OutputStream) WriteInt32(v int32)   { s.WriteVarint(int64(v)) }
func (s *OutputStream) WriteInt64(v int64)   { s.WriteVarint(v) }

// WriteFloat32 writes v as four little-endian bytes.
func (s *OutputStream) WriteFloat32(v float32) {
	s.scratch = binary.LittleEndian.AppendUint32(s.scratch[:0], math.Float32bits(v))
	s.append(s.scratch)
}

// WriteFloat64 writes v as eight little-endian bytes.
func (s *OutputStream) WriteFloat64(v float64) {
	s.scratch = binary.LittleEndian.AppendUint64(s.scratch[:0], math.Float64bits(v))
	s.append(s.scratch)
}

// WriteSize writes a length or count, which must fit 32 bits.
func (s *OutputStream) WriteSize(n int) {
	if n < 0 || uint64(n) > math.MaxUint32 {
		s.fail("size", ErrTooLarge)
		return
	}
	s.WriteUvarint(uint64(n))
}

// WriteString writes a length-prefixed string.
func (s *OutputStream) WriteString(v string) {
	s.WriteSize(len(v))
	if err := s.seq.Append([]byte(v)); err != nil {
		s.fail("write", err)
	}
}

// WriteBytes writes a length-prefixed byte string.
func (s *OutputStream) WriteBytes(v []byte) {
	s.WriteSize(len(v))
	s.append(v)
}

// WriteStringSeq writes a count followed by each string.
func (s *OutputStream) WriteStringSeq(v []string) {
	s.WriteSize(len(v))
	for _, e := range v {
		s.WriteString(e)
	}
}

// WriteUnsigned writes any unsigned integer as a varint.
func WriteUnsigned[T Unsigned](s *OutputStream, v T) { s.WriteUvarint(uint64(v)) }

// WriteSigned writes any signed integer zig-zag encoded.
func WriteSigned[T Signed](s *OutputStream, v T) { s.WriteVarint(int64(v)) }

// WriteEnum writes an enumerator.
func WriteEnum[E Enum](s *OutputStream, e E) {
	s.scratch = AppendEnum(s.scratch[:0], e)
	s.append(s.scratch)
}

// BeginEncapsulation opens a nested encapsulation. Its version and size are
// written when it closes.
func (s *OutputStream) BeginEncapsulation() error {
	h, err := s.seq.OpenChunk(encapsHeaderCap)
	if err != nil {
		return marshalErr("begin encapsulation", err)
	}
	if _, err := s.seq.OpenChunk(0); err != nil {
		return marshalErr("begin encapsulation", err)
	}
	s.encaps = append(s.encaps, &outEncaps{version: s.opts.version, header: h})
	return nil
}

// EndEncapsulation flushes the encapsulation's object table, back-writes
// its header and pops it.
func (s *OutputStream) EndEncapsulation() error {
	top := s.top()
	if top == nil {
		return marshalErr("end encapsulation", ErrScopeMismatch)
	}
	if top.segment != nil {
		return marshalErr("end encapsulation", ErrScopeMismatch)
	}
	if err := s.flushObjects(top); err != nil {
		return err
	}
	if s.err != nil {
		return s.err
	}
	size := s.seq.LenFrom(top.header + 1)
	if uint64(size) > math.MaxUint32 {
		return marshalErr("end encapsulation", ErrTooLarge)
	}
	hdr := make([]byte, 0, encapsHeaderCap)
	hdr = append(hdr, top.version.Major, top.version.Minor)
	hdr = AppendUvarint(hdr, uint64(size))
	if err := s.seq.SetChunk(top.header, hdr); err != nil {
		return marshalErr("end encapsulation", err)
	}
	s.encaps = s.encaps[:len(s.encaps)-1]
	return nil
}

// Encapsulation describes the innermost open encapsulation.
type Encapsulation struct {
	Version Version
	Depth   int
	Size    int
}

// CurrentEncapsulation returns the innermost open encapsulation; Size is
// the number of bytes written into it so far.
func (s *OutputStream) CurrentEncapsulation() (Encapsulation, bool) {
	top := s.top()
	if top == nil {
		return Encapsulation{}, false
	}
	return Encapsulation{
		Version: top.version,
		Depth:   len(s.encaps),
		Size:    s.seq.LenFrom(top.header + 1),
	}, true
}

func (s *OutputStream) top() *outEncaps {
	if len(s.encaps) == 0 {
		return nil
	}
	return s.encaps[len(s.encaps)-1]
}

// StartSegment opens a segment for one slice of typeID. The first sighting
// of a type id in the encapsulation carries the full id; later ones only
// its index. Segments do not nest.
func (s *OutputStream) StartSegment(typeID string, last bool) error {
	top := s.top()
	if top == nil {
		return marshalErr("start segment", ErrNoEncapsulation)
	}
	if top.segment != nil {
		return marshalErr("start segment", ErrScopeMismatch)
	}
	hdr := SegmentHeader{TypeID: typeID}
	if last {
		hdr.Flags |= FlagLastSegment
	}
	index, seen := top.types.lookup(typeID)
	switch {
	case seen:
		hdr.Index = index
	case s.opts.compactType:
		hdr.Flags |= FlagHashTypeID
		hdr.Hash = TypeIDHash(typeID)
	default:
		hdr.Flags |= FlagStringTypeID
	}
	h, err := s.seq.OpenChunk(segmentHeaderCap + len(typeID))
	if err != nil {
		return marshalErr("start segment", err)
	}
	if _, err := s.seq.OpenChunk(0); err != nil {
		return marshalErr("start segment", err)
	}
	top.segment = &outSegment{header: h, hdr: hdr}
	return nil
}

// EndSegment back-writes the open segment's header.
func (s *OutputStream) EndSegment() error {
	top := s.top()
	if top == nil || top.segment == nil {
		return marshalErr("end segment", ErrScopeMismatch)
	}
	seg := top.segment
	size := s.seq.LenFrom(seg.header + 1)
	if uint64(size) > math.MaxUint32 {
		return marshalErr("end segment", ErrTooLarge)
	}
	seg.hdr.Size = uint32(size)
	if err := s.seq.SetChunk(seg.header, appendSegmentHeader(nil, seg.hdr)); err != nil {
		return marshalErr("end segment", err)
	}
	top.segment = nil
	return s.err
}

// EnqueueObject assigns o a stream id in the current encapsulation without
// writing anything. Its payload is written once, when the encapsulation
// closes.
func (s *OutputStream) EnqueueObject(o Object) (uint32, error) {
	top := s.top()
	if top == nil {
		return 0, marshalErr("enqueue object", ErrNoEncapsulation)
	}
	if s.seq.Destroyed() {
		return 0, marshalErr("enqueue object", buffer.ErrDestroyed)
	}
	if err := checkPointer(o); err != nil {
		return 0, marshalErr("enqueue object", err)
	}
	return top.objects.enqueue(o), nil
}

// WriteObject writes a reference to o; nil is written as id 0.
func (s *OutputStream) WriteObject(o Object) error {
	if o == nil {
		s.WriteUvarint(0)
		return s.err
	}
	id, err := s.EnqueueObject(o)
	if err != nil {
		return err
	}
	s.WriteUvarint(uint64(id))
	return s.err
}

// flushObjects writes the object table: batches of pending payloads, each
// preceded by its length, until a zero length. Payloads may enqueue further
// objects; those form the next batch, so shared and cyclic references are
// written once.
func (s *OutputStream) flushObjects(e *outEncaps) error {
	for {
		batch := e.objects.next()
		s.WriteSize(len(batch))
		if len(batch) == 0 {
			return s.err
		}
		for _, o := range batch {
			if err := s.writeSlices(o); err != nil {
				return err
			}
		}
	}
}

func (s *OutputStream) writeSlices(o Object) error {
	slices := o.Slices()
	if len(slices) == 0 {
		return marshalErr("write object", ErrNoSlices)
	}
	for i, sl := range slices {
		if err := s.StartSegment(sl.TypeID, i == len(slices)-1); err != nil {
			return err
		}
		if sl.Marshal != nil {
			if err := sl.Marshal(s); err != nil {
				return marshalErr("write slice "+sl.TypeID, err)
			}
		}
		if err := s.EndSegment(); err != nil {
			return err
		}
	}
	return nil
}

// BeginMessage reserves the message envelope. It must precede every other
// write.
func (s *OutputStream) BeginMessage() error {
	if s.message >= 0 || len(s.encaps) > 0 || s.seq.Len() > 0 {
		return marshalErr("begin message", ErrScopeMismatch)
	}
	h, err := s.seq.OpenChunk(messageHeaderCap)
	if err != nil {
		return marshalErr("begin message", err)
	}
	if _, err := s.seq.OpenChunk(0); err != nil {
		return marshalErr("begin message", err)
	}
	s.message = h
	return nil
}

// FinishMessage back-writes the envelope with the given kind. It is called
// just before the buffers are handed to a transport.
func (s *OutputStream) FinishMessage(kind MessageKind, oneway bool) error {
	if s.message < 0 || len(s.encaps) > 0 {
		return marshalErr("finish message", ErrScopeMismatch)
	}
	if s.err != nil {
		return s.err
	}
	size := s.seq.LenFrom(s.message + 1)
	if uint64(size) > math.MaxUint32 {
		return marshalErr("finish message", ErrTooLarge)
	}
	hdr := AppendMessageHeader(nil, MessageHeader{Kind: kind, OneWay: oneway, Size: uint32(size)})
	if err := s.seq.SetChunk(s.message, hdr); err != nil {
		return marshalErr("finish message", err)
	}
	s.message = -1
	return nil
}
