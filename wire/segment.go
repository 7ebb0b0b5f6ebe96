// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import "fmt"

// SegmentFlags describe how a segment header names its type.
type SegmentFlags uint8

const (
	// FlagStringTypeID: the type id follows as a string (first sighting).
	FlagStringTypeID SegmentFlags = 1 << iota
	// FlagHashTypeID: the type id follows as a fixed 64-bit hash (first sighting).
	FlagHashTypeID
	// FlagLastSegment marks the base-most slice of an instance.
	FlagLastSegment
)

const segmentFlagMask = FlagStringTypeID | FlagHashTypeID | FlagLastSegment

// SegmentHeader precedes each slice of an instance. With neither type-id
// flag set the type is named by Index, a 1-based reference into the
// encapsulation's type table.
type SegmentHeader struct {
	Flags  SegmentFlags
	TypeID string
	Hash   uint64
	Index  uint32
	Size   uint32
}

// Last reports whether h ends its instance's slice chain.
func (h SegmentHeader) Last() bool { return h.Flags&FlagLastSegment != 0 }

func (h SegmentHeader) String() string {
	return fmt.Sprintf("segment{type=%q flags=%#x index=%d size=%d}", h.TypeID, uint8(h.Flags), h.Index, h.Size)
}

// appendSegmentHeader encodes h. The type-id form follows the flags.
func appendSegmentHeader(dst []byte, h SegmentHeader) []byte {
	dst = append(dst, byte(h.Flags))
	switch {
	case h.Flags&FlagStringTypeID != 0:
		dst = AppendUvarint(dst, uint64(len(h.TypeID)))
		dst = append(dst, h.TypeID...)
	case h.Flags&FlagHashTypeID != 0:
		for i := 0; i < 8; i++ {
			dst = append(dst, byte(h.Hash>>(8*i)))
		}
	default:
		dst = AppendUvarint(dst, uint64(h.Index))
	}
	return AppendUvarint(dst, uint64(h.Size))
}

// outTypeTable assigns 1-based indexes to type ids in first-sighting order.
type outTypeTable struct {
	index map[string]uint32
}

// lookup returns the index of typeID and whether it was already present;
// absent ids are registered.
func (t *outTypeTable) lookup(typeID string) (uint32, bool) {
	if t.index == nil {
		t.index = make(map[string]uint32)
	}
	if i, ok := t.index[typeID]; ok {
		return i, true
	}
	i := uint32(len(t.index) + 1)
	t.index[typeID] = i
	return i, false
}

// inTypeTable mirrors outTypeTable: entries are appended as full type ids
// are read.
type inTypeTable struct {
	ids []string
}

func (t *inTypeTable) add(typeID string) {
	t.ids = append(t.ids, typeID)
}

func (t *inTypeTable) get(index uint32) (string, bool) {
	if index == 0 || int(index) > len(t.ids) {
		return "", false
	}
	return t.ids[index-1], true
}
