// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"fmt"
	"reflect"
)

// Object is a class instance: a record whose state is an ordered list of
// slices, most-derived first. Objects are marshalled by reference, so
// implementations must be pointers.
type Object interface {
	Slices() []Slice
}

// Slice is the state owned by one level of a class hierarchy.
type Slice struct {
	TypeID    string
	Marshal   func(*OutputStream) error
	Unmarshal func(*InputStream) error
}

// TypeIDOf returns the most-derived type id of o.
func TypeIDOf(o Object) string {
	s := o.Slices()
	if len(s) == 0 {
		return ""
	}
	return s[0].TypeID
}

// writeQueue assigns stream ids to objects in first-sighting order and
// defers their payloads until the encapsulation closes. Slot i holds id i+1.
type writeQueue struct {
	ids     map[Object]uint32
	slots   []Object
	written int
}

func (q *writeQueue) enqueue(o Object) uint32 {
	if id, ok := q.ids[o]; ok {
		return id
	}
	if q.ids == nil {
		q.ids = make(map[Object]uint32)
	}
	q.slots = append(q.slots, o)
	id := uint32(len(q.slots))
	q.ids[o] = id
	return id
}

// next returns the objects enqueued since the previous call.
func (q *writeQueue) next() []Object {
	batch := q.slots[q.written:]
	q.written = len(q.slots)
	return batch
}

// readSlot is one stream id on the read side.
type readSlot struct {
	target   Object
	resolved bool
	patches  []func(Object) error
}

// readQueue tracks references by stream id until their payloads are read.
// Slot i holds id i+1.
type readQueue struct {
	slots []*readSlot
	read  uint32 // payloads consumed so far
}

func (q *readQueue) slot(id uint32) *readSlot {
	for uint32(len(q.slots)) < id {
		q.slots = append(q.slots, &readSlot{})
	}
	return q.slots[id-1]
}

// resolve records the target of a slot and fires its queued patches once.
func (s *readSlot) resolve(o Object) {
	s.target = o
	s.resolved = true
}

func (s *readSlot) fire() error {
	patches := s.patches
	s.patches = nil
	for _, p := range patches {
		if err := p(s.target); err != nil {
			return err
		}
	}
	return nil
}

func (q *readQueue) unresolved() (uint32, bool) {
	for i, s := range q.slots {
		if !s.resolved {
			return uint32(i + 1), true
		}
	}
	return 0, false
}

// checkPointer rejects values that cannot serve as identities.
func checkPointer(o Object) error {
	if k := reflect.TypeOf(o).Kind(); k != reflect.Pointer {
		return fmt.Errorf("%w: %T", ErrNotPointer, o)
	}
	return nil
}

// ReadObjectAs is ReadObject for a statically known type. A resolved object
// of another type is an UnmarshalError; a nil reference yields T's zero
// value.
func ReadObjectAs[T Object](in *InputStream, patch func(T)) error {
	return in.ReadObject(func(o Object) error {
		if o == nil {
			var zero T
			patch(zero)
			return nil
		}
		v, ok := o.(T)
		if !ok {
			return &UnmarshalError{Op: "read object", Err: fmt.Errorf("%w: %T", ErrTypeMismatch, o)}
		}
		patch(v)
		return nil
	})
}
