// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"bytes"
	"errors"
	"testing"
)

const (
	nodeType    = "::test::Node"
	labeledType = "::test::Labeled"
)

type node struct {
	Name string
	Next *node
}

func (n *node) Slices() []Slice {
	return []Slice{{
		TypeID: nodeType,
		Marshal: func(out *OutputStream) error {
			out.WriteString(n.Name)
			if n.Next == nil {
				return out.WriteObject(nil)
			}
			return out.WriteObject(n.Next)
		},
		Unmarshal: func(in *InputStream) error {
			var err error
			if n.Name, err = in.ReadString(); err != nil {
				return err
			}
			return ReadObjectAs(in, func(v *node) { n.Next = v })
		},
	}}
}

// labeled derives from node.
type labeled struct {
	node
	Label string
}

func (l *labeled) Slices() []Slice {
	own := Slice{
		TypeID: labeledType,
		Marshal: func(out *OutputStream) error {
			out.WriteString(l.Label)
			return out.Err()
		},
		Unmarshal: func(in *InputStream) error {
			var err error
			l.Label, err = in.ReadString()
			return err
		},
	}
	return append([]Slice{own}, l.node.Slices()...)
}

// nodeV2 is node as written by a peer that added a field.
type nodeV2 struct {
	Name  string
	Extra string
}

func (n *nodeV2) Slices() []Slice {
	return []Slice{{
		TypeID: nodeType,
		Marshal: func(out *OutputStream) error {
			out.WriteString(n.Name)
			out.WriteObject(nil)
			out.WriteString(n.Extra)
			out.WriteUint64(1 << 40)
			return out.Err()
		},
	}}
}

type valueObject struct{}

func (valueObject) Slices() []Slice { return []Slice{{TypeID: "::test::Value"}} }

func nodeRegistry(derived bool) *Registry {
	r := NewRegistry()
	r.Register(nodeType, func() Object { return &node{} })
	if derived {
		r.Register(labeledType, func() Object { return &labeled{} })
	}
	return r
}

// roundTrip writes root in one encapsulation followed by a marker and reads
// it back.
func roundTrip(t *testing.T, root Object, write []Option, read []Option) *node {
	t.Helper()
	out := NewOutputStream(write...)
	if err := out.BeginEncapsulation(); err != nil {
		t.Fatalf("BeginEncapsulation: %v", err)
	}
	if err := out.WriteObject(root); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}
	out.WriteUint32(99)
	if err := out.EndEncapsulation(); err != nil {
		t.Fatalf("EndEncapsulation: %v", err)
	}

	in := NewInputStream(out.Sequence(), read...)
	if _, err := in.BeginEncapsulation(); err != nil {
		t.Fatalf("in.BeginEncapsulation: %v", err)
	}
	var got *node
	if err := ReadObjectAs(in, func(n *node) { got = n }); err != nil {
		t.Fatalf("ReadObject: %v", err)
	}
	mustEqual(t, "marker", must(in.ReadUint32()), uint32(99))
	if err := in.EndEncapsulation(); err != nil {
		t.Fatalf("in.EndEncapsulation: %v", err)
	}
	return got
}

func TestObjectCycle(t *testing.T) {
	a := &node{Name: "a"}
	b := &node{Name: "b", Next: a}
	a.Next = b

	got := roundTrip(t, a, nil, []Option{WithRegistry(nodeRegistry(false))})
	if got == nil || got.Name != "a" || got.Next == nil || got.Next.Name != "b" {
		t.Fatalf("decoded graph = %+v", got)
	}
	if got.Next.Next != got {
		t.Fatalf("cycle lost: a.next.next = %p, want %p", got.Next.Next, got)
	}
}

func TestSelfReference(t *testing.T) {
	a := &node{Name: "self"}
	a.Next = a
	got := roundTrip(t, a, nil, []Option{WithRegistry(nodeRegistry(false))})
	if got.Next != got {
		t.Fatalf("self reference decoded to a distinct object")
	}
}

func TestSharedObjectWrittenOnce(t *testing.T) {
	shared := &node{Name: "shared-payload"}
	out := NewOutputStream()
	out.BeginEncapsulation()
	first, _ := out.EnqueueObject(shared)
	out.WriteObject(shared)
	out.WriteObject(shared)
	if err := out.EndEncapsulation(); err != nil {
		t.Fatalf("EndEncapsulation: %v", err)
	}
	if first != 1 {
		t.Fatalf("first id = %d, want 1", first)
	}
	if n := bytes.Count(out.Bytes(), []byte("shared-payload")); n != 1 {
		t.Fatalf("payload written %d times, want 1", n)
	}

	in := NewInputStream(out.Sequence(), WithRegistry(nodeRegistry(false)))
	in.BeginEncapsulation()
	var x, y *node
	ReadObjectAs(in, func(n *node) { x = n })
	ReadObjectAs(in, func(n *node) { y = n })
	if err := in.EndEncapsulation(); err != nil {
		t.Fatalf("EndEncapsulation: %v", err)
	}
	if x == nil || x != y {
		t.Fatalf("shared reference decoded to %p and %p", x, y)
	}
}

func TestForwardPatchFiresOnce(t *testing.T) {
	a := &node{Name: "a"}
	out := NewOutputStream()
	out.BeginEncapsulation()
	out.WriteObject(a)
	out.WriteObject(a)
	out.EndEncapsulation()

	in := NewInputStream(out.Sequence(), WithRegistry(nodeRegistry(false)))
	in.BeginEncapsulation()
	calls := 0
	count := func(Object) error { calls++; return nil }
	in.ReadObject(count)
	in.ReadObject(count)
	if calls != 0 {
		t.Fatalf("patch fired before the object table was read")
	}
	if err := in.EndEncapsulation(); err != nil {
		t.Fatalf("EndEncapsulation: %v", err)
	}
	if calls != 2 {
		t.Fatalf("patches fired %d times for two references, want 2", calls)
	}
}

func TestNilReference(t *testing.T) {
	out := NewOutputStream()
	out.BeginEncapsulation()
	out.WriteObject(nil)
	out.EndEncapsulation()
	if b := out.Bytes(); !bytes.Equal(b, []byte{1, 1, 2, 0, 0}) {
		t.Fatalf("nil reference encoding = %x", b)
	}

	in := NewInputStream(out.Sequence())
	in.BeginEncapsulation()
	called := false
	ReadObjectAs(in, func(n *node) { called = n == nil })
	in.EndEncapsulation()
	if !called {
		t.Fatalf("nil reference did not patch nil")
	}
}

func TestSlicingUnknownDerivedType(t *testing.T) {
	root := &labeled{node: node{Name: "base"}, Label: "derived-only"}
	got := roundTrip(t, root, nil, []Option{WithRegistry(nodeRegistry(false))})
	if got == nil || got.Name != "base" {
		t.Fatalf("sliced object = %+v", got)
	}
}

func TestDerivedTypeWhenKnown(t *testing.T) {
	root := &labeled{node: node{Name: "base"}, Label: "lbl"}
	out := NewOutputStream()
	out.BeginEncapsulation()
	out.WriteObject(root)
	out.EndEncapsulation()

	in := NewInputStream(out.Sequence(), WithRegistry(nodeRegistry(true)))
	in.BeginEncapsulation()
	var got *labeled
	ReadObjectAs(in, func(l *labeled) { got = l })
	if err := in.EndEncapsulation(); err != nil {
		t.Fatalf("EndEncapsulation: %v", err)
	}
	if got == nil || got.Label != "lbl" || got.Name != "base" {
		t.Fatalf("derived object = %+v", got)
	}
}

func TestExtraSliceFieldsSkipped(t *testing.T) {
	got := roundTrip(t, &nodeV2{Name: "v2", Extra: "ignored"}, nil, []Option{WithRegistry(nodeRegistry(false))})
	if got == nil || got.Name != "v2" || got.Next != nil {
		t.Fatalf("decoded = %+v", got)
	}
}

func TestCompactTypeIDs(t *testing.T) {
	a := &node{Name: "a"}
	a.Next = &node{Name: "b"}
	out := NewOutputStream(WithCompactTypeIDs())
	out.BeginEncapsulation()
	out.WriteObject(a)
	out.EndEncapsulation()
	if bytes.Contains(out.Bytes(), []byte(nodeType)) {
		t.Fatalf("compact stream carries the type id string")
	}

	got := roundTrip(t, a, []Option{WithCompactTypeIDs()}, []Option{WithRegistry(nodeRegistry(false))})
	if got.Name != "a" || got.Next == nil || got.Next.Name != "b" {
		t.Fatalf("decoded = %+v", got)
	}
}

func TestUnknownTypeFails(t *testing.T) {
	out := NewOutputStream()
	out.BeginEncapsulation()
	out.WriteObject(&node{Name: "x"})
	out.EndEncapsulation()

	in := NewInputStream(out.Sequence(), WithRegistry(NewRegistry()))
	in.BeginEncapsulation()
	ReadObjectAs(in, func(*node) {})
	err := in.EndEncapsulation()
	var ue *UnmarshalError
	if !errors.As(err, &ue) || !errors.Is(err, ErrUnknownType) {
		t.Fatalf("EndEncapsulation = %v, want ErrUnknownType", err)
	}
}

func TestReadObjectTypeMismatch(t *testing.T) {
	out := NewOutputStream()
	out.BeginEncapsulation()
	out.WriteObject(&node{Name: "x"})
	out.EndEncapsulation()

	in := NewInputStream(out.Sequence(), WithRegistry(nodeRegistry(true)))
	in.BeginEncapsulation()
	ReadObjectAs(in, func(*labeled) {})
	if err := in.EndEncapsulation(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("EndEncapsulation = %v, want ErrTypeMismatch", err)
	}
}

func TestObjectIDErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		// id 1 referenced, table empty
		{"unresolved", []byte{1, 1, 2, 1, 0}, ErrUnresolved},
		// id 5 cannot be defined in one remaining byte
		{"out of range", []byte{1, 1, 2, 5, 0}, ErrBadObjectID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := NewInputStreamBytes(tt.in, WithRegistry(nodeRegistry(false)))
			in.BeginEncapsulation()
			err := in.ReadObject(func(Object) error { return nil })
			if err == nil {
				err = in.EndEncapsulation()
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWriteObjectRejectsValues(t *testing.T) {
	out := NewOutputStream()
	out.BeginEncapsulation()
	err := out.WriteObject(valueObject{})
	var me *MarshalError
	if !errors.As(err, &me) || !errors.Is(err, ErrNotPointer) {
		t.Fatalf("WriteObject(value) = %v, want ErrNotPointer", err)
	}
}

func TestWriteObjectOutsideEncapsulation(t *testing.T) {
	out := NewOutputStream()
	if err := out.WriteObject(&node{}); !errors.Is(err, ErrNoEncapsulation) {
		t.Fatalf("WriteObject = %v, want ErrNoEncapsulation", err)
	}
}

func TestObjectsScopedToEncapsulation(t *testing.T) {
	a := &node{Name: "outer"}
	out := NewOutputStream()
	out.BeginEncapsulation()
	out.WriteObject(a)
	out.BeginEncapsulation()
	inner, _ := out.EnqueueObject(a)
	out.WriteObject(a)
	out.EndEncapsulation()
	out.EndEncapsulation()
	if inner != 1 {
		t.Fatalf("id in nested encapsulation = %d, want 1", inner)
	}
	if n := bytes.Count(out.Bytes(), []byte("outer")); n != 2 {
		t.Fatalf("payload written %d times, want once per encapsulation", n)
	}
}
