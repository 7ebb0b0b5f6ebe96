// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestParseReference(t *testing.T) {
	tests := []struct {
		in   string
		want Reference
		err  error
	}{
		{"calc", Reference{Identity: Identity{Name: "calc"}}, nil},
		{"test/calc", Reference{Identity: Identity{Category: "test", Name: "calc"}}, nil},
		{"test/calc#admin", Reference{Identity: Identity{Category: "test", Name: "calc"}, Facet: "admin"}, nil},
		{
			"test/calc#admin@zap://127.0.0.1:9000",
			Reference{Identity: Identity{Category: "test", Name: "calc"}, Facet: "admin", Endpoint: "zap://127.0.0.1:9000"},
			nil,
		},
		{"calc@loopback://srv", Reference{Identity: Identity{Name: "calc"}, Endpoint: "loopback://srv"}, nil},
		{"", Reference{}, ErrBadReference},
		{"test/", Reference{}, ErrBadReference},
		{"a/b/c", Reference{}, ErrBadReference},
		{"calc@", Reference{}, ErrBadReference},
		{"#facet", Reference{}, ErrBadReference},
	}
	for _, tt := range tests {
		got, err := ParseReference(tt.in)
		if !errors.Is(err, tt.err) {
			t.Errorf("%q: got error %v, want %v", tt.in, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: got %+v, want %+v", tt.in, got, tt.want)
		}
		if err == nil {
			if s := got.String(); s != tt.in {
				t.Errorf("%q: String() = %q", tt.in, s)
			}
		}
	}
}

func TestReferenceLocal(t *testing.T) {
	ref := Reference{Identity: calcID}
	if !ref.Local() {
		t.Error("reference without endpoint is not local")
	}
	remote := ref.WithEndpoint("zap://127.0.0.1:1").WithFacet("f")
	if remote.Local() {
		t.Error("reference with endpoint is local")
	}
	if ref.Endpoint != "" || ref.Facet != "" {
		t.Error("With* modified the receiver")
	}
}

func TestClassifyMode(t *testing.T) {
	tests := []struct {
		sig       Signature
		local     bool
		connected bool
		want      Mode
	}{
		{Signature{}, true, false, LocalSyncNonVoid},
		{Signature{Void: true}, true, false, LocalSyncVoid},
		{Signature{Async: true}, true, false, LocalAsync},
		{Signature{Void: true, Async: true}, true, true, LocalAsync},
		{Signature{}, false, true, RemoteSync},
		{Signature{Void: true}, false, true, RemoteSync},
		{Signature{Async: true}, false, true, RemoteSync},
		{Signature{}, false, false, RemoteAsync},
		{Signature{Async: true}, false, false, RemoteAsync},
	}
	for _, tt := range tests {
		got := ClassifyMode(tt.sig, tt.local, tt.connected)
		if got != tt.want {
			t.Errorf("ClassifyMode(%+v, %v, %v) = %v, want %v", tt.sig, tt.local, tt.connected, got, tt.want)
		}
		if got.Local() != tt.local {
			t.Errorf("%v.Local() = %v, want %v", got, got.Local(), tt.local)
		}
	}
}

func TestModeString(t *testing.T) {
	for m, want := range map[Mode]string{
		LocalSyncVoid:    "local-sync-void",
		LocalSyncNonVoid: "local-sync-nonvoid",
		LocalAsync:       "local-async",
		RemoteSync:       "remote-sync",
		RemoteAsync:      "remote-async",
		Mode(9):          "mode(9)",
	} {
		if got := m.String(); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestAdapterRegistry(t *testing.T) {
	a := NewAdapter("registry")
	sk := newCalculatorSkeleton(&calculator{})

	if _, err := a.Add(sk, Identity{Category: "test"}); !errors.Is(err, ErrEmptyIdentity) {
		t.Errorf("empty identity: got %v, want %v", err, ErrEmptyIdentity)
	}
	ref, err := a.Add(sk, calcID)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if ref.Identity != calcID || !ref.Local() {
		t.Errorf("got reference %v", ref)
	}
	if _, err := a.Add(sk, calcID); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("duplicate: got %v, want %v", err, ErrAlreadyRegistered)
	}
	if _, err := a.AddFacet(sk, calcID, "admin"); err != nil {
		t.Errorf("facet: %v", err)
	}

	if s, ok := a.Find(calcID, "admin"); !ok || s != Servant(sk) {
		t.Errorf("Find facet: got %v, %v", s, ok)
	}
	if _, ok := a.Find(calcID, "other"); ok {
		t.Error("Find returned an unregistered facet")
	}

	if _, err := a.Remove(calcID, "admin"); err != nil {
		t.Errorf("Remove: %v", err)
	}
	_, err = a.Remove(calcID, "admin")
	var noObj *NoObjectError
	if !errors.As(err, &noObj) || noObj.Facet != "admin" {
		t.Errorf("second Remove: got %v, want NoObjectError", err)
	}
	if _, ok := a.Find(calcID, ""); !ok {
		t.Error("removing a facet removed the default facet")
	}
}

func TestAdapterAddWithUUID(t *testing.T) {
	a := NewAdapter("uuid")
	seen := make(map[string]bool)
	for range 3 {
		ref, err := a.AddWithUUID(newCalculatorSkeleton(&calculator{}))
		if err != nil {
			t.Fatalf("AddWithUUID: %v", err)
		}
		if _, err := uuid.Parse(ref.Identity.Name); err != nil {
			t.Errorf("identity %q is not a UUID: %v", ref.Identity.Name, err)
		}
		if seen[ref.Identity.Name] {
			t.Errorf("identity %q reused", ref.Identity.Name)
		}
		seen[ref.Identity.Name] = true
	}
}

func TestCommunicatorAdapters(t *testing.T) {
	com := newTestCommunicator(t)
	a, err := com.CreateAdapter("calc")
	if err != nil {
		t.Fatalf("CreateAdapter: %v", err)
	}
	if _, err := com.CreateAdapter("calc"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("duplicate: got %v, want %v", err, ErrAlreadyRegistered)
	}
	if got, ok := com.Adapter("calc"); !ok || got != a {
		t.Errorf("Adapter: got %v, %v", got, ok)
	}

	b, err := com.CreateAdapter("other")
	if err != nil {
		t.Fatalf("CreateAdapter: %v", err)
	}
	ref, err := b.Add(newCalculatorSkeleton(&calculator{}), calcID)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, ok := com.Local(ref); !ok {
		t.Error("Local did not search every adapter")
	}
	if _, ok := com.Local(ref.WithFacet("missing")); ok {
		t.Error("Local found an unregistered facet")
	}

	if err := com.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if com.Alive() {
		t.Error("Alive after Close")
	}
	if _, err := com.CreateAdapter("late"); !errors.Is(err, ErrCommunicatorClosed) {
		t.Errorf("after close: got %v, want %v", err, ErrCommunicatorClosed)
	}
}
