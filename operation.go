// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"fmt"

	"github.com/luxfi/orb/wire"
)

// Signature is the shape of an operation as declared by its interface.
type Signature struct {
	Void  bool // no return value
	Async bool // the servant completes through a continuation
}

// Mode selects one of the invocation executors. The local modes call the
// servant directly: LocalSyncVoid drops whatever the call returns and
// completes with the zero R, LocalSyncNonVoid forwards the returned value,
// and LocalAsync hands the servant a continuation. Void and non-void remote
// calls share the remote executors; the reply body decides the result.
type Mode uint8

const (
	LocalSyncVoid Mode = iota
	LocalSyncNonVoid
	LocalAsync
	RemoteSync
	RemoteAsync
)

func (m Mode) String() string {
	switch m {
	case LocalSyncVoid:
		return "local-sync-void"
	case LocalSyncNonVoid:
		return "local-sync-nonvoid"
	case LocalAsync:
		return "local-async"
	case RemoteSync:
		return "remote-sync"
	case RemoteAsync:
		return "remote-async"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// Local reports whether m runs against a servant in this process.
func (m Mode) Local() bool { return m <= LocalAsync }

// ClassifyMode picks the executor for an operation with signature sig.
// local reports that the target is a servant in this process; connected
// that a remote target already has an established connection.
func ClassifyMode(sig Signature, local, connected bool) Mode {
	switch {
	case local && sig.Async:
		return LocalAsync
	case local && sig.Void:
		return LocalSyncVoid
	case local:
		return LocalSyncNonVoid
	case connected:
		return RemoteSync
	default:
		return RemoteAsync
	}
}

// Operation describes one operation of interface I taking arguments A and
// returning R. Void operations use struct{} for R and leave the result
// codecs nil; operations without arguments do the same for A.
//
// Call serves synchronous operations and CallAsync asynchronous ones, as
// selected by Signature.Async.
type Operation[I, A, R any] struct {
	Name       string
	Signature  Signature
	Idempotent bool

	Call      func(ctx context.Context, impl I, cur *Current, args A) (R, error)
	CallAsync func(impl I, cur *Current, args A, done func(R, error))

	MarshalArgs     func(out *wire.OutputStream, args A) error
	UnmarshalArgs   func(in *wire.InputStream) (A, error)
	MarshalResult   func(out *wire.OutputStream, r R) error
	UnmarshalResult func(in *wire.InputStream) (R, error)
}

func (op *Operation[I, A, R]) mode() wire.OperationMode {
	if op.Idempotent {
		return wire.Idempotent
	}
	return wire.Normal
}

// marshalArgs writes args as one encapsulation.
func (op *Operation[I, A, R]) marshalArgs(out *wire.OutputStream, args A) error {
	if err := out.BeginEncapsulation(); err != nil {
		return err
	}
	if op.MarshalArgs != nil {
		if err := op.MarshalArgs(out, args); err != nil {
			return err
		}
	}
	return out.EndEncapsulation()
}

// unmarshalResult reads the result encapsulation at the position of in.
// Closing the encapsulation reads its object table, so every object
// reference in the result is patched before it is returned.
func (op *Operation[I, A, R]) unmarshalResult(in *wire.InputStream) (R, error) {
	var r R
	if _, err := in.BeginEncapsulation(); err != nil {
		return r, err
	}
	if op.UnmarshalResult != nil && !op.Signature.Void {
		var err error
		if r, err = op.UnmarshalResult(in); err != nil {
			return r, err
		}
	}
	if err := in.EndEncapsulation(); err != nil {
		var zero R
		return zero, err
	}
	return r, nil
}
