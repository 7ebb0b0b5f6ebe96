// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"fmt"
	"sync"

	"code.hybscloud.com/atomix"

	"github.com/luxfi/orb/wire"
)

// Callbacks receive the outcome of an asynchronous invocation. Sent fires
// at most once, when the request is handed to the transport or, for a
// collocated servant, just before it runs. Then exactly one of Response or
// Exception fires; one-way invocations end at Sent unless they fail before
// it. Sent never follows Response or Exception. Any callback may be nil.
type Callbacks[R any] struct {
	Response  func(R)
	Exception func(error)
	Sent      func()
}

// CallOption configures one invocation.
type CallOption func(*callOptions)

type callOptions struct {
	context Context
	oneway  bool
}

// WithRequestContext sends ctx as the request context.
func WithRequestContext(ctx Context) CallOption {
	return func(o *callOptions) { o.context = ctx }
}

func oneway() CallOption {
	return func(o *callOptions) { o.oneway = true }
}

// invocation guards the callbacks of one call. It lives on the heap for as
// long as a transport or servant holds one of its continuations.
type invocation[R any] struct {
	cb   Callbacks[R]
	mu   sync.Mutex
	sent bool
	done atomix.Uint32
}

func (inv *invocation[R]) markSent() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.sent {
		return
	}
	inv.sent = true
	if inv.cb.Sent != nil {
		inv.cb.Sent()
	}
}

// finish claims completion; only the first caller proceeds. Completion also
// closes the window for Sent.
func (inv *invocation[R]) finish() bool {
	if inv.done.Add(1) != 1 {
		return false
	}
	inv.mu.Lock()
	inv.sent = true
	inv.mu.Unlock()
	return true
}

func (inv *invocation[R]) response(r R) {
	inv.markSent()
	if !inv.finish() {
		return
	}
	if inv.cb.Response != nil {
		inv.cb.Response(r)
	}
}

func (inv *invocation[R]) exception(err error) {
	if !inv.finish() {
		return
	}
	if inv.cb.Exception != nil {
		inv.cb.Exception(err)
	}
}

func (inv *invocation[R]) complete(r R, err error) {
	if err != nil {
		inv.exception(err)
		return
	}
	inv.response(r)
}

// protect runs f and turns a panic into the invocation's exception.
func (inv *invocation[R]) protect(f func()) {
	defer func() {
		if p := recover(); p != nil {
			inv.exception(&UnknownError{Reason: fmt.Sprint(p)})
		}
	}()
	f()
}

// InvokeAsync invokes op on the object ref names, reporting the outcome
// through cb. Nothing is returned: every failure, including a missing
// local servant or a marshalling error, reaches cb.Exception exactly once.
func InvokeAsync[I, A, R any](ctx context.Context, c Connector, ref Reference, op *Operation[I, A, R], args A, cb Callbacks[R], opts ...CallOption) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	inv := &invocation[R]{cb: cb}
	if !c.Alive() {
		inv.exception(ErrCommunicatorClosed)
		return
	}

	var (
		servant   Servant
		conn      Connection
		local     bool
		connected bool
	)
	if ref.Local() {
		if servant, local = c.Local(ref); !local {
			inv.exception(&NoObjectError{Identity: ref.Identity, Facet: ref.Facet})
			return
		}
	} else {
		conn, connected = c.Connection(ref)
	}

	switch mode := ClassifyMode(op.Signature, local, connected); mode {
	case LocalSyncVoid, LocalSyncNonVoid, LocalAsync:
		invokeLocal(ctx, c, mode, servant, ref, op, args, o, inv)
	case RemoteSync:
		if req, ok := remoteRequest(c, ref, op, args, o, inv); ok {
			conn.Invoke(ctx, req, remoteHandler(op, o, inv))
		}
	case RemoteAsync:
		req, ok := remoteRequest(c, ref, op, args, o, inv)
		if !ok {
			return
		}
		c.Connect(ctx, ref, func(conn Connection, err error) {
			if err != nil {
				inv.exception(err)
				return
			}
			if !c.Alive() {
				inv.exception(ErrCommunicatorClosed)
				return
			}
			conn.Invoke(ctx, req, remoteHandler(op, o, inv))
		})
	}
}

// invokeLocal calls a collocated servant. A servant viewable as I is
// called directly and its result bypasses the codec; any other servant is
// driven through its generic dispatch entry point with marshalled
// arguments, exactly as a remote request would be.
func invokeLocal[I, A, R any](ctx context.Context, c Connector, mode Mode, servant Servant, ref Reference, op *Operation[I, A, R], args A, o callOptions, inv *invocation[R]) {
	cur := &Current{
		Identity:  ref.Identity,
		Facet:     ref.Facet,
		Operation: op.Name,
		Mode:      op.mode(),
		Context:   o.context,
		Encoding:  wire.Encoding11,
	}
	impl, ok := viewAs[I](servant)
	if !ok {
		invokeCollocated(ctx, c, servant, cur, op, args, o, inv)
		return
	}
	if (mode == LocalAsync && op.CallAsync == nil) || (mode != LocalAsync && op.Call == nil) {
		inv.exception(&OperationNotExistError{Identity: ref.Identity, Facet: ref.Facet, Operation: op.Name})
		return
	}
	inv.markSent()
	if o.oneway {
		// the caller's view of a one-way call ends at Sent
		inv.finish()
	}
	inv.protect(func() {
		switch mode {
		case LocalAsync:
			op.CallAsync(impl, cur, args, inv.complete)
		case LocalSyncVoid:
			_, err := op.Call(ctx, impl, cur, args)
			var zero R
			inv.complete(zero, err)
		default:
			r, err := op.Call(ctx, impl, cur, args)
			inv.complete(r, err)
		}
	})
}

func invokeCollocated[I, A, R any](ctx context.Context, c Connector, servant Servant, cur *Current, op *Operation[I, A, R], args A, o callOptions, inv *invocation[R]) {
	enc := c.Encoding()
	out := wire.NewOutputStream(enc...)
	if err := op.marshalArgs(out, args); err != nil {
		inv.exception(err)
		return
	}
	seq := out.Sequence()
	req := &DispatchRequest{
		ctx:      ctx,
		cur:      cur,
		begin:    seq.Begin(),
		end:      seq.End(),
		encoding: enc,
		result: func(res *wire.OutputStream) {
			r, err := op.unmarshalResult(wire.NewInputStream(res.Sequence(), enc...))
			inv.complete(r, err)
		},
		exception: inv.exception,
	}
	inv.markSent()
	if o.oneway {
		inv.finish()
	}
	inv.protect(func() { servant.Dispatch(req) })
}

// remoteRequest marshals the arguments of a remote call. A marshalling
// failure ends the invocation before anything is sent.
func remoteRequest[I, A, R any](c Connector, ref Reference, op *Operation[I, A, R], args A, o callOptions, inv *invocation[R]) (*Request, bool) {
	out := wire.NewOutputStream(c.Encoding()...)
	if err := op.marshalArgs(out, args); err != nil {
		inv.exception(err)
		return nil, false
	}
	return &Request{
		Identity:  ref.Identity,
		Facet:     ref.Facet,
		Operation: op.Name,
		Mode:      op.mode(),
		Context:   o.context,
		OneWay:    o.oneway,
		Args:      out.Bytes(),
	}, true
}

// remoteHandler unmarshals the reply of a remote call and feeds the
// invocation's callbacks.
func remoteHandler[I, A, R any](op *Operation[I, A, R], o callOptions, inv *invocation[R]) ReplyHandler {
	return ReplyHandler{
		Sent: func() {
			inv.markSent()
			if o.oneway {
				inv.finish()
			}
		},
		Exception: inv.exception,
		Reply: func(rep *Reply) {
			inv.markSent()
			inv.protect(func() {
				if rep.Status != wire.StatusOK {
					inv.exception(rep.Err())
					return
				}
				r, err := op.unmarshalResult(rep.Body)
				inv.complete(r, err)
			})
		},
	}
}
