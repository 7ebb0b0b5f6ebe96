// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import "context"

// Future is the pending result of an invocation. Dropping a Future
// abandons the call: its continuations still run but nobody observes them.
type Future[R any] struct {
	sent chan struct{}
	done chan struct{}
	val  R
	err  error
}

// Sent is closed once the request has been handed to the transport.
func (f *Future[R]) Sent() <-chan struct{} { return f.sent }

// Done is closed once the result is available.
func (f *Future[R]) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is available or ctx ends.
func (f *Future[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// InvokeFuture starts an invocation and returns its Future.
func InvokeFuture[I, A, R any](ctx context.Context, c Connector, ref Reference, op *Operation[I, A, R], args A, opts ...CallOption) *Future[R] {
	f := &Future[R]{
		sent: make(chan struct{}),
		done: make(chan struct{}),
	}
	InvokeAsync(ctx, c, ref, op, args, Callbacks[R]{
		Sent: func() { close(f.sent) },
		Response: func(r R) {
			f.val = r
			close(f.done)
		},
		Exception: func(err error) {
			f.err = err
			close(f.done)
		},
	}, opts...)
	return f
}

// Invoke calls op and waits for its result.
func Invoke[I, A, R any](ctx context.Context, c Connector, ref Reference, op *Operation[I, A, R], args A, opts ...CallOption) (R, error) {
	return InvokeFuture(ctx, c, ref, op, args, opts...).Wait(ctx)
}

// Oneway sends op without waiting for a reply. It returns once the request
// has been handed to the transport.
func Oneway[I, A, R any](ctx context.Context, c Connector, ref Reference, op *Operation[I, A, R], args A, opts ...CallOption) error {
	f := InvokeFuture(ctx, c, ref, op, args, append(opts, oneway())...)
	select {
	case <-f.sent:
		return nil
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
