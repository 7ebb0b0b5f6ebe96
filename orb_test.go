// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/luxfi/orb/wire"
)

const divideByZeroType = "::test::DivideByZero"

// DivideByZero is the user exception of Calculator.Divide.
type DivideByZero struct {
	Dividend int32
}

func (e *DivideByZero) Error() string {
	return fmt.Sprintf("divide %d by zero", e.Dividend)
}

func (e *DivideByZero) Slices() []wire.Slice {
	return []wire.Slice{{
		TypeID: divideByZeroType,
		Marshal: func(out *wire.OutputStream) error {
			out.WriteInt32(e.Dividend)
			return out.Err()
		},
		Unmarshal: func(in *wire.InputStream) error {
			var err error
			e.Dividend, err = in.ReadInt32()
			return err
		},
	}}
}

var testRegistry = func() *wire.Registry {
	r := wire.NewRegistry()
	r.Register(divideByZeroType, func() wire.Object { return &DivideByZero{} })
	return r
}()

type Calculator interface {
	Add(ctx context.Context, a, b int32) (int32, error)
	Divide(a, b int32) (int32, error)
	Reset()
}

type calculator struct {
	resets atomic.Int32
}

func (*calculator) Add(_ context.Context, a, b int32) (int32, error) { return a + b, nil }

func (*calculator) Divide(a, b int32) (int32, error) {
	if b == 0 {
		return 0, &DivideByZero{Dividend: a}
	}
	return a / b, nil
}

func (c *calculator) Reset() { c.resets.Add(1) }

type pair struct{ A, B int32 }

func marshalPair(out *wire.OutputStream, p pair) error {
	out.WriteInt32(p.A)
	out.WriteInt32(p.B)
	return out.Err()
}

func unmarshalPair(in *wire.InputStream) (pair, error) {
	a, err := in.ReadInt32()
	if err != nil {
		return pair{}, err
	}
	b, err := in.ReadInt32()
	return pair{a, b}, err
}

func marshalInt32(out *wire.OutputStream, v int32) error {
	out.WriteInt32(v)
	return out.Err()
}

func unmarshalInt32(in *wire.InputStream) (int32, error) { return in.ReadInt32() }

var (
	opAdd = &Operation[Calculator, pair, int32]{
		Name: "add",
		Call: func(ctx context.Context, c Calculator, _ *Current, p pair) (int32, error) {
			return c.Add(ctx, p.A, p.B)
		},
		MarshalArgs:     marshalPair,
		UnmarshalArgs:   unmarshalPair,
		MarshalResult:   marshalInt32,
		UnmarshalResult: unmarshalInt32,
	}

	opDivide = &Operation[Calculator, pair, int32]{
		Name:       "divide",
		Idempotent: true,
		Call: func(_ context.Context, c Calculator, _ *Current, p pair) (int32, error) {
			return c.Divide(p.A, p.B)
		},
		MarshalArgs:     marshalPair,
		UnmarshalArgs:   unmarshalPair,
		MarshalResult:   marshalInt32,
		UnmarshalResult: unmarshalInt32,
	}

	opReset = &Operation[Calculator, struct{}, struct{}]{
		Name:      "reset",
		Signature: Signature{Void: true},
		Call: func(_ context.Context, c Calculator, _ *Current, _ struct{}) (struct{}, error) {
			c.Reset()
			return struct{}{}, nil
		},
	}

	opAddAsync = &Operation[Calculator, pair, int32]{
		Name:      "addAsync",
		Signature: Signature{Async: true},
		CallAsync: func(c Calculator, _ *Current, p pair, done func(int32, error)) {
			go func() { done(c.Add(context.Background(), p.A, p.B)) }()
		},
		MarshalArgs:     marshalPair,
		UnmarshalArgs:   unmarshalPair,
		MarshalResult:   marshalInt32,
		UnmarshalResult: unmarshalInt32,
	}

	opContext = &Operation[Calculator, string, string]{
		Name: "context",
		Call: func(_ context.Context, _ Calculator, cur *Current, key string) (string, error) {
			return cur.Context[key], nil
		},
		MarshalArgs: func(out *wire.OutputStream, s string) error {
			out.WriteString(s)
			return out.Err()
		},
		UnmarshalArgs: func(in *wire.InputStream) (string, error) { return in.ReadString() },
		MarshalResult: func(out *wire.OutputStream, s string) error {
			out.WriteString(s)
			return out.Err()
		},
		UnmarshalResult: func(in *wire.InputStream) (string, error) { return in.ReadString() },
	}

	opPanic = &Operation[Calculator, struct{}, struct{}]{
		Name:      "panic",
		Signature: Signature{Void: true},
		Call: func(context.Context, Calculator, *Current, struct{}) (struct{}, error) {
			panic("boom")
		},
	}

	// opHang never completes.
	opHang = &Operation[Calculator, struct{}, struct{}]{
		Name:      "hang",
		Signature: Signature{Void: true, Async: true},
		CallAsync: func(Calculator, *Current, struct{}, func(struct{}, error)) {},
	}
)

func newCalculatorSkeleton(impl Calculator) *Skeleton[Calculator] {
	sk := NewSkeleton(impl)
	AddOperation(sk, opAdd)
	AddOperation(sk, opDivide)
	AddOperation(sk, opReset)
	AddOperation(sk, opAddAsync)
	AddOperation(sk, opContext)
	AddOperation(sk, opPanic)
	AddOperation(sk, opHang)
	return sk
}

// opaqueServant hides the implementation behind a skeleton so collocated
// calls have to go through Dispatch.
type opaqueServant struct {
	s   Servant
	ops []string
	mu  sync.Mutex
}

func (o *opaqueServant) Dispatch(req *DispatchRequest) {
	o.mu.Lock()
	o.ops = append(o.ops, req.Current().Operation)
	o.mu.Unlock()
	o.s.Dispatch(req)
}

func newTestCommunicator(t testing.TB, opts ...DialOption) *Communicator {
	t.Helper()
	opts = append([]DialOption{WithEncoding(wire.WithRegistry(testRegistry))}, opts...)
	com := NewCommunicator(opts...)
	t.Cleanup(func() { _ = com.Close() })
	return com
}

// serve starts srv and stops it when the test ends.
func serve(t testing.TB, srv Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
}

// recorder collects the callbacks of one invocation in order.
type recorder[R any] struct {
	mu     sync.Mutex
	events []string
	val    R
	err    error
	done   chan struct{}
}

func newRecorder[R any]() *recorder[R] {
	return &recorder[R]{done: make(chan struct{})}
}

func (r *recorder[R]) callbacks() Callbacks[R] {
	return Callbacks[R]{
		Sent: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "sent")
		},
		Response: func(v R) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.val = v
			r.events = append(r.events, "response")
			close(r.done)
		},
		Exception: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.err = err
			r.events = append(r.events, "exception")
			close(r.done)
		},
	}
}

func (r *recorder[R]) wait(t testing.TB) (R, []string, error) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("invocation did not complete")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.val, append([]string(nil), r.events...), r.err
}

// eventually polls cond until it holds or a second passes.
func eventually(t testing.TB, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
