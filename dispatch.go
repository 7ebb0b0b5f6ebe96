// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"fmt"
	"log/slog"

	"code.hybscloud.com/atomix"

	"github.com/luxfi/orb/buffer"
	"github.com/luxfi/orb/wire"
)

// Servant is the generic dispatch entry point of an object. Dispatch must
// eventually complete req through Result or Exception, possibly after it
// has returned.
type Servant interface {
	Dispatch(req *DispatchRequest)
}

// viewAs returns the implementation behind s as I, either s itself or the
// value a Skeleton wraps.
func viewAs[I any](s Servant) (I, bool) {
	if v, ok := s.(I); ok {
		return v, true
	}
	if b, ok := s.(interface{ Impl() any }); ok {
		v, ok := b.Impl().(I)
		return v, ok
	}
	var zero I
	return zero, false
}

// DispatchRequest is one inbound call: the bounded range holding its
// argument encapsulation and the continuations completing it. The first
// call to Result or Exception wins; later calls are ignored.
type DispatchRequest struct {
	ctx        context.Context
	cur        *Current
	begin, end buffer.Cursor
	encoding   []wire.Option
	result     func(*wire.OutputStream)
	exception  func(error)
	done       atomix.Uint32
}

// Context returns the context of the connection or caller.
func (r *DispatchRequest) Context() context.Context { return r.ctx }

// Current describes the call.
func (r *DispatchRequest) Current() *Current { return r.cur }

// Input returns a stream over the arguments with their encapsulation
// already begun. Callers end it with EndEncapsulation once every argument
// has been read.
func (r *DispatchRequest) Input() (*wire.InputStream, error) {
	in := wire.NewInputStreamRange(r.begin, r.end, r.encoding...)
	if _, err := in.BeginEncapsulation(); err != nil {
		return nil, err
	}
	return in, nil
}

// NewOutput returns a stream with the result encapsulation already begun.
func (r *DispatchRequest) NewOutput() (*wire.OutputStream, error) {
	out := wire.NewOutputStream(r.encoding...)
	if err := out.BeginEncapsulation(); err != nil {
		return nil, err
	}
	return out, nil
}

// Result closes the encapsulation opened by NewOutput and sends it as the
// reply.
func (r *DispatchRequest) Result(out *wire.OutputStream) {
	if r.done.Add(1) != 1 {
		return
	}
	if err := out.EndEncapsulation(); err != nil {
		r.exception(err)
		return
	}
	r.result(out)
}

// Exception completes the call with err.
func (r *DispatchRequest) Exception(err error) {
	if r.done.Add(1) != 1 {
		return
	}
	r.exception(err)
}

// dispatch hands req to s, converting a panic into an exception reply.
func dispatch(s Servant, req *DispatchRequest, log *slog.Logger) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("orb: servant panicked",
				"identity", req.cur.Identity.String(),
				"operation", req.cur.Operation,
				"panic", p,
			)
			req.Exception(&UnknownError{Reason: fmt.Sprint(p)})
		}
	}()
	s.Dispatch(req)
}

// Skeleton dispatches requests to an implementation of I through the
// operations added with AddOperation.
type Skeleton[I any] struct {
	impl I
	ops  map[string]func(I, *DispatchRequest)
}

// NewSkeleton returns a skeleton serving impl.
func NewSkeleton[I any](impl I) *Skeleton[I] {
	return &Skeleton[I]{impl: impl, ops: make(map[string]func(I, *DispatchRequest))}
}

// Impl returns the implementation, letting collocated calls bypass the
// codec.
func (s *Skeleton[I]) Impl() any { return s.impl }

// Dispatch implements Servant.
func (s *Skeleton[I]) Dispatch(req *DispatchRequest) {
	f, ok := s.ops[req.cur.Operation]
	if !ok {
		req.Exception(&OperationNotExistError{
			Identity:  req.cur.Identity,
			Facet:     req.cur.Facet,
			Operation: req.cur.Operation,
		})
		return
	}
	f(s.impl, req)
}

// AddOperation makes op dispatchable through s.
func AddOperation[I, A, R any](s *Skeleton[I], op *Operation[I, A, R]) {
	s.ops[op.Name] = func(impl I, req *DispatchRequest) {
		in, err := req.Input()
		if err != nil {
			req.Exception(err)
			return
		}
		var args A
		if op.UnmarshalArgs != nil {
			if args, err = op.UnmarshalArgs(in); err != nil {
				req.Exception(err)
				return
			}
		}
		if err := in.EndEncapsulation(); err != nil {
			req.Exception(err)
			return
		}

		done := func(r R, err error) {
			if err != nil {
				req.Exception(err)
				return
			}
			out, err := req.NewOutput()
			if err != nil {
				req.Exception(err)
				return
			}
			if op.MarshalResult != nil && !op.Signature.Void {
				if err := op.MarshalResult(out, r); err != nil {
					req.Exception(err)
					return
				}
			}
			req.Result(out)
		}

		switch {
		case op.Signature.Async && op.CallAsync != nil:
			op.CallAsync(impl, req.cur, args, done)
		case !op.Signature.Async && op.Call != nil:
			done(op.Call(req.ctx, impl, req.cur, args))
		default:
			req.Exception(&OperationNotExistError{
				Identity:  req.cur.Identity,
				Facet:     req.cur.Facet,
				Operation: op.Name,
			})
		}
	}
}
