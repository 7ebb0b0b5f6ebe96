// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"log/slog"
	"sync"

	"code.hybscloud.com/atomix"

	"github.com/luxfi/orb/wire"
)

// pendingCalls matches replies to the requests of one connection.
type pendingCalls struct {
	nextID atomix.Uint32
	calls  sync.Map // requestID -> *pendingCall
}

type pendingCall struct {
	h    ReplyHandler
	stop func() bool
}

// add registers h and returns its request id. If ctx ends before the
// reply arrives the call fails with the context's error.
func (p *pendingCalls) add(ctx context.Context, h ReplyHandler) uint32 {
	id := p.nextID.Add(1)
	if id == 0 {
		id = p.nextID.Add(1)
	}
	expire := func() {
		if v, ok := p.calls.LoadAndDelete(id); ok {
			v.(*pendingCall).h.Exception(context.Cause(ctx))
		}
	}
	pc := &pendingCall{h: h}
	pc.stop = context.AfterFunc(ctx, expire)
	p.calls.Store(id, pc)
	// the callback may have run before the call was stored
	if ctx.Err() != nil {
		expire()
	}
	return id
}

// take removes the call registered under id.
func (p *pendingCalls) take(id uint32) (*pendingCall, bool) {
	v, ok := p.calls.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	pc := v.(*pendingCall)
	if pc.stop != nil {
		pc.stop()
	}
	return pc, true
}

// deliver hands a framed reply to the call it answers.
func (p *pendingCalls) deliver(frame []byte, enc []wire.Option, log *slog.Logger) {
	rep, err := decodeReply(frame, enc)
	if err != nil {
		log.Warn("orb: dropping malformed reply", "error", err)
		return
	}
	pc, ok := p.take(rep.RequestID)
	if !ok {
		log.Debug("orb: dropping reply", "requestID", rep.RequestID, "error", ErrUnexpectedReply)
		return
	}
	pc.h.Reply(rep)
}

// failAll fails every call still waiting for a reply.
func (p *pendingCalls) failAll(err error) {
	p.calls.Range(func(key, _ any) bool {
		if pc, ok := p.take(key.(uint32)); ok {
			pc.h.Exception(err)
		}
		return true
	})
}

// invokeFramed frames req, registers it unless it is one-way, and hands the
// frame to send. It backs every connection that matches replies by request
// id.
func invokeFramed(ctx context.Context, p *pendingCalls, req *Request, h ReplyHandler, send func([]byte) error) {
	var id uint32
	if !req.OneWay {
		id = p.add(ctx, h)
	}
	fail := func(err error) {
		if req.OneWay {
			h.Exception(err)
			return
		}
		if pc, ok := p.take(id); ok {
			pc.h.Exception(err)
		}
	}
	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}
	b, err := encodeRequest(id, req)
	if err != nil {
		fail(err)
		return
	}
	if err := send(b); err != nil {
		fail(err)
		return
	}
	h.Sent()
}
