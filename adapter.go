// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/luxfi/orb/wire"
)

// Adapter maps identities and facets to servants and serves the requests
// that transports deliver to it.
type Adapter struct {
	name     string
	log      *slog.Logger
	encoding []wire.Option

	mu       sync.RWMutex
	servants map[servantKey]Servant
	servers  []Server
}

type servantKey struct {
	id    Identity
	facet string
}

// AdapterOption configures an Adapter
type AdapterOption func(*Adapter)

// WithAdapterLogger sets the adapter's logger
func WithAdapterLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) { a.log = l }
}

// WithAdapterEncoding sets the stream options used for arguments, results
// and user exceptions
func WithAdapterEncoding(opts ...wire.Option) AdapterOption {
	return func(a *Adapter) { a.encoding = append(a.encoding, opts...) }
}

// NewAdapter returns an empty adapter.
func NewAdapter(name string, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		name:     name,
		servants: make(map[servantKey]Servant),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = loggerOr(a.log).With("adapter", name)
	return a
}

// Name returns the adapter's name.
func (a *Adapter) Name() string { return a.name }

// Add registers s under id and returns a local reference to it.
func (a *Adapter) Add(s Servant, id Identity) (Reference, error) {
	return a.AddFacet(s, id, "")
}

// AddFacet registers s as facet of id.
func (a *Adapter) AddFacet(s Servant, id Identity, facet string) (Reference, error) {
	if id.Name == "" {
		return Reference{}, ErrEmptyIdentity
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	k := servantKey{id, facet}
	if _, ok := a.servants[k]; ok {
		return Reference{}, ErrAlreadyRegistered
	}
	a.servants[k] = s
	return Reference{Identity: id, Facet: facet}, nil
}

// AddWithUUID registers s under a fresh random identity.
func (a *Adapter) AddWithUUID(s Servant) (Reference, error) {
	return a.Add(s, Identity{Name: uuid.NewString()})
}

// Remove unregisters and returns the servant registered as facet of id.
func (a *Adapter) Remove(id Identity, facet string) (Servant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := servantKey{id, facet}
	s, ok := a.servants[k]
	if !ok {
		return nil, &NoObjectError{Identity: id, Facet: facet}
	}
	delete(a.servants, k)
	return s, nil
}

// Find returns the servant registered as facet of id.
func (a *Adapter) Find(id Identity, facet string) (Servant, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.servants[servantKey{id, facet}]
	return s, ok
}

// Listen starts accepting requests for this adapter on endpoint. The
// returned server still has to be served.
func (a *Adapter) Listen(endpoint string, opts ...ServerOption) (Server, error) {
	opts = append([]ServerOption{WithServerLogger(a.log)}, opts...)
	s, err := Listen(endpoint, a, opts...)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.servers = append(a.servers, s)
	a.mu.Unlock()
	return s, nil
}

// Close stops every server started by Listen.
func (a *Adapter) Close() error {
	a.mu.Lock()
	servers := a.servers
	a.servers = nil
	a.mu.Unlock()
	var first error
	for _, s := range servers {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// HandleFrame implements FrameHandler: it decodes a request, dispatches it
// to its servant and frames the outcome as a reply.
func (a *Adapter) HandleFrame(ctx context.Context, frame []byte, reply func([]byte)) {
	in := wire.NewInputStreamBytes(frame, a.encoding...)
	mh, err := in.ReadMessageHeader()
	if err != nil {
		a.log.Warn("orb: dropping malformed frame", "error", err)
		return
	}
	switch mh.Kind {
	case wire.MsgRequest:
	case wire.MsgValidate, wire.MsgClose:
		return
	default:
		a.log.Warn("orb: unexpected message", "kind", mh.Kind.String())
		return
	}
	rh, err := wire.ReadRequestHeader(in)
	if err != nil {
		a.log.Warn("orb: dropping malformed request", "error", err)
		return
	}

	oneway := mh.OneWay || rh.RequestID == 0
	send := func(b []byte, err error) {
		if err != nil {
			a.log.Error("orb: cannot frame reply", "requestID", rh.RequestID, "operation", rh.Operation, "error", err)
			return
		}
		if !oneway {
			reply(b)
		}
	}
	fail := func(cause error) {
		if oneway {
			a.log.Debug("orb: one-way request failed", "operation", rh.Operation, "error", cause)
			return
		}
		send(encodeException(rh.RequestID, cause, a.encoding))
	}

	cur := &Current{
		Adapter:   a,
		Identity:  rh.Identity,
		Facet:     rh.Facet,
		Operation: rh.Operation,
		Mode:      rh.Mode,
		Context:   rh.Context,
		RequestID: rh.RequestID,
		Encoding:  wire.Encoding11,
	}
	servant, ok := a.Find(rh.Identity, rh.Facet)
	if !ok {
		fail(&NoObjectError{Identity: rh.Identity, Facet: rh.Facet})
		return
	}
	begin := in.Cursor()
	req := &DispatchRequest{
		ctx:      ctx,
		cur:      cur,
		begin:    begin,
		end:      begin.Sequence().End(),
		encoding: a.encoding,
		result: func(out *wire.OutputStream) {
			if oneway {
				return
			}
			b, err := encodeReply(rh.RequestID, out)
			if err != nil {
				fail(err)
				return
			}
			send(b, nil)
		},
		exception: fail,
	}
	dispatch(servant, req, a.log)
}
