// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/luxfi/orb/wire"
)

// Connector resolves the targets of invocations. It owns every connection
// it hands out; invocations only borrow them.
type Connector interface {
	// Local returns the servant ref addresses in this process. It is only
	// consulted for references without an endpoint: a reference carrying
	// the endpoint of one of this process's own servers still goes over
	// that endpoint's transport.
	Local(ref Reference) (Servant, bool)

	// Connection returns an established connection to ref's endpoint
	// without blocking.
	Connection(ref Reference) (Connection, bool)

	// Connect resolves a connection to ref's endpoint and passes it to fn,
	// possibly on another goroutine.
	Connect(ctx context.Context, ref Reference, fn func(Connection, error))

	// Alive reports whether the connector still accepts invocations.
	Alive() bool

	// Encoding returns the stream options for arguments and results.
	Encoding() []wire.Option
}

// Communicator is the Connector of a process: it hosts adapters and caches
// one connection per remote endpoint.
type Communicator struct {
	opts     []DialOption
	o        *dialOptions
	log      *slog.Logger
	dialing  singleflight.Group
	mu       sync.Mutex
	closed   bool
	adapters map[string]*Adapter
	conns    map[string]Connection
}

var _ Connector = (*Communicator)(nil)

// NewCommunicator returns a communicator dialing with opts.
func NewCommunicator(opts ...DialOption) *Communicator {
	o := newDialOptions(opts)
	return &Communicator{
		opts:     opts,
		o:        o,
		log:      o.logger,
		adapters: make(map[string]*Adapter),
		conns:    make(map[string]Connection),
	}
}

// CreateAdapter creates an adapter sharing the communicator's logger and
// encoding. Local references resolve against every adapter created here.
func (c *Communicator) CreateAdapter(name string, opts ...AdapterOption) (*Adapter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrCommunicatorClosed
	}
	if _, ok := c.adapters[name]; ok {
		return nil, fmt.Errorf("%w: adapter %q", ErrAlreadyRegistered, name)
	}
	base := []AdapterOption{WithAdapterLogger(c.log), WithAdapterEncoding(c.o.encoding...)}
	a := NewAdapter(name, append(base, opts...)...)
	c.adapters[name] = a
	return a, nil
}

// Adapter returns the adapter created under name.
func (c *Communicator) Adapter(name string) (*Adapter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.adapters[name]
	return a, ok
}

// Local implements Connector.
func (c *Communicator) Local(ref Reference) (Servant, bool) {
	c.mu.Lock()
	adapters := make([]*Adapter, 0, len(c.adapters))
	for _, a := range c.adapters {
		adapters = append(adapters, a)
	}
	c.mu.Unlock()
	for _, a := range adapters {
		if s, ok := a.Find(ref.Identity, ref.Facet); ok {
			return s, true
		}
	}
	return nil, false
}

// Connection implements Connector. Connections that have shut down are
// evicted so the next call dials again.
func (c *Communicator) Connection(ref Reference) (Connection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[ref.Endpoint]
	if !ok {
		return nil, false
	}
	select {
	case <-conn.Done():
		delete(c.conns, ref.Endpoint)
		return nil, false
	default:
		return conn, true
	}
}

// Connect implements Connector. Concurrent calls for one endpoint share a
// single dial.
func (c *Communicator) Connect(ctx context.Context, ref Reference, fn func(Connection, error)) {
	if conn, ok := c.Connection(ref); ok {
		fn(conn, nil)
		return
	}
	// the dial outlives a caller that gives up; others may be waiting on it
	dctx := context.WithoutCancel(ctx)
	go func() {
		v, err, _ := c.dialing.Do(ref.Endpoint, func() (any, error) {
			if conn, ok := c.Connection(ref); ok {
				return conn, nil
			}
			return c.dial(dctx, ref.Endpoint)
		})
		if err != nil {
			fn(nil, err)
			return
		}
		fn(v.(Connection), nil)
	}()
}

func (c *Communicator) dial(ctx context.Context, endpoint string) (Connection, error) {
	conn, err := dial(ctx, endpoint, c.o)
	if err != nil {
		c.log.Warn("orb: dial failed", "endpoint", endpoint, "error", err)
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, ErrCommunicatorClosed
	}
	c.conns[endpoint] = conn
	c.mu.Unlock()
	c.log.Debug("orb: connected", "endpoint", endpoint)

	go func() {
		<-conn.Done()
		c.mu.Lock()
		if c.conns[endpoint] == conn {
			delete(c.conns, endpoint)
		}
		c.mu.Unlock()
	}()
	return conn, nil
}

// Alive implements Connector.
func (c *Communicator) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Encoding implements Connector.
func (c *Communicator) Encoding() []wire.Option { return c.o.encoding }

// Close closes every connection and adapter. Invocations started afterwards
// fail with ErrCommunicatorClosed.
func (c *Communicator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conns, adapters := c.conns, c.adapters
	c.conns = make(map[string]Connection)
	c.mu.Unlock()

	var first error
	for _, conn := range conns {
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, a := range adapters {
		if err := a.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
