// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"github.com/google/uuid"

	"github.com/luxfi/orb/wire"
)

var ErrLoopbackRefused = errors.New("loopback: no server at address")

const reactorCapacity = 64

// reactor is a bounded frame queue drained by a single goroutine. Producers
// take turns on the single-producer side; a full queue backs off until the
// consumer catches up.
type reactor struct {
	mu   sync.Mutex
	q    lfq.SPSC[[]byte]
	wake chan struct{}
	stop chan struct{}
	once sync.Once
}

func newReactor() *reactor {
	r := &reactor{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	r.q.Init(reactorCapacity)
	return r
}

func (r *reactor) push(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var bo iox.Backoff
	for {
		select {
		case <-r.stop:
			return ErrConnectionClosed
		default:
		}
		err := r.q.Enqueue(&frame)
		if err == nil {
			break
		}
		if !iox.IsWouldBlock(err) {
			return err
		}
		bo.Wait()
	}
	select {
	case r.wake <- struct{}{}:
	default:
	}
	return nil
}

// run hands every queued frame to f until close is called.
func (r *reactor) run(f func([]byte)) {
	for {
		frame, err := r.q.Dequeue()
		if err == nil {
			f(frame)
			continue
		}
		select {
		case <-r.wake:
		case <-r.stop:
			return
		}
	}
}

func (r *reactor) close() {
	r.once.Do(func() { close(r.stop) })
}

var loopbackServers sync.Map // address -> *LoopbackServer

// LoopbackServer serves connections dialed from this process. Frames never
// leave memory but go through the same codec as every other transport.
type LoopbackServer struct {
	addr    string
	handler FrameHandler
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	conns  map[*loopbackConn]struct{}
	closed bool
}

var _ Server = (*LoopbackServer)(nil)

func listenLoopback(addr string, h FrameHandler, o *serverOptions) (Server, error) {
	if addr == "*" {
		addr = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &LoopbackServer{
		addr:    addr,
		handler: h,
		log:     o.logger.With("endpoint", JoinEndpoint(TransportLoopback, addr)),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[*loopbackConn]struct{}),
	}
	if _, loaded := loopbackServers.LoadOrStore(addr, s); loaded {
		cancel()
		return nil, fmt.Errorf("loopback: address %q in use", addr)
	}
	return s, nil
}

// Serve blocks until ctx is cancelled or the server is closed.
func (s *LoopbackServer) Serve(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-s.ctx.Done():
	}
	return s.Close()
}

// Close unregisters the server and closes its connections.
func (s *LoopbackServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	loopbackServers.CompareAndDelete(s.addr, s)
	s.cancel()
	for c := range conns {
		_ = c.Close()
	}
	return nil
}

func (s *LoopbackServer) Addr() string { return s.addr }

func (s *LoopbackServer) Endpoint() string { return JoinEndpoint(TransportLoopback, s.addr) }

func (s *LoopbackServer) attach(c *loopbackConn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrLoopbackRefused
	}
	s.conns[c] = struct{}{}
	return nil
}

func (s *LoopbackServer) detach(c *loopbackConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// loopbackConn pairs a request reactor, drained on the server side, with a
// reply reactor drained on the client side.
type loopbackConn struct {
	srv      *LoopbackServer
	endpoint string
	enc      []wire.Option
	log      *slog.Logger
	pending  pendingCalls
	requests *reactor
	replies  *reactor
	done     chan struct{}
	once     sync.Once
}

var _ Connection = (*loopbackConn)(nil)

func dialLoopback(ctx context.Context, addr string, o *dialOptions) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := loopbackServers.Load(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrLoopbackRefused, addr)
	}
	srv := v.(*LoopbackServer)
	c := &loopbackConn{
		srv:      srv,
		endpoint: JoinEndpoint(TransportLoopback, addr),
		enc:      o.encoding,
		log:      o.logger.With("endpoint", JoinEndpoint(TransportLoopback, addr)),
		requests: newReactor(),
		replies:  newReactor(),
		done:     make(chan struct{}),
	}
	if err := srv.attach(c); err != nil {
		return nil, fmt.Errorf("%w: %q", err, addr)
	}
	go c.requests.run(c.serve)
	go c.replies.run(func(frame []byte) { c.pending.deliver(frame, c.enc, c.log) })
	return c, nil
}

func (c *loopbackConn) serve(frame []byte) {
	h, err := frameKind(frame)
	if err != nil {
		c.srv.log.Warn("loopback: dropping malformed frame", "error", err)
		return
	}
	if h.Kind == wire.MsgClose {
		return
	}
	go c.srv.handler.HandleFrame(c.srv.ctx, frame, func(reply []byte) {
		if err := c.replies.push(reply); err != nil {
			c.srv.log.Debug("loopback: reply dropped", "error", err)
		}
	})
}

// Invoke implements Connection.
func (c *loopbackConn) Invoke(ctx context.Context, req *Request, h ReplyHandler) {
	invokeFramed(ctx, &c.pending, req, h, c.requests.push)
}

func (c *loopbackConn) Endpoint() string { return c.endpoint }

func (c *loopbackConn) Done() <-chan struct{} { return c.done }

// Close stops both reactors and fails the calls still waiting for a reply.
func (c *loopbackConn) Close() error {
	c.once.Do(func() {
		c.requests.close()
		c.replies.close()
		c.srv.detach(c)
		close(c.done)
		c.pending.failAll(ErrConnectionClosed)
	})
	return nil
}
