// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/iox"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/orb/wire"
)

var (
	ErrZAPClosed     = errors.New("zap: connection closed")
	ErrZAPNotStarted = errors.New("zap: peer did not validate the connection")
)

const (
	maxFrameSize = 64 * 1024 * 1024
	writeTimeout = 30 * time.Second
)

var (
	validateFrame = wire.AppendMessageHeader(nil, wire.MessageHeader{Kind: wire.MsgValidate})
	closeFrame    = wire.AppendMessageHeader(nil, wire.MessageHeader{Kind: wire.MsgClose})
)

// frameReader splits a byte stream into messages. Envelopes are decoded with
// the try variant so a header split across reads waits for more bytes.
type frameReader struct {
	r       io.Reader
	buf     []byte
	scratch [4096]byte
}

func (fr *frameReader) next() ([]byte, error) {
	for {
		h, n, err := wire.TryReadMessageHeader(fr.buf)
		if err == nil {
			if h.Size > maxFrameSize {
				return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, h.Size)
			}
			frame := make([]byte, n+int(h.Size))
			got := copy(frame, fr.buf)
			fr.buf = append(fr.buf[:0], fr.buf[got:]...)
			if _, err := io.ReadFull(fr.r, frame[got:]); err != nil {
				return nil, err
			}
			return frame, nil
		}
		if !iox.IsWouldBlock(err) {
			return nil, err
		}
		k, err := fr.r.Read(fr.scratch[:])
		fr.buf = append(fr.buf, fr.scratch[:k]...)
		if err != nil && k == 0 {
			if errors.Is(err, io.EOF) && len(fr.buf) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// ZAPConn is a client connection of the ZAP transport. Requests and replies
// are matched by request id, so any number of calls may be in flight.
type ZAPConn struct {
	conn     net.Conn
	endpoint string
	enc      []wire.Option
	log      *slog.Logger
	writeMu  sync.Mutex
	pending  pendingCalls
	closed   atomic.Bool
	readDone chan struct{}
}

var _ Connection = (*ZAPConn)(nil)

// ZAPDial connects to a ZAP server and waits for it to validate the
// connection.
func ZAPDial(ctx context.Context, addr string, opts ...DialOption) (*ZAPConn, error) {
	return zapDial(ctx, addr, newDialOptions(opts))
}

func zapDial(ctx context.Context, addr string, o *dialOptions) (*ZAPConn, error) {
	dialer := o.dialer
	if dialer == nil {
		var d net.Dialer
		dialer = func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	conn, err := dialer(ctx, addr)
	if err != nil {
		return nil, err
	}

	fr := &frameReader{r: conn}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	frame, err := fr.next()
	if !stop() {
		err = errors.Join(err, ctx.Err())
	}
	if err == nil {
		var h wire.MessageHeader
		if h, err = frameKind(frame); err == nil && h.Kind != wire.MsgValidate {
			err = fmt.Errorf("%w: got %s", ErrZAPNotStarted, h.Kind)
		}
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	z := &ZAPConn{
		conn:     conn,
		endpoint: JoinEndpoint(TransportZAP, addr),
		enc:      o.encoding,
		log:      o.logger.With("endpoint", JoinEndpoint(TransportZAP, addr)),
		readDone: make(chan struct{}),
	}
	go z.readLoop(fr)
	return z, nil
}

// Invoke implements Connection.
func (z *ZAPConn) Invoke(ctx context.Context, req *Request, h ReplyHandler) {
	if z.closed.Load() {
		h.Exception(ErrZAPClosed)
		return
	}
	invokeFramed(ctx, &z.pending, req, h, z.write)
}

func (z *ZAPConn) write(b []byte) error {
	z.writeMu.Lock()
	defer z.writeMu.Unlock()
	if z.closed.Load() {
		return ErrZAPClosed
	}
	if _, err := z.conn.Write(b); err != nil {
		return fmt.Errorf("zap write: %w", err)
	}
	return nil
}

func (z *ZAPConn) readLoop(fr *frameReader) {
	defer close(z.readDone)
	defer func() {
		z.closed.Store(true)
		_ = z.conn.Close()
		z.pending.failAll(ErrZAPClosed)
	}()

	for {
		frame, err := fr.next()
		if err != nil {
			if !z.closed.Load() && !errors.Is(err, io.EOF) {
				z.log.Warn("zap: read failed", "error", err)
			}
			return
		}
		h, err := frameKind(frame)
		if err != nil {
			z.log.Warn("zap: dropping malformed frame", "error", err)
			return
		}
		switch h.Kind {
		case wire.MsgReply:
			z.pending.deliver(frame, z.enc, z.log)
		case wire.MsgValidate:
		case wire.MsgClose:
			z.log.Debug("zap: peer closed the connection")
			return
		default:
			z.log.Warn("zap: unexpected frame", "kind", h.Kind.String())
		}
	}
}

// Endpoint implements Connection.
func (z *ZAPConn) Endpoint() string { return z.endpoint }

// Done implements Connection.
func (z *ZAPConn) Done() <-chan struct{} { return z.readDone }

// Close sends a close message and closes the connection. Calls still
// waiting for a reply fail with ErrZAPClosed.
func (z *ZAPConn) Close() error {
	z.writeMu.Lock()
	if z.closed.Swap(true) {
		z.writeMu.Unlock()
		return nil
	}
	_ = z.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = z.conn.Write(closeFrame)
	z.writeMu.Unlock()

	err := z.conn.Close()
	<-z.readDone
	return err
}

// ZAPServer accepts ZAP connections and hands their requests to a
// FrameHandler.
type ZAPServer struct {
	listener net.Listener
	handler  FrameHandler
	log      *slog.Logger
	conns    sync.Map
	closed   atomic.Bool
}

var _ Server = (*ZAPServer)(nil)

// NewZAPServer creates a new ZAP server
func NewZAPServer(listener net.Listener, handler FrameHandler, opts ...ServerOption) *ZAPServer {
	o := newServerOptions(opts)
	return &ZAPServer{
		listener: listener,
		handler:  handler,
		log:      o.logger,
	}
}

// Serve accepts connections until ctx is cancelled or Close is called, then
// waits for every connection to finish.
func (s *ZAPServer) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	var acceptErr error
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.closed.Load() {
				acceptErr = fmt.Errorf("zap accept: %w", err)
				_ = s.Close()
			}
			break
		}
		g.Go(func() error {
			s.serveConn(gctx, conn)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return acceptErr
}

func (s *ZAPServer) serveConn(ctx context.Context, conn net.Conn) {
	s.conns.Store(conn, struct{}{})
	defer s.conns.Delete(conn)
	defer conn.Close()
	// Close may have ranged over conns before the Store
	if s.closed.Load() {
		return
	}
	log := s.log.With("remote", conn.RemoteAddr().String())

	var writeMu sync.Mutex
	write := func(b []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := conn.Write(b); err != nil {
			log.Debug("zap: write failed", "error", err)
		}
	}
	write(validateFrame)

	var wg sync.WaitGroup
	defer wg.Wait()
	fr := &frameReader{r: conn}
	for {
		frame, err := fr.next()
		if err != nil {
			if !s.closed.Load() && !errors.Is(err, io.EOF) {
				log.Warn("zap: read failed", "error", err)
			}
			return
		}
		h, err := frameKind(frame)
		if err != nil {
			log.Warn("zap: dropping malformed frame", "error", err)
			return
		}
		if h.Kind == wire.MsgClose {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handler.HandleFrame(ctx, frame, write)
		}()
	}
}

// Close closes the server and every connection it accepted.
func (s *ZAPServer) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.conns.Range(func(key, _ any) bool {
		_ = key.(net.Conn).Close()
		return true
	})
	return s.listener.Close()
}

// Addr returns the listener address
func (s *ZAPServer) Addr() string {
	return s.listener.Addr().String()
}

// Endpoint returns the address clients dial, with its scheme.
func (s *ZAPServer) Endpoint() string {
	return JoinEndpoint(TransportZAP, s.Addr())
}

func dialZAP(ctx context.Context, addr string, o *dialOptions) (Connection, error) {
	return zapDial(ctx, addr, o)
}

func listenZAP(addr string, h FrameHandler, o *serverOptions) (Server, error) {
	listener := o.listener
	if listener == nil {
		var err error
		if listener, err = net.Listen("tcp", addr); err != nil {
			return nil, err
		}
	}
	return &ZAPServer{
		listener: listener,
		handler:  h,
		log:      o.logger,
	}, nil
}
