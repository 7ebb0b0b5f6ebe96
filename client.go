// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/luxfi/orb/wire"
)

// Connection carries framed requests to one endpoint. Implementations are
// safe for concurrent use.
type Connection interface {
	// Invoke sends req and reports its progress through h. Invoke never
	// returns an error: every failure reaches h.Exception.
	Invoke(ctx context.Context, req *Request, h ReplyHandler)

	// Endpoint returns the endpoint this connection was dialed to.
	Endpoint() string

	// Done is closed once the connection can no longer carry requests.
	Done() <-chan struct{}

	// Close closes the connection. Calls still waiting for a reply fail
	// with ErrConnectionClosed or a transport-specific error.
	Close() error
}

// Request is an outgoing call whose arguments are already encoded.
type Request struct {
	Identity  Identity
	Facet     string
	Operation string
	Mode      wire.OperationMode
	Context   Context
	OneWay    bool
	Args      []byte // the argument encapsulation
}

// Reply is a decoded reply header together with a stream positioned at the
// reply body.
type Reply struct {
	RequestID uint32
	Status    wire.ReplyStatus
	Body      *wire.InputStream
}

// ReplyHandler receives the outcome of one request. Sent fires once the
// request has been handed to the transport; after that exactly one of
// Reply or Exception fires, except for one-way requests, which end at Sent.
type ReplyHandler struct {
	Reply     func(*Reply)
	Exception func(error)
	Sent      func()
}

// FrameHandler serves framed requests received by a Server. reply is
// called with the framed reply, possibly after HandleFrame has returned;
// it is never called for one-way requests.
type FrameHandler interface {
	HandleFrame(ctx context.Context, frame []byte, reply func([]byte))
}

// FrameHandlerFunc is a function adapter for FrameHandler.
type FrameHandlerFunc func(ctx context.Context, frame []byte, reply func([]byte))

func (f FrameHandlerFunc) HandleFrame(ctx context.Context, frame []byte, reply func([]byte)) {
	f(ctx, frame, reply)
}

// handleUnary serves one request frame for transports with a
// request/response exchange per call. The reply of a one-way request is
// empty.
func handleUnary(ctx context.Context, h FrameHandler, in []byte) ([]byte, error) {
	mh, err := frameKind(in)
	if err != nil {
		return nil, err
	}
	if mh.Kind != wire.MsgRequest {
		return nil, fmt.Errorf("%w: unexpected %s frame", wire.ErrBadMessage, mh.Kind)
	}
	if mh.OneWay {
		h.HandleFrame(context.WithoutCancel(ctx), in, func([]byte) {})
		return nil, nil
	}
	replies := make(chan []byte, 1)
	h.HandleFrame(ctx, in, func(b []byte) {
		select {
		case replies <- b:
		default:
		}
	})
	select {
	case b := <-replies:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Server accepts connections for a FrameHandler.
type Server interface {
	// Serve serves requests until ctx is cancelled or Close is called.
	Serve(ctx context.Context) error

	// Close stops the server and closes its connections.
	Close() error

	// Addr returns the server's listen address.
	Addr() string

	// Endpoint returns the endpoint clients dial to reach the server.
	Endpoint() string
}

// DialOption configures client connections
type DialOption func(*dialOptions)

type dialOptions struct {
	transport string // used when an endpoint has no scheme
	timeout   time.Duration
	logger    *slog.Logger
	dialer    func(context.Context, string) (net.Conn, error)
	encoding  []wire.Option
	http      []Option
}

func newDialOptions(opts []DialOption) *dialOptions {
	o := &dialOptions{transport: DefaultTransport}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = loggerOr(o.logger)
	return o
}

// WithTransport sets the transport used for endpoints without a scheme
func WithTransport(t string) DialOption {
	return func(o *dialOptions) { o.transport = t }
}

// WithTimeout bounds the time spent establishing a connection
func WithTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) { o.timeout = d }
}

// WithLogger sets the logger for connections and the communicator
func WithLogger(l *slog.Logger) DialOption {
	return func(o *dialOptions) { o.logger = l }
}

// WithContextDialer replaces the network dialer of stream transports
func WithContextDialer(f func(context.Context, string) (net.Conn, error)) DialOption {
	return func(o *dialOptions) { o.dialer = f }
}

// WithEncoding sets the stream options used to decode replies, such as
// the registry resolving user exceptions
func WithEncoding(opts ...wire.Option) DialOption {
	return func(o *dialOptions) { o.encoding = append(o.encoding, opts...) }
}

// WithHTTPOptions sets request options for the http transport
func WithHTTPOptions(opts ...Option) DialOption {
	return func(o *dialOptions) { o.http = append(o.http, opts...) }
}

// ServerOption configures servers
type ServerOption func(*serverOptions)

type serverOptions struct {
	transport string
	logger    *slog.Logger
	listener  net.Listener
}

func newServerOptions(opts []ServerOption) *serverOptions {
	o := &serverOptions{transport: DefaultTransport}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = loggerOr(o.logger)
	return o
}

// WithServerTransport sets the transport used for endpoints without a scheme
func WithServerTransport(t string) ServerOption {
	return func(o *serverOptions) { o.transport = t }
}

// WithServerLogger sets the server's logger
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(o *serverOptions) { o.logger = l }
}

// WithListener serves on l instead of listening on the endpoint address
func WithListener(l net.Listener) ServerOption {
	return func(o *serverOptions) { o.listener = l }
}
