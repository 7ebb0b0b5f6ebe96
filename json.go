// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	rpc "github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"

	"github.com/luxfi/orb/wire"
)

const (
	maxRetries    = 3
	retryBaseWait = 500 * time.Millisecond

	// httpMethod is the JSON-RPC method carrying frames.
	httpMethod = "Broker.Invoke"
	// httpPath is served when an http endpoint names no path.
	httpPath = "/rpc"
)

func init() {
	registerTransport(TransportHTTP, dialHTTP, listenHTTP)
}

// Options configures JSON-RPC requests
type Options struct {
	headers     http.Header
	queryParams url.Values
	retries     int
	logger      *slog.Logger
}

// Option is a JSON-RPC request option
type Option func(*Options)

// NewOptions applies ops over the defaults
func NewOptions(ops []Option) *Options {
	o := &Options{
		headers:     make(http.Header),
		queryParams: make(url.Values),
		retries:     maxRetries,
	}
	for _, op := range ops {
		op(o)
	}
	o.logger = loggerOr(o.logger)
	return o
}

// WithHeader adds a header to every request
func WithHeader(key, val string) Option {
	return func(o *Options) { o.headers.Add(key, val) }
}

// WithQueryParam adds a query parameter to every request
func WithQueryParam(key, val string) Option {
	return func(o *Options) { o.queryParams.Add(key, val) }
}

// WithRetries sets how many attempts a request gets on transient errors
func WithRetries(n int) Option {
	return func(o *Options) { o.retries = max(n, 1) }
}

// WithRequestLogger sets the logger of retried requests
func WithRequestLogger(l *slog.Logger) Option {
	return func(o *Options) { o.logger = l }
}

// newHTTPClient creates a fresh HTTP client with disabled connection reuse.
// This avoids EOF errors that can occur with connection pooling in complex
// process hierarchies.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
}

// CleanlyCloseBody drains and closes an HTTP response body to prevent
// HTTP/2 GOAWAY errors caused by closing bodies with unread data.
// See: https://github.com/golang/go/issues/46071
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// isRetryableError checks if an error is transient and worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	if errors.Is(err, io.EOF) || strings.Contains(errStr, "EOF") {
		return true
	}
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe")
}

// SendJSONRequest issues a JSON-RPC 2.0 call, retrying transient transport
// failures with exponential backoff.
func SendJSONRequest(
	ctx context.Context,
	uri *url.URL,
	method string,
	params interface{},
	reply interface{},
	options ...Option,
) error {
	requestBodyBytes, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return fmt.Errorf("failed to encode client params: %w", err)
	}

	ops := NewOptions(options)
	target := *uri
	target.RawQuery = ops.queryParams.Encode()
	log := ops.logger.With("method", method, "uri", target.String())

	var lastErr error
	for attempt := 0; attempt < ops.retries; attempt++ {
		if attempt > 0 {
			waitTime := retryBaseWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		}

		// the body buffer is consumed by each attempt
		request, err := http.NewRequestWithContext(
			ctx,
			http.MethodPost,
			target.String(),
			bytes.NewBuffer(requestBodyBytes),
		)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		request.Header = ops.headers.Clone()
		request.Header.Set("Content-Type", "application/json")

		resp, err := newHTTPClient().Do(request)
		if err != nil {
			lastErr = err
			retryable := isRetryableError(err) && ctx.Err() == nil
			log.Debug("request attempt failed", "attempt", attempt+1, "error", err, "retryable", retryable)
			if retryable {
				continue
			}
			return fmt.Errorf("failed to issue request: %w", err)
		}
		if attempt > 0 {
			log.Debug("request succeeded", "attempt", attempt+1)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			// json2 reports method errors with a 400 and a decodable body
			err := json2.DecodeClientResponse(resp.Body, reply)
			CleanlyCloseBody(resp.Body)
			if err == nil {
				err = errors.New(http.StatusText(resp.StatusCode))
			}
			return fmt.Errorf("received status code %d: %w", resp.StatusCode, err)
		}

		if err := json2.DecodeClientResponse(resp.Body, reply); err != nil {
			CleanlyCloseBody(resp.Body)
			return fmt.Errorf("failed to decode client response: %w", err)
		}
		CleanlyCloseBody(resp.Body)
		return nil
	}

	return fmt.Errorf("failed to issue request after %d retries: %w", ops.retries, lastErr)
}

// FrameArgs carries a request frame through JSON-RPC.
type FrameArgs struct {
	Frame []byte `json:"frame"`
}

// FrameReply carries a reply frame; it is empty for one-way requests.
type FrameReply struct {
	Frame []byte `json:"frame,omitempty"`
}

// httpConn posts every request as a JSON-RPC call.
type httpConn struct {
	uri      *url.URL
	endpoint string
	enc      []wire.Option
	opts     []Option
	nextID   atomix.Uint32
	done     chan struct{}
	once     sync.Once
}

var _ Connection = (*httpConn)(nil)

func dialHTTP(ctx context.Context, addr string, o *dialOptions) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	uri, err := url.Parse("http://" + addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadEndpoint, err)
	}
	if uri.Path == "" {
		uri.Path = httpPath
	}
	return &httpConn{
		uri:      uri,
		endpoint: JoinEndpoint(TransportHTTP, addr),
		enc:      o.encoding,
		opts:     append([]Option{WithRequestLogger(o.logger)}, o.http...),
		done:     make(chan struct{}),
	}, nil
}

// Invoke implements Connection. Only idempotent requests are retried.
func (c *httpConn) Invoke(ctx context.Context, req *Request, h ReplyHandler) {
	select {
	case <-c.done:
		h.Exception(ErrConnectionClosed)
		return
	default:
	}
	var id uint32
	if !req.OneWay {
		if id = c.nextID.Add(1); id == 0 {
			id = c.nextID.Add(1)
		}
	}
	b, err := encodeRequest(id, req)
	if err != nil {
		h.Exception(err)
		return
	}
	opts := c.opts
	if req.Mode != wire.Idempotent {
		opts = append(opts[:len(opts):len(opts)], WithRetries(1))
	}
	go func() {
		var reply FrameReply
		if err := SendJSONRequest(ctx, c.uri, httpMethod, &FrameArgs{Frame: b}, &reply, opts...); err != nil {
			h.Exception(err)
			return
		}
		h.Sent()
		if req.OneWay {
			return
		}
		rep, err := decodeReply(reply.Frame, c.enc)
		if err != nil {
			h.Exception(err)
			return
		}
		h.Reply(rep)
	}()
}

func (c *httpConn) Endpoint() string { return c.endpoint }

func (c *httpConn) Done() <-chan struct{} { return c.done }

func (c *httpConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// httpBroker is the JSON-RPC service behind the http transport.
type httpBroker struct {
	handler FrameHandler
}

// Invoke serves one frame.
func (b *httpBroker) Invoke(r *http.Request, args *FrameArgs, reply *FrameReply) error {
	out, err := handleUnary(r.Context(), b.handler, args.Frame)
	if err != nil {
		return err
	}
	reply.Frame = out
	return nil
}

// HTTPServer serves the http transport.
type HTTPServer struct {
	srv      *http.Server
	listener net.Listener
	path     string
}

var _ Server = (*HTTPServer)(nil)

func listenHTTP(addr string, h FrameHandler, o *serverOptions) (Server, error) {
	host, path := addr, httpPath
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		host, path = addr[:i], addr[i:]
	}
	listener := o.listener
	if listener == nil {
		var err error
		if listener, err = net.Listen("tcp", host); err != nil {
			return nil, err
		}
	}

	rs := rpc.NewServer()
	rs.RegisterCodec(json2.NewCodec(), "application/json")
	if err := rs.RegisterService(&httpBroker{handler: h}, "Broker"); err != nil {
		_ = listener.Close()
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle(path, rs)
	return &HTTPServer{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          slog.NewLogLogger(o.logger.Handler(), slog.LevelWarn),
		},
		listener: listener,
		path:     path,
	}, nil
}

// Serve serves requests until ctx is cancelled or Close is called.
func (s *HTTPServer) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.srv.Close() })
	defer stop()
	if err := s.srv.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Close() error { return s.srv.Close() }

func (s *HTTPServer) Addr() string { return s.listener.Addr().String() }

func (s *HTTPServer) Endpoint() string {
	return JoinEndpoint(TransportHTTP, s.Addr()+s.path)
}
