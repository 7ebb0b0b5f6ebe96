// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"code.hybscloud.com/atomix"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/luxfi/orb/wire"
)

// grpcMethod carries every frame; the frame itself names the target.
const grpcMethod = "/orb.Broker/Invoke"

func init() {
	registerTransport(TransportGRPC, dialGRPC, listenGRPC)
}

func dialGRPC(ctx context.Context, addr string, o *dialOptions) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(frameCodec{})),
	}
	if o.dialer != nil {
		opts = append(opts, grpc.WithContextDialer(o.dialer))
	}
	cc, err := grpc.NewClient("passthrough:///"+addr, opts...)
	if err != nil {
		return nil, err
	}
	return &grpcConn{
		cc:       cc,
		endpoint: JoinEndpoint(TransportGRPC, addr),
		enc:      o.encoding,
		done:     make(chan struct{}),
	}, nil
}

// grpcConn sends each request as one unary call; gRPC matches the reply to
// it, so request ids only have to be non-zero.
type grpcConn struct {
	cc       *grpc.ClientConn
	endpoint string
	enc      []wire.Option
	nextID   atomix.Uint32
	done     chan struct{}
	once     sync.Once
}

var _ Connection = (*grpcConn)(nil)

// Invoke implements Connection.
func (c *grpcConn) Invoke(ctx context.Context, req *Request, h ReplyHandler) {
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
	go func() {
		in, out := frame(b), frame(nil)
		if err := c.cc.Invoke(ctx, grpcMethod, &in, &out); err != nil {
			h.Exception(fromStatus(err))
			return
		}
		h.Sent()
		if req.OneWay {
			return
		}
		rep, err := decodeReply(out, c.enc)
		if err != nil {
			h.Exception(err)
			return
		}
		h.Reply(rep)
	}()
}

// fromStatus unwraps the context errors gRPC reports as statuses.
func fromStatus(err error) error {
	switch status.Code(err) {
	case codes.Canceled:
		return fmt.Errorf("%w: %w", context.Canceled, err)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}

func (c *grpcConn) Endpoint() string { return c.endpoint }

func (c *grpcConn) Done() <-chan struct{} { return c.done }

func (c *grpcConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.cc.Close()
	})
	return err
}

// GRPCServer serves frames on the single method of the grpc transport.
type GRPCServer struct {
	srv      *grpc.Server
	listener net.Listener
	handler  FrameHandler
	log      *slog.Logger
}

var _ Server = (*GRPCServer)(nil)

func listenGRPC(addr string, h FrameHandler, o *serverOptions) (Server, error) {
	listener := o.listener
	if listener == nil {
		var err error
		if listener, err = net.Listen("tcp", addr); err != nil {
			return nil, err
		}
	}
	s := &GRPCServer{listener: listener, handler: h, log: o.logger}
	s.srv = grpc.NewServer(
		grpc.ForceServerCodec(frameCodec{}),
		grpc.UnknownServiceHandler(s.handle),
	)
	return s, nil
}

func (s *GRPCServer) handle(_ any, stream grpc.ServerStream) error {
	if m, ok := grpc.MethodFromServerStream(stream); !ok || m != grpcMethod {
		s.log.Warn("grpc: unknown method", "method", m)
		return status.Errorf(codes.Unimplemented, "unknown method %s", m)
	}
	var in frame
	if err := stream.RecvMsg(&in); err != nil {
		return err
	}
	b, err := handleUnary(stream.Context(), s.handler, in)
	switch {
	case errors.Is(err, wire.ErrBadMessage):
		return status.Error(codes.InvalidArgument, err.Error())
	case err != nil:
		return status.FromContextError(err).Err()
	}
	out := frame(b)
	return stream.SendMsg(&out)
}

// Serve serves requests until ctx is cancelled or Close is called.
func (s *GRPCServer) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.srv.Stop)
	defer stop()
	return s.srv.Serve(s.listener)
}

func (s *GRPCServer) Close() error {
	s.srv.Stop()
	return nil
}

func (s *GRPCServer) Addr() string { return s.listener.Addr().String() }

func (s *GRPCServer) Endpoint() string { return JoinEndpoint(TransportGRPC, s.Addr()) }
