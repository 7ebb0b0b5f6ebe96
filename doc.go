// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package orb is an object request broker: typed invocations on objects
// named by references, carried in-process or across a connection in the
// binary encoding of package wire.
//
// # Operations
//
// An Operation describes one method of an interface I: its name, its
// signature, the codecs of its arguments A and result R, and how to call it
// on an implementation. Operations are usually declared once per interface,
// next to a Skeleton that makes an implementation dispatchable:
//
//	var add = &orb.Operation[Calculator, [2]int32, int32]{
//	    Name: "add",
//	    Call: func(ctx context.Context, c Calculator, _ *orb.Current, a [2]int32) (int32, error) {
//	        return c.Add(ctx, a[0], a[1])
//	    },
//	    MarshalArgs:     ...,
//	    UnmarshalArgs:   ...,
//	    MarshalResult:   ...,
//	    UnmarshalResult: ...,
//	}
//
//	sk := orb.NewSkeleton[Calculator](impl)
//	orb.AddOperation(sk, add)
//
// # Invocation
//
// A Communicator hosts adapters and owns connections:
//
//	com := orb.NewCommunicator()
//	defer com.Close()
//	adapter, _ := com.CreateAdapter("calc")
//	ref, _ := adapter.Add(sk, orb.Identity{Name: "calc"})
//
//	sum, err := orb.Invoke(ctx, com, ref, add, [2]int32{2, 3})
//
// A reference without an endpoint is served in-process: the servant is
// called directly when it implements I, and through its Dispatch method
// with marshalled arguments otherwise. A reference with an endpoint is sent
// over the connection the communicator holds for it, dialing on first use.
// InvokeAsync reports Sent, then exactly one of Response or Exception, on
// every path.
//
// # Transports
//
// Endpoints have the form transport://address:
//
//	zap://127.0.0.1:9000        framed TCP (the default transport)
//	loopback://name             in-process, for tests and collocated peers
//	grpc://127.0.0.1:9001       frames over a single gRPC method
//	http://127.0.0.1:8080/rpc   frames over JSON-RPC 2.0
//
// Every transport moves the same frames, so an adapter serves any of them:
//
//	srv, err := adapter.Listen("zap://127.0.0.1:9000")
//	go srv.Serve(ctx)
package orb
