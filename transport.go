// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Transport types
const (
	TransportZAP      = "zap"      // framed TCP, default
	TransportLoopback = "loopback" // in-process
	TransportGRPC     = "grpc"     // frames over a gRPC unary method
	TransportHTTP     = "http"     // frames over JSON-RPC 2.0
)

// DefaultTransport is used for endpoints without a scheme
const DefaultTransport = TransportZAP

type dialFunc func(ctx context.Context, addr string, o *dialOptions) (Connection, error)
type listenFunc func(addr string, h FrameHandler, o *serverOptions) (Server, error)

type transport struct {
	dial   dialFunc
	listen listenFunc
}

var (
	transportsMu sync.RWMutex
	transports   = map[string]transport{
		TransportZAP:      {dialZAP, listenZAP},
		TransportLoopback: {dialLoopback, listenLoopback},
	}
)

// registerTransport registers a new transport
func registerTransport(name string, dial dialFunc, listen listenFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[name] = transport{dial, listen}
}

func lookupTransport(name string) (transport, error) {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	t, ok := transports[name]
	if !ok {
		return transport{}, fmt.Errorf("%w: %s", ErrUnknownTransport, name)
	}
	return t, nil
}

// AvailableTransports returns list of available transport types
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports))
	for name := range transports {
		result = append(result, name)
	}
	slices.Sort(result)
	return result
}

// HasTransport checks if a transport is available
func HasTransport(name string) bool {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	_, ok := transports[name]
	return ok
}

// SplitEndpoint splits an endpoint of the form [transport://]address. def
// names the transport of an endpoint without a scheme.
func SplitEndpoint(endpoint, def string) (scheme, addr string, err error) {
	scheme, addr, ok := strings.Cut(endpoint, "://")
	if !ok {
		scheme, addr = def, endpoint
	}
	if scheme == "" || addr == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadEndpoint, endpoint)
	}
	return scheme, addr, nil
}

// JoinEndpoint formats the endpoint of addr on the transport scheme.
func JoinEndpoint(scheme, addr string) string {
	return scheme + "://" + addr
}
