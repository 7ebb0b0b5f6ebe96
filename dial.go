// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"fmt"
)

// Dial connects to endpoint. The transport is taken from the endpoint's
// scheme, or from WithTransport (ZAP by default) when it has none.
func Dial(ctx context.Context, endpoint string, opts ...DialOption) (Connection, error) {
	return dial(ctx, endpoint, newDialOptions(opts))
}

func dial(ctx context.Context, endpoint string, o *dialOptions) (Connection, error) {
	name, addr, err := SplitEndpoint(endpoint, o.transport)
	if err != nil {
		return nil, err
	}
	t, err := lookupTransport(name)
	if err != nil {
		return nil, err
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	conn, err := t.dial(ctx, addr, o)
	if err != nil {
		return nil, fmt.Errorf("%s dial: %w", name, err)
	}
	return conn, nil
}

// Listen creates a server delivering the frames received on endpoint to h.
// The server does not accept requests until Serve is called.
func Listen(endpoint string, h FrameHandler, opts ...ServerOption) (Server, error) {
	o := newServerOptions(opts)
	name, addr, err := SplitEndpoint(endpoint, o.transport)
	if err != nil {
		return nil, err
	}
	t, err := lookupTransport(name)
	if err != nil {
		return nil, err
	}
	s, err := t.listen(addr, h, o)
	if err != nil {
		return nil, fmt.Errorf("%s listen: %w", name, err)
	}
	return s, nil
}
