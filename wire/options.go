// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import "fmt"

// Version is an encoding version carried by every encapsulation.
type Version struct {
	Major uint8
	Minor uint8
}

// Encoding11 is the encoding this package writes.
var Encoding11 = Version{Major: 1, Minor: 1}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// supported reports whether v can be read.
func (v Version) supported() bool {
	return v.Major == Encoding11.Major && v.Minor <= Encoding11.Minor
}

// Option configures an OutputStream or InputStream.
type Option func(*options)

type options struct {
	registry    *Registry
	version     Version
	compactType bool
}

func newOptions(opts []Option) options {
	o := options{registry: DefaultRegistry, version: Encoding11}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithRegistry sets the type registry consulted when reading objects.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithVersion sets the version written into new encapsulations.
func WithVersion(v Version) Option {
	return func(o *options) { o.version = v }
}

// WithCompactTypeIDs writes 64-bit type id hashes instead of type id
// strings in segment headers.
func WithCompactTypeIDs() Option {
	return func(o *options) { o.compactType = true }
}
