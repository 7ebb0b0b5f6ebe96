// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"fmt"
	"strings"

	"github.com/luxfi/orb/wire"
)

// Identity names an object independently of where it lives.
type Identity = wire.Identity

// Context is the string map sent with every request.
type Context map[string]string

// Reference names the target of a call: an identity, an optional facet and
// the endpoint of the process hosting it. A reference without an endpoint
// addresses a servant in this process.
type Reference struct {
	Identity Identity
	Facet    string
	Endpoint string
}

// Local reports whether r addresses this process.
func (r Reference) Local() bool { return r.Endpoint == "" }

// WithFacet returns r addressing facet.
func (r Reference) WithFacet(facet string) Reference {
	r.Facet = facet
	return r
}

// WithEndpoint returns r routed through endpoint.
func (r Reference) WithEndpoint(endpoint string) Reference {
	r.Endpoint = endpoint
	return r
}

// String formats r as [category/]name[#facet][@endpoint].
func (r Reference) String() string {
	var b strings.Builder
	b.WriteString(r.Identity.String())
	if r.Facet != "" {
		b.WriteByte('#')
		b.WriteString(r.Facet)
	}
	if r.Endpoint != "" {
		b.WriteByte('@')
		b.WriteString(r.Endpoint)
	}
	return b.String()
}

// ParseReference parses the form produced by Reference.String.
func ParseReference(s string) (Reference, error) {
	var r Reference
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s, r.Endpoint = s[:i], s[i+1:]
		if r.Endpoint == "" {
			return Reference{}, fmt.Errorf("%w: empty endpoint", ErrBadReference)
		}
	}
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s, r.Facet = s[:i], s[i+1:]
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		r.Identity.Category, s = s[:i], s[i+1:]
	}
	if s == "" || strings.ContainsRune(s, '/') {
		return Reference{}, fmt.Errorf("%w: %q", ErrBadReference, s)
	}
	r.Identity.Name = s
	return r, nil
}

// Current describes the request being dispatched.
type Current struct {
	Adapter   *Adapter // nil for calls made directly on a collocated servant
	Identity  Identity
	Facet     string
	Operation string
	Mode      wire.OperationMode
	Context   Context
	RequestID uint32 // 0 for one-way and collocated calls
	Encoding  wire.Version
}
