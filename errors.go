// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"errors"
	"fmt"

	"github.com/luxfi/orb/wire"
)

var (
	ErrConnectionClosed   = errors.New("orb: connection closed")
	ErrCommunicatorClosed = errors.New("orb: communicator closed")
	ErrUnknownTransport   = errors.New("orb: unknown transport")
	ErrBadEndpoint        = errors.New("orb: malformed endpoint")
	ErrBadReference       = errors.New("orb: malformed reference")
	ErrAlreadyRegistered  = errors.New("orb: servant already registered")
	ErrEmptyIdentity      = errors.New("orb: identity has no name")
	ErrFrameTooLarge      = errors.New("orb: frame too large")
	ErrUnexpectedReply    = errors.New("orb: reply for unknown request")
)

// NoObjectError reports that a reference has no servant behind it.
type NoObjectError struct {
	Identity Identity
	Facet    string
}

func (e *NoObjectError) Error() string {
	if e.Facet != "" {
		return fmt.Sprintf("orb: no object %s facet %q", e.Identity, e.Facet)
	}
	return fmt.Sprintf("orb: no object %s", e.Identity)
}

// OperationNotExistError reports an operation the servant does not
// implement.
type OperationNotExistError struct {
	Identity  Identity
	Facet     string
	Operation string
}

func (e *OperationNotExistError) Error() string {
	return fmt.Sprintf("orb: object %s has no operation %q", e.Identity, e.Operation)
}

// UnknownError carries a failure the dispatcher could not classify, such as
// a plain Go error or a panic raised by a servant.
type UnknownError struct {
	Reason string
}

func (e *UnknownError) Error() string {
	return "orb: unknown exception: " + e.Reason
}

// UserException is an error declared by an operation. It is marshalled as
// a class instance, so its concrete type must be registered with the
// reader's wire.Registry.
type UserException interface {
	error
	wire.Object
}
