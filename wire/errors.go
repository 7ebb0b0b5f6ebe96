// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated          = errors.New("truncated input")
	ErrOverlong           = errors.New("overlong varint")
	ErrOverflow           = errors.New("value overflows target width")
	ErrScopeMismatch      = errors.New("mismatched scope")
	ErrNoEncapsulation    = errors.New("no open encapsulation")
	ErrSizeMismatch       = errors.New("size mismatch")
	ErrTooLarge           = errors.New("size exceeds 32 bits")
	ErrBadTypeIndex       = errors.New("type index out of range")
	ErrUnsupportedVersion = errors.New("unsupported encoding version")
	ErrUnknownType        = errors.New("no factory for type")
	ErrUnresolved         = errors.New("object id never defined")
	ErrBadObjectID        = errors.New("object id out of range")
	ErrTypeMismatch       = errors.New("unexpected type")
	ErrNotPointer         = errors.New("object is not a pointer")
	ErrBadMessage         = errors.New("malformed message")
	ErrNoSlices           = errors.New("object has no slices")
)

// MarshalError reports an invalid write-side state.
type MarshalError struct {
	Op  string
	Err error
}

func (e *MarshalError) Error() string {
	return fmt.Sprintf("wire: marshal %s: %v", e.Op, e.Err)
}

func (e *MarshalError) Unwrap() error { return e.Err }

// UnmarshalError reports a truncated or malformed input.
type UnmarshalError struct {
	Op  string
	Err error
}

func (e *UnmarshalError) Error() string {
	return fmt.Sprintf("wire: unmarshal %s: %v", e.Op, e.Err)
}

func (e *UnmarshalError) Unwrap() error { return e.Err }

func marshalErr(op string, err error) error {
	var me *MarshalError
	if errors.As(err, &me) {
		return err
	}
	return &MarshalError{Op: op, Err: err}
}

func unmarshalErr(op string, err error) error {
	var ue *UnmarshalError
	if errors.As(err, &ue) {
		return err
	}
	return &UnmarshalError{Op: op, Err: err}
}
