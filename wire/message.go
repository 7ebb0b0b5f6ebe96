// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"fmt"
	"maps"
	"slices"

	"code.hybscloud.com/iox"
)

// MessageKind identifies a message.
type MessageKind uint8

const (
	MsgRequest  MessageKind = 0x00
	MsgReply    MessageKind = 0x01
	MsgValidate MessageKind = 0x02
	MsgClose    MessageKind = 0x03
)

const (
	kindMask   = 0x07
	flagOneWay = 0x08
)

func (k MessageKind) String() string {
	switch k {
	case MsgRequest:
		return "request"
	case MsgReply:
		return "reply"
	case MsgValidate:
		return "validate"
	case MsgClose:
		return "close"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MessageHeader is the envelope preceding every message: one flags byte and
// the size of the body that follows.
type MessageHeader struct {
	Kind   MessageKind
	OneWay bool
	Size   uint32
}

// MaxMessageHeaderLen is the longest envelope encoding.
const MaxMessageHeaderLen = messageHeaderCap

// AppendMessageHeader appends the envelope for h.
func AppendMessageHeader(dst []byte, h MessageHeader) []byte {
	flags := byte(h.Kind) & kindMask
	if h.OneWay {
		flags |= flagOneWay
	}
	dst = append(dst, flags)
	return AppendUvarint(dst, uint64(h.Size))
}

func parseMessageHeader(b []byte, try bool) (MessageHeader, int, error) {
	if len(b) == 0 {
		if try {
			return MessageHeader{}, 0, iox.ErrWouldBlock
		}
		return MessageHeader{}, 0, unmarshalErr("message header", ErrTruncated)
	}
	flags := b[0]
	if flags&^(kindMask|flagOneWay) != 0 || MessageKind(flags&kindMask) > MsgClose {
		return MessageHeader{}, 0, unmarshalErr("message header", fmt.Errorf("%w: flags %#x", ErrBadMessage, flags))
	}
	var (
		size uint64
		n    int
		err  error
	)
	if try {
		size, n, err = TryUvarint(b[1:])
	} else {
		size, n, err = Uvarint(b[1:])
	}
	if err != nil {
		return MessageHeader{}, 0, err
	}
	if size > 1<<32-1 {
		return MessageHeader{}, 0, unmarshalErr("message header", ErrOverflow)
	}
	return MessageHeader{
		Kind:   MessageKind(flags & kindMask),
		OneWay: flags&flagOneWay != 0,
		Size:   uint32(size),
	}, 1 + n, nil
}

// ReadMessageHeader decodes an envelope from a buffer known to hold it.
func ReadMessageHeader(b []byte) (MessageHeader, int, error) {
	return parseMessageHeader(b, false)
}

// TryReadMessageHeader decodes an envelope from the bytes received so far.
// It reports iox.ErrWouldBlock until the whole envelope has arrived.
func TryReadMessageHeader(b []byte) (MessageHeader, int, error) {
	return parseMessageHeader(b, true)
}

// Identity names an object independently of where it lives.
type Identity struct {
	Name     string
	Category string
}

func (id Identity) String() string {
	if id.Category == "" {
		return id.Name
	}
	return id.Category + "/" + id.Name
}

// OperationMode tells the dispatcher whether an operation may be retried.
type OperationMode uint8

const (
	Normal OperationMode = iota
	Idempotent
)

// RequestHeader follows the envelope of a request; the argument
// encapsulation follows it.
type RequestHeader struct {
	RequestID uint32 // 0 for one-way requests
	Identity  Identity
	Facet     string
	Operation string
	Mode      OperationMode
	Context   map[string]string
}

// WriteRequestHeader writes h. Context entries are written in key order so
// equal requests encode to equal bytes.
func WriteRequestHeader(out *OutputStream, h RequestHeader) error {
	out.WriteUint32(h.RequestID)
	out.WriteString(h.Identity.Name)
	out.WriteString(h.Identity.Category)
	out.WriteString(h.Facet)
	out.WriteString(h.Operation)
	WriteEnum(out, h.Mode)
	WriteContext(out, h.Context)
	return out.Err()
}

// ReadRequestHeader reads a request header.
func ReadRequestHeader(in *InputStream) (RequestHeader, error) {
	var (
		h   RequestHeader
		err error
	)
	if h.RequestID, err = in.ReadUint32(); err != nil {
		return h, err
	}
	if h.Identity.Name, err = in.ReadString(); err != nil {
		return h, err
	}
	if h.Identity.Category, err = in.ReadString(); err != nil {
		return h, err
	}
	if h.Facet, err = in.ReadString(); err != nil {
		return h, err
	}
	if h.Operation, err = in.ReadString(); err != nil {
		return h, err
	}
	if h.Mode, err = ReadEnum(in, func(m OperationMode) bool { return m <= Idempotent }); err != nil {
		return h, err
	}
	if h.Context, err = ReadContext(in); err != nil {
		return h, err
	}
	return h, nil
}

// WriteContext writes a string map as a count and sorted key/value pairs.
func WriteContext(out *OutputStream, ctx map[string]string) {
	out.WriteSize(len(ctx))
	for _, k := range slices.Sorted(maps.Keys(ctx)) {
		out.WriteString(k)
		out.WriteString(ctx[k])
	}
}

// ReadContext reads a map written by WriteContext.
func ReadContext(in *InputStream) (map[string]string, error) {
	n, err := in.ReadSize()
	if err != nil || n == 0 {
		return nil, err
	}
	ctx := make(map[string]string, n)
	for i := 0; i < n; i++ {
		k, err := in.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := in.ReadString()
		if err != nil {
			return nil, err
		}
		ctx[k] = v
	}
	return ctx, nil
}

// ReplyStatus is the outcome carried by a reply.
type ReplyStatus uint8

const (
	StatusOK ReplyStatus = iota
	StatusUserException
	StatusObjectNotExist
	StatusOperationNotExist
	StatusUnknownException
)

func (s ReplyStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUserException:
		return "user exception"
	case StatusObjectNotExist:
		return "object does not exist"
	case StatusOperationNotExist:
		return "operation does not exist"
	case StatusUnknownException:
		return "unknown exception"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// ReplyHeader follows the envelope of a reply. OK and user-exception
// replies continue with an encapsulation, the other statuses with a reason
// string.
type ReplyHeader struct {
	RequestID uint32
	Status    ReplyStatus
}

// WriteReplyHeader writes h.
func WriteReplyHeader(out *OutputStream, h ReplyHeader) error {
	out.WriteUint32(h.RequestID)
	WriteEnum(out, h.Status)
	return out.Err()
}

// ReadReplyHeader reads a reply header.
func ReadReplyHeader(in *InputStream) (ReplyHeader, error) {
	var (
		h   ReplyHeader
		err error
	)
	if h.RequestID, err = in.ReadUint32(); err != nil {
		return h, err
	}
	if h.Status, err = ReadEnum(in, func(s ReplyStatus) bool { return s <= StatusUnknownException }); err != nil {
		return h, err
	}
	return h, nil
}
