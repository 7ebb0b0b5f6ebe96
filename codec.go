// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"errors"
	"fmt"

	"github.com/luxfi/orb/wire"
)

// encodeRequest frames req under request id id; id is 0 for one-way
// requests.
func encodeRequest(id uint32, req *Request) ([]byte, error) {
	out := wire.NewOutputStream()
	if err := out.BeginMessage(); err != nil {
		return nil, err
	}
	err := wire.WriteRequestHeader(out, wire.RequestHeader{
		RequestID: id,
		Identity:  req.Identity,
		Facet:     req.Facet,
		Operation: req.Operation,
		Mode:      req.Mode,
		Context:   req.Context,
	})
	if err != nil {
		return nil, err
	}
	out.WriteRaw(req.Args)
	if err := out.FinishMessage(wire.MsgRequest, req.OneWay); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// encodeReply frames a successful reply around the result encapsulation in
// body.
func encodeReply(id uint32, body *wire.OutputStream) ([]byte, error) {
	out := wire.NewOutputStream()
	if err := out.BeginMessage(); err != nil {
		return nil, err
	}
	if err := wire.WriteReplyHeader(out, wire.ReplyHeader{RequestID: id, Status: wire.StatusOK}); err != nil {
		return nil, err
	}
	for _, chunk := range body.Sequence().Buffers() {
		out.WriteRaw(chunk)
	}
	if err := out.FinishMessage(wire.MsgReply, false); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// encodeException frames a failed reply. User exceptions travel as class
// instances; the system errors of this package by their fields; anything
// else as an unknown exception carrying its message.
func encodeException(id uint32, cause error, enc []wire.Option) ([]byte, error) {
	var (
		ue  UserException
		one *NoObjectError
		onx *OperationNotExistError
		unk *UnknownError
	)
	if errors.As(cause, &ue) {
		b, err := encodeFailure(id, wire.StatusUserException, enc, func(out *wire.OutputStream) error {
			if err := out.BeginEncapsulation(); err != nil {
				return err
			}
			if err := out.WriteObject(ue); err != nil {
				return err
			}
			return out.EndEncapsulation()
		})
		if err == nil {
			return b, nil
		}
		cause = fmt.Errorf("marshal %T: %w", ue, err)
	}
	switch {
	case errors.As(cause, &one):
		return encodeFailure(id, wire.StatusObjectNotExist, nil, func(out *wire.OutputStream) error {
			writeTarget(out, one.Identity, one.Facet, "")
			return out.Err()
		})
	case errors.As(cause, &onx):
		return encodeFailure(id, wire.StatusOperationNotExist, nil, func(out *wire.OutputStream) error {
			writeTarget(out, onx.Identity, onx.Facet, onx.Operation)
			return out.Err()
		})
	case errors.As(cause, &unk):
		return encodeUnknown(id, unk.Reason)
	}
	return encodeUnknown(id, cause.Error())
}

func encodeUnknown(id uint32, reason string) ([]byte, error) {
	return encodeFailure(id, wire.StatusUnknownException, nil, func(out *wire.OutputStream) error {
		out.WriteString(reason)
		return out.Err()
	})
}

func encodeFailure(id uint32, status wire.ReplyStatus, enc []wire.Option, body func(*wire.OutputStream) error) ([]byte, error) {
	out := wire.NewOutputStream(enc...)
	if err := out.BeginMessage(); err != nil {
		return nil, err
	}
	if err := wire.WriteReplyHeader(out, wire.ReplyHeader{RequestID: id, Status: status}); err != nil {
		return nil, err
	}
	if err := body(out); err != nil {
		return nil, err
	}
	if err := out.FinishMessage(wire.MsgReply, false); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func writeTarget(out *wire.OutputStream, id Identity, facet, operation string) {
	out.WriteString(id.Name)
	out.WriteString(id.Category)
	out.WriteString(facet)
	out.WriteString(operation)
}

func readTarget(in *wire.InputStream) (id Identity, facet, operation string, err error) {
	for _, p := range []*string{&id.Name, &id.Category, &facet, &operation} {
		if *p, err = in.ReadString(); err != nil {
			return
		}
	}
	return
}

// decodeReply reads the envelope and reply header of frame.
func decodeReply(frame []byte, enc []wire.Option) (*Reply, error) {
	in := wire.NewInputStreamBytes(frame, enc...)
	h, err := in.ReadMessageHeader()
	if err != nil {
		return nil, err
	}
	if h.Kind != wire.MsgReply {
		return nil, fmt.Errorf("%w: %s frame", wire.ErrBadMessage, h.Kind)
	}
	rh, err := wire.ReadReplyHeader(in)
	if err != nil {
		return nil, err
	}
	return &Reply{RequestID: rh.RequestID, Status: rh.Status, Body: in}, nil
}

// Err decodes the failure carried by a reply whose status is not OK.
func (r *Reply) Err() error {
	in := r.Body
	switch r.Status {
	case wire.StatusOK:
		return nil
	case wire.StatusUserException:
		if _, err := in.BeginEncapsulation(); err != nil {
			return err
		}
		var exc wire.Object
		if err := in.ReadObject(func(o wire.Object) error { exc = o; return nil }); err != nil {
			return err
		}
		if err := in.EndEncapsulation(); err != nil {
			return err
		}
		if e, ok := exc.(error); ok {
			return e
		}
		return &UnknownError{Reason: fmt.Sprintf("user exception %s is not an error", wire.TypeIDOf(exc))}
	case wire.StatusObjectNotExist, wire.StatusOperationNotExist:
		id, facet, op, err := readTarget(in)
		if err != nil {
			return err
		}
		if r.Status == wire.StatusObjectNotExist {
			return &NoObjectError{Identity: id, Facet: facet}
		}
		return &OperationNotExistError{Identity: id, Facet: facet, Operation: op}
	default:
		reason, err := in.ReadString()
		if err != nil {
			return err
		}
		return &UnknownError{Reason: reason}
	}
}

// frameKind peeks the message kind and one-way flag of a framed message.
func frameKind(frame []byte) (wire.MessageHeader, error) {
	h, _, err := wire.ReadMessageHeader(frame)
	return h, err
}

// frame is a framed message carried opaquely by the grpc transport.
type frame []byte

// frameCodec passes frames through gRPC unchanged.
type frameCodec struct{}

func (frameCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*frame)
	if !ok {
		return nil, fmt.Errorf("orb: cannot marshal %T as a frame", v)
	}
	return *f, nil
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*frame)
	if !ok {
		return fmt.Errorf("orb: cannot unmarshal a frame into %T", v)
	}
	*f = append((*f)[:0], data...)
	return nil
}

func (frameCodec) Name() string { return "orb-frame" }
