// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"unsafe"

	"code.hybscloud.com/iox"
)

// MaxVarintLen64 is the longest encoding of a 64-bit value.
const MaxVarintLen64 = 10

// Unsigned is the set of unsigned integer types the codec handles.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint
}

// Signed is the set of signed integer types the codec handles.
type Signed interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int
}

// Enum is the set of types an enumeration may be declared over.
type Enum interface {
	Unsigned | Signed
}

// AppendUvarint appends v as a little-endian base-128 varint: seven bits
// per byte, least significant group first, high bit set on every byte but
// the last.
func AppendUvarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// UvarintLen returns the encoded length of v.
func UvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// uvarint decodes b. n > 0 is the number of bytes consumed, n == 0 means the
// continuation chain ran off the end of b, n < 0 means the encoding is
// overlong or non-minimal.
func uvarint(b []byte) (v uint64, n int) {
	var shift uint
	for i, c := range b {
		if i == MaxVarintLen64-1 && c > 1 {
			return 0, -1
		}
		if c < 0x80 {
			if c == 0 && i > 0 {
				// a trailing all-zero group is never written
				return 0, -1
			}
			return v | uint64(c)<<shift, i + 1
		}
		v |= uint64(c&0x7f) << shift
		shift += 7
	}
	return 0, 0
}

// Uvarint decodes an unsigned varint from a buffer that holds the complete
// value.
func Uvarint(b []byte) (uint64, int, error) {
	v, n := uvarint(b)
	switch {
	case n == 0:
		return 0, 0, &UnmarshalError{Op: "uvarint", Err: ErrTruncated}
	case n < 0:
		return 0, 0, &UnmarshalError{Op: "uvarint", Err: ErrOverlong}
	}
	return v, n, nil
}

// TryUvarint decodes an unsigned varint from a buffer that may hold only a
// prefix of the value, as when reading a partially arrived frame. A dangling
// continuation chain reports iox.ErrWouldBlock; an overlong one is still an
// UnmarshalError.
func TryUvarint(b []byte) (uint64, int, error) {
	v, n := uvarint(b)
	switch {
	case n == 0:
		return 0, 0, iox.ErrWouldBlock
	case n < 0:
		return 0, 0, &UnmarshalError{Op: "uvarint", Err: ErrOverlong}
	}
	return v, n, nil
}

// Zigzag maps a signed value to an unsigned one so that values of small
// magnitude stay short: 0, -1, 1, -2 become 0, 1, 2, 3.
func Zigzag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

// Unzigzag inverts Zigzag.
func Unzigzag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// AppendVarint appends v zig-zag encoded.
func AppendVarint(dst []byte, v int64) []byte {
	return AppendUvarint(dst, Zigzag(v))
}

// Varint decodes a zig-zag encoded value.
func Varint(b []byte) (int64, int, error) {
	u, n, err := Uvarint(b)
	if err != nil {
		return 0, 0, err
	}
	return Unzigzag(u), n, nil
}

// AppendUnsigned appends v as a varint.
func AppendUnsigned[T Unsigned](dst []byte, v T) []byte {
	return AppendUvarint(dst, uint64(v))
}

// DecodeUnsigned decodes a varint into T, failing when the value does not
// fit.
func DecodeUnsigned[T Unsigned](b []byte) (T, int, error) {
	u, n, err := Uvarint(b)
	if err != nil {
		return 0, 0, err
	}
	v := T(u)
	if uint64(v) != u {
		return 0, 0, &UnmarshalError{Op: "unsigned", Err: ErrOverflow}
	}
	return v, n, nil
}

// AppendSigned appends v zig-zag encoded. A sign-extended value zig-zags to
// the same unsigned number at every width, so encoding through int64 keeps
// the result within T's width.
func AppendSigned[T Signed](dst []byte, v T) []byte {
	return AppendVarint(dst, int64(v))
}

// DecodeSigned decodes a zig-zag varint into T, failing when the value does
// not fit.
func DecodeSigned[T Signed](b []byte) (T, int, error) {
	i, n, err := Varint(b)
	if err != nil {
		return 0, 0, err
	}
	v := T(i)
	if int64(v) != i {
		return 0, 0, &UnmarshalError{Op: "signed", Err: ErrOverflow}
	}
	return v, n, nil
}

// widthMask returns the all-ones mask of an unsigned integer as wide as e.
func widthMask[E Enum](e E) uint64 {
	bits := 8 * unsafe.Sizeof(e)
	if bits >= 64 {
		return ^uint64(0)
	}
	return 1<<bits - 1
}

// AppendEnum widens e to the unsigned integer of the same width and appends
// it as a varint.
func AppendEnum[E Enum](dst []byte, e E) []byte {
	return AppendUvarint(dst, uint64(e)&widthMask(e))
}

// DecodeEnum decodes an enumerator written by AppendEnum.
func DecodeEnum[E Enum](b []byte) (E, int, error) {
	u, n, err := Uvarint(b)
	if err != nil {
		return 0, 0, err
	}
	var zero E
	if u&^widthMask(zero) != 0 {
		return 0, 0, &UnmarshalError{Op: "enum", Err: ErrOverflow}
	}
	return E(u), n, nil
}
