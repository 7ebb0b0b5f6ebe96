// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"errors"
	"math"
	"testing"

	"code.hybscloud.com/iox"
)

func TestUvarintMinimalLength(t *testing.T) {
	tests := []struct {
		v    uint64
		want int
	}{
		{0, 1},
		{1, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{math.MaxUint32, 5},
		{math.MaxUint64, 10},
	}
	for _, tt := range tests {
		b := AppendUvarint(nil, tt.v)
		if len(b) != tt.want {
			t.Errorf("len(AppendUvarint(%d)) = %d, want %d", tt.v, len(b), tt.want)
		}
		if UvarintLen(tt.v) != tt.want {
			t.Errorf("UvarintLen(%d) = %d, want %d", tt.v, UvarintLen(tt.v), tt.want)
		}
		got, n, err := Uvarint(b)
		if err != nil {
			t.Fatalf("Uvarint(%x): %v", b, err)
		}
		if got != tt.v || n != len(b) {
			t.Errorf("Uvarint(%x) = %d, %d; want %d, %d", b, got, n, tt.v, len(b))
		}
	}
}

func TestUvarintLayout(t *testing.T) {
	// 300 = 0b1_0010_1100: low group 0x2c with continuation, then 0x02
	b := AppendUvarint(nil, 300)
	if len(b) != 2 || b[0] != 0xac || b[1] != 0x02 {
		t.Fatalf("AppendUvarint(300) = %x, want ac02", b)
	}
}

func TestUvarintErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"dangling", []byte{0x80, 0x80}, ErrTruncated},
		{"eleven bytes", []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01}, ErrOverlong},
		{"overflow", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x02}, ErrOverlong},
		{"non minimal", []byte{0x81, 0x00}, ErrOverlong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Uvarint(tt.in)
			var ue *UnmarshalError
			if !errors.As(err, &ue) {
				t.Fatalf("Uvarint(%x) error %v is not an UnmarshalError", tt.in, err)
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Uvarint(%x) = %v, want %v", tt.in, err, tt.want)
			}
		})
	}
}

func TestTryUvarintNeedsMoreInput(t *testing.T) {
	full := AppendUvarint(nil, 1<<40)
	for i := 0; i < len(full); i++ {
		_, _, err := TryUvarint(full[:i])
		if !iox.IsWouldBlock(err) {
			t.Fatalf("TryUvarint(prefix %d) = %v, want ErrWouldBlock", i, err)
		}
	}
	v, n, err := TryUvarint(full)
	if err != nil || v != 1<<40 || n != len(full) {
		t.Fatalf("TryUvarint(full) = %d, %d, %v", v, n, err)
	}
	_, _, err = TryUvarint([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80})
	var ue *UnmarshalError
	if !errors.As(err, &ue) {
		t.Fatalf("TryUvarint(overlong) = %v, want UnmarshalError", err)
	}
}

func TestZigzag(t *testing.T) {
	for _, v := range []int64{0, -1, 1, -2, 2, 63, -64, 64, math.MaxInt64, math.MinInt64} {
		b := AppendVarint(nil, v)
		got, _, err := Varint(b)
		if err != nil {
			t.Fatalf("Varint(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("Varint(AppendVarint(%d)) = %d", v, got)
		}
		if v != math.MinInt64 {
			abs := v
			if abs < 0 {
				abs = -abs
			}
			if abs < math.MaxInt64/2 && len(b) > UvarintLen(uint64(2*abs)) {
				t.Errorf("len(AppendVarint(%d)) = %d exceeds len of 2*|v|", v, len(b))
			}
		}
	}
	if Zigzag(-1) != 1 || Zigzag(1) != 2 || Zigzag(-2) != 3 {
		t.Fatalf("Zigzag mapping wrong: %d %d %d", Zigzag(-1), Zigzag(1), Zigzag(-2))
	}
}

func roundTripUnsigned[T Unsigned](t *testing.T, values ...T) {
	t.Helper()
	for _, v := range values {
		got, _, err := DecodeUnsigned[T](AppendUnsigned(nil, v))
		if err != nil || got != v {
			t.Errorf("DecodeUnsigned(%d) = %d, %v", v, got, err)
		}
	}
}

func roundTripSigned[T Signed](t *testing.T, values ...T) {
	t.Helper()
	for _, v := range values {
		got, _, err := DecodeSigned[T](AppendSigned(nil, v))
		if err != nil || got != v {
			t.Errorf("DecodeSigned(%d) = %d, %v", v, got, err)
		}
	}
}

func TestWidthsRoundTrip(t *testing.T) {
	roundTripUnsigned[uint8](t, 0, 1, 127, 128, math.MaxUint8)
	roundTripUnsigned[uint16](t, 0, 300, math.MaxUint16)
	roundTripUnsigned[uint32](t, 0, 1<<21, math.MaxUint32)
	roundTripUnsigned[uint64](t, 0, 1<<56, math.MaxUint64)
	roundTripSigned[int8](t, 0, -1, 1, math.MinInt8, math.MaxInt8)
	roundTripSigned[int16](t, math.MinInt16, -300, 300, math.MaxInt16)
	roundTripSigned[int32](t, math.MinInt32, -1, math.MaxInt32)
	roundTripSigned[int64](t, math.MinInt64, -1, math.MaxInt64)
}

func TestDecodeOverflowsWidth(t *testing.T) {
	if _, _, err := DecodeUnsigned[uint8](AppendUvarint(nil, 256)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("DecodeUnsigned[uint8](256) = %v, want ErrOverflow", err)
	}
	if _, _, err := DecodeSigned[int8](AppendVarint(nil, -129)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("DecodeSigned[int8](-129) = %v, want ErrOverflow", err)
	}
}

type color uint8

const (
	red color = iota
	green
	blue
)

type direction int16

func TestEnumRoundTrip(t *testing.T) {
	for _, c := range []color{red, green, blue} {
		got, _, err := DecodeEnum[color](AppendEnum(nil, c))
		if err != nil || got != c {
			t.Errorf("DecodeEnum(%d) = %d, %v", c, got, err)
		}
	}

	// negative enumerators widen to the same-width unsigned value
	b := AppendEnum(nil, direction(-1))
	if u, _, _ := Uvarint(b); u != math.MaxUint16 {
		t.Fatalf("AppendEnum(direction(-1)) widened to %d, want %d", u, math.MaxUint16)
	}
	got, _, err := DecodeEnum[direction](b)
	if err != nil || got != -1 {
		t.Fatalf("DecodeEnum(direction) = %d, %v", got, err)
	}

	if _, _, err := DecodeEnum[color](AppendUvarint(nil, 1000)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("DecodeEnum[color](1000) = %v, want ErrOverflow", err)
	}
}
