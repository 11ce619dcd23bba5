package rideapi

import (
	"errors"
	"testing"
)

func TestUvarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 16384, 1<<31 - 1}
	for _, v := range values {
		buf := AppendUvarint(nil, v)
		got, n, err := Uvarint(buf)
		if err != nil {
			t.Fatalf("Uvarint(% x): %v", buf, err)
		}
		if got != v {
			t.Errorf("Uvarint(% x) = %d, want %d", buf, got, v)
		}
		if n != len(buf) {
			t.Errorf("Uvarint(% x) consumed %d bytes, want %d", buf, n, len(buf))
		}
	}
}

func TestUvarintBoundaries(t *testing.T) {
	// 127 is the largest single-byte value, 128 the smallest two-byte one.
	if buf := AppendUvarint(nil, 127); len(buf) != 1 {
		t.Errorf("encoding of 127 is % x, want one byte", buf)
	}
	if buf := AppendUvarint(nil, 128); len(buf) != 2 {
		t.Errorf("encoding of 128 is % x, want two bytes", buf)
	}
}

func TestUvarintMalformed(t *testing.T) {
	tests := [][]byte{
		{},
		{0x80},
		{0xff, 0xff, 0xff},
	}
	for _, buf := range tests {
		_, _, err := Uvarint(buf)
		if !errors.Is(err, ErrMalformedVarint) {
			t.Errorf("Uvarint(% x) err = %v, want ErrMalformedVarint", buf, err)
		}
	}
}

func TestZigzagFixedPoints(t *testing.T) {
	tests := []struct {
		signed  int64
		encoded uint64
	}{
		{0, 0},
		{-1, 1},
		{1, 2},
		{-2, 3},
	}
	for _, tc := range tests {
		if got := ZigzagEncode(tc.signed); got != tc.encoded {
			t.Errorf("ZigzagEncode(%d) = %d, want %d", tc.signed, got, tc.encoded)
		}
		if got := ZigzagDecode(tc.encoded); got != tc.signed {
			t.Errorf("ZigzagDecode(%d) = %d, want %d", tc.encoded, got, tc.signed)
		}
	}
}

func TestZigzagRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 63, -64, 1000, -1000, 1<<31 - 1, -(1 << 31)}
	for _, v := range values {
		if got := ZigzagDecode(ZigzagEncode(v)); got != v {
			t.Errorf("round trip of %d gave %d", v, got)
		}
	}
}
