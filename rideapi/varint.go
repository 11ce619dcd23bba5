package rideapi

import "errors"

// ErrMalformedVarint is returned when a varint runs off the end of the
// buffer before a terminating byte is seen.
var ErrMalformedVarint = errors.New("malformed varint")

// Uvarint decodes a base-128 little-endian varint from the start of buf.
// It returns the decoded value and the number of bytes consumed.
func Uvarint(buf []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i, b := range buf {
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrMalformedVarint
}

// AppendUvarint appends the varint encoding of v to dst.
func AppendUvarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// ZigzagDecode maps an unsigned zigzag-encoded varint value back to the
// signed value it encodes: 0→0, 1→-1, 2→1, 3→-2, ...
func ZigzagDecode(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

// ZigzagEncode is the inverse of ZigzagDecode.
func ZigzagEncode(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}
