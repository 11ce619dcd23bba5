package rideapi

// AnalogSample carries the signed per-axis values of one analog
// sub-message. Axes the device did not report stay zero.
type AnalogSample struct {
	Left  int32
	Right int32
}

const (
	// Analog data, when present, starts at this byte offset of a
	// ButtonStatus frame.
	analogOffset = 7

	// Group-level tag of an analog sub-message: field 3, wire type 2.
	analogTag = 0x1a

	wireVarint    = 0
	wireLengthDel = 2
)

const (
	locationLeft  = 0
	locationRight = 1
)

// decodeAnalog walks the analog sub-messages of a ButtonStatus frame.
// Parsing stops at the first byte that is not an analog tag; absence of
// analog data is normal. Each sub-message advances the cursor by the
// byte count it actually consumed.
func decodeAnalog(payload []byte) []AnalogSample {
	var samples []AnalogSample
	off := analogOffset
	for off < len(payload) && payload[off] == analogTag {
		sample, n, ok := decodeKeyGroup(payload[off:])
		if ok {
			samples = append(samples, sample)
		}
		if n == 0 {
			break
		}
		off += n
	}
	return samples
}

// decodeKeyGroup parses a run of group-level tag/value fields. Field 3
// with wire type 2 holds one key-press message; everything else is
// skipped structurally so that unknown fields never desynchronize the
// cursor. It returns the bytes consumed and whether any axis was seen.
//
// A malformed varint or a length running past the buffer aborts the
// group; values extracted before the fault are kept.
func decodeKeyGroup(buf []byte) (AnalogSample, int, bool) {
	var sample AnalogSample
	seen := false
	off := 0
	for off < len(buf) {
		tag := buf[off]
		fieldNum := tag >> 3
		wireType := tag & 0x7
		off++

		switch {
		case fieldNum == 3 && wireType == wireLengthDel:
			if off >= len(buf) {
				return sample, len(buf), seen
			}
			// Lengths are a single byte in this format (0-127).
			length := int(buf[off])
			off++
			if off+length > len(buf) {
				return sample, len(buf), seen
			}
			if loc, value, ok := decodeKeyPress(buf[off : off+length]); ok {
				switch loc {
				case locationLeft:
					sample.Left = value
					seen = true
				case locationRight:
					sample.Right = value
					seen = true
				}
			}
			off += length

		case wireType == wireVarint:
			_, n, err := Uvarint(buf[off:])
			if err != nil {
				return sample, len(buf), seen
			}
			off += n

		case wireType == wireLengthDel:
			if off >= len(buf) {
				return sample, len(buf), seen
			}
			off += 1 + int(buf[off])

		default:
			// Wire types other than varint and length-delimited do not
			// occur in this format; bail out rather than guess at a
			// field size and desynchronize.
			return sample, len(buf), seen
		}
	}
	return sample, off, seen
}

// decodeKeyPress parses one key-press message: field 1 is the axis
// location, field 2 the zigzag-encoded analog value.
func decodeKeyPress(buf []byte) (location uint64, value int32, ok bool) {
	hasLocation := false
	off := 0
	for off < len(buf) {
		tag := buf[off]
		fieldNum := tag >> 3
		wireType := tag & 0x7
		off++

		switch {
		case fieldNum == 1 && wireType == wireVarint:
			v, n, err := Uvarint(buf[off:])
			if err != nil {
				return 0, 0, false
			}
			location = v
			hasLocation = true
			off += n

		case fieldNum == 2 && wireType == wireVarint:
			v, n, err := Uvarint(buf[off:])
			if err != nil {
				return 0, 0, false
			}
			value = int32(ZigzagDecode(v))
			off += n

		case wireType == wireVarint:
			_, n, err := Uvarint(buf[off:])
			if err != nil {
				return 0, 0, false
			}
			off += n

		case wireType == wireLengthDel:
			if off >= len(buf) {
				return 0, 0, false
			}
			off += 1 + int(buf[off])

		default:
			return 0, 0, false
		}
	}
	return location, value, hasLocation
}
