package rideapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keyPressMsg encodes one key-press message: field 1 location, field 2
// zigzag value.
func keyPressMsg(location uint64, value int64) []byte {
	m := AppendUvarint([]byte{0x08}, location)
	m = append(m, 0x10)
	return AppendUvarint(m, ZigzagEncode(value))
}

// analogTail wraps key-press messages in group-level field 3 entries.
func analogTail(msgs ...[]byte) []byte {
	var g []byte
	for _, m := range msgs {
		g = append(g, analogTag, byte(len(m)))
		g = append(g, m...)
	}
	return g
}

func TestDecodeAnalogBothAxes(t *testing.T) {
	tail := analogTail(keyPressMsg(0, -12), keyPressMsg(1, 30))
	frame, err := DecodeFrame(buttonFrame(0xFFFFFFFF, tail...))
	require.NoError(t, err)
	require.Len(t, frame.Analog, 1)
	assert.Equal(t, AnalogSample{Left: -12, Right: 30}, frame.Analog[0])
}

func TestDecodeAnalogMissingAxisDefaultsToZero(t *testing.T) {
	tail := analogTail(keyPressMsg(0, 100))
	frame, err := DecodeFrame(buttonFrame(0xFFFFFFFF, tail...))
	require.NoError(t, err)
	require.Len(t, frame.Analog, 1)
	assert.Equal(t, AnalogSample{Left: 100, Right: 0}, frame.Analog[0])
}

func TestDecodeAnalogAbsent(t *testing.T) {
	tests := []struct {
		name string
		tail []byte
	}{
		{"no tail", nil},
		{"padding instead of tag", []byte{0x00, 0x00}},
		{"wrong tag", []byte{0x22, 0x02, 0x08, 0x00}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := DecodeFrame(buttonFrame(0xFFFFFFFF, tc.tail...))
			require.NoError(t, err)
			assert.Empty(t, frame.Analog)
		})
	}
}

func TestDecodeAnalogSkipsUnknownFields(t *testing.T) {
	// Key-press message with a trailing unknown varint field (3).
	press := append(keyPressMsg(1, -50), 0x18, 0x07)
	// Group with a leading unknown varint field (4) and an unknown
	// length-delimited field (2) before the key press.
	var group []byte
	group = append(group, 0x20, 0x2a)
	group = append(group, 0x12, 0x03, 0xaa, 0xbb, 0xcc)
	group = append(group, analogTag, byte(len(press)))
	group = append(group, press...)

	// The group does not open with the analog tag, so parsing must not
	// even start here.
	frame, err := DecodeFrame(buttonFrame(0xFFFFFFFF, group...))
	require.NoError(t, err)
	assert.Empty(t, frame.Analog)

	// Tag first, unknown fields after: they are skipped structurally.
	reordered := analogTail(press)
	reordered = append(reordered, 0x20, 0x2a)
	reordered = append(reordered, 0x12, 0x03, 0xaa, 0xbb, 0xcc)
	frame, err = DecodeFrame(buttonFrame(0xFFFFFFFF, reordered...))
	require.NoError(t, err)
	require.Len(t, frame.Analog, 1)
	assert.Equal(t, AnalogSample{Right: -50}, frame.Analog[0])
}

func TestDecodeAnalogMalformedKeepsEarlierData(t *testing.T) {
	// First key press is complete, the second ends mid-varint.
	tail := analogTail(keyPressMsg(0, 42))
	tail = append(tail, analogTag, 0x04, 0x08, 0x01, 0x10, 0x80)
	frame, err := DecodeFrame(buttonFrame(0xFFFFFFFF, tail...))
	require.NoError(t, err)
	require.Len(t, frame.Analog, 1)
	assert.Equal(t, AnalogSample{Left: 42}, frame.Analog[0])
}

func TestDecodeAnalogLengthPastBuffer(t *testing.T) {
	tail := []byte{analogTag, 0x20, 0x08, 0x00}
	frame, err := DecodeFrame(buttonFrame(0xFFFFFFFF, tail...))
	require.NoError(t, err)
	assert.Empty(t, frame.Analog)
}

func TestDecodeAnalogIgnoresOtherLocations(t *testing.T) {
	tail := analogTail(keyPressMsg(5, 9))
	frame, err := DecodeFrame(buttonFrame(0xFFFFFFFF, tail...))
	require.NoError(t, err)
	assert.Empty(t, frame.Analog)
}
