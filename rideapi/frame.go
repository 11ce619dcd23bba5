// Package rideapi decodes the notification protocol of the Zwift Ride
// left handlebar controller. It is purely functional: decoding has no
// side effects and malformed input degrades to a frame with no
// actionable data rather than a stream-level failure.
package rideapi

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncatedFrame is returned when a frame is shorter than its message
// type requires.
var ErrTruncatedFrame = errors.New("truncated frame")

// FrameType classifies a notification payload by its leading byte.
type FrameType uint8

const (
	FrameUnknown FrameType = iota
	FrameButtonStatus
	FrameInitialStatus
	FrameIdle
	FrameStatusUpdate
)

const (
	msgButtonStatus  = 0x23
	msgInitialStatus = 0x2a
	msgIdle          = 0x15
	msgStatusUpdate  = 0x19
)

func (t FrameType) String() string {
	switch t {
	case FrameButtonStatus:
		return "ButtonStatus"
	case FrameInitialStatus:
		return "InitialStatus"
	case FrameIdle:
		return "Idle"
	case FrameStatusUpdate:
		return "StatusUpdate"
	default:
		return "Unknown"
	}
}

// ClassifyFrame maps a leading byte to a frame type. Every byte value
// classifies; unrecognized bytes map to FrameUnknown.
func ClassifyFrame(lead byte) FrameType {
	switch lead {
	case msgButtonStatus:
		return FrameButtonStatus
	case msgInitialStatus:
		return FrameInitialStatus
	case msgIdle:
		return FrameIdle
	case msgStatusUpdate:
		return FrameStatusUpdate
	default:
		return FrameUnknown
	}
}

// Frame is one decoded notification payload.
type Frame struct {
	Type FrameType
	Raw  []byte

	// ButtonStatus frames only.
	Word    uint32
	Pressed []Button
	Analog  []AnalogSample
}

// DecodeFrame decodes one notification payload. An empty or unrecognized
// payload decodes to FrameUnknown carrying the raw bytes. A ButtonStatus
// frame shorter than 6 bytes fails with ErrTruncatedFrame; the frame
// must be dropped but the stream stays usable.
func DecodeFrame(payload []byte) (Frame, error) {
	if len(payload) == 0 {
		return Frame{Type: FrameUnknown, Raw: payload}, nil
	}
	f := Frame{Type: ClassifyFrame(payload[0]), Raw: payload}
	if f.Type != FrameButtonStatus {
		return f, nil
	}
	if len(payload) < 6 {
		return Frame{}, fmt.Errorf("button status frame of %d bytes: %w", len(payload), ErrTruncatedFrame)
	}
	f.Word = binary.LittleEndian.Uint32(payload[2:6])
	f.Pressed = PressedButtons(f.Word)
	f.Analog = decodeAnalog(payload)
	return f, nil
}
