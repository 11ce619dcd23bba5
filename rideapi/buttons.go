package rideapi

import (
	"fmt"
	"strings"
)

// Button is one of the 16 physical controls on the left Ride controller.
type Button uint8

const (
	ButtonLeft Button = iota
	ButtonUp
	ButtonRight
	ButtonDown
	ButtonA
	ButtonB
	ButtonY
	ButtonZ
	ButtonShiftUpLeft
	ButtonShiftDownLeft
	ButtonPowerUpLeft
	ButtonOnOffLeft
	ButtonShiftUpRight
	ButtonShiftDownRight
	ButtonPowerUpRight
	ButtonOnOffRight

	buttonCount = 16
)

// buttonMasks assigns each button its bit inside the packed button word.
// The device skips some bit positions (no 0x80, 0x8000).
var buttonMasks = [buttonCount]uint32{
	ButtonLeft:           0x1,
	ButtonUp:             0x2,
	ButtonRight:          0x4,
	ButtonDown:           0x8,
	ButtonA:              0x10,
	ButtonB:              0x20,
	ButtonY:              0x40,
	ButtonZ:              0x100,
	ButtonShiftUpLeft:    0x200,
	ButtonShiftDownLeft:  0x400,
	ButtonPowerUpLeft:    0x800,
	ButtonOnOffLeft:      0x1000,
	ButtonShiftUpRight:   0x2000,
	ButtonShiftDownRight: 0x4000,
	ButtonPowerUpRight:   0x10000,
	ButtonOnOffRight:     0x20000,
}

var buttonNames = [buttonCount]string{
	ButtonLeft:           "LEFT_BTN",
	ButtonUp:             "UP_BTN",
	ButtonRight:          "RIGHT_BTN",
	ButtonDown:           "DOWN_BTN",
	ButtonA:              "A_BTN",
	ButtonB:              "B_BTN",
	ButtonY:              "Y_BTN",
	ButtonZ:              "Z_BTN",
	ButtonShiftUpLeft:    "SHFT_UP_L_BTN",
	ButtonShiftDownLeft:  "SHFT_DN_L_BTN",
	ButtonPowerUpLeft:    "POWERUP_L_BTN",
	ButtonOnOffLeft:      "ONOFF_L_BTN",
	ButtonShiftUpRight:   "SHFT_UP_R_BTN",
	ButtonShiftDownRight: "SHFT_DN_R_BTN",
	ButtonPowerUpRight:   "POWERUP_R_BTN",
	ButtonOnOffRight:     "ONOFF_R_BTN",
}

var buttonByName = map[string]Button{}

func init() {
	for b, name := range buttonNames {
		buttonByName[name] = Button(b)
	}
}

// Mask returns the button's bit inside the packed button word.
func (b Button) Mask() uint32 {
	return buttonMasks[b]
}

func (b Button) String() string {
	if int(b) >= buttonCount {
		return fmt.Sprintf("BTN_0x%02x", uint8(b))
	}
	return buttonNames[b]
}

// ParseButton resolves a protocol button name such as "SHFT_UP_L_BTN".
func ParseButton(name string) (Button, error) {
	b, ok := buttonByName[name]
	if !ok {
		return 0, fmt.Errorf("unknown button name: %s", name)
	}
	return b, nil
}

// Buttons returns all buttons in enumeration order.
func Buttons() []Button {
	bb := make([]Button, buttonCount)
	for i := range bb {
		bb[i] = Button(i)
	}
	return bb
}

// PressedButtons resolves a packed button word into the buttons it reports
// as pressed, in enumeration order. The wire polarity is inverted: a zero
// bit means pressed. This is the only place the inversion is applied.
func PressedButtons(word uint32) []Button {
	var pressed []Button
	for b := Button(0); b < buttonCount; b++ {
		if word&buttonMasks[b] == 0 {
			pressed = append(pressed, b)
		}
	}
	return pressed
}

// ButtonNames formats a button list for logging.
func ButtonNames(buttons []Button) string {
	parts := make([]string, len(buttons))
	for i, b := range buttons {
		parts[i] = b.String()
	}
	return strings.Join(parts, ", ")
}
