package injectsvc

// Keyboard usage page (0x07) codes for the key names accepted in
// mapping files. Names are lower case with no separators.
var keyCodeMap = map[string]uint8{
	"a": 0x04, "b": 0x05, "c": 0x06, "d": 0x07, "e": 0x08, "f": 0x09,
	"g": 0x0a, "h": 0x0b, "i": 0x0c, "j": 0x0d, "k": 0x0e, "l": 0x0f,
	"m": 0x10, "n": 0x11, "o": 0x12, "p": 0x13, "q": 0x14, "r": 0x15,
	"s": 0x16, "t": 0x17, "u": 0x18, "v": 0x19, "w": 0x1a, "x": 0x1b,
	"y": 0x1c, "z": 0x1d,

	"1": 0x1e, "2": 0x1f, "3": 0x20, "4": 0x21, "5": 0x22,
	"6": 0x23, "7": 0x24, "8": 0x25, "9": 0x26, "0": 0x27,

	"enter":     0x28,
	"escape":    0x29,
	"backspace": 0x2a,
	"tab":       0x2b,
	"space":     0x2c,
	"minus":     0x2d,
	"equal":     0x2e,

	"f1": 0x3a, "f2": 0x3b, "f3": 0x3c, "f4": 0x3d, "f5": 0x3e,
	"f6": 0x3f, "f7": 0x40, "f8": 0x41, "f9": 0x42, "f10": 0x43,
	"f11": 0x44, "f12": 0x45,

	"insert":   0x49,
	"home":     0x4a,
	"pageup":   0x4b,
	"delete":   0x4c,
	"end":      0x4d,
	"pagedown": 0x4e,
	"right":    0x4f,
	"left":     0x50,
	"down":     0x51,
	"up":       0x52,

	// Modifiers occupy the modifier byte of the boot report.
	"leftctrl":   0xe0,
	"leftshift":  0xe1,
	"leftalt":    0xe2,
	"leftmeta":   0xe3,
	"rightctrl":  0xe4,
	"rightshift": 0xe5,
	"rightalt":   0xe6,
	"rightmeta":  0xe7,
}

const modifierBase = 0xe0

// KeyCode resolves a mapping key name to its usage code.
func KeyCode(name string) (uint8, bool) {
	code, ok := keyCodeMap[name]
	return code, ok
}

// KeyNames returns every accepted key name, for diagnostics.
func KeyNames() []string {
	names := make([]string, 0, len(keyCodeMap))
	for name := range keyCodeMap {
		names = append(names, name)
	}
	return names
}
