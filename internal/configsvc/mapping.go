package configsvc

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/GuiPerPT/zwift-ride-keytrigger/dispatch"
	"github.com/GuiPerPT/zwift-ride-keytrigger/rideapi"
)

// KeyMappingConfig is the on-disk form of the key mapping: a flat
// object of protocol button names to key names. Buttons left out stay
// unbound and never dispatch.
type KeyMappingConfig map[string]string

// DefaultKeyMapping mirrors the controller layout onto common game
// bindings.
func DefaultKeyMapping() KeyMappingConfig {
	return KeyMappingConfig{
		"LEFT_BTN":      "left",
		"UP_BTN":        "up",
		"RIGHT_BTN":     "right",
		"DOWN_BTN":      "down",
		"A_BTN":         "a",
		"B_BTN":         "b",
		"Y_BTN":         "y",
		"Z_BTN":         "z",
		"SHFT_UP_L_BTN": "w",
		"SHFT_DN_L_BTN": "s",
		"POWERUP_L_BTN": "space",
		"ONOFF_L_BTN":   "escape",
		"SHFT_UP_R_BTN": "pageup",
		"SHFT_DN_R_BTN": "pagedown",
		"POWERUP_R_BTN": "p",
		"ONOFF_R_BTN":   "enter",
	}
}

// Mapping validates the config and resolves button names. Unknown
// button names are a configuration error rather than being silently
// dropped.
func (c KeyMappingConfig) Mapping() (dispatch.Mapping, error) {
	m := make(dispatch.Mapping, len(c))
	for name, key := range c {
		b, err := rideapi.ParseButton(name)
		if err != nil {
			return nil, fmt.Errorf("key mapping: %w", err)
		}
		if key == "" {
			continue
		}
		m[b] = key
	}
	return m, nil
}

// WriteKeyMapping writes a mapping file in the indented JSON form the
// original tooling used.
func WriteKeyMapping(path string, c KeyMappingConfig) error {
	b, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal key mapping: %w", err)
	}
	err = os.WriteFile(path, append(b, '\n'), 0644)
	if err != nil {
		return fmt.Errorf("failed to write key mapping: %w", err)
	}
	return nil
}
