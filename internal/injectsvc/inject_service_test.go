package injectsvc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GuiPerPT/zwift-ride-keytrigger/internal/configsvc"
)

func TestKeyCodeTable(t *testing.T) {
	tests := []struct {
		name string
		code uint8
	}{
		{"a", 0x04},
		{"z", 0x1d},
		{"space", 0x2c},
		{"enter", 0x28},
		{"escape", 0x29},
		{"pageup", 0x4b},
		{"pagedown", 0x4e},
		{"left", 0x50},
		{"up", 0x52},
		{"leftshift", 0xe1},
	}
	for _, tc := range tests {
		code, ok := KeyCode(tc.name)
		require.True(t, ok, "missing key %q", tc.name)
		assert.Equal(t, tc.code, code, "key %q", tc.name)
	}
	_, ok := KeyCode("no such key")
	assert.False(t, ok)
}

func TestDefaultMappingKeysResolve(t *testing.T) {
	for button, key := range configsvc.DefaultKeyMapping() {
		_, ok := KeyCode(key)
		assert.True(t, ok, "default mapping of %s uses unknown key %q", button, key)
	}
}

func TestBuildReport(t *testing.T) {
	report := buildReport(0, nil)
	assert.Equal(t, make([]byte, 8), report)

	report = buildReport(1<<1, []uint8{0x04, 0x2c})
	assert.Equal(t, []byte{0x02, 0x00, 0x04, 0x2c, 0x00, 0x00, 0x00, 0x00}, report)
}

func TestHeldSetBookkeeping(t *testing.T) {
	held := []uint8(nil)
	held = append(held, 0x04)
	assert.True(t, contains(held, 0x04))
	assert.False(t, contains(held, 0x05))

	held = append(held, 0x05, 0x06)
	held = remove(held, 0x05)
	assert.Equal(t, []uint8{0x04, 0x06}, held)

	// Removing an absent code is a no-op.
	held = remove(held, 0x50)
	assert.Equal(t, []uint8{0x04, 0x06}, held)
}
