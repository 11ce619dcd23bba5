package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GuiPerPT/zwift-ride-keytrigger/rideapi"
)

var testMapping = Mapping{
	rideapi.ButtonUp:          "up",
	rideapi.ButtonA:           "a",
	rideapi.ButtonB:           "b",
	rideapi.ButtonShiftUpLeft: "w",
	rideapi.ButtonPowerUpLeft: "space",
}

func TestFirstPress(t *testing.T) {
	d := New(testMapping)
	st := NewState()
	now := time.Unix(100, 0)

	actions := d.Update(st, []rideapi.Button{rideapi.ButtonUp}, now)
	require.Equal(t, []KeyAction{{Kind: Press, Key: "up"}}, actions)
	assert.Contains(t, st.Active, "up")
	assert.Contains(t, st.Pressed, rideapi.ButtonUp)
	assert.Equal(t, now, st.LastPress[rideapi.ButtonUp])
}

func TestRepeatCadence(t *testing.T) {
	d := New(testMapping)
	st := NewState()
	t0 := time.Unix(100, 0)

	actions := d.Update(st, []rideapi.Button{rideapi.ButtonUp}, t0)
	require.Equal(t, []KeyAction{{Kind: Press, Key: "up"}}, actions)

	// Held but below the repeat delay: nothing happens.
	actions = d.Update(st, []rideapi.Button{rideapi.ButtonUp}, t0.Add(150*time.Millisecond))
	assert.Empty(t, actions)
	assert.Equal(t, t0, st.LastPress[rideapi.ButtonUp])

	// Past the delay: release then re-press, with a settle hint on the
	// press, and the timestamp moves.
	t1 := t0.Add(220 * time.Millisecond)
	actions = d.Update(st, []rideapi.Button{rideapi.ButtonUp}, t1)
	require.Equal(t, []KeyAction{
		{Kind: Release, Key: "up"},
		{Kind: Press, Key: "up", Settle: DefaultSettle},
	}, actions)
	assert.Equal(t, t1, st.LastPress[rideapi.ButtonUp])
	assert.Contains(t, st.Active, "up")
}

func TestRepeatDelayOption(t *testing.T) {
	d := New(testMapping, WithRepeatDelay(50*time.Millisecond), WithSettle(time.Millisecond))
	st := NewState()
	t0 := time.Unix(100, 0)

	d.Update(st, []rideapi.Button{rideapi.ButtonA}, t0)
	actions := d.Update(st, []rideapi.Button{rideapi.ButtonA}, t0.Add(60*time.Millisecond))
	require.Len(t, actions, 2)
	assert.Equal(t, time.Millisecond, actions[1].Settle)
}

func TestNewPressLeavesHeldAlone(t *testing.T) {
	d := New(testMapping)
	st := NewState()
	t0 := time.Unix(100, 0)

	d.Update(st, []rideapi.Button{rideapi.ButtonA}, t0)
	// B joins shortly after; A is below its repeat threshold.
	actions := d.Update(st, []rideapi.Button{rideapi.ButtonA, rideapi.ButtonB}, t0.Add(50*time.Millisecond))
	require.Equal(t, []KeyAction{{Kind: Press, Key: "b"}}, actions)
}

func TestReleaseAllPressed(t *testing.T) {
	d := New(testMapping)
	st := NewState()
	t0 := time.Unix(100, 0)

	d.Update(st, []rideapi.Button{rideapi.ButtonA, rideapi.ButtonB}, t0)
	actions := d.Update(st, nil, t0.Add(50*time.Millisecond))
	require.Len(t, actions, 2)
	keys := []string{actions[0].Key, actions[1].Key}
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
	for _, a := range actions {
		assert.Equal(t, Release, a.Kind)
	}
	assert.Empty(t, st.Active)
	assert.Empty(t, st.Pressed)
}

func TestUnmappedButtonIsSilent(t *testing.T) {
	d := New(testMapping)
	st := NewState()
	t0 := time.Unix(100, 0)

	// ButtonZ has no mapping entry: no action in any partition.
	actions := d.Update(st, []rideapi.Button{rideapi.ButtonZ}, t0)
	assert.Empty(t, actions)
	actions = d.Update(st, []rideapi.Button{rideapi.ButtonZ}, t0.Add(300*time.Millisecond))
	assert.Empty(t, actions)
	actions = d.Update(st, nil, t0.Add(400*time.Millisecond))
	assert.Empty(t, actions)
	assert.Empty(t, st.Active)
}

func TestIdleReset(t *testing.T) {
	d := New(testMapping)
	st := NewState()

	// Idle with nothing active is a no-op.
	assert.Empty(t, d.ReleaseAll(st))

	t0 := time.Unix(100, 0)
	d.Update(st, []rideapi.Button{rideapi.ButtonShiftUpLeft, rideapi.ButtonPowerUpLeft}, t0)
	actions := d.ReleaseAll(st)
	require.Len(t, actions, 2)
	keys := []string{actions[0].Key, actions[1].Key}
	assert.ElementsMatch(t, []string{"w", "space"}, keys)
	assert.Empty(t, st.Active)
	assert.Empty(t, st.Pressed)

	// A second reset emits nothing.
	assert.Empty(t, d.ReleaseAll(st))
}

func TestSimultaneousPressAndRelease(t *testing.T) {
	d := New(testMapping)
	st := NewState()
	t0 := time.Unix(100, 0)

	d.Update(st, []rideapi.Button{rideapi.ButtonA}, t0)
	actions := d.Update(st, []rideapi.Button{rideapi.ButtonB}, t0.Add(50*time.Millisecond))
	require.Equal(t, []KeyAction{
		{Kind: Press, Key: "b"},
		{Kind: Release, Key: "a"},
	}, actions)
	assert.Contains(t, st.Active, "b")
	assert.NotContains(t, st.Active, "a")
}
