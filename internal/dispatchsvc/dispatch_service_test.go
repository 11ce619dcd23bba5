package dispatchsvc

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GuiPerPT/zwift-ride-keytrigger/dispatch"
	"github.com/GuiPerPT/zwift-ride-keytrigger/internal/blesvc"
	"github.com/GuiPerPT/zwift-ride-keytrigger/rideapi"
)

type fakeInjector struct {
	calls  []string
	failOn string
}

func (f *fakeInjector) Press(key string) error {
	f.calls = append(f.calls, "press "+key)
	if key == f.failOn {
		return errors.New("injection failed")
	}
	return nil
}

func (f *fakeInjector) Release(key string) error {
	f.calls = append(f.calls, "release "+key)
	if key == f.failOn {
		return errors.New("injection failed")
	}
	return nil
}

func buttonPayload(word uint32) []byte {
	p := []byte{0x23, 0x00}
	p = binary.LittleEndian.AppendUint32(p, word)
	return append(p, 0x00)
}

// pressedWord builds a button word with the given buttons pressed
// (their bits cleared, everything else set).
func pressedWord(buttons ...rideapi.Button) uint32 {
	word := ^uint32(0)
	for _, b := range buttons {
		word &^= b.Mask()
	}
	return word
}

func newTestService(now *time.Time) (*Service, *fakeInjector) {
	inj := &fakeInjector{}
	s := New(zap.NewNop(), nil, "", nil, inj, WithClock(func() time.Time {
		return *now
	}))
	s.disp = dispatch.New(dispatch.Mapping{
		rideapi.ButtonUp: "up",
		rideapi.ButtonA:  "a",
		rideapi.ButtonB:  "b",
	})
	return s, inj
}

func TestHandleFramePressAndRelease(t *testing.T) {
	now := time.Unix(100, 0)
	s, inj := newTestService(&now)
	ctx := context.Background()

	s.handleFrame(ctx, buttonPayload(pressedWord(rideapi.ButtonA)))
	assert.Equal(t, []string{"press a"}, inj.calls)

	now = now.Add(50 * time.Millisecond)
	s.handleFrame(ctx, buttonPayload(pressedWord()))
	assert.Equal(t, []string{"press a", "release a"}, inj.calls)
}

func TestHandleFrameIdleReleasesEverything(t *testing.T) {
	now := time.Unix(100, 0)
	s, inj := newTestService(&now)
	ctx := context.Background()

	s.handleFrame(ctx, buttonPayload(pressedWord(rideapi.ButtonA, rideapi.ButtonB)))
	inj.calls = nil

	s.handleFrame(ctx, []byte{0x15})
	assert.ElementsMatch(t, []string{"release a", "release b"}, inj.calls)
	assert.Empty(t, s.state.Active)

	// Idle again: nothing left to release.
	inj.calls = nil
	s.handleFrame(ctx, []byte{0x15})
	assert.Empty(t, inj.calls)
}

func TestDisconnectReleasesEverything(t *testing.T) {
	now := time.Unix(100, 0)
	s, inj := newTestService(&now)
	ctx := context.Background()

	s.handleFrame(ctx, buttonPayload(pressedWord(rideapi.ButtonUp)))
	inj.calls = nil

	s.handleEvent(ctx, blesvc.Event{Type: blesvc.EventDisconnected})
	assert.Equal(t, []string{"release up"}, inj.calls)
	assert.Empty(t, s.state.Active)
	assert.Empty(t, s.state.Pressed)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	now := time.Unix(100, 0)
	s, inj := newTestService(&now)
	ctx := context.Background()

	s.handleFrame(ctx, []byte{0x23, 0x00, 0x01}) // truncated
	s.handleFrame(ctx, []byte{0x42, 0xde, 0xad}) // unknown
	s.handleFrame(ctx, nil)
	assert.Empty(t, inj.calls)

	// The stream is still alive afterwards.
	s.handleFrame(ctx, buttonPayload(pressedWord(rideapi.ButtonA)))
	assert.Equal(t, []string{"press a"}, inj.calls)
}

func TestInjectionFailureDoesNotStopDispatch(t *testing.T) {
	now := time.Unix(100, 0)
	s, inj := newTestService(&now)
	inj.failOn = "a"
	ctx := context.Background()

	s.handleFrame(ctx, buttonPayload(pressedWord(rideapi.ButtonA, rideapi.ButtonB)))
	assert.Equal(t, []string{"press a", "press b"}, inj.calls)
}

func TestRepeatDefersPressThroughSettle(t *testing.T) {
	now := time.Unix(100, 0)
	s, inj := newTestService(&now)
	ctx := context.Background()

	s.handleFrame(ctx, buttonPayload(pressedWord(rideapi.ButtonUp)))
	inj.calls = nil

	now = now.Add(250 * time.Millisecond)
	s.handleFrame(ctx, buttonPayload(pressedWord(rideapi.ButtonUp)))

	// The release happens inline; the press is deferred by the settle.
	assert.Equal(t, []string{"release up"}, inj.calls)

	select {
	case key := <-s.deferredCh:
		require.Equal(t, "up", key)
		if _, active := s.state.Active[key]; active {
			s.inject(dispatch.KeyAction{Kind: dispatch.Press, Key: key})
		}
	case <-time.After(time.Second):
		t.Fatal("deferred press never arrived")
	}
	assert.Equal(t, []string{"release up", "press up"}, inj.calls)
}
