// Package dispatch turns decoded button state into ordered key actions.
// It is a pure state machine: Update and ReleaseAll mutate only the
// State they are handed and never perform I/O, so the caller decides
// how actions reach the OS.
package dispatch

import (
	"time"

	"github.com/GuiPerPT/zwift-ride-keytrigger/rideapi"
)

const (
	// DefaultRepeatDelay is the minimum hold time before a held button
	// re-triggers its key.
	DefaultRepeatDelay = 200 * time.Millisecond

	// DefaultSettle is the pause between the release and re-press of a
	// repeat. It is a scheduling hint for the executor, not a stall.
	DefaultSettle = 10 * time.Millisecond
)

// ActionKind says whether a key goes down or up.
type ActionKind uint8

const (
	Press ActionKind = iota
	Release
)

func (k ActionKind) String() string {
	if k == Press {
		return "press"
	}
	return "release"
}

// KeyAction is one key transition to hand to the injector. Settle, when
// non-zero, asks the executor to wait that long before injecting; it is
// set only on the press half of a repeat.
type KeyAction struct {
	Kind   ActionKind
	Key    string
	Settle time.Duration
}

// Mapping binds buttons to output key names. Buttons without an entry
// are decoded but never produce actions.
type Mapping map[rideapi.Button]string

// State is the dispatcher's authoritative view of the world: which
// buttons are down, which output keys the OS currently holds, and when
// each button last (re)triggered. It must only ever be mutated from a
// single goroutine.
type State struct {
	Pressed   map[rideapi.Button]struct{}
	Active    map[string]struct{}
	LastPress map[rideapi.Button]time.Time
}

func NewState() *State {
	return &State{
		Pressed:   make(map[rideapi.Button]struct{}),
		Active:    make(map[string]struct{}),
		LastPress: make(map[rideapi.Button]time.Time),
	}
}

type Option func(*Dispatcher)

func WithRepeatDelay(d time.Duration) Option {
	return func(disp *Dispatcher) {
		disp.repeatDelay = d
	}
}

func WithSettle(d time.Duration) Option {
	return func(disp *Dispatcher) {
		disp.settle = d
	}
}

// Dispatcher computes key actions from button-state transitions.
type Dispatcher struct {
	mapping     Mapping
	repeatDelay time.Duration
	settle      time.Duration
}

func New(mapping Mapping, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		mapping:     mapping,
		repeatDelay: DefaultRepeatDelay,
		settle:      DefaultSettle,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Update diffs the new pressed-button set against the state and returns
// the key actions to execute, in order: repeats of still-held buttons,
// then new presses, then releases. The pressed set is replaced
// wholesale; a button never mapped to a key is skipped at every stage.
func (d *Dispatcher) Update(st *State, current []rideapi.Button, now time.Time) []KeyAction {
	cur := make(map[rideapi.Button]struct{}, len(current))
	for _, b := range current {
		cur[b] = struct{}{}
	}

	var actions []KeyAction

	// Still held: re-trigger once the repeat delay has elapsed. The key
	// is released first so the OS sees a fresh press.
	for _, b := range current {
		if _, was := st.Pressed[b]; !was {
			continue
		}
		key, ok := d.mapping[b]
		if !ok {
			continue
		}
		if now.Sub(st.LastPress[b]) < d.repeatDelay {
			continue
		}
		if _, active := st.Active[key]; active {
			actions = append(actions, KeyAction{Kind: Release, Key: key})
		}
		actions = append(actions, KeyAction{Kind: Press, Key: key, Settle: d.settle})
		st.Active[key] = struct{}{}
		st.LastPress[b] = now
	}

	// Newly pressed: no repeat gate on a first press.
	for _, b := range current {
		if _, was := st.Pressed[b]; was {
			continue
		}
		key, ok := d.mapping[b]
		if !ok {
			continue
		}
		actions = append(actions, KeyAction{Kind: Press, Key: key})
		st.Active[key] = struct{}{}
		st.LastPress[b] = now
	}

	// Released: idempotent, the active entry may already be gone.
	for b := range st.Pressed {
		if _, still := cur[b]; still {
			continue
		}
		key, ok := d.mapping[b]
		if !ok {
			continue
		}
		actions = append(actions, KeyAction{Kind: Release, Key: key})
		delete(st.Active, key)
	}

	st.Pressed = cur
	return actions
}

// ReleaseAll emits a release for every active key and clears the
// pressed and active sets. It backs the idle frame and the disconnect
// cleanup, and recovers from any drift caused by lost frames.
func (d *Dispatcher) ReleaseAll(st *State) []KeyAction {
	actions := make([]KeyAction, 0, len(st.Active))
	for key := range st.Active {
		actions = append(actions, KeyAction{Kind: Release, Key: key})
	}
	clear(st.Active)
	clear(st.Pressed)
	return actions
}
