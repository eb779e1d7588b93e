// Package hotkey provides global motor-control hotkeys using gohook.
// Direction keys support "hold" mode (press to run, release to stop) and
// "toggle" mode (press to run, press again to stop). Speed keys are
// momentary and only emit presses.
package hotkey

import (
	"sync"

	hook "github.com/robotn/gohook"
)

// Action identifies which control a key combo drives.
type Action int

const (
	ActionForward Action = iota
	ActionReverse
	ActionFaster
	ActionSlower
)

func (a Action) String() string {
	switch a {
	case ActionForward:
		return "forward"
	case ActionReverse:
		return "reverse"
	case ActionFaster:
		return "faster"
	case ActionSlower:
		return "slower"
	default:
		return "unknown"
	}
}

// EventType indicates whether a control was pressed or released.
type EventType int

const (
	// EventPress signals that the control was activated.
	EventPress EventType = iota
	// EventRelease signals that the control was deactivated.
	EventRelease
)

// Event is emitted on the channel returned by Events.
type Event struct {
	Action Action
	Type   EventType
}

// Binding maps a key combo to an action. Keys are lowercase gohook key
// names (e.g., ["ctrl", "shift", "right"]).
type Binding struct {
	Action Action
	Keys   []string
}

// Listener manages the global hotkeys and emits control events.
type Listener struct {
	bindings []Binding
	mode     string // "hold" or "toggle"
	ch       chan Event
	done     chan struct{}
	once     sync.Once

	mu     sync.Mutex
	active map[Action]bool // key held (hold mode) or latched (toggle mode)
}

// NewListener creates a Listener for the given bindings and mode.
// mode must be "hold" or "toggle". Bindings with no keys are skipped.
func NewListener(bindings []Binding, mode string) *Listener {
	return &Listener{
		bindings: bindings,
		mode:     mode,
		ch:       make(chan Event, 16),
		done:     make(chan struct{}),
		active:   make(map[Action]bool),
	}
}

// Events returns the channel that receives control events.
// The channel is closed when Stop is called.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start begins listening for the global hotkeys.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	for _, b := range l.bindings {
		if len(b.Keys) == 0 {
			continue
		}
		action := b.Action
		hook.Register(hook.KeyDown, b.Keys, func(e hook.Event) {
			l.keyDown(action)
		})
		if l.mode != "toggle" && isDirection(action) {
			hook.Register(hook.KeyUp, b.Keys, func(e hook.Event) {
				l.keyUp(action)
			})
		}
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

func isDirection(a Action) bool {
	return a == ActionForward || a == ActionReverse
}

func opposite(a Action) Action {
	if a == ActionForward {
		return ActionReverse
	}
	return ActionForward
}

// keyDown handles a KeyDown for action. In hold mode, auto-repeat while the
// combo stays down is swallowed.
func (l *Listener) keyDown(action Action) {
	if !isDirection(action) {
		l.emit(Event{Action: action, Type: EventPress})
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode == "toggle" {
		if l.active[action] {
			l.active[action] = false
			l.emit(Event{Action: action, Type: EventRelease})
			return
		}
		// Latching one direction unlatches the other; the press itself
		// takes over the motor, so no release is emitted for it.
		l.active[opposite(action)] = false
		l.active[action] = true
		l.emit(Event{Action: action, Type: EventPress})
		return
	}

	if l.active[action] {
		return
	}
	l.active[action] = true
	l.emit(Event{Action: action, Type: EventPress})
}

func (l *Listener) keyUp(action Action) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active[action] {
		return
	}
	l.active[action] = false
	l.emit(Event{Action: action, Type: EventRelease})
}

func (l *Listener) emit(ev Event) {
	select {
	case l.ch <- ev:
	default: // don't block if channel is full
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
