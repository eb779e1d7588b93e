package hotkey

import "testing"

// drain returns the events emitted so far without blocking.
func drain(l *Listener) []Event {
	var out []Event
	for {
		select {
		case ev := <-l.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestHoldModeSwallowsRepeat(t *testing.T) {
	l := NewListener(nil, "hold")

	l.keyDown(ActionForward)
	l.keyDown(ActionForward) // auto-repeat
	l.keyUp(ActionForward)
	l.keyUp(ActionForward)

	got := drain(l)
	want := []Event{
		{Action: ActionForward, Type: EventPress},
		{Action: ActionForward, Type: EventRelease},
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestToggleModeAlternates(t *testing.T) {
	l := NewListener(nil, "toggle")

	l.keyDown(ActionReverse)
	l.keyDown(ActionReverse)

	got := drain(l)
	if len(got) != 2 || got[0].Type != EventPress || got[1].Type != EventRelease {
		t.Errorf("events = %v, want press then release", got)
	}
}

func TestToggleModeDirectionsAreExclusive(t *testing.T) {
	l := NewListener(nil, "toggle")

	l.keyDown(ActionForward) // latch forward
	l.keyDown(ActionReverse) // switch to reverse
	l.keyDown(ActionForward) // one press must switch straight back

	got := drain(l)
	want := []Event{
		{Action: ActionForward, Type: EventPress},
		{Action: ActionReverse, Type: EventPress},
		{Action: ActionForward, Type: EventPress},
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	// Reverse was unlatched by the last press, so its next press runs it.
	l.keyDown(ActionReverse)
	if got := drain(l); len(got) != 1 || got[0] != (Event{Action: ActionReverse, Type: EventPress}) {
		t.Errorf("events = %v, want a reverse press", got)
	}
}

func TestSpeedKeysAreMomentary(t *testing.T) {
	l := NewListener(nil, "toggle")

	l.keyDown(ActionFaster)
	l.keyDown(ActionFaster)
	l.keyUp(ActionFaster)

	got := drain(l)
	if len(got) != 2 {
		t.Fatalf("events = %v, want two presses", got)
	}
	for _, ev := range got {
		if ev.Type != EventPress {
			t.Errorf("event = %v, want press", ev)
		}
	}
}

func TestEmitNeverBlocks(t *testing.T) {
	l := NewListener(nil, "hold")
	for i := 0; i < cap(l.ch)+4; i++ {
		l.keyDown(ActionSlower)
	}
	if got := len(drain(l)); got != cap(l.ch) {
		t.Errorf("buffered events = %d, want %d", got, cap(l.ch))
	}
}

func TestStopIsIdempotent(t *testing.T) {
	l := NewListener(nil, "hold")
	l.Stop()
	l.Stop()
	select {
	case <-l.done:
	default:
		t.Error("done not closed after Stop")
	}
}
