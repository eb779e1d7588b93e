// Package control implements the hold-to-run motor controls: a shared speed
// setting and one press/release latch per direction.
package control

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/stepper-ble/internal/ble/protocol"
)

// Sender is the interface the BLE client exposes for motor commands.
type Sender interface {
	SendCommand(value int) error
	Connected() bool
}

// Hold maps a press to a run command and a release to a stop. The holding
// latch suppresses a stop when release fires without a matching press.
type Hold struct {
	sender Sender
	speed  *Speed
	dir    protocol.Direction

	mu      sync.Mutex
	holding bool
}

// Compile-time check that the press/release pair is usable as an Action.
var _ Action = (*Hold)(nil)

// NewHold creates a hold-to-run control for one direction.
// Panics if sender or speed is nil (programmer error).
func NewHold(sender Sender, speed *Speed, dir protocol.Direction) *Hold {
	if sender == nil || speed == nil {
		panic("control: NewHold called with nil sender or speed")
	}
	return &Hold{sender: sender, speed: speed, dir: dir}
}

// Direction returns the direction this control drives.
func (h *Hold) Direction() protocol.Direction { return h.dir }

// Holding reports whether the control is currently pressed.
func (h *Hold) Holding() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.holding
}

// Press starts the motor at the current speed. The latch is only set when
// the command reached the peripheral.
func (h *Hold) Press() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	cmd := protocol.EncodeCommand(h.speed.Value(), h.dir)
	if err := h.sender.SendCommand(int(cmd)); err != nil {
		return fmt.Errorf("control: %s press: %w", h.dir, err)
	}
	h.holding = true
	slog.Debug("[CTRL] run", "direction", h.dir, "speed", h.speed.Value(), "command", fmt.Sprintf("0x%02X", cmd))
	return nil
}

// Release stops the motor if this control is holding and the link is up.
// A release without a press is a no-op.
func (h *Hold) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.holding {
		return nil
	}
	h.holding = false
	if !h.sender.Connected() {
		return nil
	}
	if err := h.sender.SendCommand(int(protocol.CommandStop)); err != nil {
		return fmt.Errorf("control: %s release: %w", h.dir, err)
	}
	slog.Debug("[CTRL] stop", "direction", h.dir)
	return nil
}

// drop clears the latch without sending anything.
func (h *Hold) drop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.holding = false
}

// Cancel behaves like Release; it exists for gestures that are aborted
// rather than completed.
func (h *Hold) Cancel() error { return h.Release() }
