package control

import (
	"log/slog"

	"github.com/chaz8081/stepper-ble/internal/ble/protocol"
)

// Action is a control driven by a press/release gesture.
type Action interface {
	Press() error
	Release() error
}

// Panel groups the controls of one motor: a hold-to-run control per
// direction and the shared speed setting.
type Panel struct {
	Forward *Hold
	Reverse *Hold
	Speed   *Speed

	step int
}

// NewPanel wires both direction controls to sender. step is the speed
// change applied by Faster and Slower.
func NewPanel(sender Sender, speed *Speed, step int) *Panel {
	if step <= 0 {
		step = 5
	}
	return &Panel{
		Forward: NewHold(sender, speed, protocol.Forward),
		Reverse: NewHold(sender, speed, protocol.Reverse),
		Speed:   speed,
		step:    step,
	}
}

// PressForward runs forward. A reverse hold still latched is dropped
// without a stop so its later release cannot halt the new run.
func (p *Panel) PressForward() error {
	p.Reverse.drop()
	return p.Forward.Press()
}

// PressReverse is the mirror of PressForward.
func (p *Panel) PressReverse() error {
	p.Forward.drop()
	return p.Reverse.Press()
}

// Faster raises the speed by one step and re-sends a running command.
func (p *Panel) Faster() error { return p.adjust(p.step) }

// Slower lowers the speed by one step and re-sends a running command.
func (p *Panel) Slower() error { return p.adjust(-p.step) }

func (p *Panel) adjust(delta int) error {
	v := p.Speed.Step(delta)
	slog.Info("[CTRL] speed", "value", v)
	for _, h := range []*Hold{p.Forward, p.Reverse} {
		if h.Holding() {
			return h.Press()
		}
	}
	return nil
}

// ReleaseAll stops whichever control is holding.
func (p *Panel) ReleaseAll() error {
	if err := p.Forward.Release(); err != nil {
		return err
	}
	return p.Reverse.Release()
}
