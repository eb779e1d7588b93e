package control

import (
	"sync/atomic"

	"github.com/chaz8081/stepper-ble/internal/ble/protocol"
)

// Speed is the shared speed magnitude, always within [0,100].
type Speed struct {
	v atomic.Int32
}

// NewSpeed returns a Speed set to initial (clamped).
func NewSpeed(initial int) *Speed {
	s := &Speed{}
	s.Set(initial)
	return s
}

// Value returns the current magnitude.
func (s *Speed) Value() int { return int(s.v.Load()) }

// Set stores v clamped to [0,100] and returns the stored value.
func (s *Speed) Set(v int) int {
	v = clampSpeed(v)
	s.v.Store(int32(v))
	return v
}

// Step adds delta to the speed, clamped, and returns the new value.
func (s *Speed) Step(delta int) int {
	for {
		cur := s.v.Load()
		next := int32(clampSpeed(int(cur) + delta))
		if s.v.CompareAndSwap(cur, next) {
			return int(next)
		}
	}
}

func clampSpeed(v int) int {
	switch {
	case v < 0:
		return 0
	case v > protocol.MaxSpeed:
		return protocol.MaxSpeed
	default:
		return v
	}
}
