// Package protocol implements the wire formats of the ESP32 stepper
// controller: the one-byte speed/direction command and the 4-byte
// little-endian position counter.
package protocol

import (
	"fmt"
	"strings"
)

// Direction is the rotation direction encoded in the command's high bit.
type Direction uint8

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	switch d {
	case Reverse:
		return "reverse"
	default:
		return "forward"
	}
}

// ParseDirection parses "forward" or "reverse" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward", "fwd", "f":
		return Forward, nil
	case "reverse", "rev", "r":
		return Reverse, nil
	default:
		return Forward, fmt.Errorf("protocol: unknown direction %q", s)
	}
}

const (
	// CommandStop halts the motor regardless of direction.
	CommandStop byte = 0x00
	// MaxSpeed is the largest meaningful speed magnitude.
	MaxSpeed = 100

	reverseFlag   byte = 0x80
	magnitudeMask byte = 0x7F
)

// EncodeCommand builds the command byte for a speed magnitude in [0,100]
// and a direction.
//
//	0x00        stop
//	0x01..0x64  forward speed 1..100
//	0x81..0xE4  reverse speed 1..100
//
// Magnitudes outside [0,100] are a caller error and are not corrected.
func EncodeCommand(magnitude int, dir Direction) byte {
	if magnitude == 0 {
		return CommandStop
	}
	b := byte(magnitude)
	if dir == Reverse {
		b |= reverseFlag
	}
	return b
}

// DecodeCommand splits a command byte back into magnitude and direction.
func DecodeCommand(b byte) (int, Direction) {
	dir := Forward
	if b&reverseFlag != 0 {
		dir = Reverse
	}
	return int(b & magnitudeMask), dir
}

// ClampCommand clamps v to the byte range [0,255].
func ClampCommand(v int) byte {
	switch {
	case v < 0:
		return 0
	case v > 0xFF:
		return 0xFF
	default:
		return byte(v)
	}
}
