package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// PositionPayloadLen is the size of a position notification.
const PositionPayloadLen = 4

// DefaultMicrostepsPerRev matches a 200-step motor at 1/8 microstepping.
const DefaultMicrostepsPerRev = 1600

// ErrMalformedNotification is returned for position payloads shorter than
// four bytes. Such samples are dropped.
var ErrMalformedNotification = errors.New("protocol: malformed position notification")

// Position is one decoded sample of the motor's microstep counter.
type Position struct {
	Steps       int32
	Revolutions float64 // rounded to 3 decimal places
}

func (p Position) String() string {
	return fmt.Sprintf("steps=%d rev=%.3f", p.Steps, p.Revolutions)
}

// DecodePosition interprets the first four bytes of payload as a
// little-endian signed microstep count. Trailing bytes are ignored.
func DecodePosition(payload []byte, microstepsPerRev int) (Position, error) {
	if len(payload) < PositionPayloadLen {
		return Position{}, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedNotification, len(payload), PositionPayloadLen)
	}
	if microstepsPerRev <= 0 {
		return Position{}, fmt.Errorf("protocol: microsteps per revolution must be > 0, got %d", microstepsPerRev)
	}
	steps := int32(binary.LittleEndian.Uint32(payload[:PositionPayloadLen]))
	return Position{
		Steps:       steps,
		Revolutions: roundMilli(float64(steps) / float64(microstepsPerRev)),
	}, nil
}

// EncodePosition is the inverse of DecodePosition, as sent by the firmware.
func EncodePosition(steps int32) []byte {
	buf := make([]byte, PositionPayloadLen)
	binary.LittleEndian.PutUint32(buf, uint32(steps))
	return buf
}

func roundMilli(v float64) float64 {
	return math.Round(v*1000) / 1000
}
