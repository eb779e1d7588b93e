package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodePosition(t *testing.T) {
	tests := []struct {
		name      string
		payload   []byte
		wantSteps int32
		wantRev   float64
		wantStr   string
	}{
		// 0x00000640 = 1600
		{"one revolution", []byte{0x40, 0x06, 0x00, 0x00}, 1600, 1.0, "steps=1600 rev=1.000"},
		{"negative half", EncodePosition(-800), -800, -0.5, "steps=-800 rev=-0.500"},
		// 1/1600 = 0.000625
		{"rounds to milli", EncodePosition(1), 1, 0.001, "steps=1 rev=0.001"},
		{"trailing bytes ignored", []byte{0x10, 0x00, 0x00, 0x00, 0xAA, 0xBB}, 16, 0.01, "steps=16 rev=0.010"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodePosition(tt.payload, 1600)
			if err != nil {
				t.Fatalf("DecodePosition() error = %v", err)
			}
			if p.Steps != tt.wantSteps {
				t.Errorf("Steps = %d, want %d", p.Steps, tt.wantSteps)
			}
			if p.Revolutions != tt.wantRev {
				t.Errorf("Revolutions = %v, want %v", p.Revolutions, tt.wantRev)
			}
			if p.String() != tt.wantStr {
				t.Errorf("String() = %q, want %q", p.String(), tt.wantStr)
			}
		})
	}
}

func TestDecodePositionExtremes(t *testing.T) {
	p, err := DecodePosition([]byte{0xFF, 0xFF, 0xFF, 0x7F}, 1600)
	if err != nil {
		t.Fatalf("DecodePosition() error = %v", err)
	}
	if p.Steps != 2147483647 {
		t.Errorf("Steps = %d, want max int32", p.Steps)
	}

	p, err = DecodePosition([]byte{0x00, 0x00, 0x00, 0x80}, 1600)
	if err != nil {
		t.Fatalf("DecodePosition() error = %v", err)
	}
	if p.Steps != -2147483648 {
		t.Errorf("Steps = %d, want min int32", p.Steps)
	}
}

func TestDecodePositionShortPayload(t *testing.T) {
	for n := 0; n < PositionPayloadLen; n++ {
		if _, err := DecodePosition(make([]byte, n), 1600); !errors.Is(err, ErrMalformedNotification) {
			t.Errorf("DecodePosition(len=%d) error = %v, want ErrMalformedNotification", n, err)
		}
	}
}

func TestDecodePositionDeterministic(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	a, err := DecodePosition(payload, 1600)
	if err != nil {
		t.Fatalf("DecodePosition() error = %v", err)
	}
	b, _ := DecodePosition(payload, 1600)
	if a != b {
		t.Errorf("DecodePosition() = %v then %v, want identical results", a, b)
	}
	if !bytes.Equal(payload, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Error("DecodePosition() mutated its input")
	}
}

func TestDecodePositionInvalidMicrosteps(t *testing.T) {
	if _, err := DecodePosition(EncodePosition(10), 0); err == nil {
		t.Error("DecodePosition() should fail for zero microsteps per revolution")
	}
}
