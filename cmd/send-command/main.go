// Command send-command is a manual test for the motor link.
// It connects to the strongest matching device, runs the motor for a
// fixed duration, stops it, and prints the position counter.
//
// Usage:
//
//	go run ./cmd/send-command [--speed 40] [--dir forward|reverse] [--duration 2s]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/stepper-ble/internal/ble"
	"github.com/chaz8081/stepper-ble/internal/ble/protocol"
	"github.com/chaz8081/stepper-ble/internal/config"
)

// motor is the part of ble.Client this tool drives.
type motor interface {
	Connect(ctx context.Context) error
	SendCommand(value int) error
	ReadPosition() (protocol.Position, error)
	Close() error
}

func main() {
	speed := flag.Int("speed", 40, "speed magnitude 0..100")
	dirName := flag.String("dir", "forward", "direction: forward or reverse")
	duration := flag.Duration("duration", 2*time.Second, "how long to run before stopping")
	flag.Parse()

	dir, err := protocol.ParseDirection(*dirName)
	if err != nil {
		fail(err)
	}
	if *speed < 0 || *speed > protocol.MaxSpeed {
		fail(fmt.Errorf("speed must be within 0..%d, got %d", protocol.MaxSpeed, *speed))
	}

	cfg := config.Default()
	client, err := ble.NewClient(ble.NewTinyGoAdapter(), ble.FirstChooser{}, cfg.Profile(), cfg.ClientOptions())
	if err != nil {
		fail(err)
	}

	// Ctrl+C cuts the run short but still stops the motor.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Scanning for %s* (up to %s)...\n", cfg.Device.NamePrefix, cfg.Connect.ScanTimeout)
	if err := run(ctx, client, *speed, dir, *duration, os.Stdout); err != nil {
		stop()
		fail(err)
	}
}

// run connects, runs the motor for duration, stops it and reports the
// position. The link is closed on every path after a successful connect.
func run(ctx context.Context, m motor, speed int, dir protocol.Direction, duration time.Duration, out io.Writer) (err error) {
	if err := m.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("disconnect: %w", cerr)
		}
	}()
	fmt.Fprintln(out, "Connected")

	cmd := protocol.EncodeCommand(speed, dir)
	fmt.Fprintf(out, "Sending 0x%02x (%s %d) for %s\n", cmd, dir, speed, duration)
	if err := m.SendCommand(int(cmd)); err != nil {
		return err
	}

	t := time.NewTimer(duration)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
		fmt.Fprintln(out, "Interrupted")
	}

	if err := m.SendCommand(int(protocol.CommandStop)); err != nil {
		return fmt.Errorf("stop: %w", err)
	}

	pos, err := m.ReadPosition()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Stopped at %s\n", pos)
	return nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
