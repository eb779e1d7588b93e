// Command test-hotkey is a manual test for the global hotkey listener.
// Run it, then press the motor combos (Ctrl+Shift+arrows by default) to see
// events. Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--mode hold|toggle]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaz8081/stepper-ble/internal/config"
	"github.com/chaz8081/stepper-ble/internal/hotkey"
)

func main() {
	mode := flag.String("mode", "hold", "hotkey mode: hold or toggle")
	flag.Parse()

	hk := config.Default().Hotkey
	bindings := []hotkey.Binding{
		{Action: hotkey.ActionForward, Keys: hk.Forward},
		{Action: hotkey.ActionReverse, Keys: hk.Reverse},
		{Action: hotkey.ActionFaster, Keys: hk.Faster},
		{Action: hotkey.ActionSlower, Keys: hk.Slower},
	}

	fmt.Printf("Listening in %q mode:\n", *mode)
	for _, b := range bindings {
		fmt.Printf("  %-8s %s\n", b.Action, strings.Join(b.Keys, "+"))
	}
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.NewListener(bindings, *mode)

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	// Read events
	go func() {
		for ev := range listener.Events() {
			switch ev.Type {
			case hotkey.EventPress:
				fmt.Printf(">>> PRESS   %s\n", ev.Action)
			case hotkey.EventRelease:
				fmt.Printf("<<< RELEASE %s\n", ev.Action)
			}
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
