package ble

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Chooser asks the user to pick one of the discovered devices. It returns
// ErrNoDeviceSelected if the user cancels or nothing was found.
type Chooser interface {
	Choose(ctx context.Context, devices []Device) (Device, error)
}

// FirstChooser picks the device with the strongest signal without asking.
type FirstChooser struct{}

func (FirstChooser) Choose(_ context.Context, devices []Device) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrNoDeviceSelected
	}
	best := devices[0]
	for _, d := range devices[1:] {
		if d.RSSI > best.RSSI {
			best = d
		}
	}
	return best, nil
}

// PromptChooser lists devices on Out and reads a selection from In.
// An empty line or "q" cancels.
type PromptChooser struct {
	In  io.Reader
	Out io.Writer
}

func (p PromptChooser) Choose(ctx context.Context, devices []Device) (Device, error) {
	if len(devices) == 0 {
		fmt.Fprintln(p.Out, "No matching devices found.")
		return Device{}, ErrNoDeviceSelected
	}

	sorted := make([]Device, len(devices))
	copy(sorted, devices)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RSSI > sorted[j].RSSI })

	fmt.Fprintln(p.Out, "Select a device:")
	for i, d := range sorted {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(p.Out, "  [%d] %s  %s  RSSI %d\n", i+1, name, d.Address, d.RSSI)
	}

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		r := bufio.NewReader(p.In)
		for {
			fmt.Fprint(p.Out, "Number (enter to cancel): ")
			line, err := r.ReadString('\n')
			line = strings.TrimSpace(line)
			if err != nil && line == "" {
				ch <- answer{err: err}
				return
			}
			if line == "" || strings.EqualFold(line, "q") {
				ch <- answer{}
				return
			}
			n, convErr := strconv.Atoi(line)
			if convErr != nil || n < 1 || n > len(sorted) {
				fmt.Fprintf(p.Out, "Invalid choice %q\n", line)
				if err != nil {
					ch <- answer{err: err}
					return
				}
				continue
			}
			ch <- answer{line: line}
			return
		}
	}()

	select {
	case <-ctx.Done():
		return Device{}, ErrNoDeviceSelected
	case a := <-ch:
		if a.err != nil || a.line == "" {
			return Device{}, ErrNoDeviceSelected
		}
		n, _ := strconv.Atoi(a.line)
		return sorted[n-1], nil
	}
}
