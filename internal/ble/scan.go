package ble

import (
	"context"
	"fmt"
	"time"
)

// ScanForDevices scans for peripherals matching filter for the given duration.
func ScanForDevices(adapter Adapter, filter Filter, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return scan(ctx, adapter, filter)
}

// scan runs one discovery pass and drops anything the adapter returned that
// does not match filter.
func scan(ctx context.Context, adapter Adapter, filter Filter) ([]Device, error) {
	devices, err := adapter.Scan(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	matched := devices[:0:0]
	for _, d := range devices {
		if filter.Match(d) {
			matched = append(matched, d)
		}
	}
	return matched, nil
}
