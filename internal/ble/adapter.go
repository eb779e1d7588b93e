// Package ble provides the BLE client for an ESP32 stepper-motor controller.
// It handles discovery, GATT connection with a bounded retry, command writes,
// and the position notification stream.
package ble

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Default GATT profile of the stepper firmware.
const (
	DefaultNamePrefix       = "ESP32-L6471"
	DefaultServiceUUID      = "12345678-1234-5678-1234-56789abcdef0"
	DefaultCommandCharUUID  = "12345678-1234-5678-1234-56789abcdef1"
	DefaultPositionCharUUID = "12345678-1234-5678-1234-56789abcdef2"
)

// Profile names the peripheral and the GATT attributes the client uses.
type Profile struct {
	NamePrefix       string
	ServiceUUID      string
	CommandCharUUID  string
	PositionCharUUID string // optional
}

// DefaultProfile returns the profile of the stock firmware.
func DefaultProfile() Profile {
	return Profile{
		NamePrefix:       DefaultNamePrefix,
		ServiceUUID:      DefaultServiceUUID,
		CommandCharUUID:  DefaultCommandCharUUID,
		PositionCharUUID: DefaultPositionCharUUID,
	}
}

// Filter selects peripherals during discovery. A device matches when its
// advertised name starts with NamePrefix OR it advertises ServiceUUID, so a
// renamed peripheral is still found.
type Filter struct {
	NamePrefix  string
	ServiceUUID string
}

// Filter returns the discovery filter for p.
func (p Profile) Filter() Filter {
	return Filter{NamePrefix: p.NamePrefix, ServiceUUID: p.ServiceUUID}
}

// Match reports whether d passes the filter.
func (f Filter) Match(d Device) bool {
	if f.NamePrefix != "" && strings.HasPrefix(d.Name, f.NamePrefix) {
		return true
	}
	if f.ServiceUUID == "" {
		return false
	}
	for _, svc := range d.Services {
		if SameUUID(svc, f.ServiceUUID) {
			return true
		}
	}
	return false
}

// SameUUID compares two UUID strings, ignoring case and formatting.
func SameUUID(a, b string) bool {
	ua, errA := uuid.Parse(a)
	ub, errB := uuid.Parse(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	return ua == ub
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Read returns the current value of the characteristic.
	Read() ([]byte, error)
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Service represents a discovered primary GATT service.
type Service interface {
	// DiscoverCharacteristic finds a characteristic by UUID within the service.
	DiscoverCharacteristic(charUUID string) (Characteristic, error)
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name     string
	Address  string
	RSSI     int
	Services []string // advertised service UUIDs, when known
}

// Connection represents a GATT connection to a peripheral.
type Connection interface {
	// Connected reports whether the link is still up.
	Connected() bool
	// DiscoverService looks up a primary service by UUID.
	DiscoverService(serviceUUID string) (Service, error)
	// Disconnect terminates the connection.
	Disconnect() error
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers peripherals matching filter until ctx is done.
	Scan(ctx context.Context, filter Filter) ([]Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
	// OnDisconnect registers a callback invoked when the link to address
	// drops. A later registration for the same address replaces it.
	OnDisconnect(address string, callback func())
}
