package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth
// on macOS, WinRT on Windows). On macOS, device addresses are CoreBluetooth
// UUIDs rather than MAC addresses; both are carried in Device.Address.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects connections, callbacks and stale.
	mu          sync.Mutex
	connections map[string]*tinyGoConnection
	callbacks   map[string]func()
	stale       map[string]staleLink
}

// staleLink marks an address we disconnected ourselves. The stack's
// disconnect event for it belongs to the old link and is swallowed.
type staleLink struct {
	done  chan struct{}
	until time.Time
}

const (
	// staleWait bounds how long Disconnect waits for the stack to confirm.
	staleWait = 2 * time.Second
	// staleGrace is how long an unconfirmed marker keeps swallowing.
	staleGrace = 5 * time.Second
)

// NewTinyGoAdapter creates a BLE adapter on the system's default controller.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinyGoConnection),
		callbacks:   make(map[string]func()),
		stale:       make(map[string]staleLink),
	}
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// tinygo/bluetooth reports peripheral disconnects through the
	// adapter-level connect handler with connected=false.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		a.linkDown(device.Address.String())
	})

	return nil
}

// linkDown routes a disconnect event for addr. An event answering our own
// Disconnect is consumed there and never reaches a newer connection to the
// same address.
func (a *TinyGoAdapter) linkDown(addr string) {
	a.mu.Lock()
	if st, ok := a.stale[addr]; ok {
		delete(a.stale, addr)
		if time.Now().Before(st.until) {
			a.mu.Unlock()
			close(st.done)
			return
		}
		close(st.done)
	}
	conn, ok := a.connections[addr]
	cb := a.callbacks[addr]
	a.mu.Unlock()
	if ok {
		conn.connected.Store(false)
	}
	if cb != nil {
		cb()
	}
}

// expectDisconnect marks addr as going down at our request and returns a
// channel closed once the stack reports it.
func (a *TinyGoAdapter) expectDisconnect(addr string) <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.stale[addr]; ok {
		return st.done
	}
	st := staleLink{done: make(chan struct{}), until: time.Now().Add(staleGrace)}
	a.stale[addr] = st
	return st.done
}

func (a *TinyGoAdapter) Scan(ctx context.Context, filter Filter) ([]Device, error) {
	var svcUUID bluetooth.UUID
	hasService := false
	if filter.ServiceUUID != "" {
		u, err := bluetooth.ParseUUID(filter.ServiceUUID)
		if err != nil {
			return nil, fmt.Errorf("ble: parse service UUID: %w", err)
		}
		svcUUID, hasService = u, true
	}

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		byName := filter.NamePrefix != "" && strings.HasPrefix(name, filter.NamePrefix)
		byService := hasService && result.HasServiceUUID(svcUUID)
		if !byName && !byService {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		d := Device{
			Name:    name,
			Address: addr,
			RSSI:    int(result.RSSI),
		}
		if byService {
			d.Services = []string{filter.ServiceUUID}
		}
		devices = append(devices, d)
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		conn := &tinyGoConnection{device: result.device, address: address, adapter: a}
		conn.connected.Store(true)

		a.mu.Lock()
		a.connections[address] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

func (a *TinyGoAdapter) OnDisconnect(address string, callback func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callbacks[address] = callback
}

func (a *TinyGoAdapter) clearStale(addr string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.stale, addr)
}

// forget drops conn from the table unless a newer connection replaced it.
func (a *TinyGoAdapter) forget(conn *tinyGoConnection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connections[conn.address] == conn {
		delete(a.connections, conn.address)
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device    bluetooth.Device
	address   string
	adapter   *TinyGoAdapter
	connected atomic.Bool
}

func (c *tinyGoConnection) Connected() bool {
	return c.connected.Load()
}

func (c *tinyGoConnection) DiscoverService(serviceUUID string) (Service, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		if !c.Connected() {
			return nil, fmt.Errorf("%w: discover services: %w", ErrTransientLink, err)
		}
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}
	return &tinyGoService{svc: svcs[0]}, nil
}

// Disconnect drops the link and waits briefly for the stack to confirm, so
// the confirmation cannot be mistaken for a drop of a later connection.
func (c *tinyGoConnection) Disconnect() error {
	if !c.connected.Swap(false) {
		c.adapter.forget(c)
		return nil
	}
	c.adapter.forget(c)
	confirmed := c.adapter.expectDisconnect(c.address)
	if err := c.device.Disconnect(); err != nil {
		c.adapter.clearStale(c.address)
		return err
	}
	select {
	case <-confirmed:
	case <-time.After(staleWait):
		slog.Debug("[BLE] no disconnect confirmation", "address", c.address)
	}
	return nil
}

type tinyGoService struct {
	svc bluetooth.DeviceService
}

func (s *tinyGoService) DiscoverCharacteristic(charUUID string) (Characteristic, error) {
	u, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}
	chars, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{u})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}
	return &tinyGoCharacteristic{char: chars[0]}, nil
}

// maxAttributeLen is the largest ATT value a read can return.
const maxAttributeLen = 512

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *tinyGoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, maxAttributeLen)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *tinyGoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		// The stack may reuse buf after the callback returns.
		data := make([]byte, len(buf))
		copy(data, buf)
		cb(data)
	})
}
