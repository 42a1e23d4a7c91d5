package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// BluetoothAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth
// on macOS). On macOS device addresses are CoreBluetooth UUIDs rather than
// MAC addresses; both are carried as strings. Writes with response are only
// available on macOS and Windows; elsewhere they fall back to write without
// response.
type BluetoothAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the fields below.
	mu          sync.Mutex
	enabled     bool
	connections map[string]*bluetoothConnection // keyed by normalized address
}

// NewBluetoothAdapter creates an adapter backed by the system default
// bluetooth controller.
func NewBluetoothAdapter() *BluetoothAdapter {
	return &BluetoothAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*bluetoothConnection),
	}
}

// Enable powers on the controller. Calling it again after success is a no-op.
func (a *BluetoothAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The adapter-level handler fires with connected=false when a
	// peripheral drops; route it to the matching connection.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		if ok {
			delete(a.connections, id)
		}
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	a.enabled = true
	return nil
}

func (a *BluetoothAdapter) Scan(ctx context.Context, serviceUUID string) ([]Device, error) {
	var filter *bluetooth.UUID
	if serviceUUID != "" {
		uuid, err := bluetooth.ParseUUID(serviceUUID)
		if err != nil {
			return nil, fmt.Errorf("ble: parse service UUID: %w", err)
		}
		filter = &uuid
	}

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if filter != nil && !result.HasServiceUUID(*filter) {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		devices = append(devices, Device{
			Name:    result.LocalName(),
			Address: addr,
			RSSI:    int(result.RSSI),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Address < devices[j].Address })
	return devices, nil
}

func (a *BluetoothAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)
	id := addr.String()

	// tinygo/bluetooth's Connect blocks with its own timeout and cannot be
	// cancelled. Run it aside so ctx is honoured; a device that connects
	// after we gave up is disconnected again so no link is left half-open.
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
		go func() {
			if late := <-ch; late.err == nil {
				slog.Debug("[BLE] dropping connection that completed after cancel", "address", id)
				_ = late.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case result := <-ch:
		if result.err != nil {
			return nil, classifyConnectError(result.err)
		}
		conn := &bluetoothConnection{device: result.device, adapter: a, id: id}
		a.track(conn)
		return conn, nil
	}
}

func (a *BluetoothAdapter) track(conn *bluetoothConnection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connections[conn.id] = conn
}

// forget drops conn from the connection table unless a newer connection to
// the same address has replaced it.
func (a *BluetoothAdapter) forget(conn *bluetoothConnection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connections[conn.id] == conn {
		delete(a.connections, conn.id)
	}
}

// classifyConnectError maps a tinygo connect failure onto ErrTimeout or
// ErrNotFound.
func classifyConnectError(err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrNotFound, err)
}

// isTimeout recognises the timeouts tinygo reports. CoreBluetooth returns a
// plain "timeout on Connect" error and BlueZ a D-Bus "Timeout was reached".
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	if errors.As(err, &t) && t.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out")
}

// Compile-time check that BluetoothAdapter implements Adapter.
var _ Adapter = (*BluetoothAdapter)(nil)

type bluetoothConnection struct {
	device  bluetooth.Device
	adapter *BluetoothAdapter
	id      string

	mu           sync.Mutex
	disconnectCb func()
}

func (c *bluetoothConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	return &bluetoothCharacteristic{char: chars[0]}, nil
}

// Disconnect drops the link. The connection leaves the adapter's table
// right away; the disconnect callback may never fire for a link we closed.
func (c *bluetoothConnection) Disconnect() error {
	if c.adapter != nil {
		c.adapter.forget(c)
	}
	return c.device.Disconnect()
}

func (c *bluetoothConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *bluetoothConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type bluetoothCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *bluetoothCharacteristic) Write(data []byte, withResponse bool) error {
	if withResponse {
		return writeWithResponse(&c.char, data)
	}
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

// unackedWriter is the write every tinygo backend supports.
type unackedWriter interface {
	WriteWithoutResponse(p []byte) (int, error)
}

var noResponseWarning sync.Once

// writeUnacked is the write-with-response fallback for backends that only
// offer write without response. It warns once per process.
func writeUnacked(w unackedWriter, data []byte) error {
	noResponseWarning.Do(func() {
		slog.Warn("[BLE] write with response is not supported on this platform, writing without response")
	})
	_, err := w.WriteWithoutResponse(data)
	return err
}

func (c *bluetoothCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(cb)
}

func (c *bluetoothCharacteristic) Unsubscribe() error {
	return c.char.EnableNotifications(nil)
}
