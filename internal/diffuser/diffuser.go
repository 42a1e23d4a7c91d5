// Package diffuser manages the set of configured diffusers: one session per
// device, the higher level controls built on the command API, and the
// keepalive that keeps each device's state fresh.
package diffuser

import (
	"context"
	"errors"
	"time"

	"github.com/chaz8081/felshare-ble/internal/ble"
	"github.com/chaz8081/felshare-ble/internal/ble/protocol"
)

var (
	ErrUnknownDevice   = errors.New("diffuser: unknown device")
	ErrDuplicateDevice = errors.New("diffuser: device already registered")
)

// StateSource is what read-only consumers of a device need: the current
// snapshot and a change feed.
type StateSource interface {
	CurrentState() protocol.State
	Subscribe(fn func(protocol.State)) (unsubscribe func())
}

// Controller is the command surface of one device link. *ble.Session is the
// production implementation.
type Controller interface {
	StateSource

	Address() string
	LinkState() ble.LinkState

	RequestStatus(ctx context.Context) error
	RequestBulk(ctx context.Context) error
	SetPower(ctx context.Context, on bool) error
	SetFan(ctx context.Context, on bool) error
	SetWorkMode(ctx context.Context, w protocol.WorkMode) error
	SetOilName(ctx context.Context, name string) error
	SetOilCapacity(ctx context.Context, ml int) error
	SetOilRemain(ctx context.Context, ml int) error
	SetOilConsumption(ctx context.Context, rawTenths int) error

	Close() error
}

var (
	_ StateSource = (*ble.Session)(nil)
	_ Controller  = (*ble.Session)(nil)
)

// OpenFunc opens a controller for a device address.
type OpenFunc func(address string) (Controller, error)

// SessionOpener returns an OpenFunc that creates BLE sessions on adapter.
func SessionOpener(adapter ble.Adapter, opts ble.SessionOptions) OpenFunc {
	return func(address string) (Controller, error) {
		return ble.NewSession(adapter, address, opts)
	}
}

// Options tunes device behaviour.
type Options struct {
	PollInterval    time.Duration // keepalive status request period; 0 disables
	SyncDelay       time.Duration // pause between the status and bulk requests of a refresh
	PowerCyclePause time.Duration // off/on gap used by PowerOnSafe
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		PollInterval:    300 * time.Second,
		SyncDelay:       200 * time.Millisecond,
		PowerCyclePause: 250 * time.Millisecond,
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
