package diffuser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DeviceSpec describes a device to register.
type DeviceSpec struct {
	ID      string // generated when empty
	Address string
	Name    string // defaults to Address
}

// Registry owns every device session of the process. Devices are created,
// looked up and destroyed explicitly; nothing else holds a session.
type Registry struct {
	open OpenFunc
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	devices map[string]*Device
	closed  bool
}

// NewRegistry creates an empty registry that opens device links with open.
func NewRegistry(open OpenFunc, opts Options) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		open:    open,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		devices: make(map[string]*Device),
	}
}

// Create registers a device, opens its session and starts its keepalive.
// The device connects lazily; Create does not wait for the radio.
func (r *Registry) Create(spec DeviceSpec) (*Device, error) {
	spec.Address = strings.TrimSpace(spec.Address)
	if spec.Address == "" {
		return nil, errors.New("diffuser: device address is required")
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	if spec.Name == "" {
		spec.Name = spec.Address
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("diffuser: registry closed")
	}
	if _, ok := r.devices[spec.ID]; ok {
		return nil, fmt.Errorf("%w: id %s", ErrDuplicateDevice, spec.ID)
	}
	for _, d := range r.devices {
		if strings.EqualFold(d.Address(), spec.Address) {
			return nil, fmt.Errorf("%w: address %s is registered as %s", ErrDuplicateDevice, spec.Address, d.id)
		}
	}

	ctl, err := r.open(spec.Address)
	if err != nil {
		return nil, fmt.Errorf("diffuser: open %s: %w", spec.Address, err)
	}
	d := NewDevice(spec.ID, spec.Name, ctl, r.opts)
	d.poller = NewPoller(spec.Name, d, r.opts.PollInterval)
	d.poller.Start(r.ctx)
	r.devices[spec.ID] = d

	slog.Info("[BLE] device registered", "id", spec.ID, "name", spec.Name, "address", spec.Address)
	return d, nil
}

// Get looks a device up by id.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return d, nil
}

// List returns all devices sorted by name, then id.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].name != out[j].name {
			return out[i].name < out[j].name
		}
		return out[i].id < out[j].id
	})
	return out
}

// Destroy stops the device's keepalive, closes its session and forgets it.
func (r *Registry) Destroy(id string) error {
	r.mu.Lock()
	d, ok := r.devices[id]
	delete(r.devices, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return d.shutdown()
}

// Close destroys every device. The registry cannot be used afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	devices := r.devices
	r.devices = make(map[string]*Device)
	r.mu.Unlock()

	r.cancel()
	var errs []error
	for _, d := range devices {
		if err := d.shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Device) shutdown() error {
	if d.poller != nil {
		d.poller.Stop()
	}
	if err := d.ctl.Close(); err != nil {
		return fmt.Errorf("diffuser: close %s: %w", d.id, err)
	}
	slog.Info("[BLE] device removed", "id", d.id)
	return nil
}
