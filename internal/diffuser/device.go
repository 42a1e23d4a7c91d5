package diffuser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/felshare-ble/internal/ble"
	"github.com/chaz8081/felshare-ble/internal/ble/protocol"
)

// Schedule values assumed for fields the device has not reported yet.
const (
	defaultWorkStart   = "09:00"
	defaultWorkEnd     = "21:00"
	defaultWorkEnabled = true
	defaultDayMask     = 0x7F
	defaultRunSeconds  = 30
	defaultStopSeconds = 280
)

// Info describes a registered device.
type Info struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Name    string `json:"name"`
	Link    string `json:"link"`
}

// Device is one registered diffuser.
type Device struct {
	id   string
	name string
	ctl  Controller
	opts Options

	// workMu serializes read-modify-write updates of the schedule.
	workMu sync.Mutex

	poller *Poller
}

// NewDevice wraps ctl. Devices are normally created through a Registry,
// which also starts their keepalive.
func NewDevice(id, name string, ctl Controller, opts Options) *Device {
	return &Device{id: id, name: name, ctl: ctl, opts: opts}
}

func (d *Device) ID() string      { return d.id }
func (d *Device) Name() string    { return d.name }
func (d *Device) Address() string { return d.ctl.Address() }

func (d *Device) LinkState() ble.LinkState { return d.ctl.LinkState() }

func (d *Device) Info() Info {
	return Info{ID: d.id, Address: d.Address(), Name: d.name, Link: d.LinkState().String()}
}

func (d *Device) CurrentState() protocol.State { return d.ctl.CurrentState() }

func (d *Device) Subscribe(fn func(protocol.State)) (unsubscribe func()) {
	return d.ctl.Subscribe(fn)
}

func (d *Device) SetPower(ctx context.Context, on bool) error {
	return d.ctl.SetPower(ctx, on)
}

func (d *Device) SetFan(ctx context.Context, on bool) error {
	return d.ctl.SetFan(ctx, on)
}

// PowerOnSafe switches the device off and on again with a short pause. Some
// units ignore a plain power-on after an abnormal stop.
func (d *Device) PowerOnSafe(ctx context.Context) error {
	if err := d.ctl.SetPower(ctx, false); err != nil {
		return err
	}
	if err := sleepCtx(ctx, d.opts.PowerCyclePause); err != nil {
		return err
	}
	return d.ctl.SetPower(ctx, true)
}

// Refresh asks for a Status frame and then a Bulk frame. It stops at the
// first failure.
func (d *Device) Refresh(ctx context.Context) error {
	if err := d.ctl.RequestStatus(ctx); err != nil {
		return err
	}
	if err := sleepCtx(ctx, d.opts.SyncDelay); err != nil {
		return err
	}
	return d.ctl.RequestBulk(ctx)
}

func (d *Device) RequestStatus(ctx context.Context) error {
	return d.ctl.RequestStatus(ctx)
}

func (d *Device) SetOilName(ctx context.Context, name string) error {
	return d.ctl.SetOilName(ctx, name)
}

func (d *Device) SetOilCapacity(ctx context.Context, ml int) error {
	return d.ctl.SetOilCapacity(ctx, ml)
}

func (d *Device) SetOilRemain(ctx context.Context, ml int) error {
	return d.ctl.SetOilRemain(ctx, ml)
}

// SetOilConsumptionMLH sets the consumption rate in mL per hour.
func (d *Device) SetOilConsumptionMLH(ctx context.Context, mlPerHour float64) error {
	return d.ctl.SetOilConsumption(ctx, protocol.OilConsumptionRaw(mlPerHour))
}

// WorkMode returns the current schedule, filling fields the device has not
// reported with defaults.
func (d *Device) WorkMode() (protocol.WorkMode, error) {
	return workModeFromState(d.ctl.CurrentState())
}

// SetWorkMode writes a complete schedule.
func (d *Device) SetWorkMode(ctx context.Context, w protocol.WorkMode) error {
	d.workMu.Lock()
	defer d.workMu.Unlock()
	return d.ctl.SetWorkMode(ctx, w)
}

// UpdateWorkMode reads the current schedule, applies fn and writes the result.
func (d *Device) UpdateWorkMode(ctx context.Context, fn func(*protocol.WorkMode)) error {
	d.workMu.Lock()
	defer d.workMu.Unlock()

	w, err := d.WorkMode()
	if err != nil {
		return err
	}
	fn(&w)
	slog.Debug("[BLE] updating work mode", "device", d.id, "work_mode", fmt.Sprintf("%+v", w))
	return d.ctl.SetWorkMode(ctx, w)
}

func (d *Device) SetWorkStart(ctx context.Context, hour, minute int) error {
	return d.UpdateWorkMode(ctx, func(w *protocol.WorkMode) {
		w.StartHour, w.StartMinute = hour, minute
	})
}

func (d *Device) SetWorkEnd(ctx context.Context, hour, minute int) error {
	return d.UpdateWorkMode(ctx, func(w *protocol.WorkMode) {
		w.EndHour, w.EndMinute = hour, minute
	})
}

func (d *Device) SetWorkEnabled(ctx context.Context, enabled bool) error {
	return d.UpdateWorkMode(ctx, func(w *protocol.WorkMode) { w.Enabled = enabled })
}

// SetWorkDay turns one weekday of the schedule on or off.
func (d *Device) SetWorkDay(ctx context.Context, day time.Weekday, on bool) error {
	if day < time.Sunday || day > time.Saturday {
		return fmt.Errorf("%w: weekday %d", protocol.ErrFormat, day)
	}
	bit := 1 << uint(day)
	return d.UpdateWorkMode(ctx, func(w *protocol.WorkMode) {
		if on {
			w.DayMask |= bit
		} else {
			w.DayMask &^= bit
		}
	})
}

// SetWorkRun sets the diffusion time of each cycle. Values saturate to the
// 16-bit wire range.
func (d *Device) SetWorkRun(ctx context.Context, seconds int) error {
	return d.UpdateWorkMode(ctx, func(w *protocol.WorkMode) {
		w.RunSeconds = uint16(protocol.Clamp(seconds, 0, 0xFFFF))
	})
}

// SetWorkStop sets the pause between cycles.
func (d *Device) SetWorkStop(ctx context.Context, seconds int) error {
	return d.UpdateWorkMode(ctx, func(w *protocol.WorkMode) {
		w.StopSeconds = uint16(protocol.Clamp(seconds, 0, 0xFFFF))
	})
}

func workModeFromState(st protocol.State) (protocol.WorkMode, error) {
	start, end := defaultWorkStart, defaultWorkEnd
	if st.WorkStart != nil {
		start = *st.WorkStart
	}
	if st.WorkEnd != nil {
		end = *st.WorkEnd
	}

	var w protocol.WorkMode
	var err error
	if w.StartHour, w.StartMinute, err = protocol.ParseHHMM(start); err != nil {
		return protocol.WorkMode{}, fmt.Errorf("diffuser: work start: %w", err)
	}
	if w.EndHour, w.EndMinute, err = protocol.ParseHHMM(end); err != nil {
		return protocol.WorkMode{}, fmt.Errorf("diffuser: work end: %w", err)
	}

	w.Enabled = defaultWorkEnabled
	if st.WorkEnabled != nil {
		w.Enabled = *st.WorkEnabled
	}
	w.DayMask = defaultDayMask
	if st.WorkDaysMask != nil {
		w.DayMask = int(*st.WorkDaysMask)
	}
	w.RunSeconds = defaultRunSeconds
	if st.WorkRunS != nil {
		w.RunSeconds = *st.WorkRunS
	}
	w.StopSeconds = defaultStopSeconds
	if st.WorkStopS != nil {
		w.StopSeconds = *st.WorkStopS
	}
	return w, nil
}
