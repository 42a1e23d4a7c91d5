package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chaz8081/felshare-ble/internal/ble"
	"github.com/chaz8081/felshare-ble/internal/ble/protocol"
	"github.com/chaz8081/felshare-ble/internal/diffuser"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---- Controller mock ----

type mockController struct {
	address string

	mu        sync.Mutex
	link      ble.LinkState
	state     protocol.State
	calls     []string
	workModes []protocol.WorkMode
	err       error
	subs      map[int]func(protocol.State)
	nextSub   int
}

func newMockController(address string) *mockController {
	return &mockController{address: address, subs: make(map[int]func(protocol.State))}
}

func (m *mockController) record(format string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
	return m.err
}

func (m *mockController) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockController) publish(st protocol.State) {
	m.mu.Lock()
	m.state = st
	fns := make([]func(protocol.State), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(st.Clone())
	}
}

func (m *mockController) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *mockController) CurrentState() protocol.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

func (m *mockController) Subscribe(fn func(protocol.State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *mockController) Address() string { return m.address }

func (m *mockController) LinkState() ble.LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link
}

func (m *mockController) RequestStatus(context.Context) error { return m.record("status") }
func (m *mockController) RequestBulk(context.Context) error   { return m.record("bulk") }

func (m *mockController) SetPower(_ context.Context, on bool) error {
	return m.record("power=%t", on)
}

func (m *mockController) SetFan(_ context.Context, on bool) error {
	return m.record("fan=%t", on)
}

func (m *mockController) SetWorkMode(_ context.Context, w protocol.WorkMode) error {
	m.mu.Lock()
	m.workModes = append(m.workModes, w)
	m.mu.Unlock()
	return m.record("workmode")
}

func (m *mockController) SetOilName(_ context.Context, name string) error {
	return m.record("oil_name=%s", name)
}

func (m *mockController) SetOilCapacity(_ context.Context, ml int) error {
	return m.record("oil_capacity=%d", ml)
}

func (m *mockController) SetOilRemain(_ context.Context, ml int) error {
	return m.record("oil_remain=%d", ml)
}

func (m *mockController) SetOilConsumption(_ context.Context, raw int) error {
	return m.record("oil_consumption=%d", raw)
}

func (m *mockController) Close() error { return nil }

// ---- Devices mock ----

type mockDevices struct {
	devices []*diffuser.Device
}

func (m *mockDevices) List() []*diffuser.Device { return m.devices }

func (m *mockDevices) Get(id string) (*diffuser.Device, error) {
	for _, d := range m.devices {
		if d.ID() == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", diffuser.ErrUnknownDevice, id)
}

// ---- Snapshot mock ----

type mockSnapshots struct {
	state   protocol.State
	updated time.Time
	err     error
	loads   int
}

func (m *mockSnapshots) Load(_ context.Context, _ string) (protocol.State, time.Time, error) {
	m.loads++
	return m.state, m.updated, m.err
}

// newTestRouter builds a router over a single device "dev1".
func newTestRouter(snapshots SnapshotLoader) (*mockController, *gin.Engine) {
	ctl := newMockController("AA:BB:CC:DD:EE:FF")
	d := diffuser.NewDevice("dev1", "Living room", ctl, diffuser.Options{})
	h := NewHandler(&mockDevices{devices: []*diffuser.Device{d}}, snapshots)
	return ctl, h.InitRoutes()
}
