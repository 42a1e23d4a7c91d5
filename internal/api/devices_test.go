package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/chaz8081/felshare-ble/internal/ble"
	"github.com/chaz8081/felshare-ble/internal/ble/protocol"
	"github.com/chaz8081/felshare-ble/internal/diffuser"
)

func doRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	_, r := newTestRouter(nil)
	w := doRequest(r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("health = %d %s", w.Code, w.Body.String())
	}
}

func TestListDevices(t *testing.T) {
	ctl, r := newTestRouter(nil)
	ctl.link = ble.Connected

	w := doRequest(r, http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var got []diffuser.Info
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []diffuser.Info{{ID: "dev1", Address: "AA:BB:CC:DD:EE:FF", Name: "Living room", Link: "connected"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("devices = %+v, want %+v", got, want)
	}
}

func TestUnknownDeviceIs404(t *testing.T) {
	_, r := newTestRouter(nil)
	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/v1/devices/nope/state", ""},
		{http.MethodPost, "/api/v1/devices/nope/power", `{"on":true}`},
		{http.MethodPost, "/api/v1/devices/nope/refresh", ""},
	} {
		if w := doRequest(r, tc.method, tc.path, tc.body); w.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tc.method, tc.path, w.Code)
		}
	}
}

func TestGetStateLive(t *testing.T) {
	snaps := &mockSnapshots{}
	ctl, r := newTestRouter(snaps)
	on := protocol.On
	ctl.state = protocol.State{PowerOn: &on}

	w := doRequest(r, http.MethodGet, "/api/v1/devices/dev1/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp stateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Stale || resp.State.PowerOn == nil || *resp.State.PowerOn != protocol.On {
		t.Errorf("response = %s", w.Body.String())
	}
	if snaps.loads != 0 {
		t.Error("store consulted although live state was available")
	}
}

func TestGetStateFallsBackToSnapshot(t *testing.T) {
	name := "Cedar"
	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_, r := newTestRouter(&mockSnapshots{state: protocol.State{OilName: &name}, updated: updated})

	w := doRequest(r, http.MethodGet, "/api/v1/devices/dev1/state", "")
	var resp stateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Stale {
		t.Error("stale = false, want true for stored snapshot")
	}
	if resp.State.OilName == nil || *resp.State.OilName != "Cedar" {
		t.Errorf("state = %s, want stored oil name", resp.State)
	}
	if resp.UpdatedAt == nil || !resp.UpdatedAt.Equal(updated) {
		t.Errorf("updated_at = %v, want %v", resp.UpdatedAt, updated)
	}
}

func TestGetStateSnapshotErrorIsNotFatal(t *testing.T) {
	_, r := newTestRouter(&mockSnapshots{err: errors.New("db locked")})
	w := doRequest(r, http.MethodGet, "/api/v1/devices/dev1/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"stale":false`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSwitchCommands(t *testing.T) {
	ctl, r := newTestRouter(nil)

	for _, tc := range []struct {
		path, body, want string
	}{
		{"/api/v1/devices/dev1/power", `{"on":true}`, "power=true"},
		{"/api/v1/devices/dev1/power", `{"on":false}`, "power=false"},
		{"/api/v1/devices/dev1/fan", `{"on":true}`, "fan=true"},
	} {
		w := doRequest(r, http.MethodPost, tc.path, tc.body)
		if w.Code != http.StatusOK {
			t.Fatalf("POST %s %s = %d %s", tc.path, tc.body, w.Code, w.Body.String())
		}
		calls := ctl.Calls()
		if calls[len(calls)-1] != tc.want {
			t.Errorf("last call = %s, want %s", calls[len(calls)-1], tc.want)
		}
		var resp struct {
			Status string `json:"status"`
		}
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Status != statusSent {
			t.Errorf("status = %q, want %q", resp.Status, statusSent)
		}
	}
}

func TestSwitchRequiresOn(t *testing.T) {
	ctl, r := newTestRouter(nil)
	for _, body := range []string{"", `{}`, `{"on":"yes"}`} {
		if w := doRequest(r, http.MethodPost, "/api/v1/devices/dev1/power", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %q = %d, want 400", body, w.Code)
		}
	}
	if len(ctl.Calls()) != 0 {
		t.Errorf("invalid requests reached the device: %v", ctl.Calls())
	}
}

func TestPowerSafeAndRefresh(t *testing.T) {
	ctl, r := newTestRouter(nil)

	if w := doRequest(r, http.MethodPost, "/api/v1/devices/dev1/power/safe", ""); w.Code != http.StatusOK {
		t.Fatalf("power/safe = %d %s", w.Code, w.Body.String())
	}
	if w := doRequest(r, http.MethodPost, "/api/v1/devices/dev1/refresh", ""); w.Code != http.StatusOK {
		t.Fatalf("refresh = %d %s", w.Code, w.Body.String())
	}
	want := []string{"power=false", "power=true", "status", "bulk"}
	if got := ctl.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestWorkModePartialUpdate(t *testing.T) {
	ctl, r := newTestRouter(nil)
	start, mask := "08:00", uint8(0x7F)
	ctl.state = protocol.State{WorkStart: &start, WorkDaysMask: &mask}

	w := doRequest(r, http.MethodPost, "/api/v1/devices/dev1/workmode", `{"end":"22:15","days_mask":62,"stop_s":600}`)
	if w.Code != http.StatusOK {
		t.Fatalf("workmode = %d %s", w.Code, w.Body.String())
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if len(ctl.workModes) != 1 {
		t.Fatalf("work modes written = %d, want 1", len(ctl.workModes))
	}
	want := protocol.WorkMode{
		StartHour: 8, EndHour: 22, EndMinute: 15, Enabled: true, DayMask: 62, RunSeconds: 30, StopSeconds: 600,
	}
	if got := ctl.workModes[0]; got != want {
		t.Errorf("written = %+v, want %+v", got, want)
	}
}

func TestWorkModeValidation(t *testing.T) {
	ctl, r := newTestRouter(nil)
	for _, body := range []string{
		`{"start":"nine"}`,
		`{"end":"21-00"}`,
		`{"days_mask":128}`,
		`{"run_s":-1}`,
		`{"stop_s":70000}`,
		`not json`,
	} {
		if w := doRequest(r, http.MethodPost, "/api/v1/devices/dev1/workmode", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s = %d, want 400", body, w.Code)
		}
	}
	if len(ctl.Calls()) != 0 {
		t.Errorf("invalid requests reached the device: %v", ctl.Calls())
	}
}

func TestOil(t *testing.T) {
	ctl, r := newTestRouter(nil)
	w := doRequest(r, http.MethodPost, "/api/v1/devices/dev1/oil",
		`{"name":"Rose","capacity_ml":300,"remain_ml":120,"consumption_ml_h":1.25}`)
	if w.Code != http.StatusOK {
		t.Fatalf("oil = %d %s", w.Code, w.Body.String())
	}
	want := []string{"oil_name=Rose", "oil_capacity=300", "oil_remain=120", "oil_consumption=13"}
	if got := ctl.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestOilValidation(t *testing.T) {
	ctl, r := newTestRouter(nil)
	for _, body := range []string{
		`{}`,
		`{"capacity_ml":70000}`,
		`{"remain_ml":-5}`,
		`{"consumption_ml_h":9999}`,
	} {
		if w := doRequest(r, http.MethodPost, "/api/v1/devices/dev1/oil", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s = %d, want 400", body, w.Code)
		}
	}
	if len(ctl.Calls()) != 0 {
		t.Errorf("invalid requests reached the device: %v", ctl.Calls())
	}
}

func TestCommandErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("ble: connect: %w", ble.ErrNotFound), http.StatusServiceUnavailable},
		{fmt.Errorf("ble: connect: %w", ble.ErrTimeout), http.StatusServiceUnavailable},
		{fmt.Errorf("ble: enable: %w", ble.ErrConnection), http.StatusServiceUnavailable},
		{fmt.Errorf("ble: write: %w", ble.ErrTransport), http.StatusBadGateway},
		{errors.New("something else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		ctl, r := newTestRouter(nil)
		ctl.err = tt.err
		w := doRequest(r, http.MethodPost, "/api/v1/devices/dev1/fan", `{"on":false}`)
		if w.Code != tt.want {
			t.Errorf("error %v -> %d, want %d", tt.err, w.Code, tt.want)
		}
		if !strings.Contains(w.Body.String(), `"error"`) {
			t.Errorf("body %s lacks an error field", w.Body.String())
		}
	}
}

func TestStatusForError(t *testing.T) {
	if got := statusForError(fmt.Errorf("x: %w", protocol.ErrFormat)); got != http.StatusBadRequest {
		t.Errorf("ErrFormat -> %d", got)
	}
	if got := statusForError(diffuser.ErrUnknownDevice); got != http.StatusNotFound {
		t.Errorf("ErrUnknownDevice -> %d", got)
	}
	if got := statusForError(ble.ErrClosed); got != http.StatusServiceUnavailable {
		t.Errorf("ErrClosed -> %d", got)
	}
}
