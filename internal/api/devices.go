package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chaz8081/felshare-ble/internal/ble/protocol"
	"github.com/chaz8081/felshare-ble/internal/diffuser"
)

const statusSent = "sent"

// stateResponse is served by GET /state and pushed over the WebSocket.
type stateResponse struct {
	ID        string         `json:"id"`
	Link      string         `json:"link"`
	State     protocol.State `json:"state"`
	Stale     bool           `json:"stale"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
}

type switchRequest struct {
	On *bool `json:"on" binding:"required"`
}

// workModeRequest holds a schedule; missing fields keep their current value.
type workModeRequest struct {
	Start    *string `json:"start"`
	End      *string `json:"end"`
	Enabled  *bool   `json:"enabled"`
	DaysMask *int    `json:"days_mask"`
	RunS     *int    `json:"run_s"`
	StopS    *int    `json:"stop_s"`
}

type oilRequest struct {
	Name           *string  `json:"name"`
	CapacityML     *int     `json:"capacity_ml"`
	RemainML       *int     `json:"remain_ml"`
	ConsumptionMLH *float64 `json:"consumption_ml_h"`
}

func (h *Handler) listDevices(c *gin.Context) {
	devices := h.devices.List()
	out := make([]diffuser.Info, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Info())
	}
	c.JSON(http.StatusOK, out)
}

// device resolves the :id path parameter, writing a 404 when unknown.
func (h *Handler) device(c *gin.Context) (*diffuser.Device, bool) {
	d, err := h.devices.Get(c.Param("id"))
	if err != nil {
		respondError(c, "lookup", err)
		return nil, false
	}
	return d, true
}

func (h *Handler) getState(c *gin.Context) {
	d, ok := h.device(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.stateOf(c, d))
}

// stateOf returns the live state, falling back to the stored snapshot when
// the device has not reported anything since startup.
func (h *Handler) stateOf(c *gin.Context, d *diffuser.Device) stateResponse {
	resp := stateResponse{ID: d.ID(), Link: d.LinkState().String(), State: d.CurrentState()}
	if !resp.State.IsEmpty() || h.snapshots == nil {
		return resp
	}
	st, updated, err := h.snapshots.Load(c.Request.Context(), d.Address())
	if err != nil {
		slog.Warn("[API] load snapshot failed", "device", d.ID(), "error", err)
		return resp
	}
	if st.IsEmpty() {
		return resp
	}
	resp.State, resp.Stale, resp.UpdatedAt = st, true, &updated
	return resp
}

func (h *Handler) respondSent(c *gin.Context, d *diffuser.Device) {
	c.JSON(http.StatusOK, gin.H{"status": statusSent, "state": h.stateOf(c, d)})
}

func (h *Handler) setPower(c *gin.Context) {
	h.setSwitch(c, "power", (*diffuser.Device).SetPower)
}

func (h *Handler) setFan(c *gin.Context) {
	h.setSwitch(c, "fan", (*diffuser.Device).SetFan)
}

func (h *Handler) setSwitch(c *gin.Context, action string, set func(*diffuser.Device, context.Context, bool) error) {
	d, ok := h.device(c)
	if !ok {
		return
	}
	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, action, fmt.Errorf("%w: %v", errValidation, err))
		return
	}
	if err := set(d, c.Request.Context(), *req.On); err != nil {
		respondError(c, action, err, "device", d.ID())
		return
	}
	h.respondSent(c, d)
}

func (h *Handler) powerOnSafe(c *gin.Context) {
	d, ok := h.device(c)
	if !ok {
		return
	}
	if err := d.PowerOnSafe(c.Request.Context()); err != nil {
		respondError(c, "power_safe", err, "device", d.ID())
		return
	}
	h.respondSent(c, d)
}

func (h *Handler) refresh(c *gin.Context) {
	d, ok := h.device(c)
	if !ok {
		return
	}
	if err := d.Refresh(c.Request.Context()); err != nil {
		respondError(c, "refresh", err, "device", d.ID())
		return
	}
	h.respondSent(c, d)
}

func (h *Handler) setWorkMode(c *gin.Context) {
	d, ok := h.device(c)
	if !ok {
		return
	}
	var req workModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, "workmode", fmt.Errorf("%w: %v", errValidation, err))
		return
	}
	apply, err := req.apply()
	if err != nil {
		respondError(c, "workmode", err)
		return
	}
	if err := d.UpdateWorkMode(c.Request.Context(), apply); err != nil {
		respondError(c, "workmode", err, "device", d.ID())
		return
	}
	h.respondSent(c, d)
}

// apply validates the request and returns the edit to make to the current
// schedule.
func (r workModeRequest) apply() (func(*protocol.WorkMode), error) {
	var startH, startM, endH, endM int
	var err error
	if r.Start != nil {
		if startH, startM, err = protocol.ParseHHMM(*r.Start); err != nil {
			return nil, err
		}
	}
	if r.End != nil {
		if endH, endM, err = protocol.ParseHHMM(*r.End); err != nil {
			return nil, err
		}
	}
	if r.DaysMask != nil && (*r.DaysMask < 0 || *r.DaysMask > 0x7F) {
		return nil, fmt.Errorf("%w: days_mask must be 0..127", errValidation)
	}
	if r.RunS != nil && (*r.RunS < 0 || *r.RunS > 0xFFFF) {
		return nil, fmt.Errorf("%w: run_s must be 0..65535", errValidation)
	}
	if r.StopS != nil && (*r.StopS < 0 || *r.StopS > 0xFFFF) {
		return nil, fmt.Errorf("%w: stop_s must be 0..65535", errValidation)
	}

	return func(w *protocol.WorkMode) {
		if r.Start != nil {
			w.StartHour, w.StartMinute = startH, startM
		}
		if r.End != nil {
			w.EndHour, w.EndMinute = endH, endM
		}
		if r.Enabled != nil {
			w.Enabled = *r.Enabled
		}
		if r.DaysMask != nil {
			w.DayMask = *r.DaysMask
		}
		if r.RunS != nil {
			w.RunSeconds = uint16(*r.RunS)
		}
		if r.StopS != nil {
			w.StopSeconds = uint16(*r.StopS)
		}
	}, nil
}

func (h *Handler) setOil(c *gin.Context) {
	d, ok := h.device(c)
	if !ok {
		return
	}
	var req oilRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, "oil", fmt.Errorf("%w: %v", errValidation, err))
		return
	}
	if err := req.validate(); err != nil {
		respondError(c, "oil", err)
		return
	}

	ctx := c.Request.Context()
	if req.Name != nil {
		if err := d.SetOilName(ctx, *req.Name); err != nil {
			respondError(c, "oil_name", err, "device", d.ID())
			return
		}
	}
	if req.CapacityML != nil {
		if err := d.SetOilCapacity(ctx, *req.CapacityML); err != nil {
			respondError(c, "oil_capacity", err, "device", d.ID())
			return
		}
	}
	if req.RemainML != nil {
		if err := d.SetOilRemain(ctx, *req.RemainML); err != nil {
			respondError(c, "oil_remain", err, "device", d.ID())
			return
		}
	}
	if req.ConsumptionMLH != nil {
		if err := d.SetOilConsumptionMLH(ctx, *req.ConsumptionMLH); err != nil {
			respondError(c, "oil_consumption", err, "device", d.ID())
			return
		}
	}
	h.respondSent(c, d)
}

func (r oilRequest) validate() error {
	if r.Name == nil && r.CapacityML == nil && r.RemainML == nil && r.ConsumptionMLH == nil {
		return fmt.Errorf("%w: no oil field given", errValidation)
	}
	if r.CapacityML != nil && (*r.CapacityML < 0 || *r.CapacityML > 0xFFFF) {
		return fmt.Errorf("%w: capacity_ml must be 0..65535", errValidation)
	}
	if r.RemainML != nil && (*r.RemainML < 0 || *r.RemainML > 0xFFFF) {
		return fmt.Errorf("%w: remain_ml must be 0..65535", errValidation)
	}
	if r.ConsumptionMLH != nil && (*r.ConsumptionMLH < 0 || *r.ConsumptionMLH > 6553.5) {
		return fmt.Errorf("%w: consumption_ml_h must be 0..6553.5", errValidation)
	}
	return nil
}
