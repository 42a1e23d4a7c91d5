package protocol

import (
	"encoding/json"
	"fmt"
)

// Tristate is a boolean the device may report as neither on nor off.
type Tristate int8

const (
	Unknown Tristate = iota
	Off
	On
)

// TristateFromByte maps the wire convention 1=on, 0=off, anything else unknown.
func TristateFromByte(b byte) Tristate {
	switch b {
	case 1:
		return On
	case 0:
		return Off
	default:
		return Unknown
	}
}

// TristateOf converts a plain bool.
func TristateOf(on bool) Tristate {
	if on {
		return On
	}
	return Off
}

// IsOn reports whether the value is known to be on.
func (t Tristate) IsOn() bool { return t == On }

func (t Tristate) String() string {
	switch t {
	case On:
		return "on"
	case Off:
		return "off"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes On/Off as true/false and Unknown as null.
func (t Tristate) MarshalJSON() ([]byte, error) {
	switch t {
	case On:
		return []byte("true"), nil
	case Off:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts true, false or null.
func (t *Tristate) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true":
		*t = On
	case "false":
		*t = Off
	case "null":
		*t = Unknown
	default:
		return fmt.Errorf("%w: tristate %s", ErrFormat, data)
	}
	return nil
}

// State is the device state as far as it is known. A nil field has never
// been reported. The same type carries the partial result of decoding a
// single frame; Merge folds such a partial into the accumulated state.
type State struct {
	DeviceTime        *string   `json:"device_time,omitempty"`
	PowerOn           *Tristate `json:"power_on,omitempty"`
	FanOn             *Tristate `json:"fan_on,omitempty"`
	OilConsumptionRaw *uint16   `json:"oil_consumption_raw,omitempty"`
	OilCapacityML     *uint16   `json:"oil_capacity_ml,omitempty"`
	OilRemainML       *uint16   `json:"oil_remain_ml,omitempty"`
	OilLevelPct       *int      `json:"oil_level_pct,omitempty"`
	OilName           *string   `json:"oil_name,omitempty"`
	WorkStart         *string   `json:"work_start,omitempty"`
	WorkEnd           *string   `json:"work_end,omitempty"`
	WorkEnabled       *bool     `json:"work_enabled,omitempty"`
	WorkDaysMask      *uint8    `json:"work_days_mask,omitempty"`
	WorkRunS          *uint16   `json:"work_run_s,omitempty"`
	WorkStopS         *uint16   `json:"work_stop_s,omitempty"`
}

// IsEmpty reports whether no field is set.
func (s State) IsEmpty() bool {
	return s.DeviceTime == nil && s.PowerOn == nil && s.FanOn == nil &&
		s.OilConsumptionRaw == nil && s.OilCapacityML == nil && s.OilRemainML == nil &&
		s.OilLevelPct == nil && s.OilName == nil &&
		s.WorkStart == nil && s.WorkEnd == nil && s.WorkEnabled == nil &&
		s.WorkDaysMask == nil && s.WorkRunS == nil && s.WorkStopS == nil
}

// Merge copies every field set in p into s and leaves the others alone.
// OilLevelPct is never taken from p: it is re-derived from the merged
// capacity and remain whenever either of them is part of p. It reports
// whether anything in s changed.
func (s *State) Merge(p State) bool {
	changed := false
	changed = mergeField(&s.DeviceTime, p.DeviceTime) || changed
	changed = mergeField(&s.PowerOn, p.PowerOn) || changed
	changed = mergeField(&s.FanOn, p.FanOn) || changed
	changed = mergeField(&s.OilConsumptionRaw, p.OilConsumptionRaw) || changed
	oilChanged := mergeField(&s.OilCapacityML, p.OilCapacityML)
	oilChanged = mergeField(&s.OilRemainML, p.OilRemainML) || oilChanged
	changed = changed || oilChanged
	changed = mergeField(&s.OilName, p.OilName) || changed
	changed = mergeField(&s.WorkStart, p.WorkStart) || changed
	changed = mergeField(&s.WorkEnd, p.WorkEnd) || changed
	changed = mergeField(&s.WorkEnabled, p.WorkEnabled) || changed
	changed = mergeField(&s.WorkDaysMask, p.WorkDaysMask) || changed
	changed = mergeField(&s.WorkRunS, p.WorkRunS) || changed
	changed = mergeField(&s.WorkStopS, p.WorkStopS) || changed

	if p.OilCapacityML != nil || p.OilRemainML != nil {
		changed = s.deriveOilLevel() || changed
	}
	return changed
}

// Clone returns a deep copy that shares no pointers with s.
func (s State) Clone() State {
	return State{
		DeviceTime:        clonePtr(s.DeviceTime),
		PowerOn:           clonePtr(s.PowerOn),
		FanOn:             clonePtr(s.FanOn),
		OilConsumptionRaw: clonePtr(s.OilConsumptionRaw),
		OilCapacityML:     clonePtr(s.OilCapacityML),
		OilRemainML:       clonePtr(s.OilRemainML),
		OilLevelPct:       clonePtr(s.OilLevelPct),
		OilName:           clonePtr(s.OilName),
		WorkStart:         clonePtr(s.WorkStart),
		WorkEnd:           clonePtr(s.WorkEnd),
		WorkEnabled:       clonePtr(s.WorkEnabled),
		WorkDaysMask:      clonePtr(s.WorkDaysMask),
		WorkRunS:          clonePtr(s.WorkRunS),
		WorkStopS:         clonePtr(s.WorkStopS),
	}
}

// String renders the state as JSON for logs.
func (s State) String() string {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf("State(%v)", err)
	}
	return string(b)
}

// deriveOilLevel sets OilLevelPct to floor(remain*100/capacity), or clears
// it when capacity is unknown or zero.
func (s *State) deriveOilLevel() bool {
	var level *int
	if s.OilCapacityML != nil && *s.OilCapacityML > 0 && s.OilRemainML != nil {
		level = ptr(oilLevel(*s.OilCapacityML, *s.OilRemainML))
	}
	switch {
	case level == nil && s.OilLevelPct == nil:
		return false
	case level != nil && s.OilLevelPct != nil && *level == *s.OilLevelPct:
		return false
	}
	s.OilLevelPct = level
	return true
}

func oilLevel(capacity, remain uint16) int {
	return int(remain) * 100 / int(capacity)
}

func mergeField[T comparable](dst **T, src *T) bool {
	if src == nil {
		return false
	}
	if *dst != nil && **dst == *src {
		return false
	}
	v := *src
	*dst = &v
	return true
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func ptr[T any](v T) *T { return &v }
