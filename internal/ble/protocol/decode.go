package protocol

import (
	"encoding/binary"
	"fmt"
)

// DecodeFrame decodes one notification into the fields it asserts. Empty,
// truncated and unknown frames yield an empty State; newer firmware may send
// frames this package does not understand and that is not an error.
func DecodeFrame(frame []byte) State {
	if len(frame) == 0 {
		return State{}
	}

	switch op := frame[0]; {
	case op == OpStatus && len(frame) >= StatusMinLen:
		return decodeStatus(frame)
	case op == OpBulk && len(frame) >= BulkMinLen:
		if off := FindWorkMode(frame); off >= 0 {
			return decodeWorkModeBody(frame[off : off+WorkModeFrameLen])
		}
	case op == OpWorkMode && len(frame) == WorkModeFrameLen && frame[1] == workModeSub:
		return decodeWorkModeBody(frame)
	case op == OpPower && len(frame) >= 2:
		return State{PowerOn: ptr(TristateFromByte(frame[1]))}
	case op == OpFan && len(frame) >= 2:
		return State{FanOn: ptr(TristateFromByte(frame[1]))}
	case op == OpOilName && len(frame) >= 2:
		var st State
		if name := SanitizeASCII(frame[1:]); name != "" {
			st.OilName = &name
		}
		return st
	case op == OpOilConsumption && len(frame) >= 3:
		return State{OilConsumptionRaw: ptr(u16(frame[1:3]))}
	case op == OpOilCapacity && len(frame) >= 3:
		return State{OilCapacityML: ptr(u16(frame[1:3]))}
	case op == OpOilRemain && len(frame) >= 3:
		return State{OilRemainML: ptr(u16(frame[1:3]))}
	}
	return State{}
}

// FindWorkMode returns the offset of the first embedded WorkMode record
// (signature 0x32 0x01 followed by at least 9 more bytes) in payload, or -1.
func FindWorkMode(payload []byte) int {
	for i := 0; i+WorkModeFrameLen <= len(payload); i++ {
		if payload[i] == OpWorkMode && payload[i+1] == workModeSub {
			return i
		}
	}
	return -1
}

// decodeStatus reads the Status layout:
//
//	[1:3] year  [3] month  [4] day  [5] hour  [6] minute  [7] second
//	[9] power  [10] fan  [11:13] consumption  [13:15] capacity
//	[15:20] reserved  [20:22] remain  [24:] oil name
func decodeStatus(f []byte) State {
	deviceTime := fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d",
		u16(f[1:3]), f[3], f[4], f[5], f[6], f[7])

	st := State{
		DeviceTime:        &deviceTime,
		PowerOn:           ptr(TristateFromByte(f[9])),
		FanOn:             ptr(TristateFromByte(f[10])),
		OilConsumptionRaw: ptr(u16(f[11:13])),
		OilCapacityML:     ptr(u16(f[13:15])),
		OilRemainML:       ptr(u16(f[20:22])),
	}
	if *st.OilCapacityML > 0 {
		st.OilLevelPct = ptr(oilLevel(*st.OilCapacityML, *st.OilRemainML))
	}
	if name := SanitizeASCII(f[statusNameOffset:]); name != "" {
		st.OilName = &name
	}
	return st
}

// decodeWorkModeBody decodes an 11-byte WorkMode record. The caller has
// checked length and signature.
func decodeWorkModeBody(b []byte) State {
	w := WorkMode{
		StartHour:   int(b[2]),
		StartMinute: int(b[3]),
		EndHour:     int(b[4]),
		EndMinute:   int(b[5]),
		Enabled:     b[6]&workModeFlagOnBit != 0,
		DayMask:     int(b[6] & dayMaskBits),
		RunSeconds:  u16(b[7:9]),
		StopSeconds: u16(b[9:11]),
	}
	return w.State()
}

// State returns the schedule as a partial device state.
func (w WorkMode) State() State {
	return State{
		WorkStart:    ptr(FormatHHMM(w.StartHour, w.StartMinute)),
		WorkEnd:      ptr(FormatHHMM(w.EndHour, w.EndMinute)),
		WorkEnabled:  ptr(w.Enabled),
		WorkDaysMask: ptr(uint8(w.DayMask & dayMaskBits)),
		WorkRunS:     ptr(w.RunSeconds),
		WorkStopS:    ptr(w.StopSeconds),
	}
}

func u16(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}
