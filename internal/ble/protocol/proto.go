// Package protocol implements the binary frame format spoken by Felshare
// diffusers over the Nordic UART service.
//
// Every frame starts with a one-byte opcode. Commands are written to the TX
// characteristic and the device answers (or pushes updates) on the RX
// characteristic using the same opcodes. There is no length prefix, checksum
// or version byte; multi-byte integers are big-endian and unsigned.
package protocol

import (
	"encoding/binary"
	"strings"
)

// Opcodes shared by commands and notifications.
const (
	OpPower          byte = 0x03
	OpFan            byte = 0x04
	OpStatus         byte = 0x05
	OpOilName        byte = 0x08
	OpBulk           byte = 0x0C
	OpOilConsumption byte = 0x0E
	OpOilCapacity    byte = 0x0F
	OpOilRemain      byte = 0x10
	OpWorkMode       byte = 0x32
)

// workModeSub is the second byte of every WorkMode frame.
const workModeSub byte = 0x01

// Frame sizes.
const (
	WorkModeFrameLen  = 11
	StatusMinLen      = 24
	BulkMinLen        = 20
	statusNameOffset  = 24
	workModeFlagOnBit = 0x80
	dayMaskBits       = 0x7F
)

// WorkMode is the duty-cycle schedule of the diffuser: active between Start
// and End on the weekdays set in DayMask, alternating RunSeconds of diffusion
// with StopSeconds of pause.
//
// Hour and minute values are written as their low 8 bits and DayMask keeps
// only bits 0-6 (bit 0 = Sunday ... bit 6 = Saturday). The firmware does its
// own range handling.
type WorkMode struct {
	StartHour   int
	StartMinute int
	EndHour     int
	EndMinute   int
	Enabled     bool
	DayMask     int
	RunSeconds  uint16
	StopSeconds uint16
}

// Flag returns the packed enabled bit and day mask as sent on the wire.
func (w WorkMode) Flag() byte {
	flag := byte(w.DayMask & dayMaskBits)
	if w.Enabled {
		flag |= workModeFlagOnBit
	}
	return flag
}

// EncodePower builds a power on/off command.
func EncodePower(on bool) []byte {
	return []byte{OpPower, boolByte(on)}
}

// EncodeFan builds a fan on/off command.
func EncodeFan(on bool) []byte {
	return []byte{OpFan, boolByte(on)}
}

// EncodeStatusRequest asks the device for a Status frame.
func EncodeStatusRequest() []byte {
	return []byte{OpStatus}
}

// EncodeBulkRequest asks the device for a Bulk frame, which carries the work
// schedule.
func EncodeBulkRequest() []byte {
	return []byte{OpBulk}
}

// EncodeWorkMode builds the 11-byte schedule command:
//
//	0x32 0x01 start_h start_m end_h end_m flag run_s(be16) stop_s(be16)
func EncodeWorkMode(w WorkMode) []byte {
	buf := make([]byte, 0, WorkModeFrameLen)
	buf = append(buf,
		OpWorkMode, workModeSub,
		byte(w.StartHour), byte(w.StartMinute),
		byte(w.EndHour), byte(w.EndMinute),
		w.Flag(),
	)
	buf = binary.BigEndian.AppendUint16(buf, w.RunSeconds)
	buf = binary.BigEndian.AppendUint16(buf, w.StopSeconds)
	return buf
}

// EncodeOilName builds an oil name command. Surrounding whitespace is
// trimmed and non-ASCII characters are dropped. The device firmware expects
// the name NUL terminated.
func EncodeOilName(name string, nullTerminate bool) []byte {
	name = strings.TrimSpace(name)
	buf := make([]byte, 0, len(name)+2)
	buf = append(buf, OpOilName)
	for i := 0; i < len(name); i++ {
		if name[i] < 0x80 {
			buf = append(buf, name[i])
		}
	}
	if nullTerminate {
		buf = append(buf, 0x00)
	}
	return buf
}

// EncodeOilCapacity sets the bottle capacity in mL. Out of range values
// saturate to 0..65535.
func EncodeOilCapacity(ml int) []byte {
	return encodeU16(OpOilCapacity, ml)
}

// EncodeOilRemain sets the remaining oil in mL. Out of range values saturate.
func EncodeOilRemain(ml int) []byte {
	return encodeU16(OpOilRemain, ml)
}

// EncodeOilConsumption sets the consumption rate in tenths of mL per hour.
// Out of range values saturate.
func EncodeOilConsumption(rawTenths int) []byte {
	return encodeU16(OpOilConsumption, rawTenths)
}

func encodeU16(op byte, v int) []byte {
	buf := make([]byte, 1, 3)
	buf[0] = op
	return binary.BigEndian.AppendUint16(buf, uint16(Clamp(v, 0, 0xFFFF)))
}

func boolByte(on bool) byte {
	if on {
		return 0x01
	}
	return 0x00
}
