package ble

import (
	"context"

	"github.com/chaz8081/felshare-ble/internal/ble/protocol"
)

// RequestStatus asks for a Status frame (time, power, fan, oil).
func (s *Session) RequestStatus(ctx context.Context) error {
	return s.send(ctx, protocol.EncodeStatusRequest())
}

// RequestBulk asks for a Bulk frame, which carries the work schedule.
func (s *Session) RequestBulk(ctx context.Context) error {
	return s.send(ctx, protocol.EncodeBulkRequest())
}

// SetPower switches the diffuser on or off.
func (s *Session) SetPower(ctx context.Context, on bool) error {
	return s.send(ctx, protocol.EncodePower(on))
}

// SetFan switches the fan on or off.
func (s *Session) SetFan(ctx context.Context, on bool) error {
	return s.send(ctx, protocol.EncodeFan(on))
}

// SetWorkMode writes the complete work schedule.
func (s *Session) SetWorkMode(ctx context.Context, w protocol.WorkMode) error {
	return s.send(ctx, protocol.EncodeWorkMode(w))
}

// SetOilName writes a NUL-terminated oil name.
func (s *Session) SetOilName(ctx context.Context, name string) error {
	return s.send(ctx, protocol.EncodeOilName(name, true))
}

// SetOilCapacity sets the bottle capacity in mL.
func (s *Session) SetOilCapacity(ctx context.Context, ml int) error {
	return s.send(ctx, protocol.EncodeOilCapacity(ml))
}

// SetOilRemain sets the remaining oil in mL.
func (s *Session) SetOilRemain(ctx context.Context, ml int) error {
	return s.send(ctx, protocol.EncodeOilRemain(ml))
}

// SetOilConsumption sets the rate in tenths of mL per hour.
func (s *Session) SetOilConsumption(ctx context.Context, rawTenths int) error {
	return s.send(ctx, protocol.EncodeOilConsumption(rawTenths))
}

func (s *Session) send(ctx context.Context, frame []byte) error {
	return s.WriteCommand(ctx, frame, s.opts.WriteWithResponse)
}
