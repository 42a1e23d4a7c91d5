package ble

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ScanForDevices scans for timeout and returns the peripherals seen, sorted
// by name then address. With an empty serviceUUID every advertiser is
// listed; many diffusers do not advertise the UART service.
func ScanForDevices(adapter Adapter, serviceUUID string, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w: %w", ErrConnection, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	sort.SliceStable(devices, func(i, j int) bool {
		a, b := strings.ToLower(devices[i].Name), strings.ToLower(devices[j].Name)
		if a != b {
			return a < b
		}
		return devices[i].Address < devices[j].Address
	})
	return devices, nil
}
