//go:build !darwin && !windows

package ble

import "tinygo.org/x/bluetooth"

// BlueZ and the HCI/SoftDevice backends only implement write without
// response.
func writeWithResponse(char *bluetooth.DeviceCharacteristic, data []byte) error {
	return writeUnacked(char, data)
}
