package ble

import "errors"

// Errors surfaced by Session operations. Returned errors wrap one of these
// together with the underlying transport error; test with errors.Is.
var (
	// ErrConnection means no usable adapter could be brought up to reach
	// the device.
	ErrConnection = errors.New("ble: no usable bluetooth adapter")
	// ErrNotFound means the device address could not be reached.
	ErrNotFound = errors.New("ble: device not found or unreachable")
	// ErrTimeout means the connect attempt exceeded its bound.
	ErrTimeout = errors.New("ble: connect timed out")
	// ErrTransport covers GATT discovery, subscribe and write failures.
	ErrTransport = errors.New("ble: transport failure")
	// ErrClosed is returned once the session has been closed.
	ErrClosed = errors.New("ble: session closed")
)
