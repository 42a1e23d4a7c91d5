package ble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
)

type recordingWriter struct {
	writes [][]byte
	err    error
}

func (w *recordingWriter) WriteWithoutResponse(p []byte) (int, error) {
	w.writes = append(w.writes, append([]byte(nil), p...))
	if w.err != nil {
		return 0, w.err
	}
	return len(p), nil
}

func TestWriteUnackedFallsBackToWriteWithoutResponse(t *testing.T) {
	w := &recordingWriter{}
	frame := []byte{0x02, 0x01}

	for i := 0; i < 2; i++ {
		if err := writeUnacked(w, frame); err != nil {
			t.Fatalf("writeUnacked() error = %v", err)
		}
	}
	if len(w.writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(w.writes))
	}
	if !bytes.Equal(w.writes[0], frame) {
		t.Errorf("written = %x, want %x", w.writes[0], frame)
	}
}

func TestWriteUnackedReturnsWriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("not connected")}
	if err := writeUnacked(w, []byte{0x01}); err == nil {
		t.Error("writeUnacked() should return the write error")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o wait" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return false }

func TestClassifyConnectError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"corebluetooth timeout", errors.New("timeout on Connect"), ErrTimeout},
		{"bluez timeout", errors.New("Timeout was reached"), ErrTimeout},
		{"timed out", errors.New("connection timed out"), ErrTimeout},
		{"deadline", fmt.Errorf("connect: %w", context.DeadlineExceeded), ErrTimeout},
		{"os deadline", os.ErrDeadlineExceeded, ErrTimeout},
		{"timeout interface", timeoutErr{}, ErrTimeout},
		{"unknown device", errors.New("org.bluez.Error.Failed: le-connection-abort-by-local"), ErrNotFound},
		{"no such device", errors.New("Device does not exist"), ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyConnectError(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("classifyConnectError(%v) = %v, want %v", tt.err, got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classifyConnectError(%v) lost the cause", tt.err)
			}
			if tt.want == ErrTimeout && errors.Is(got, ErrNotFound) {
				t.Errorf("timeout also classified as not found: %v", got)
			}
		})
	}
}

func TestForgetRemovesConnection(t *testing.T) {
	a := &BluetoothAdapter{connections: make(map[string]*bluetoothConnection)}
	conn := &bluetoothConnection{adapter: a, id: "AA:BB:CC:DD:EE:FF"}
	a.track(conn)

	a.forget(conn)
	if len(a.connections) != 0 {
		t.Errorf("connections = %d after forget, want 0", len(a.connections))
	}

	// Forgetting twice is harmless.
	a.forget(conn)
}

func TestForgetKeepsNewerConnection(t *testing.T) {
	a := &BluetoothAdapter{connections: make(map[string]*bluetoothConnection)}
	old := &bluetoothConnection{adapter: a, id: "AA:BB:CC:DD:EE:FF"}
	a.track(old)
	newer := &bluetoothConnection{adapter: a, id: "AA:BB:CC:DD:EE:FF"}
	a.track(newer)

	a.forget(old)
	if a.connections["AA:BB:CC:DD:EE:FF"] != newer {
		t.Error("forgetting a stale connection removed the current one")
	}
}

func TestConnectErrorKeepsTimeoutClassification(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.connectErr = classifyConnectError(errors.New("timeout on Connect"))
	s := mustNewSession(t, adapter, DefaultSessionOptions())

	err := s.EnsureConnected(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("EnsureConnected() = %v, want ErrTimeout", err)
	}
}
