package ble

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/felshare-ble/internal/ble/protocol"
)

// LinkState is the connection state of a Session.
type LinkState int32

const (
	Disconnected LinkState = iota
	Connecting
	Connected
	Disconnecting
)

func (l LinkState) String() string {
	switch l {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("LinkState(%d)", int32(l))
	}
}

// SessionOptions configures a Session.
type SessionOptions struct {
	ConnectTimeout    time.Duration // bound on a single connect attempt
	WriteWithResponse bool          // use ATT write requests for commands
	NotifyBuffer      int           // notifications queued for the state loop
}

// DefaultSessionOptions returns sensible defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		ConnectTimeout: 30 * time.Second,
		NotifyBuffer:   64,
	}
}

type subscription struct {
	id uint64
	fn func(protocol.State)
}

// Session owns the link to one diffuser. Connect, write and disconnect are
// serialized so only one GATT operation is in flight at a time. Incoming
// notifications are handed to a single goroutine that owns the merged
// device state and publishes it to subscribers.
type Session struct {
	adapter Adapter
	address string
	opts    SessionOptions

	ctx       context.Context // cancelled by Close
	cancel    context.CancelFunc
	closeOnce sync.Once

	// opMu serializes every operation on the transport.
	opMu sync.Mutex

	// mu protects the link fields below. It is never held across a
	// transport call.
	mu     sync.Mutex
	link   LinkState
	gen    uint64 // bumped per connect attempt and teardown
	conn   Connection
	txChar Characteristic
	rxChar Characteristic
	closed bool

	notes chan []byte
	done  chan struct{}

	stateMu sync.RWMutex
	state   protocol.State
	subs    []subscription
	nextSub uint64
}

// NewSession creates a session for the device at address and starts its
// state loop. No connection is made until the first command or an explicit
// EnsureConnected.
func NewSession(adapter Adapter, address string, opts SessionOptions) (*Session, error) {
	if adapter == nil {
		return nil, errors.New("ble: nil adapter")
	}
	if address == "" {
		return nil, errors.New("ble: empty device address")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.NotifyBuffer <= 0 {
		opts.NotifyBuffer = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		adapter: adapter,
		address: address,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		notes:   make(chan []byte, opts.NotifyBuffer),
		done:    make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Address returns the device address this session talks to.
func (s *Session) Address() string { return s.address }

// LinkState returns the current connection state.
func (s *Session) LinkState() LinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// IsConnected reports whether the link is up.
func (s *Session) IsConnected() bool {
	return s.LinkState() == Connected
}

// EnsureConnected connects if the link is down. Concurrent callers share
// one attempt.
func (s *Session) EnsureConnected(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.connectLocked(ctx)
}

// WriteCommand writes one frame to the TX characteristic, connecting first
// if needed. A single connect attempt is made; retrying is up to the caller.
func (s *Session) WriteCommand(ctx context.Context, payload []byte, withResponse bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.connectLocked(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	tx := s.txChar
	s.mu.Unlock()
	if tx == nil {
		return fmt.Errorf("ble: write to %s: link lost: %w", s.address, ErrTransport)
	}

	if err := tx.Write(payload, withResponse); err != nil {
		return fmt.Errorf("ble: write %x to %s: %w: %w", payload, s.address, ErrTransport, err)
	}
	slog.Debug("[BLE] frame written", "address", s.address, "frame", hex.EncodeToString(payload))
	return nil
}

// Disconnect tears the link down. It is idempotent and never fails:
// transport errors during teardown are logged and the session ends up
// Disconnected regardless. A later command reconnects.
func (s *Session) Disconnect() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.disconnectLocked()
}

// Close aborts any connect in progress, disconnects and stops the state
// loop. Subsequent commands fail with ErrClosed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		s.Disconnect()
		<-s.done
		slog.Info("[BLE] session closed", "address", s.address)
	})
	return nil
}

// HandleNotification accepts one raw notification from the transport. It
// never blocks: the frame is queued for the state loop and dropped with a
// warning if the queue is full.
func (s *Session) HandleNotification(data []byte) {
	if len(data) == 0 {
		return
	}
	frame := bytes.Clone(data) // the transport may reuse its buffer
	select {
	case s.notes <- frame:
	default:
		slog.Warn("[BLE] notification queue full, dropping frame",
			"address", s.address, "frame", hex.EncodeToString(frame))
	}
}

// CurrentState returns a copy of the merged device state.
func (s *Session) CurrentState() protocol.State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state.Clone()
}

// Subscribe registers fn to receive a copy of the state after every change.
// fn runs on the session's state goroutine and must not block. The returned
// function removes the subscription.
func (s *Session) Subscribe(fn func(protocol.State)) (unsubscribe func()) {
	s.stateMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	s.stateMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.stateMu.Lock()
			defer s.stateMu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// run is the state loop; it is the only writer of s.state.
func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case frame := <-s.notes:
			s.applyNotification(frame)
		case <-s.ctx.Done():
			return
		}
	}
}

// applyNotification decodes a frame and merges it. Nothing on this path
// may take the session down: unknown frames are logged and ignored, and a
// panicking subscriber is recovered.
func (s *Session) applyNotification(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[BLE] notification handling panicked",
				"address", s.address, "frame", hex.EncodeToString(frame), "panic", r)
		}
	}()

	partial := protocol.DecodeFrame(frame)
	if partial.IsEmpty() {
		slog.Debug("[BLE] notification carried no known fields",
			"address", s.address, "frame", hex.EncodeToString(frame))
		return
	}

	s.stateMu.Lock()
	changed := s.state.Merge(partial)
	snapshot := s.state.Clone()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.stateMu.Unlock()

	if !changed {
		return
	}
	slog.Debug("[BLE] state updated", "address", s.address, "partial", partial)
	for _, sub := range subs {
		sub.fn(snapshot.Clone())
	}
}

// connectLocked brings the link up if it is not already. Caller holds opMu.
func (s *Session) connectLocked(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.link == Connected {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	s.link = Connecting
	s.mu.Unlock()

	conn, tx, rx, err := s.dial(ctx, gen)

	s.mu.Lock()
	if err == nil {
		switch {
		case s.closed:
			err = ErrClosed
		case s.link != Connecting:
			err = fmt.Errorf("ble: link to %s lost during connect: %w", s.address, ErrTransport)
		}
		if err != nil {
			s.link = Disconnected
			s.mu.Unlock()
			s.closeConn(conn, rx)
			return err
		}
	}
	if err != nil {
		s.link = Disconnected
		s.mu.Unlock()
		return err
	}
	s.conn, s.txChar, s.rxChar = conn, tx, rx
	s.link = Connected
	s.mu.Unlock()

	slog.Info("[BLE] connected", "address", s.address)
	return nil
}

// dial connects, discovers the UART characteristics and subscribes to RX.
// On failure nothing is left open.
func (s *Session) dial(ctx context.Context, gen uint64) (Connection, Characteristic, Characteristic, error) {
	if err := s.adapter.Enable(); err != nil {
		return nil, nil, nil, fmt.Errorf("ble: enable adapter: %w: %w", ErrConnection, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	slog.Debug("[BLE] connecting", "address", s.address, "timeout", s.opts.ConnectTimeout)
	conn, err := s.adapter.Connect(ctx, s.address)
	if err != nil {
		return nil, nil, nil, s.connectError(ctx, err)
	}
	conn.OnDisconnect(func() { s.handleLinkLoss(gen) })

	txChar, err := conn.DiscoverCharacteristic(ServiceUUID, TXCharUUID)
	if err != nil {
		s.closeConn(conn, nil)
		return nil, nil, nil, fmt.Errorf("ble: discover TX characteristic: %w: %w", ErrTransport, err)
	}
	rxChar, err := conn.DiscoverCharacteristic(ServiceUUID, RXCharUUID)
	if err != nil {
		s.closeConn(conn, nil)
		return nil, nil, nil, fmt.Errorf("ble: discover RX characteristic: %w: %w", ErrTransport, err)
	}
	if err := rxChar.Subscribe(s.HandleNotification); err != nil {
		s.closeConn(conn, nil)
		return nil, nil, nil, fmt.Errorf("ble: subscribe to notifications: %w: %w", ErrTransport, err)
	}

	// Cancelled while discovering: do not hand out a link nobody wants.
	if ctx.Err() != nil {
		s.closeConn(conn, rxChar)
		return nil, nil, nil, s.connectError(ctx, ctx.Err())
	}
	return conn, txChar, rxChar, nil
}

// connectError classifies a failed connect attempt.
func (s *Session) connectError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrTimeout), errors.Is(err, ErrConnection):
		return fmt.Errorf("ble: connect to %s: %w", s.address, err)
	case s.ctx.Err() != nil:
		return fmt.Errorf("ble: connect to %s: %w", s.address, ErrClosed)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("ble: connect to %s: %w: %w", s.address, ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("ble: connect to %s: %w", s.address, err)
	default:
		return fmt.Errorf("ble: connect to %s: %w: %w", s.address, ErrNotFound, err)
	}
}

// handleLinkLoss runs on the transport's goroutine when the peripheral
// drops. It only clears state; the next command reconnects.
func (s *Session) handleLinkLoss(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || (s.link != Connected && s.link != Connecting) {
		return
	}
	s.conn, s.txChar, s.rxChar = nil, nil, nil
	s.link = Disconnected
	slog.Warn("[BLE] disconnected by peer", "address", s.address)
}

// disconnectLocked tears down the current link. Caller holds opMu.
func (s *Session) disconnectLocked() {
	s.mu.Lock()
	conn, rx := s.conn, s.rxChar
	s.conn, s.txChar, s.rxChar = nil, nil, nil
	if conn == nil {
		s.link = Disconnected
		s.mu.Unlock()
		return
	}
	s.gen++ // callbacks from the old link are now stale
	s.link = Disconnecting
	s.mu.Unlock()

	s.closeConn(conn, rx)

	s.mu.Lock()
	s.link = Disconnected
	s.mu.Unlock()
	slog.Info("[BLE] disconnected", "address", s.address)
}

// closeConn unsubscribes and disconnects, logging instead of failing.
func (s *Session) closeConn(conn Connection, rx Characteristic) {
	if rx != nil {
		if err := rx.Unsubscribe(); err != nil {
			slog.Warn("[BLE] unsubscribe failed during teardown", "address", s.address, "error", err)
		}
	}
	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			slog.Warn("[BLE] disconnect failed during teardown", "address", s.address, "error", err)
		}
	}
}
