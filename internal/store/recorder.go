package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/felshare-ble/internal/ble/protocol"
)

type snapshotSaver interface {
	Save(ctx context.Context, address string, st protocol.State) error
}

type subscriber interface {
	Subscribe(fn func(protocol.State)) (unsubscribe func())
}

// saveTimeout bounds one batch of writes.
const saveTimeout = 5 * time.Second

// Recorder writes published snapshots to a store in the background. Only
// the latest snapshot per address is kept while a write is in progress, so
// publishers never wait on the database.
type Recorder struct {
	saver snapshotSaver

	mu      sync.Mutex
	pending map[string]protocol.State

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewRecorder(saver snapshotSaver) *Recorder {
	r := &Recorder{
		saver:   saver,
		pending: make(map[string]protocol.State),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// Record queues st as the latest snapshot of address.
func (r *Recorder) Record(address string, st protocol.State) {
	r.mu.Lock()
	r.pending[address] = st
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Watch records every snapshot src publishes until the returned func is
// called.
func (r *Recorder) Watch(address string, src subscriber) (stop func()) {
	return src.Subscribe(func(st protocol.State) { r.Record(address, st) })
}

// Close stops the writer and flushes what is still queued. A batch being
// written when Close is called is allowed to finish.
func (r *Recorder) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
	r.flush()
}

func (r *Recorder) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case <-r.wake:
			r.flush()
		}
	}
}

func (r *Recorder) flush() {
	r.mu.Lock()
	batch := r.pending
	r.pending = make(map[string]protocol.State)
	r.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	for address, st := range batch {
		if err := r.saver.Save(ctx, address, st); err != nil {
			slog.Warn("[STORE] snapshot save failed", "address", address, "error", err)
			r.requeue(address, st)
			continue
		}
		slog.Debug("[STORE] snapshot saved", "address", address)
	}
}

// requeue puts back a snapshot whose write failed, unless a newer one has
// been recorded meanwhile. It is retried on the next flush.
func (r *Recorder) requeue(address string, st protocol.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, newer := r.pending[address]; !newer {
		r.pending[address] = st
	}
}
