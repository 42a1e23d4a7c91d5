package diffuser

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// pollTarget is the part of a Device the poller drives.
type pollTarget interface {
	Refresh(ctx context.Context) error
	RequestStatus(ctx context.Context) error
}

// Poller runs the initial sync of a device and then requests a status frame
// every interval. A failed request is retried sooner with exponential
// backoff, never waiting longer than the interval itself.
type Poller struct {
	name     string
	target   pollTarget
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller. An interval <= 0 still performs the initial
// sync but no keepalive.
func NewPoller(name string, target pollTarget, interval time.Duration) *Poller {
	return &Poller{name: name, target: target, interval: interval}
}

// Start launches the poll loop. Calling Start on a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
}

// Stop cancels the loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	if err := p.target.Refresh(ctx); err != nil && ctx.Err() == nil {
		slog.Debug("[POLL] initial sync failed, will retry on poll", "device", p.name, "error", err)
	}
	if p.interval <= 0 {
		return
	}

	failures := 0
	for {
		wait := p.interval
		if failures > 0 {
			wait = backoffDelay(failures-1, p.interval)
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return
		}

		if err := p.target.RequestStatus(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			slog.Debug("[POLL] status request failed", "device", p.name, "error", err, "attempt", failures)
			continue
		}
		if failures > 0 {
			slog.Info("[POLL] device reachable again", "device", p.name, "after", failures)
		}
		failures = 0
	}
}

// backoffDelay returns the retry delay for attempt n (1s, 2s, 4s, ...),
// capped at max.
func backoffDelay(attempt int, max time.Duration) time.Duration {
	if attempt >= 30 {
		return max
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > max {
		return max
	}
	return delay
}
