package retry

import (
	"context"
	"sync"
	"time"
)

// DefaultIdleTimeout is the window within which the connection must produce
// another chunk once streaming has begun.
const DefaultIdleTimeout = 30 * time.Second

// Watchdog cancels a connection's context when no data arrives for the
// configured window. It is disarmed until the first chunk: connection setup
// and time-to-first-token have their own transport timeouts.
type Watchdog struct {
	mu      sync.Mutex
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelCauseFunc
	stopped bool
}

// NewWatchdog derives a cancellable context from ctx and returns the watchdog
// guarding it. Callers must Stop the watchdog on loop exit so no pending
// cancellation outlives a successful stream.
func NewWatchdog(ctx context.Context, timeout time.Duration) (context.Context, *Watchdog) {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	wctx, cancel := context.WithCancelCause(ctx)
	return wctx, &Watchdog{timeout: timeout, cancel: cancel}
}

// Reset arms the watchdog (on the first chunk) or pushes the deadline out
// (on every later chunk).
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.timeout, func() {
			w.cancel(ErrIdleTimeout)
		})
		return
	}
	w.timer.Reset(w.timeout)
}

// Stop disarms the watchdog. Safe to call more than once.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
