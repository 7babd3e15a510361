// Package retry implements the low-level attempt controller shared by all
// provider adapters: retryability classification, exponential backoff, and
// the idle-timeout watchdog for stalled connections.
//
// The critical guarantee is at-most-one-visible-attempt: once an attempt has
// emitted any content event downstream, a failure is terminal and is never
// retried, because retrying would duplicate output the caller already saw.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Policy controls the retry loop. Delay for attempt n (1-based) is
// InitialDelay * BackoffFactor^(n-1).
type Policy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	BackoffFactor float64
}

// DefaultPolicy matches the tuning used across the adapters.
var DefaultPolicy = Policy{
	MaxAttempts:   3,
	InitialDelay:  2 * time.Second,
	BackoffFactor: 2,
}

// Delay returns the backoff before retrying after the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= p.BackoffFactor
	}
	return time.Duration(d)
}

// HTTPStatusError preserves an upstream HTTP error status so the classifier
// can see it after the adapter wraps the failure.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// ErrIdleTimeout is the cancellation cause installed by the Watchdog.
var ErrIdleTimeout = errors.New("idle timeout: connection produced no data")

// Transient-failure phrases that qualify an error for retry. Rate-limit
// wording is deliberately absent: long-form rate-limit waits belong to the
// session layer, not this controller.
var transientPhrases = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"broken pipe",
	"server error",
	"internal error",
	"unavailable",
	"overloaded",
	"eof",
}

// Retryable classifies an error. HTTP 408, 409 and any 5xx are retryable, as
// is any error whose message matches a known transient phrase. Context
// cancellation is never retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		s := httpErr.StatusCode
		return s == 408 || s == 409 || s >= 500
	}
	if errors.Is(err, ErrIdleTimeout) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// Do runs attempt up to p.MaxAttempts times. emitted reports whether the
// current attempt has pushed visible content; once it returns true the loop
// stops retrying regardless of classification. notify receives a
// human-readable line before each backoff sleep. The last attempt's error is
// returned; nil on success.
func (p Policy) Do(ctx context.Context, notify func(string), emitted func() bool, attempt func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	for n := 1; n <= maxAttempts; n++ {
		err = attempt(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			// Abort wins over retry, always.
			return err
		}
		if emitted() {
			log.Debugf("retry: content already streamed, attempt %d failure is terminal: %v", n, err)
			return err
		}
		if n == maxAttempts || !Retryable(err) {
			return err
		}
		delay := p.Delay(n)
		if notify != nil {
			notify(fmt.Sprintf("retrying after error (attempt %d/%d, waiting %s): %v", n, maxAttempts, delay, err))
		}
		log.Warnf("retry: attempt %d/%d failed, backing off %s: %v", n, maxAttempts, delay, err)
		if !sleep(ctx, delay) {
			return err
		}
	}
	return err
}

// sleep waits for d unless ctx is cancelled first; returns false on cancel.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
