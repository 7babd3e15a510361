// Package common carries the adapter-side plumbing every provider shares:
// the retry-wrapped attempt runner that guarantees exactly one terminal
// event, and the HTTP send helper that converts error statuses into typed
// errors the retry classifier can inspect.
package common

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/modelstream/internal/httpclient"
	"github.com/router-for-me/modelstream/internal/retry"
	"github.com/router-for-me/modelstream/sdk/stream"
)

// AttemptFunc drives one streaming connection and reports the provider's
// normalized stop reason on success. It must leave all message mutation to
// the builder it is given.
type AttemptFunc func(ctx context.Context, b *stream.MessageBuilder) (stream.StopReason, error)

// Run executes the adapter lifecycle on the caller's goroutine: start event,
// retry loop with at-most-one-visible-attempt gating, terminal done/error
// event. Adapters call it from the goroutine backing their EventStream.
//
// Panics are deliberately not recovered: an unmapped stop reason or an event
// pushed after stream end is a broken normalization contract and must surface
// as a fault, not as a terminal error event.
func Run(ctx context.Context, b *stream.MessageBuilder, pricing stream.Pricing, policy retry.Policy, attempt AttemptFunc) {
	b.Start()

	var stop stream.StopReason
	err := policy.Do(ctx,
		func(notice string) { b.Status(notice) },
		b.ContentEmitted,
		func(attemptCtx context.Context) error {
			var attemptErr error
			stop, attemptErr = attempt(attemptCtx, b)
			return attemptErr
		},
	)
	if err == nil {
		b.Done(stop, pricing)
		return
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		log.Debugf("provider %s: invocation aborted: %v", b.Message().Provider, err)
		b.Fail(err, stream.StopReasonAborted, pricing)
		return
	}
	log.Errorf("provider %s: invocation failed: %v", b.Message().Provider, err)
	b.Fail(err, stream.StopReasonError, pricing)
}

// Client returns the HTTP client for the invocation, honoring the test
// override and the proxy setting.
func Client(opts *stream.Options) *http.Client {
	if opts != nil && opts.HTTPClient != nil {
		return opts.HTTPClient
	}
	proxyURL := ""
	if opts != nil {
		proxyURL = opts.ProxyURL
	}
	return httpclient.New(proxyURL)
}

// maxErrorBody bounds how much of an upstream error response is preserved in
// the message shown to callers.
const maxErrorBody = 8 * 1024

// Send performs the request and returns the decoded body on 2xx. Error
// statuses drain a bounded prefix of the body into an HTTPStatusError so the
// retry classifier sees the status and the caller sees the provider's own
// wording.
func Send(client *http.Client, req *http.Request) (io.ReadCloser, error) {
	req.Header.Set("Accept-Encoding", httpclient.AcceptEncoding)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		decoded, decErr := httpclient.DecodeBody(resp)
		var body []byte
		if decErr == nil {
			body, _ = io.ReadAll(io.LimitReader(decoded, maxErrorBody))
		}
		return nil, &retry.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	decoded, err := httpclient.DecodeBody(resp)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return decoded, nil
}

// PolicyFromOptions returns the retry policy for an invocation, starting from
// the default and applying any per-call overrides.
func PolicyFromOptions(opts *stream.Options) retry.Policy {
	p := retry.DefaultPolicy
	if opts == nil {
		return p
	}
	if opts.MaxAttempts > 0 {
		p.MaxAttempts = opts.MaxAttempts
	}
	if opts.RetryDelay > 0 {
		p.InitialDelay = opts.RetryDelay
	}
	if opts.BackoffFactor > 0 {
		p.BackoffFactor = opts.BackoffFactor
	}
	return p
}

// IdleTimeout returns the stalled-connection window.
func IdleTimeout(opts *stream.Options) time.Duration {
	if opts != nil && opts.IdleTimeout > 0 {
		return opts.IdleTimeout
	}
	return retry.DefaultIdleTimeout
}
