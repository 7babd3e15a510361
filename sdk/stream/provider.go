package stream

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Provider is the contract every adapter implements. Stream returns
// immediately; the adapter drives the connection from its own goroutine and
// the returned stream terminates in exactly one done or error event.
type Provider interface {
	// Identifier names the wire protocol the adapter speaks.
	Identifier() string
	// Stream opens one model invocation. Cancelling ctx aborts the
	// connection, any pending backoff, and yields stopReason aborted.
	Stream(ctx context.Context, model string, reqCtx *Context, opts *Options) *EventStream
}

var (
	registryMu sync.RWMutex
	providers  = make(map[string]Provider)
)

// Register installs an adapter under its identifier. Later registrations
// replace earlier ones, which lets tests swap in fakes.
func Register(p Provider) {
	registryMu.Lock()
	defer registryMu.Unlock()
	providers[p.Identifier()] = p
}

// Lookup returns the adapter registered under name.
func Lookup(name string) (Provider, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("stream: no provider registered for %q", name)
	}
	return p, nil
}

// Providers lists the registered adapter identifiers in sorted order.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
