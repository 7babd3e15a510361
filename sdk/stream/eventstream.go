package stream

import (
	"context"
	"sync"
)

// EventStream is the single-producer, single-pass queue connecting one
// adapter invocation to its consumer. Pushes never block and nothing is ever
// dropped; the queue grows as needed. The stream is exhausted once End has
// been called and every buffered event has been drained.
type EventStream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
}

// NewEventStream returns an empty, open stream.
func NewEventStream() *EventStream {
	s := &EventStream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Push appends an event. Pushing after End is a contract violation and
// panics: the producing adapter guarantees exactly one terminal event.
func (s *EventStream) Push(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		panic("stream: event pushed after stream end")
	}
	s.queue = append(s.queue, ev)
	s.cond.Broadcast()
}

// End marks that no further events will be produced.
func (s *EventStream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

// Next blocks until an event is available and returns it in push order.
// The second return is false once the stream is exhausted or ctx is done.
func (s *EventStream) Next(ctx context.Context) (Event, bool) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 {
		if s.closed || ctx.Err() != nil {
			return Event{}, false
		}
		s.cond.Wait()
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

// Final drains the stream and returns the message carried by the terminal
// event. Intermediate events are discarded; use Next to observe them.
func (s *EventStream) Final(ctx context.Context) (*AssistantMessage, bool) {
	for {
		ev, ok := s.Next(ctx)
		if !ok {
			return nil, false
		}
		if ev.Terminal() {
			return ev.Message, true
		}
	}
}
