package stream

import (
	"context"
	"testing"
	"time"
)

func TestEventStreamOrderAndExhaustion(t *testing.T) {
	s := NewEventStream()
	s.Push(Event{Type: EventStart})
	s.Push(Event{Type: EventTextDelta, Delta: "a"})
	s.Push(Event{Type: EventDone})
	s.End()

	ctx := context.Background()
	wantTypes := []EventType{EventStart, EventTextDelta, EventDone}
	for _, want := range wantTypes {
		ev, ok := s.Next(ctx)
		if !ok {
			t.Fatalf("stream exhausted early, wanted %s", want)
		}
		if ev.Type != want {
			t.Fatalf("got %s, want %s", ev.Type, want)
		}
	}
	if _, ok := s.Next(ctx); ok {
		t.Fatal("expected exhaustion after drain")
	}
}

func TestEventStreamPushAfterEndPanics(t *testing.T) {
	s := NewEventStream()
	s.End()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on push after end")
		}
	}()
	s.Push(Event{Type: EventTextDelta})
}

func TestEventStreamNextUnblocksOnPush(t *testing.T) {
	s := NewEventStream()
	done := make(chan Event, 1)
	go func() {
		ev, _ := s.Next(context.Background())
		done <- ev
	}()
	time.Sleep(10 * time.Millisecond)
	s.Push(Event{Type: EventStatus, Status: "waiting"})
	select {
	case ev := <-done:
		if ev.Type != EventStatus {
			t.Fatalf("got %s, want status", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock on push")
	}
}

func TestEventStreamNextHonorsContext(t *testing.T) {
	s := NewEventStream()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := s.Next(ctx)
		done <- ok
	}()
	cancel()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("Next returned an event from an empty cancelled stream")
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not observe cancellation")
	}
}

func TestFinalSkipsToTerminal(t *testing.T) {
	s := NewEventStream()
	msg := &AssistantMessage{Role: RoleAssistant, StopReason: StopReasonStop}
	s.Push(Event{Type: EventStart})
	s.Push(Event{Type: EventTextDelta, Delta: "hello"})
	s.Push(Event{Type: EventDone, StopReason: StopReasonStop, Message: msg})
	s.End()

	got, ok := s.Final(context.Background())
	if !ok {
		t.Fatal("expected a terminal message")
	}
	if got != msg {
		t.Fatal("Final returned a different message")
	}
}
