package sse

import (
	"io"
	"strings"
	"testing"
)

func TestScannerBasicStream(t *testing.T) {
	body := "event: message_start\ndata: {\"a\":1}\n\n" +
		": keep-alive\n\n" +
		"data: {\"b\":2}\n\n"
	s := NewScanner(strings.NewReader(body))

	ev, err := s.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Event != "message_start" || string(ev.Data) != `{"a":1}` {
		t.Fatalf("first event = %+v", ev)
	}

	ev, err = s.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Event != "" || string(ev.Data) != `{"b":2}` {
		t.Fatalf("second event = %+v", ev)
	}

	if _, err = s.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestScannerMultiLineData(t *testing.T) {
	body := "data: line one\ndata: line two\n\n"
	s := NewScanner(strings.NewReader(body))
	ev, err := s.Next()
	if err != nil {
		t.Fatal(err)
	}
	if string(ev.Data) != "line one\nline two" {
		t.Fatalf("data = %q", ev.Data)
	}
}

func TestScannerFinalEventWithoutBlankLine(t *testing.T) {
	s := NewScanner(strings.NewReader("data: [DONE]"))
	ev, err := s.Next()
	if err != nil {
		t.Fatal(err)
	}
	if string(ev.Data) != "[DONE]" {
		t.Fatalf("data = %q", ev.Data)
	}
	if _, err = s.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestScannerSkipsCommentOnlyBlocks(t *testing.T) {
	s := NewScanner(strings.NewReader(": ping\n\n: ping\n\n"))
	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
