// Package sse reads server-sent-event streams the way the provider APIs
// actually emit them: "event:" and "data:" lines separated by blank lines.
package sse

import (
	"bufio"
	"bytes"
	"io"
)

// Event is one wire event. Data joins multi-line data fields with newlines.
type Event struct {
	Event string
	Data  []byte
}

// maxLineSize matches the generous read buffer the executors use; single
// deltas can carry large base64 payloads.
const maxLineSize = 20 * 1024 * 1024

// Scanner incrementally decodes an SSE body.
type Scanner struct {
	scanner *bufio.Scanner
}

// NewScanner wraps the response body.
func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Scanner{scanner: s}
}

// Next returns the next complete event, or io.EOF when the body ends. Events
// with no data lines (keep-alive comments, bare blank lines) are skipped.
func (s *Scanner) Next() (Event, error) {
	var ev Event
	var data [][]byte
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			if len(data) > 0 {
				ev.Data = bytes.Join(data, []byte("\n"))
				return ev, nil
			}
			ev = Event{}
			continue
		}
		switch {
		case bytes.HasPrefix(line, []byte(":")):
			// Comment / keep-alive.
		case bytes.HasPrefix(line, []byte("event:")):
			ev.Event = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			d := bytes.TrimPrefix(line, []byte("data:"))
			d = bytes.TrimPrefix(d, []byte(" "))
			data = append(data, append([]byte(nil), d...))
		}
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	if len(data) > 0 {
		ev.Data = bytes.Join(data, []byte("\n"))
		return ev, nil
	}
	return Event{}, io.EOF
}
