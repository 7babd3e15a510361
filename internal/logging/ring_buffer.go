package logging

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultBufferSize is the default capacity of the ring buffer.
const DefaultBufferSize = 256

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time
	Level     string
	Message   string
	Fields    map[string]any
}

// RingBuffer is a thread-safe circular buffer of recent log entries. It
// implements logrus.Hook so a consumer can dump the tail of the log when an
// invocation fails.
type RingBuffer struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int
	count    int
}

// NewRingBuffer creates a buffer with the given capacity, or
// DefaultBufferSize when capacity is not positive.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &RingBuffer{entries: make([]Entry, capacity), capacity: capacity}
}

// Levels implements logrus.Hook; all levels are captured.
func (rb *RingBuffer) Levels() []log.Level { return log.AllLevels }

// Fire implements logrus.Hook.
func (rb *RingBuffer) Fire(entry *log.Entry) error {
	fields := make(map[string]any, len(entry.Data))
	for k, v := range entry.Data {
		fields[k] = v
	}
	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	rb.mu.Lock()
	rb.entries[rb.head] = Entry{
		Timestamp: entry.Time,
		Level:     level,
		Message:   entry.Message,
		Fields:    fields,
	}
	rb.head = (rb.head + 1) % rb.capacity
	if rb.count < rb.capacity {
		rb.count++
	}
	rb.mu.Unlock()
	return nil
}

// Snapshot returns the buffered entries oldest-first.
func (rb *RingBuffer) Snapshot() []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	out := make([]Entry, 0, rb.count)
	start := rb.head - rb.count
	if start < 0 {
		start += rb.capacity
	}
	for i := 0; i < rb.count; i++ {
		out = append(out, rb.entries[(start+i)%rb.capacity])
	}
	return out
}

// Dump renders the snapshot as plain lines for an error report.
func (rb *RingBuffer) Dump() []string {
	entries := rb.Snapshot()
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s [%s] %s", e.Timestamp.Format("15:04:05.000"), e.Level, e.Message))
	}
	return lines
}
