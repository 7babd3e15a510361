package stream

// EventType enumerates the canonical assistant-message construction events.
type EventType string

const (
	EventStart EventType = "start"

	EventTextStart EventType = "text_start"
	EventTextDelta EventType = "text_delta"
	EventTextEnd   EventType = "text_end"

	EventThinkingStart EventType = "thinking_start"
	EventThinkingDelta EventType = "thinking_delta"
	EventThinkingEnd   EventType = "thinking_end"

	EventToolCallStart EventType = "toolcall_start"
	EventToolCallDelta EventType = "toolcall_delta"
	EventToolCallEnd   EventType = "toolcall_end"

	// EventStatus carries human-readable progress such as retry notices.
	EventStatus EventType = "status"

	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event is one canonical streaming update. For block events Index is the
// block's position in the message content; Delta carries the incremental
// fragment on *_delta; Content carries the fully materialized block on *_end.
// Done and Error carry the finalized (or partial) message.
type Event struct {
	Type  EventType `json:"type"`
	Index int       `json:"index,omitempty"`
	Delta string    `json:"delta,omitempty"`

	Content *Content `json:"content,omitempty"`

	Status string `json:"status,omitempty"`

	StopReason StopReason        `json:"stop_reason,omitempty"`
	Message    *AssistantMessage `json:"message,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
