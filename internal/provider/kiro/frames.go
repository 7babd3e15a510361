package kiro

import (
	"encoding/json"
	"strings"
)

// FrameKind discriminates the event shapes Kiro interleaves in its response
// body. The wire carries no tag field; kinds are inferred from which keys an
// object has, in a fixed priority order.
type FrameKind int

const (
	// FrameContent carries an assistant text fragment.
	FrameContent FrameKind = iota
	// FrameToolUse opens a tool call (name plus toolUseId, possibly with the
	// first input fragment and a stop flag).
	FrameToolUse
	// FrameToolUseInput continues the current tool call's input string.
	FrameToolUseInput
	// FrameToolUseStop closes the current tool call.
	FrameToolUseStop
	// FrameUsage carries the context usage percentage metadata.
	FrameUsage
)

// Frame is one decoded wire event.
type Frame struct {
	Kind FrameKind

	Content   string
	Name      string
	ToolUseID string
	Input     string
	Stop      bool

	ContextUsagePercentage float64
}

// candidatePatterns are the leading key spellings that can open a frame.
// Anything between frames (event-stream framing bytes, partial garbage) is
// skipped.
var candidatePatterns = []string{
	`{"content":`,
	`{"name":`,
	`{"followupPrompt":`,
	`{"input":`,
	`{"stop":`,
	`{"contextUsagePercentage":`,
}

// Extractor pulls complete JSON objects out of Kiro's raw concatenated
// response stream. Objects can be split across arbitrary chunk boundaries;
// incomplete trailing objects stay buffered until more data arrives.
type Extractor struct {
	buf strings.Builder
}

// Push appends a chunk and returns every frame completed by it.
func (e *Extractor) Push(chunk []byte) []Frame {
	e.buf.WriteString(string(chunk))
	remaining := e.buf.String()

	var frames []Frame
	searchStart := 0
	for {
		jsonStart := earliestCandidate(remaining, searchStart)
		if jsonStart < 0 {
			// No full candidate pattern; the tail may still be the prefix of
			// one, so everything past the last consumed object stays buffered.
			break
		}

		jsonEnd := matchBraces(remaining, jsonStart)
		if jsonEnd < 0 {
			// Incomplete object: keep it buffered for the next chunk.
			remaining = remaining[jsonStart:]
			searchStart = 0
			break
		}

		if f, ok := decodeFrame(remaining[jsonStart : jsonEnd+1]); ok {
			frames = append(frames, f)
		}
		searchStart = jsonEnd + 1
		if searchStart >= len(remaining) {
			remaining = ""
			searchStart = 0
			break
		}
	}

	if searchStart > 0 && searchStart < len(remaining) {
		remaining = remaining[searchStart:]
	}
	e.buf.Reset()
	e.buf.WriteString(remaining)
	return frames
}

// Buffered returns the number of bytes waiting for completion.
func (e *Extractor) Buffered() int { return e.buf.Len() }

func earliestCandidate(s string, from int) int {
	best := -1
	for _, pattern := range candidatePatterns {
		if pos := strings.Index(s[from:], pattern); pos >= 0 {
			abs := from + pos
			if best < 0 || abs < best {
				best = abs
			}
		}
	}
	return best
}

// matchBraces finds the index of the brace closing the object at start,
// ignoring braces inside string literals. Returns -1 when the object is not
// yet complete.
func matchBraces(s string, start int) int {
	depth := 0
	inString := false
	escapeNext := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escapeNext {
			escapeNext = false
			continue
		}
		if ch == '\\' {
			escapeNext = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// decodeFrame classifies one complete object. The order of the checks is the
// protocol: content first, then a named tool use, then a bare input
// continuation, then a bare stop, then usage metadata. Objects that parse but
// fit no shape (followupPrompt suggestions among them) are dropped, as is
// invalid JSON inside a candidate span.
func decodeFrame(raw string) (Frame, bool) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Frame{}, false
	}

	if content, ok := parsed["content"].(string); ok {
		if _, hasFollowup := parsed["followupPrompt"]; hasFollowup {
			return Frame{}, false
		}
		return Frame{Kind: FrameContent, Content: content}, true
	}
	if name, ok := parsed["name"].(string); ok {
		id, hasID := parsed["toolUseId"].(string)
		if !hasID {
			return Frame{}, false
		}
		f := Frame{Kind: FrameToolUse, Name: name, ToolUseID: id}
		if input, okInput := parsed["input"].(string); okInput {
			f.Input = input
		}
		if stop, okStop := parsed["stop"].(bool); okStop {
			f.Stop = stop
		}
		return f, true
	}
	if input, ok := parsed["input"].(string); ok {
		return Frame{Kind: FrameToolUseInput, Input: input}, true
	}
	if stop, ok := parsed["stop"].(bool); ok {
		if !stop {
			return Frame{}, false
		}
		return Frame{Kind: FrameToolUseStop, Stop: true}, true
	}
	if pct, ok := parsed["contextUsagePercentage"].(float64); ok {
		return Frame{Kind: FrameUsage, ContextUsagePercentage: pct}, true
	}
	return Frame{}, false
}
