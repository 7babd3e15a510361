// Package thinktag splits a streamed text into the reasoning carried inside
// <thinking>...</thinking> markers and the plain text around it. Tag markers
// may straddle chunk boundaries, so the splitter keeps a small carry buffer
// and never flushes bytes that could still turn out to be part of a tag.
package thinktag

import "strings"

const (
	// StartTag and EndTag are the literal markers emitted by models that
	// express reasoning inline in the text stream (Kiro).
	StartTag = "<thinking>"
	EndTag   = "</thinking>"
)

// SegmentKind distinguishes the two logical sub-streams.
type SegmentKind int

const (
	SegmentText SegmentKind = iota
	SegmentThinking
)

// Segment is one flushed fragment of either sub-stream.
type Segment struct {
	Kind SegmentKind
	Text string
}

type state int

const (
	beforeThinking state = iota
	inThinking
	afterThinking
)

// Splitter is the chunk-boundary-safe state machine. Only the first thinking
// block of a message is honored; once it closes, everything is plain text.
type Splitter struct {
	state     state
	buf       strings.Builder
	skipBlank bool
}

// Push consumes one chunk and returns the segments that can be flushed
// without risking a split tag.
func (s *Splitter) Push(chunk string) []Segment {
	if chunk == "" {
		return nil
	}
	s.buf.WriteString(chunk)
	var out []Segment
	for {
		progressed := false
		switch s.state {
		case beforeThinking:
			buffered := s.buf.String()
			if idx := strings.Index(buffered, StartTag); idx >= 0 {
				if idx > 0 {
					out = appendSegment(out, Segment{SegmentText, buffered[:idx]})
				}
				s.buf.Reset()
				s.buf.WriteString(buffered[idx+len(StartTag):])
				s.state = inThinking
				progressed = true
				break
			}
			// Keep a trailing window one byte shorter than the tag: anything
			// longer cannot be the beginning of a split marker.
			if flush := len(buffered) - (len(StartTag) - 1); flush > 0 {
				out = appendSegment(out, Segment{SegmentText, buffered[:flush]})
				s.buf.Reset()
				s.buf.WriteString(buffered[flush:])
			}
		case inThinking:
			buffered := s.buf.String()
			if idx := strings.Index(buffered, EndTag); idx >= 0 {
				if idx > 0 {
					out = appendSegment(out, Segment{SegmentThinking, buffered[:idx]})
				}
				s.buf.Reset()
				s.buf.WriteString(buffered[idx+len(EndTag):])
				s.state = afterThinking
				s.skipBlank = true
				progressed = true
				break
			}
			if flush := len(buffered) - (len(EndTag) - 1); flush > 0 {
				out = appendSegment(out, Segment{SegmentThinking, buffered[:flush]})
				s.buf.Reset()
				s.buf.WriteString(buffered[flush:])
			}
		case afterThinking:
			buffered := s.buf.String()
			s.buf.Reset()
			if s.skipBlank {
				trimmed := strings.TrimLeft(buffered, " \t")
				switch {
				case strings.HasPrefix(trimmed, "\r\n"):
					buffered = trimmed[2:]
					s.skipBlank = false
				case strings.HasPrefix(trimmed, "\n"):
					buffered = trimmed[1:]
					s.skipBlank = false
				case trimmed == "":
					// Could still be leading whitespace of a blank line; hold.
					s.buf.WriteString(buffered)
					return out
				default:
					s.skipBlank = false
				}
			}
			if buffered != "" {
				out = appendSegment(out, Segment{SegmentText, buffered})
			}
			return out
		}
		if !progressed {
			return out
		}
	}
}

// Finalize flushes whatever remains buffered at end of stream. An unclosed
// thinking block flushes as thinking; a pending partial tag flushes verbatim
// as the stream kind it was read in.
func (s *Splitter) Finalize() []Segment {
	buffered := s.buf.String()
	s.buf.Reset()
	if buffered == "" {
		return nil
	}
	kind := SegmentText
	if s.state == inThinking {
		kind = SegmentThinking
	}
	if s.state == afterThinking && s.skipBlank {
		// Held whitespace that never became a blank line.
		s.skipBlank = false
	}
	return []Segment{{kind, buffered}}
}

func appendSegment(segs []Segment, seg Segment) []Segment {
	if seg.Text == "" {
		return segs
	}
	if n := len(segs); n > 0 && segs[n-1].Kind == seg.Kind {
		segs[n-1].Text += seg.Text
		return segs
	}
	return append(segs, seg)
}
