package thinktag

import (
	"reflect"
	"testing"
)

func collect(splits []string) []Segment {
	var s Splitter
	var out []Segment
	for _, chunk := range splits {
		for _, seg := range s.Push(chunk) {
			out = appendSegment(out, seg)
		}
	}
	for _, seg := range s.Finalize() {
		out = appendSegment(out, seg)
	}
	return out
}

func TestSplitterEveryBoundary(t *testing.T) {
	input := "Let me think.<thinking>alpha beta</thinking>\nThe answer is 42."
	want := []Segment{
		{SegmentText, "Let me think."},
		{SegmentThinking, "alpha beta"},
		{SegmentText, "The answer is 42."},
	}
	for i := 0; i <= len(input); i++ {
		got := collect([]string{input[:i], input[i:]})
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d: got %v, want %v", i, got, want)
		}
	}
}

func TestSplitterCases(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  []Segment
	}{
		{
			name:  "no tags",
			input: "plain text only",
			want:  []Segment{{SegmentText, "plain text only"}},
		},
		{
			name:  "tag at start",
			input: "<thinking>deep</thinking>\nsurface",
			want:  []Segment{{SegmentThinking, "deep"}, {SegmentText, "surface"}},
		},
		{
			name:  "unclosed thinking flushes as thinking",
			input: "pre<thinking>never ends",
			want:  []Segment{{SegmentText, "pre"}, {SegmentThinking, "never ends"}},
		},
		{
			name:  "only first block honored",
			input: "<thinking>one</thinking>\nmid<thinking>two</thinking>end",
			want:  []Segment{{SegmentThinking, "one"}, {SegmentText, "mid<thinking>two</thinking>end"}},
		},
		{
			name:  "crlf after end tag skipped",
			input: "<thinking>x</thinking>\r\nanswer",
			want:  []Segment{{SegmentThinking, "x"}, {SegmentText, "answer"}},
		},
		{
			name:  "no blank line after end tag",
			input: "<thinking>x</thinking>answer",
			want:  []Segment{{SegmentThinking, "x"}, {SegmentText, "answer"}},
		},
		{
			name:  "empty thinking",
			input: "a<thinking></thinking>\nb",
			want:  []Segment{{SegmentText, "ab"}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := collect([]string{tc.input})
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSplitterBytewise(t *testing.T) {
	input := "ab<thinking>cd</thinking>\nef"
	want := []Segment{
		{SegmentText, "ab"},
		{SegmentThinking, "cd"},
		{SegmentText, "ef"},
	}
	chunks := make([]string, 0, len(input))
	for _, r := range input {
		chunks = append(chunks, string(r))
	}
	if got := collect(chunks); !reflect.DeepEqual(got, want) {
		t.Fatalf("bytewise feed: got %v, want %v", got, want)
	}
}
