// Package transform implements the shared pre-processing every adapter runs
// over the canonical message list before building its wire request: stripping
// empty blocks, enforcing role alternation, folding tool results into user
// turns, sanitizing identifiers, and downgrading images for providers that
// cannot take them. It is a pure function parameterized by small capability
// flags, so no adapter carries its own copy of these rules.
package transform

import (
	"regexp"

	"github.com/router-for-me/modelstream/sdk/stream"
)

// Caps describes the constraints of the target provider.
type Caps struct {
	// SupportsImages keeps image blocks; otherwise they are replaced with a
	// short text placeholder.
	SupportsImages bool
	// MergeConsecutive merges adjacent turns with the same role, for APIs
	// that require strict user/assistant alternation (Gemini).
	MergeConsecutive bool
	// SanitizeToolIDs rewrites tool-call identifiers to the provider's ID
	// syntax (^[a-zA-Z0-9_-]+$).
	SanitizeToolIDs bool
}

// ToolResult is one tool outcome folded into a user turn.
type ToolResult struct {
	ToolCallID string
	IsError    bool
	Blocks     []stream.Content
}

// Turn is one provider-facing conversation turn. Tool results always travel
// inside user-role turns; consecutive results share one turn.
type Turn struct {
	Role    stream.Role
	Blocks  []stream.Content
	Results []ToolResult
}

var toolIDPattern = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeID rewrites an identifier so it matches ^[a-zA-Z0-9_-]+$.
func SanitizeID(id string) string {
	if id == "" {
		return "_"
	}
	return toolIDPattern.ReplaceAllString(id, "_")
}

// Turns converts the canonical message list into provider-facing turns under
// the given capability flags.
func Turns(msgs []stream.Message, caps Caps) []Turn {
	var turns []Turn
	for _, msg := range msgs {
		switch msg.Role {
		case stream.RoleToolResult:
			blocks := cleanBlocks(msg.Content, caps)
			id := msg.ToolCallID
			if caps.SanitizeToolIDs {
				id = SanitizeID(id)
			}
			result := ToolResult{ToolCallID: id, IsError: msg.IsError, Blocks: blocks}
			if n := len(turns); n > 0 && turns[n-1].Role == stream.RoleUser && len(turns[n-1].Blocks) == 0 {
				turns[n-1].Results = append(turns[n-1].Results, result)
				continue
			}
			turns = append(turns, Turn{Role: stream.RoleUser, Results: []ToolResult{result}})
		default:
			blocks := cleanBlocks(msg.Content, caps)
			if len(blocks) == 0 {
				continue
			}
			turns = append(turns, Turn{Role: msg.Role, Blocks: blocks})
		}
	}
	if caps.MergeConsecutive {
		turns = mergeConsecutive(turns)
	}
	return turns
}

func cleanBlocks(blocks []stream.Content, caps Caps) []stream.Content {
	out := make([]stream.Content, 0, len(blocks))
	for _, c := range blocks {
		switch c.Type {
		case stream.ContentText:
			if c.Text == "" {
				continue
			}
		case stream.ContentThinking:
			if c.Thinking == "" {
				continue
			}
		case stream.ContentImage:
			if !caps.SupportsImages {
				out = append(out, stream.Content{Type: stream.ContentText, Text: "[image omitted]"})
				continue
			}
		case stream.ContentToolCall:
			if caps.SanitizeToolIDs {
				c.ID = SanitizeID(c.ID)
			}
			if c.Arguments == nil {
				c.Arguments = map[string]any{}
			}
		}
		out = append(out, c)
	}
	return out
}

func mergeConsecutive(turns []Turn) []Turn {
	if len(turns) < 2 {
		return turns
	}
	merged := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if n := len(merged); n > 0 && merged[n-1].Role == t.Role {
			merged[n-1].Blocks = append(merged[n-1].Blocks, t.Blocks...)
			merged[n-1].Results = append(merged[n-1].Results, t.Results...)
			continue
		}
		merged = append(merged, t)
	}
	return merged
}
