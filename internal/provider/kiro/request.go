package kiro

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/router-for-me/modelstream/internal/registry"
	"github.com/router-for-me/modelstream/internal/transform"
	"github.com/router-for-me/modelstream/sdk/stream"
)

var kiroCaps = transform.Caps{
	SupportsImages:   true,
	MergeConsecutive: true,
	SanitizeToolIDs:  true,
}

// Upstream rejects oversized payloads outright, so the conversation history
// and the tool results are truncated client-side to fixed byte budgets.
const (
	historyByteBudget    = 850_000
	toolResultByteBudget = 250_000
)

const originAIEditor = "AI_EDITOR"

// placeholderToolName labels synthetic tool uses inserted for tool results
// whose originating call fell out of the visible history.
const placeholderToolName = "unknown_tool"

// buildRequest renders the conversationState payload.
func buildRequest(model string, reqCtx *stream.Context, opts *stream.Options) ([]byte, error) {
	upstreamModel := registry.KiroUpstreamModel(model)
	turns := transform.Turns(reqCtx.Messages, kiroCaps)

	entries := make([]map[string]any, 0, len(turns))
	knownToolUses := make(map[string]bool)
	for i, turn := range turns {
		if turn.Role == stream.RoleAssistant {
			entries = append(entries, renderAssistantEntry(turn, knownToolUses))
			continue
		}
		systemPrompt := ""
		if i == 0 {
			systemPrompt = reqCtx.SystemPrompt
		}
		user := renderUserEntry(turn, upstreamModel, systemPrompt)
		// Tool results referencing calls upstream has never seen fail
		// validation; cover them with a placeholder assistant turn.
		if orphans := orphanedResults(turn.Results, knownToolUses); len(orphans) > 0 {
			entries = append(entries, syntheticAssistantEntry(orphans, knownToolUses))
		}
		entries = append(entries, user)
	}
	if reqCtx.SystemPrompt != "" && (len(turns) == 0 || turns[0].Role == stream.RoleAssistant) {
		standalone := map[string]any{
			"userInputMessage": map[string]any{
				"content": reqCtx.SystemPrompt,
				"modelId": upstreamModel,
				"origin":  originAIEditor,
			},
		}
		entries = append([]map[string]any{standalone}, entries...)
	}

	var current map[string]any
	if n := len(entries); n > 0 {
		if last := entries[n-1]; last["userInputMessage"] != nil {
			current = last["userInputMessage"].(map[string]any)
			entries = entries[:n-1]
		}
	}
	if current == nil {
		// Conversation ends on an assistant turn; upstream still needs a
		// current user message.
		current = map[string]any{
			"content": "Continue",
			"modelId": upstreamModel,
			"origin":  originAIEditor,
		}
	}

	if len(reqCtx.Tools) > 0 {
		ctxMap := contextMap(current)
		ctxMap["tools"] = renderTools(reqCtx.Tools)
	}

	conversationID := opts.SessionID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}
	conversationState := map[string]any{
		"chatTriggerType": "MANUAL",
		"conversationId":  conversationID,
		"currentMessage":  map[string]any{"userInputMessage": current},
	}
	if history := trimHistory(entries); len(history) > 0 {
		conversationState["history"] = history
	}

	return json.Marshal(map[string]any{"conversationState": conversationState})
}

// trimHistory drops the oldest user/assistant pairs until the serialized
// history fits the byte budget.
func trimHistory(history []map[string]any) []map[string]any {
	for len(history) > 2 {
		raw, err := json.Marshal(history)
		if err != nil || len(raw) <= historyByteBudget {
			break
		}
		history = history[2:]
	}
	return history
}

func renderAssistantEntry(turn transform.Turn, knownToolUses map[string]bool) map[string]any {
	var content strings.Builder
	var toolUses []map[string]any
	for _, c := range turn.Blocks {
		switch c.Type {
		case stream.ContentText:
			content.WriteString(c.Text)
		case stream.ContentToolCall:
			input := c.Arguments
			if input == nil {
				input = map[string]any{}
			}
			toolUses = append(toolUses, map[string]any{
				"name":      c.Name,
				"toolUseId": c.ID,
				"input":     input,
			})
			knownToolUses[c.ID] = true
		}
	}
	msg := map[string]any{"content": content.String()}
	if len(toolUses) > 0 {
		msg["toolUses"] = toolUses
	}
	return map[string]any{"assistantResponseMessage": msg}
}

func renderUserEntry(turn transform.Turn, upstreamModel, systemPrompt string) map[string]any {
	var content strings.Builder
	if systemPrompt != "" {
		content.WriteString(systemPrompt)
	}
	var images []map[string]any
	for _, c := range turn.Blocks {
		switch c.Type {
		case stream.ContentText:
			if content.Len() > 0 {
				content.WriteString("\n\n")
			}
			content.WriteString(c.Text)
		case stream.ContentImage:
			format := strings.TrimPrefix(c.MimeType, "image/")
			if format == "" {
				format = "png"
			}
			images = append(images, map[string]any{
				"format": format,
				"source": map[string]any{"bytes": c.Data},
			})
		}
	}

	text := content.String()
	if text == "" {
		if len(turn.Results) > 0 {
			text = "Tool results provided."
		} else {
			text = "Continue"
		}
	}
	msg := map[string]any{
		"content": text,
		"modelId": upstreamModel,
		"origin":  originAIEditor,
	}
	if len(images) > 0 {
		msg["images"] = images
	}
	if len(turn.Results) > 0 {
		contextMap(msg)["toolResults"] = renderToolResults(turn.Results)
	}
	return map[string]any{"userInputMessage": msg}
}

func contextMap(userMsg map[string]any) map[string]any {
	if existing, ok := userMsg["userInputMessageContext"].(map[string]any); ok {
		return existing
	}
	ctx := map[string]any{}
	userMsg["userInputMessageContext"] = ctx
	return ctx
}

func renderToolResults(results []transform.ToolResult) []map[string]any {
	budget := toolResultByteBudget
	out := make([]map[string]any, 0, len(results))
	seen := make(map[string]bool)
	for _, res := range results {
		if seen[res.ToolCallID] {
			continue
		}
		seen[res.ToolCallID] = true

		var text strings.Builder
		for _, c := range res.Blocks {
			if c.Type == stream.ContentText {
				text.WriteString(c.Text)
			}
		}
		content := text.String()
		if len(content) > budget {
			content = content[:budget] + "\n[truncated]"
		}
		budget -= len(content)
		if budget < 0 {
			budget = 0
		}

		status := "success"
		if res.IsError {
			status = "error"
		}
		out = append(out, map[string]any{
			"toolUseId": res.ToolCallID,
			"content":   []map[string]any{{"text": content}},
			"status":    status,
		})
	}
	return out
}

func orphanedResults(results []transform.ToolResult, knownToolUses map[string]bool) []transform.ToolResult {
	var orphans []transform.ToolResult
	for _, res := range results {
		if !knownToolUses[res.ToolCallID] {
			orphans = append(orphans, res)
		}
	}
	return orphans
}

func syntheticAssistantEntry(orphans []transform.ToolResult, knownToolUses map[string]bool) map[string]any {
	toolUses := make([]map[string]any, 0, len(orphans))
	for _, res := range orphans {
		toolUses = append(toolUses, map[string]any{
			"name":      placeholderToolName,
			"toolUseId": res.ToolCallID,
			"input":     map[string]any{},
		})
		knownToolUses[res.ToolCallID] = true
	}
	return map[string]any{
		"assistantResponseMessage": map[string]any{
			"content":  "Tool calls issued earlier in this conversation.",
			"toolUses": toolUses,
		},
	}
}

func renderTools(tools []stream.Tool) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, map[string]any{
			"toolSpecification": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"inputSchema": map[string]any{"json": params},
			},
		})
	}
	return out
}
