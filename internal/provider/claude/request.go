package claude

import (
	"github.com/tidwall/sjson"

	"github.com/router-for-me/modelstream/internal/transform"
	"github.com/router-for-me/modelstream/sdk/stream"
)

// claudeSpoofPrompt is the first system block required when authenticating
// with an OAuth token instead of an API key; the OAuth surface only serves
// this client identity.
const claudeSpoofPrompt = "You are Claude Code, Anthropic's official CLI for Claude."

var claudeCaps = transform.Caps{
	SupportsImages:   true,
	MergeConsecutive: true,
	SanitizeToolIDs:  true,
}

// buildRequest renders the Messages API payload.
func buildRequest(model string, reqCtx *stream.Context, opts *stream.Options, oauth bool) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	set := func(path string, value any) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, path, value)
	}

	set("model", model)
	set("stream", true)
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	set("max_tokens", maxTokens)
	if opts.Temperature != nil {
		set("temperature", *opts.Temperature)
	}

	// System prompt is an array of text blocks; the OAuth identity block
	// always comes first.
	var systemBlocks []map[string]any
	if oauth {
		systemBlocks = append(systemBlocks, map[string]any{"type": "text", "text": claudeSpoofPrompt})
	}
	if reqCtx.SystemPrompt != "" {
		systemBlocks = append(systemBlocks, map[string]any{"type": "text", "text": reqCtx.SystemPrompt})
	}
	if len(systemBlocks) > 0 {
		set("system", systemBlocks)
	}

	if opts.ThinkingBudget > 0 {
		set("thinking.type", "enabled")
		set("thinking.budget_tokens", opts.ThinkingBudget)
	}

	switch opts.ToolChoice {
	case stream.ToolChoiceNone:
		set("tool_choice.type", "none")
	case stream.ToolChoiceRequired:
		set("tool_choice.type", "any")
	case stream.ToolChoiceAuto:
		set("tool_choice.type", "auto")
	}

	if len(reqCtx.Tools) > 0 {
		tools := make([]map[string]any, 0, len(reqCtx.Tools))
		for _, t := range reqCtx.Tools {
			params := t.Parameters
			if params == nil {
				params = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": params,
			})
		}
		set("tools", tools)
	}

	set("messages", renderMessages(reqCtx.Messages))
	return body, err
}

func renderMessages(msgs []stream.Message) []map[string]any {
	turns := transform.Turns(msgs, claudeCaps)
	out := make([]map[string]any, 0, len(turns))
	for _, turn := range turns {
		var content []map[string]any
		// Tool results lead the user turn so they directly answer the
		// preceding assistant tool calls.
		for _, res := range turn.Results {
			content = append(content, renderToolResult(res))
		}
		for _, c := range turn.Blocks {
			if rendered := renderBlock(c); rendered != nil {
				content = append(content, rendered)
			}
		}
		if len(content) == 0 {
			continue
		}
		out = append(out, map[string]any{"role": string(turn.Role), "content": content})
	}
	return out
}

func renderToolResult(res transform.ToolResult) map[string]any {
	inner := make([]map[string]any, 0, len(res.Blocks))
	for _, c := range res.Blocks {
		switch c.Type {
		case stream.ContentText:
			inner = append(inner, map[string]any{"type": "text", "text": c.Text})
		case stream.ContentImage:
			inner = append(inner, map[string]any{
				"type":   "image",
				"source": map[string]any{"type": "base64", "media_type": c.MimeType, "data": c.Data},
			})
		}
	}
	if len(inner) == 0 {
		inner = append(inner, map[string]any{"type": "text", "text": ""})
	}
	result := map[string]any{
		"type":        "tool_result",
		"tool_use_id": res.ToolCallID,
		"content":     inner,
	}
	if res.IsError {
		result["is_error"] = true
	}
	return result
}

func renderBlock(c stream.Content) map[string]any {
	switch c.Type {
	case stream.ContentText:
		return map[string]any{"type": "text", "text": c.Text}
	case stream.ContentThinking:
		block := map[string]any{"type": "thinking", "thinking": c.Thinking}
		if c.Signature != "" {
			block["signature"] = c.Signature
		}
		return block
	case stream.ContentToolCall:
		return map[string]any{"type": "tool_use", "id": c.ID, "name": c.Name, "input": c.Arguments}
	case stream.ContentImage:
		return map[string]any{
			"type":   "image",
			"source": map[string]any{"type": "base64", "media_type": c.MimeType, "data": c.Data},
		}
	}
	return nil
}
