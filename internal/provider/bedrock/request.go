package bedrock

import (
	"strings"

	"github.com/tidwall/sjson"

	"github.com/router-for-me/modelstream/internal/transform"
	"github.com/router-for-me/modelstream/sdk/stream"
)

var bedrockCaps = transform.Caps{
	SupportsImages:   true,
	MergeConsecutive: true,
	SanitizeToolIDs:  true,
}

// buildRequest renders the ConverseStream payload.
func buildRequest(reqCtx *stream.Context, opts *stream.Options) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	set := func(path string, value any) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, path, value)
	}

	if reqCtx.SystemPrompt != "" {
		set("system", []map[string]any{{"text": reqCtx.SystemPrompt}})
	}
	if opts.MaxTokens > 0 {
		set("inferenceConfig.maxTokens", opts.MaxTokens)
	}
	if opts.Temperature != nil {
		set("inferenceConfig.temperature", *opts.Temperature)
	}
	if opts.ThinkingBudget > 0 {
		set("additionalModelRequestFields.thinking.type", "enabled")
		set("additionalModelRequestFields.thinking.budget_tokens", opts.ThinkingBudget)
	}

	if len(reqCtx.Tools) > 0 {
		tools := make([]map[string]any, 0, len(reqCtx.Tools))
		for _, t := range reqCtx.Tools {
			params := t.Parameters
			if params == nil {
				params = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			tools = append(tools, map[string]any{
				"toolSpec": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"inputSchema": map[string]any{"json": params},
				},
			})
		}
		set("toolConfig.tools", tools)
		switch opts.ToolChoice {
		case stream.ToolChoiceRequired:
			set("toolConfig.toolChoice.any", map[string]any{})
		case stream.ToolChoiceAuto:
			set("toolConfig.toolChoice.auto", map[string]any{})
		}
	}

	set("messages", renderMessages(reqCtx.Messages))
	return body, err
}

func renderMessages(msgs []stream.Message) []map[string]any {
	turns := transform.Turns(msgs, bedrockCaps)
	out := make([]map[string]any, 0, len(turns))
	for _, turn := range turns {
		var content []map[string]any
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
			inner = append(inner, map[string]any{"text": c.Text})
		case stream.ContentImage:
			inner = append(inner, map[string]any{
				"image": map[string]any{
					"format": imageFormat(c.MimeType),
					"source": map[string]any{"bytes": c.Data},
				},
			})
		}
	}
	if len(inner) == 0 {
		inner = append(inner, map[string]any{"text": ""})
	}
	status := "success"
	if res.IsError {
		status = "error"
	}
	return map[string]any{
		"toolResult": map[string]any{
			"toolUseId": res.ToolCallID,
			"content":   inner,
			"status":    status,
		},
	}
}

func renderBlock(c stream.Content) map[string]any {
	switch c.Type {
	case stream.ContentText:
		return map[string]any{"text": c.Text}
	case stream.ContentThinking:
		block := map[string]any{"reasoningText": map[string]any{"text": c.Thinking}}
		if c.Signature != "" {
			block["reasoningText"].(map[string]any)["signature"] = c.Signature
		}
		return map[string]any{"reasoningContent": block}
	case stream.ContentToolCall:
		return map[string]any{
			"toolUse": map[string]any{"toolUseId": c.ID, "name": c.Name, "input": c.Arguments},
		}
	case stream.ContentImage:
		return map[string]any{
			"image": map[string]any{
				"format": imageFormat(c.MimeType),
				"source": map[string]any{"bytes": c.Data},
			},
		}
	}
	return nil
}

// imageFormat derives Bedrock's bare format token from a MIME type.
func imageFormat(mimeType string) string {
	format := strings.TrimPrefix(mimeType, "image/")
	if format == "jpg" {
		format = "jpeg"
	}
	if format == "" {
		format = "png"
	}
	return format
}
