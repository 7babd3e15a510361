package gemini

import (
	"github.com/tidwall/sjson"

	"github.com/router-for-me/modelstream/internal/registry"
	"github.com/router-for-me/modelstream/internal/transform"
	"github.com/router-for-me/modelstream/sdk/stream"
)

var geminiCaps = transform.Caps{
	SupportsImages:   true,
	MergeConsecutive: true, // the API requires strict role alternation
	SanitizeToolIDs:  true,
}

// buildRequest renders the GenerateContent request body. The same body
// serves all three variants; Cloud Code Assist wraps it afterwards.
func buildRequest(v Variant, model string, reqCtx *stream.Context, opts *stream.Options) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	set := func(path string, value any) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, path, value)
	}

	if reqCtx.SystemPrompt != "" {
		set("systemInstruction.parts", []map[string]any{{"text": reqCtx.SystemPrompt}})
	}
	if opts.Temperature != nil {
		set("generationConfig.temperature", *opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		set("generationConfig.maxOutputTokens", opts.MaxTokens)
	}
	if opts.ThinkingBudget > 0 {
		set("generationConfig.thinkingConfig.includeThoughts", true)
		set("generationConfig.thinkingConfig.thinkingBudget", opts.ThinkingBudget)
	}

	if len(reqCtx.Tools) > 0 {
		decls := make([]map[string]any, 0, len(reqCtx.Tools))
		for _, t := range reqCtx.Tools {
			params := t.Parameters
			if params == nil {
				params = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			decls = append(decls, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			})
		}
		set("tools", []map[string]any{{"functionDeclarations": decls}})
		switch opts.ToolChoice {
		case stream.ToolChoiceNone:
			set("toolConfig.functionCallingConfig.mode", "NONE")
		case stream.ToolChoiceRequired:
			set("toolConfig.functionCallingConfig.mode", "ANY")
		case stream.ToolChoiceAuto:
			set("toolConfig.functionCallingConfig.mode", "AUTO")
		}
	}

	set("contents", renderContents(v, model, reqCtx))
	return body, err
}

func renderContents(v Variant, model string, reqCtx *stream.Context) []map[string]any {
	info := registry.Get(model)
	multimodalResponses := info != nil && info.MultimodalFunctionResponses
	toolNames := callNamesByID(reqCtx.Messages)

	turns := transform.Turns(reqCtx.Messages, geminiCaps)
	out := make([]map[string]any, 0, len(turns))
	for _, turn := range turns {
		role := "user"
		if turn.Role == stream.RoleAssistant {
			role = "model"
		}
		var parts []map[string]any
		for _, res := range turn.Results {
			parts = append(parts, renderToolResult(v, res, toolNames, multimodalResponses)...)
		}
		for _, c := range turn.Blocks {
			if p := renderPart(v, c); p != nil {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, map[string]any{"role": role, "parts": parts})
	}
	return out
}

// callNamesByID indexes assistant tool calls so function responses can carry
// the function name the API requires.
func callNamesByID(msgs []stream.Message) map[string]string {
	names := make(map[string]string)
	for _, m := range msgs {
		if m.Role != stream.RoleAssistant {
			continue
		}
		for _, c := range m.Content {
			if c.Type == stream.ContentToolCall {
				names[transform.SanitizeID(c.ID)] = c.Name
			}
		}
	}
	return names
}

func renderToolResult(v Variant, res transform.ToolResult, toolNames map[string]string, multimodal bool) []map[string]any {
	name := toolNames[res.ToolCallID]
	if name == "" {
		name = res.ToolCallID
	}

	var text string
	var images []stream.Content
	for _, c := range res.Blocks {
		switch c.Type {
		case stream.ContentText:
			text += c.Text
		case stream.ContentImage:
			images = append(images, c)
		}
	}

	response := map[string]any{}
	if res.IsError {
		response["error"] = text
	} else {
		response["output"] = text
	}

	fr := map[string]any{"name": name, "response": response}
	if v != VariantVertex {
		fr["id"] = res.ToolCallID
	}

	if multimodal && len(images) > 0 {
		// Gemini-3-style models take the images nested inside the function
		// response itself.
		nested := make([]map[string]any, 0, len(images))
		for _, img := range images {
			nested = append(nested, map[string]any{
				"inlineData": map[string]any{"mimeType": img.MimeType, "data": img.Data},
			})
		}
		response["parts"] = nested
		return []map[string]any{{"functionResponse": fr}}
	}

	parts := []map[string]any{{"functionResponse": fr}}
	// Older models want the images as sibling parts after the response.
	for _, img := range images {
		parts = append(parts, map[string]any{
			"inlineData": map[string]any{"mimeType": img.MimeType, "data": img.Data},
		})
	}
	return parts
}

func renderPart(v Variant, c stream.Content) map[string]any {
	switch c.Type {
	case stream.ContentText:
		return map[string]any{"text": c.Text}
	case stream.ContentThinking:
		part := map[string]any{"text": c.Thinking, "thought": true}
		if c.Signature != "" && v != VariantVertex {
			part["thoughtSignature"] = c.Signature
		}
		return part
	case stream.ContentToolCall:
		call := map[string]any{"name": c.Name, "args": c.Arguments}
		if v != VariantVertex {
			call["id"] = c.ID
		}
		return map[string]any{"functionCall": call}
	case stream.ContentImage:
		return map[string]any{
			"inlineData": map[string]any{"mimeType": c.MimeType, "data": c.Data},
		}
	}
	return nil
}
