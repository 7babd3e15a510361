package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/modelstream/internal/provider/common"
	"github.com/router-for-me/modelstream/internal/registry"
	"github.com/router-for-me/modelstream/internal/retry"
	"github.com/router-for-me/modelstream/internal/sse"
	"github.com/router-for-me/modelstream/internal/transform"
	"github.com/router-for-me/modelstream/sdk/stream"
)

// Chat Completions has no per-block wire indexes for content, so the adapter
// reserves synthetic builder keys for the single text and reasoning streams.
// Tool calls keep their wire index as-is; wire indexes are nonnegative, so
// they cannot collide with the reserved keys.
const (
	chatTextKey      = -1
	chatReasoningKey = -2
)

// ChatAdapter implements the Chat Completions streaming protocol: a single
// choice whose delta object carries content, reasoning_content and indexed
// tool_calls fragments.
type ChatAdapter struct{}

// NewChat returns the Chat Completions adapter.
func NewChat() *ChatAdapter { return &ChatAdapter{} }

// Identifier returns the provider identifier.
func (a *ChatAdapter) Identifier() string { return "openai-chat" }

// Stream opens one chat completion.
func (a *ChatAdapter) Stream(ctx context.Context, model string, reqCtx *stream.Context, opts *stream.Options) *stream.EventStream {
	s := stream.NewEventStream()
	b := stream.NewMessageBuilder(s, a.Identifier(), "openai-chat-completions", model)
	b.SetTools(reqCtx.Tools)
	go common.Run(ctx, b, registry.PricingFor(model), common.PolicyFromOptions(opts), func(ctx context.Context, b *stream.MessageBuilder) (stream.StopReason, error) {
		return a.attempt(ctx, b, model, reqCtx, opts)
	})
	return s
}

func (a *ChatAdapter) attempt(ctx context.Context, b *stream.MessageBuilder, model string, reqCtx *stream.Context, opts *stream.Options) (stream.StopReason, error) {
	payload, err := buildChatRequest(model, reqCtx, opts)
	if err != nil {
		return "", fmt.Errorf("openai chat: build request: %w", err)
	}

	wctx, watchdog := retry.NewWatchdog(ctx, common.IdleTimeout(opts))
	defer watchdog.Stop()

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(wctx, http.MethodPost, baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+opts.APIKey)

	body, err := common.Send(common.Client(opts), req)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	scanner := sse.NewScanner(body)
	finishReason := ""
	for {
		ev, errNext := scanner.Next()
		if errNext == io.EOF {
			break
		}
		if errNext != nil {
			if cause := context.Cause(wctx); cause != nil && errors.Is(cause, retry.ErrIdleTimeout) {
				return "", cause
			}
			return "", errNext
		}
		watchdog.Reset()

		if bytes.Equal(bytes.TrimSpace(ev.Data), []byte("[DONE]")) {
			break
		}
		chunk := gjson.ParseBytes(ev.Data)
		if errObj := chunk.Get("error"); errObj.Exists() {
			return "", fmt.Errorf("openai chat API error (%s): %s", errObj.Get("type").String(), errObj.Get("message").String())
		}

		if u := chunk.Get("usage"); u.Exists() && u.Get("total_tokens").Int() > 0 {
			cached := u.Get("prompt_tokens_details.cached_tokens").Int()
			b.SetUsage(stream.Usage{
				Input:       u.Get("prompt_tokens").Int() - cached,
				Output:      u.Get("completion_tokens").Int(),
				CacheRead:   cached,
				TotalTokens: u.Get("total_tokens").Int(),
			})
		}

		choice := chunk.Get("choices.0")
		if !choice.Exists() {
			continue
		}
		if fr := choice.Get("finish_reason"); fr.Exists() && fr.String() != "" {
			finishReason = fr.String()
		}
		consumeChatDelta(b, choice.Get("delta"))
	}
	b.EndBlockIfOpen(chatReasoningKey)
	b.EndBlockIfOpen(chatTextKey)
	if finishReason == "" {
		return stream.StopReasonStop, nil
	}
	return normalizeFinishReason(finishReason), nil
}

func consumeChatDelta(b *stream.MessageBuilder, delta gjson.Result) {
	if rc := delta.Get("reasoning_content"); rc.Exists() && rc.String() != "" {
		b.Thinking(chatReasoningKey, rc.String())
	}
	if content := delta.Get("content"); content.Exists() && content.String() != "" {
		b.EndBlockIfOpen(chatReasoningKey)
		b.Text(chatTextKey, content.String())
	}
	delta.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
		b.EndBlockIfOpen(chatReasoningKey)
		b.EndBlockIfOpen(chatTextKey)
		key := int(call.Get("index").Int())
		if fn := call.Get("function.name"); fn.Exists() && fn.String() != "" {
			id := call.Get("id").String()
			if id == "" {
				id = fmt.Sprintf("call_%d", key)
			}
			b.StartToolCall(key, id, fn.String())
		}
		if args := call.Get("function.arguments"); args.Exists() && args.String() != "" {
			b.ToolCallArgs(key, args.String())
		}
		return true
	})
}

// normalizeFinishReason maps Chat Completions finish reasons onto the
// canonical taxonomy. Unknown values panic.
func normalizeFinishReason(s string) stream.StopReason {
	switch s {
	case "stop":
		return stream.StopReasonStop
	case "length":
		return stream.StopReasonLength
	case "tool_calls", "function_call":
		return stream.StopReasonToolUse
	case "content_filter":
		return stream.StopReasonSafety
	default:
		return stream.UnmappedStopReason("openai-chat", s)
	}
}

// buildChatRequest renders the Chat Completions payload.
func buildChatRequest(model string, reqCtx *stream.Context, opts *stream.Options) ([]byte, error) {
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
	set("stream_options.include_usage", true)
	if opts.MaxTokens > 0 {
		set("max_completion_tokens", opts.MaxTokens)
	}
	if opts.Temperature != nil {
		set("temperature", *opts.Temperature)
	}
	if opts.Reasoning != stream.ReasoningOff && supportsReasoning(model) {
		set("reasoning_effort", string(opts.Reasoning))
	}
	switch opts.ToolChoice {
	case stream.ToolChoiceNone:
		set("tool_choice", "none")
	case stream.ToolChoiceRequired:
		set("tool_choice", "required")
	case stream.ToolChoiceAuto:
		set("tool_choice", "auto")
	}
	if len(reqCtx.Tools) > 0 {
		tools := make([]map[string]any, 0, len(reqCtx.Tools))
		for _, t := range reqCtx.Tools {
			params := t.Parameters
			if params == nil {
				params = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  params,
				},
			})
		}
		set("tools", tools)
	}
	set("messages", renderChatMessages(reqCtx))
	return body, err
}

func renderChatMessages(reqCtx *stream.Context) []map[string]any {
	var out []map[string]any
	if reqCtx.SystemPrompt != "" {
		out = append(out, map[string]any{"role": "system", "content": reqCtx.SystemPrompt})
	}
	turns := transform.Turns(reqCtx.Messages, openaiCaps)
	for _, turn := range turns {
		// Tool results become their own role:"tool" messages ahead of the
		// user's next turn.
		for _, res := range turn.Results {
			out = append(out, map[string]any{
				"role":         "tool",
				"tool_call_id": res.ToolCallID,
				"content":      toolResultText(res),
			})
		}
		if len(turn.Blocks) == 0 {
			continue
		}
		if turn.Role == stream.RoleAssistant {
			out = append(out, renderChatAssistant(turn.Blocks))
			continue
		}
		out = append(out, map[string]any{"role": "user", "content": renderChatUserContent(turn.Blocks)})
	}
	return out
}

func renderChatUserContent(blocks []stream.Content) []map[string]any {
	content := make([]map[string]any, 0, len(blocks))
	for _, c := range blocks {
		switch c.Type {
		case stream.ContentText:
			content = append(content, map[string]any{"type": "text", "text": c.Text})
		case stream.ContentImage:
			content = append(content, map[string]any{
				"type": "image_url",
				"image_url": map[string]any{
					"url": fmt.Sprintf("data:%s;base64,%s", c.MimeType, c.Data),
				},
			})
		}
	}
	return content
}

func renderChatAssistant(blocks []stream.Content) map[string]any {
	msg := map[string]any{"role": "assistant"}
	var text string
	var calls []map[string]any
	for _, c := range blocks {
		switch c.Type {
		case stream.ContentText:
			text += c.Text
		case stream.ContentToolCall:
			args, marshalErr := marshalArguments(c.Arguments)
			if marshalErr != nil {
				args = "{}"
			}
			calls = append(calls, map[string]any{
				"id":   c.ID,
				"type": "function",
				"function": map[string]any{
					"name":      c.Name,
					"arguments": args,
				},
			})
		}
	}
	if text != "" {
		msg["content"] = text
	}
	if len(calls) > 0 {
		msg["tool_calls"] = calls
	}
	return msg
}

// marshalArguments serializes a tool call's parsed arguments back to the JSON
// string form both OpenAI protocols use on input.
func marshalArguments(args map[string]any) (string, error) {
	if args == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
