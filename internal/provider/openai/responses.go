// Package openai streams from the OpenAI Responses API and the older Chat
// Completions API. The two protocols share nothing on the wire beyond SSE
// framing, so each gets its own adapter.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/modelstream/internal/provider/common"
	"github.com/router-for-me/modelstream/internal/registry"
	"github.com/router-for-me/modelstream/internal/retry"
	"github.com/router-for-me/modelstream/internal/sse"
	"github.com/router-for-me/modelstream/internal/transform"
	"github.com/router-for-me/modelstream/sdk/stream"
)

const defaultBaseURL = "https://api.openai.com"

var openaiCaps = transform.Caps{
	SupportsImages:   true,
	MergeConsecutive: false,
	SanitizeToolIDs:  false,
}

// ResponsesAdapter implements the Responses streaming protocol: items with
// added/done lifecycle events carrying message, function_call and reasoning
// payloads.
type ResponsesAdapter struct{}

// NewResponses returns the Responses adapter.
func NewResponses() *ResponsesAdapter { return &ResponsesAdapter{} }

// Identifier returns the provider identifier.
func (a *ResponsesAdapter) Identifier() string { return "openai-responses" }

// supportsReasoning reports whether a model accepts the reasoning request
// field. The chat-tuned variants (gpt-5-chat and friends) reject it, a
// documented provider quirk.
func supportsReasoning(model string) bool {
	return !strings.Contains(model, "-chat")
}

// Stream opens one Responses invocation.
func (a *ResponsesAdapter) Stream(ctx context.Context, model string, reqCtx *stream.Context, opts *stream.Options) *stream.EventStream {
	s := stream.NewEventStream()
	b := stream.NewMessageBuilder(s, a.Identifier(), "openai-responses", model)
	b.SetTools(reqCtx.Tools)
	go common.Run(ctx, b, registry.PricingFor(model), common.PolicyFromOptions(opts), func(ctx context.Context, b *stream.MessageBuilder) (stream.StopReason, error) {
		return a.attempt(ctx, b, model, reqCtx, opts)
	})
	return s
}

func (a *ResponsesAdapter) attempt(ctx context.Context, b *stream.MessageBuilder, model string, reqCtx *stream.Context, opts *stream.Options) (stream.StopReason, error) {
	payload, err := buildResponsesRequest(model, reqCtx, opts)
	if err != nil {
		return "", fmt.Errorf("openai responses: build request: %w", err)
	}

	wctx, watchdog := retry.NewWatchdog(ctx, common.IdleTimeout(opts))
	defer watchdog.Stop()

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(wctx, http.MethodPost, baseURL+"/v1/responses", bytes.NewReader(payload))
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
	sawFunctionCall := false
	stopReason := stream.StopReasonStop
	// Output indexes whose added item carried a type we do not normalize;
	// their deltas and done must be dropped rather than reach the builder.
	ignored := make(map[int]bool)
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

		data := gjson.ParseBytes(ev.Data)
		eventType := ev.Event
		if eventType == "" {
			eventType = data.Get("type").String()
		}
		switch eventType {
		case "response.created", "response.in_progress", "response.content_part.added", "response.content_part.done", "response.output_text.done", "response.reasoning_summary_part.added", "response.reasoning_summary_part.done", "response.reasoning_summary_text.done", "response.function_call_arguments.done":
			// Lifecycle noise: the added/done item events and the deltas
			// carry everything the canonical model needs.
		case "response.output_item.added":
			idx := int(data.Get("output_index").Int())
			item := data.Get("item")
			switch item.Get("type").String() {
			case "message":
				b.StartText(idx)
			case "reasoning":
				b.StartThinking(idx)
			case "function_call":
				sawFunctionCall = true
				id := item.Get("call_id").String()
				if id == "" {
					id = item.Get("id").String()
				}
				b.StartToolCall(idx, id, item.Get("name").String())
				if args := item.Get("arguments").String(); args != "" {
					b.ToolCallArgs(idx, args)
				}
			default:
				log.Debugf("openai responses: ignoring item type %q", item.Get("type").String())
				ignored[idx] = true
			}
		case "response.output_text.delta":
			if idx := int(data.Get("output_index").Int()); !ignored[idx] {
				b.Text(idx, data.Get("delta").String())
			}
		case "response.reasoning_summary_text.delta", "response.reasoning_text.delta":
			if idx := int(data.Get("output_index").Int()); !ignored[idx] {
				b.Thinking(idx, data.Get("delta").String())
			}
		case "response.function_call_arguments.delta":
			if idx := int(data.Get("output_index").Int()); !ignored[idx] {
				b.ToolCallArgs(idx, data.Get("delta").String())
			}
		case "response.output_item.done":
			idx := int(data.Get("output_index").Int())
			if ignored[idx] {
				delete(ignored, idx)
				continue
			}
			b.EndBlockIfOpen(idx)
		case "response.completed", "response.incomplete":
			resp := data.Get("response")
			if u := resp.Get("usage"); u.Exists() {
				cached := u.Get("input_tokens_details.cached_tokens").Int()
				b.SetUsage(stream.Usage{
					Input:       u.Get("input_tokens").Int() - cached,
					Output:      u.Get("output_tokens").Int(),
					CacheRead:   cached,
					TotalTokens: u.Get("total_tokens").Int(),
				})
			}
			stopReason = normalizeResponseStatus(resp, sawFunctionCall)
		case "response.failed":
			errObj := data.Get("response.error")
			return "", fmt.Errorf("openai responses API error (%s): %s", errObj.Get("code").String(), errObj.Get("message").String())
		case "error":
			return "", fmt.Errorf("openai responses API error: %s", data.Get("message").String())
		default:
			log.Debugf("openai responses: ignoring event type %q", eventType)
		}
	}
	return stopReason, nil
}

// normalizeResponseStatus maps a terminal response object onto the canonical
// taxonomy. Unknown statuses and incomplete reasons panic.
func normalizeResponseStatus(resp gjson.Result, sawFunctionCall bool) stream.StopReason {
	status := resp.Get("status").String()
	switch status {
	case "completed":
		if sawFunctionCall {
			return stream.StopReasonToolUse
		}
		return stream.StopReasonStop
	case "incomplete":
		switch reason := resp.Get("incomplete_details.reason").String(); reason {
		case "max_output_tokens":
			return stream.StopReasonLength
		case "content_filter":
			return stream.StopReasonSafety
		default:
			return stream.UnmappedStopReason("openai-responses", "incomplete:"+reason)
		}
	default:
		return stream.UnmappedStopReason("openai-responses", status)
	}
}

// buildResponsesRequest renders the Responses API payload.
func buildResponsesRequest(model string, reqCtx *stream.Context, opts *stream.Options) ([]byte, error) {
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
	if reqCtx.SystemPrompt != "" {
		set("instructions", reqCtx.SystemPrompt)
	}
	if opts.MaxTokens > 0 {
		set("max_output_tokens", opts.MaxTokens)
	}
	if opts.Temperature != nil {
		set("temperature", *opts.Temperature)
	}
	if opts.Reasoning != stream.ReasoningOff && supportsReasoning(model) {
		set("reasoning.effort", string(opts.Reasoning))
		set("reasoning.summary", "auto")
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
				"type":        "function",
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			})
		}
		set("tools", tools)
	}
	set("input", renderResponsesInput(reqCtx.Messages))
	return body, err
}

func renderResponsesInput(msgs []stream.Message) []map[string]any {
	turns := transform.Turns(msgs, openaiCaps)
	var items []map[string]any
	for _, turn := range turns {
		for _, res := range turn.Results {
			items = append(items, map[string]any{
				"type":    "function_call_output",
				"call_id": res.ToolCallID,
				"output":  toolResultText(res),
			})
		}
		if len(turn.Blocks) == 0 {
			continue
		}
		if turn.Role == stream.RoleAssistant {
			items = append(items, renderAssistantItems(turn.Blocks)...)
			continue
		}
		items = append(items, renderUserItem(turn.Blocks))
	}
	return items
}

func toolResultText(res transform.ToolResult) string {
	var sb strings.Builder
	for _, c := range res.Blocks {
		if c.Type == stream.ContentText {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}

func renderUserItem(blocks []stream.Content) map[string]any {
	content := make([]map[string]any, 0, len(blocks))
	for _, c := range blocks {
		switch c.Type {
		case stream.ContentText:
			content = append(content, map[string]any{"type": "input_text", "text": c.Text})
		case stream.ContentImage:
			content = append(content, map[string]any{
				"type":      "input_image",
				"image_url": fmt.Sprintf("data:%s;base64,%s", c.MimeType, c.Data),
			})
		}
	}
	return map[string]any{"type": "message", "role": "user", "content": content}
}

func renderAssistantItems(blocks []stream.Content) []map[string]any {
	var items []map[string]any
	for _, c := range blocks {
		switch c.Type {
		case stream.ContentText:
			items = append(items, map[string]any{
				"type": "message", "role": "assistant",
				"content": []map[string]any{{"type": "output_text", "text": c.Text}},
			})
		case stream.ContentToolCall:
			args, marshalErr := marshalArguments(c.Arguments)
			if marshalErr != nil {
				args = "{}"
			}
			items = append(items, map[string]any{
				"type":      "function_call",
				"call_id":   c.ID,
				"name":      c.Name,
				"arguments": args,
			})
		case stream.ContentThinking:
			// Reasoning items cannot be replayed without the provider's
			// encrypted payload; they are dropped on input.
		}
	}
	return items
}
