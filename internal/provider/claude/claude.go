// Package claude streams from the Anthropic Messages API and normalizes its
// SSE protocol (content_block_start/delta/stop, message_delta) into canonical
// events.
package claude

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/router-for-me/modelstream/internal/provider/common"
	"github.com/router-for-me/modelstream/internal/registry"
	"github.com/router-for-me/modelstream/internal/retry"
	"github.com/router-for-me/modelstream/internal/sse"
	"github.com/router-for-me/modelstream/sdk/stream"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
	oauthBetaHeader  = "oauth-2025-04-20"
)

// Adapter implements the Anthropic Messages streaming protocol.
type Adapter struct{}

// New returns the adapter.
func New() *Adapter { return &Adapter{} }

// Identifier returns the provider identifier.
func (a *Adapter) Identifier() string { return "claude" }

// Stream opens one Messages invocation.
func (a *Adapter) Stream(ctx context.Context, model string, reqCtx *stream.Context, opts *stream.Options) *stream.EventStream {
	s := stream.NewEventStream()
	b := stream.NewMessageBuilder(s, a.Identifier(), "anthropic-messages", model)
	b.SetTools(reqCtx.Tools)
	go common.Run(ctx, b, registry.PricingFor(model), common.PolicyFromOptions(opts), func(ctx context.Context, b *stream.MessageBuilder) (stream.StopReason, error) {
		return a.attempt(ctx, b, model, reqCtx, opts)
	})
	return s
}

func (a *Adapter) attempt(ctx context.Context, b *stream.MessageBuilder, model string, reqCtx *stream.Context, opts *stream.Options) (stream.StopReason, error) {
	oauth := opts.OAuthToken != nil && opts.APIKey == ""
	payload, err := buildRequest(model, reqCtx, opts, oauth)
	if err != nil {
		return "", fmt.Errorf("claude: build request: %w", err)
	}

	wctx, watchdog := retry.NewWatchdog(ctx, common.IdleTimeout(opts))
	defer watchdog.Stop()

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(wctx, http.MethodPost, baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicVersion)
	if oauth {
		req.Header.Set("Authorization", "Bearer "+opts.OAuthToken.AccessToken)
		req.Header.Set("anthropic-beta", oauthBetaHeader)
	} else {
		req.Header.Set("x-api-key", opts.APIKey)
	}

	body, err := common.Send(common.Client(opts), req)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	scanner := sse.NewScanner(body)
	stopReason := stream.StopReasonStop
	sawMessageDelta := false
	// Indexes whose content_block_start carried a type we do not normalize;
	// their deltas and stop must be dropped rather than reach the builder.
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
		case "ping":
		case "message_start":
			b.SetUsage(parseUsage(data.Get("message.usage")))
		case "content_block_start":
			idx := int(data.Get("index").Int())
			block := data.Get("content_block")
			switch block.Get("type").String() {
			case "text":
				b.StartText(idx)
			case "thinking", "redacted_thinking":
				b.StartThinking(idx)
			case "tool_use":
				b.StartToolCall(idx, block.Get("id").String(), block.Get("name").String())
			default:
				log.Debugf("claude: ignoring content block type %q", block.Get("type").String())
				ignored[idx] = true
			}
		case "content_block_delta":
			idx := int(data.Get("index").Int())
			if ignored[idx] {
				continue
			}
			delta := data.Get("delta")
			switch delta.Get("type").String() {
			case "text_delta":
				b.Text(idx, delta.Get("text").String())
			case "thinking_delta":
				b.Thinking(idx, delta.Get("thinking").String())
			case "signature_delta":
				b.ThinkingSignature(idx, delta.Get("signature").String())
			case "input_json_delta":
				b.ToolCallArgs(idx, delta.Get("partial_json").String())
			default:
				log.Debugf("claude: ignoring delta type %q", delta.Get("type").String())
			}
		case "content_block_stop":
			idx := int(data.Get("index").Int())
			if ignored[idx] {
				delete(ignored, idx)
				continue
			}
			b.EndBlockIfOpen(idx)
		case "message_delta":
			sawMessageDelta = true
			if sr := data.Get("delta.stop_reason"); sr.Exists() && sr.String() != "" {
				stopReason = normalizeStopReason(sr.String())
			}
			if u := data.Get("usage"); u.Exists() {
				merged := b.Message().Usage
				applyUsage(&merged, u)
				b.SetUsage(merged)
			}
		case "message_stop":
		case "error":
			errObj := data.Get("error")
			return "", fmt.Errorf("claude API error (%s): %s", errObj.Get("type").String(), errObj.Get("message").String())
		default:
			log.Debugf("claude: ignoring event type %q", eventType)
		}
	}
	if !sawMessageDelta {
		log.Warnf("claude: stream ended without message_delta, assuming stop")
	}
	return stopReason, nil
}

func parseUsage(u gjson.Result) stream.Usage {
	var out stream.Usage
	applyUsage(&out, u)
	return out
}

// applyUsage overlays the counters present in a usage snapshot, leaving
// absent fields at their previous values: Anthropic omits input counters on
// message_delta.
func applyUsage(dst *stream.Usage, u gjson.Result) {
	if v := u.Get("input_tokens"); v.Exists() {
		dst.Input = v.Int()
	}
	if v := u.Get("output_tokens"); v.Exists() {
		dst.Output = v.Int()
	}
	if v := u.Get("cache_read_input_tokens"); v.Exists() {
		dst.CacheRead = v.Int()
	}
	if v := u.Get("cache_creation_input_tokens"); v.Exists() {
		dst.CacheWrite = v.Int()
	}
	dst.TotalTokens = dst.Input + dst.Output + dst.CacheRead + dst.CacheWrite
}

// normalizeStopReason maps the Messages API finish vocabulary onto the
// canonical taxonomy. Unknown values panic: see stream.UnmappedStopReason.
func normalizeStopReason(s string) stream.StopReason {
	switch s {
	case "end_turn", "stop_sequence", "pause_turn":
		return stream.StopReasonStop
	case "max_tokens", "model_context_window_exceeded":
		return stream.StopReasonLength
	case "tool_use":
		return stream.StopReasonToolUse
	case "refusal":
		return stream.StopReasonSafety
	default:
		return stream.UnmappedStopReason("claude", s)
	}
}
