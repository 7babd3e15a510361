// Package bedrock streams from the AWS Bedrock ConverseStream API. Bedrock
// frames its events in the AWS event-stream binary format rather than SSE,
// and emits the first text delta of a block without an explicit block start.
package bedrock

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/router-for-me/modelstream/internal/provider/common"
	"github.com/router-for-me/modelstream/internal/registry"
	"github.com/router-for-me/modelstream/internal/retry"
	"github.com/router-for-me/modelstream/sdk/stream"
)

// Adapter implements the ConverseStream protocol with bearer-token auth
// (Bedrock API keys).
type Adapter struct{}

// New returns the adapter.
func New() *Adapter { return &Adapter{} }

// Identifier returns the provider identifier.
func (a *Adapter) Identifier() string { return "bedrock" }

// Stream opens one ConverseStream invocation.
func (a *Adapter) Stream(ctx context.Context, model string, reqCtx *stream.Context, opts *stream.Options) *stream.EventStream {
	s := stream.NewEventStream()
	b := stream.NewMessageBuilder(s, a.Identifier(), "bedrock-converse-stream", model)
	b.SetTools(reqCtx.Tools)
	go common.Run(ctx, b, registry.PricingFor(model), common.PolicyFromOptions(opts), func(ctx context.Context, b *stream.MessageBuilder) (stream.StopReason, error) {
		return a.attempt(ctx, b, model, reqCtx, opts)
	})
	return s
}

func (a *Adapter) endpoint(model string, opts *stream.Options) string {
	base := opts.BaseURL
	if base == "" {
		region := opts.Region
		if region == "" {
			region = "us-east-1"
		}
		base = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", region)
	}
	return fmt.Sprintf("%s/model/%s/converse-stream", base, url.PathEscape(model))
}

func (a *Adapter) attempt(ctx context.Context, b *stream.MessageBuilder, model string, reqCtx *stream.Context, opts *stream.Options) (stream.StopReason, error) {
	payload, err := buildRequest(reqCtx, opts)
	if err != nil {
		return "", fmt.Errorf("bedrock: build request: %w", err)
	}

	wctx, watchdog := retry.NewWatchdog(ctx, common.IdleTimeout(opts))
	defer watchdog.Stop()

	req, err := http.NewRequestWithContext(wctx, http.MethodPost, a.endpoint(model, opts), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.amazon.eventstream")
	req.Header.Set("Authorization", "Bearer "+opts.APIKey)

	body, err := common.Send(common.Client(opts), req)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	reader := bufio.NewReaderSize(body, 1024*1024)
	stopReason := stream.StopReasonStop
	// Indexes whose contentBlockStart carried a shape we do not normalize;
	// their deltas and stop must be dropped rather than reach the builder.
	ignored := make(map[int]bool)
	for {
		f, errRead := readFrame(reader)
		if errRead != nil {
			if cause := context.Cause(wctx); cause != nil && errors.Is(cause, retry.ErrIdleTimeout) {
				return "", cause
			}
			return "", errRead
		}
		if f == nil {
			break
		}
		watchdog.Reset()

		if f.MessageType == "exception" || f.ExceptionType != "" {
			return "", exceptionError(f)
		}

		data := gjson.ParseBytes(f.Payload)
		switch f.EventType {
		case "messageStart":
		case "contentBlockStart":
			idx := int(data.Get("contentBlockIndex").Int())
			if tu := data.Get("start.toolUse"); tu.Exists() {
				b.StartToolCall(idx, tu.Get("toolUseId").String(), tu.Get("name").String())
			} else {
				log.Debugf("bedrock: ignoring block start shape: %s", data.Get("start").Raw)
				ignored[idx] = true
			}
		case "contentBlockDelta":
			idx := int(data.Get("contentBlockIndex").Int())
			if ignored[idx] {
				continue
			}
			delta := data.Get("delta")
			switch {
			case delta.Get("text").Exists():
				// Bedrock omits the explicit start for text blocks; the
				// builder materializes it on first delta.
				b.Text(idx, delta.Get("text").String())
			case delta.Get("reasoningContent.text").Exists():
				b.Thinking(idx, delta.Get("reasoningContent.text").String())
			case delta.Get("reasoningContent.signature").Exists():
				b.ThinkingSignature(idx, delta.Get("reasoningContent.signature").String())
			case delta.Get("toolUse.input").Exists():
				b.ToolCallArgs(idx, delta.Get("toolUse.input").String())
			default:
				log.Debugf("bedrock: ignoring delta shape: %s", delta.Raw)
			}
		case "contentBlockStop":
			idx := int(data.Get("contentBlockIndex").Int())
			if ignored[idx] {
				delete(ignored, idx)
				continue
			}
			b.EndBlockIfOpen(idx)
		case "messageStop":
			if sr := data.Get("stopReason").String(); sr != "" {
				stopReason = normalizeStopReason(sr)
			}
		case "metadata":
			if u := data.Get("usage"); u.Exists() {
				b.SetUsage(stream.Usage{
					Input:       u.Get("inputTokens").Int(),
					Output:      u.Get("outputTokens").Int(),
					CacheRead:   u.Get("cacheReadInputTokens").Int(),
					CacheWrite:  u.Get("cacheWriteInputTokens").Int(),
					TotalTokens: u.Get("totalTokens").Int(),
				})
			}
		default:
			log.Debugf("bedrock: ignoring event type %q", f.EventType)
		}
	}
	return stopReason, nil
}

// exceptionError maps Bedrock's named exception frames onto errors the retry
// classifier understands.
func exceptionError(f *frame) error {
	message := gjson.GetBytes(f.Payload, "message").String()
	name := f.ExceptionType
	if name == "" {
		name = "unknownException"
	}
	switch name {
	case "throttlingException":
		return &retry.HTTPStatusError{StatusCode: http.StatusTooManyRequests, Body: fmt.Sprintf("bedrock %s: %s", name, message)}
	case "internalServerException", "modelStreamErrorException":
		return &retry.HTTPStatusError{StatusCode: http.StatusInternalServerError, Body: fmt.Sprintf("bedrock %s: %s", name, message)}
	case "serviceUnavailableException":
		return &retry.HTTPStatusError{StatusCode: http.StatusServiceUnavailable, Body: fmt.Sprintf("bedrock %s: %s", name, message)}
	case "modelTimeoutException":
		return &retry.HTTPStatusError{StatusCode: http.StatusRequestTimeout, Body: fmt.Sprintf("bedrock %s: %s", name, message)}
	default:
		// validationException and anything unrecognized: terminal.
		return fmt.Errorf("bedrock %s: %s", name, message)
	}
}

// normalizeStopReason maps ConverseStream's stop vocabulary onto the
// canonical taxonomy. Unknown values panic.
func normalizeStopReason(s string) stream.StopReason {
	switch s {
	case "end_turn", "stop_sequence":
		return stream.StopReasonStop
	case "max_tokens":
		return stream.StopReasonLength
	case "tool_use":
		return stream.StopReasonToolUse
	case "guardrail_intervened", "content_filtered":
		return stream.StopReasonSafety
	default:
		return stream.UnmappedStopReason("bedrock", s)
	}
}
