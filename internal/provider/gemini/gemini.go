// Package gemini streams from the Google Gemini family: the generative
// language API, Vertex AI, and the Cloud Code Assist internal surface. All
// three speak Content/Part JSON over SSE; they differ in endpoint, auth,
// request wrapping and a few field-level quirks.
package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/modelstream/internal/provider/common"
	"github.com/router-for-me/modelstream/internal/registry"
	"github.com/router-for-me/modelstream/internal/retry"
	"github.com/router-for-me/modelstream/internal/sse"
	"github.com/router-for-me/modelstream/sdk/stream"
)

// Variant selects which Gemini surface the adapter talks to.
type Variant string

const (
	VariantGenerative      Variant = "gemini"
	VariantVertex          Variant = "vertex"
	VariantCloudCodeAssist Variant = "gemini-cca"
)

const (
	generativeBaseURL = "https://generativelanguage.googleapis.com"
	ccaBaseURL        = "https://cloudcode-pa.googleapis.com"
)

// Adapter implements one Gemini variant.
type Adapter struct {
	variant Variant
}

// New returns an adapter for the given variant.
func New(v Variant) *Adapter { return &Adapter{variant: v} }

// Identifier returns the provider identifier.
func (a *Adapter) Identifier() string { return string(a.variant) }

// Stream opens one streamGenerateContent invocation.
func (a *Adapter) Stream(ctx context.Context, model string, reqCtx *stream.Context, opts *stream.Options) *stream.EventStream {
	s := stream.NewEventStream()
	b := stream.NewMessageBuilder(s, a.Identifier(), "gemini-generate-content", model)
	b.SetTools(reqCtx.Tools)
	go common.Run(ctx, b, registry.PricingFor(model), common.PolicyFromOptions(opts), func(ctx context.Context, b *stream.MessageBuilder) (stream.StopReason, error) {
		return a.attempt(ctx, b, model, reqCtx, opts)
	})
	return s
}

func (a *Adapter) endpoint(model string, opts *stream.Options) string {
	if opts.BaseURL != "" {
		return fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", opts.BaseURL, model)
	}
	switch a.variant {
	case VariantVertex:
		region := opts.Region
		if region == "" {
			region = "us-central1"
		}
		return fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:streamGenerateContent?alt=sse",
			region, opts.Project, region, model)
	case VariantCloudCodeAssist:
		return ccaBaseURL + "/v1internal:streamGenerateContent?alt=sse"
	default:
		return fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", generativeBaseURL, model)
	}
}

func (a *Adapter) attempt(ctx context.Context, b *stream.MessageBuilder, model string, reqCtx *stream.Context, opts *stream.Options) (stream.StopReason, error) {
	payload, err := buildRequest(a.variant, model, reqCtx, opts)
	if err != nil {
		return "", fmt.Errorf("gemini: build request: %w", err)
	}
	if a.variant == VariantCloudCodeAssist {
		// Cloud Code Assist wraps the generative request in an envelope
		// naming the model and project.
		wrapped := []byte(`{}`)
		wrapped, _ = sjson.SetBytes(wrapped, "model", model)
		if opts.Project != "" {
			wrapped, _ = sjson.SetBytes(wrapped, "project", opts.Project)
		}
		wrapped, _ = sjson.SetRawBytes(wrapped, "request", payload)
		payload = wrapped
	}

	wctx, watchdog := retry.NewWatchdog(ctx, common.IdleTimeout(opts))
	defer watchdog.Stop()

	req, err := http.NewRequestWithContext(wctx, http.MethodPost, a.endpoint(model, opts), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.variant == VariantGenerative && opts.APIKey != "" {
		req.Header.Set("x-goog-api-key", opts.APIKey)
	} else if opts.OAuthToken != nil {
		req.Header.Set("Authorization", "Bearer "+opts.OAuthToken.AccessToken)
	}

	body, err := common.Send(common.Client(opts), req)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	state := &loopState{builder: b}
	scanner := sse.NewScanner(body)
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

		chunk := gjson.ParseBytes(ev.Data)
		if a.variant == VariantCloudCodeAssist {
			if wrapped := chunk.Get("response"); wrapped.Exists() {
				chunk = wrapped
			}
		}
		if errObj := chunk.Get("error"); errObj.Exists() {
			return "", fmt.Errorf("gemini API error (%s): %s", errObj.Get("status").String(), errObj.Get("message").String())
		}
		state.consume(chunk)
	}
	state.closeOpen()
	return state.stopReason(), nil
}

// loopState tracks the sequence-based block bookkeeping: Gemini has no wire
// block indexes, so blocks open and close as the part kind changes.
type loopState struct {
	builder *stream.MessageBuilder

	nextIndex int
	openIndex int
	openKind  stream.ContentType

	sawToolCall  bool
	finishReason string
}

func (s *loopState) consume(chunk gjson.Result) {
	candidate := chunk.Get("candidates.0")
	if fr := candidate.Get("finishReason"); fr.Exists() && fr.String() != "" {
		s.finishReason = fr.String()
	}
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		s.consumePart(part)
		return true
	})
	if u := chunk.Get("usageMetadata"); u.Exists() {
		prompt := u.Get("promptTokenCount").Int()
		cached := u.Get("cachedContentTokenCount").Int()
		s.builder.SetUsage(stream.Usage{
			Input:       prompt - cached,
			Output:      u.Get("candidatesTokenCount").Int() + u.Get("thoughtsTokenCount").Int(),
			CacheRead:   cached,
			TotalTokens: u.Get("totalTokenCount").Int(),
		})
	}
}

func (s *loopState) consumePart(part gjson.Result) {
	switch {
	case part.Get("functionCall").Exists():
		s.closeOpen()
		call := part.Get("functionCall")
		id := call.Get("id").String()
		if id == "" {
			id = fmt.Sprintf("call_%d", s.nextIndex)
		}
		idx := s.nextIndex
		s.nextIndex++
		s.builder.StartToolCall(idx, id, call.Get("name").String())
		args := call.Get("args").Raw
		if args == "" {
			args = "{}"
		}
		s.builder.SetToolCallArgs(idx, args)
		if sig := part.Get("thoughtSignature"); sig.Exists() {
			// Signatures on function-call parts have no thinking block to
			// attach to; they ride along only in provider-native replay.
			log.Debugf("gemini: dropping thoughtSignature on function call part")
		}
		s.builder.EndBlock(idx)
		s.sawToolCall = true
	case part.Get("thought").Bool():
		s.ensureOpen(stream.ContentThinking)
		s.builder.Thinking(s.openIndex, part.Get("text").String())
		if sig := part.Get("thoughtSignature"); sig.Exists() {
			s.builder.ThinkingSignature(s.openIndex, sig.String())
		}
	case part.Get("text").Exists():
		s.ensureOpen(stream.ContentText)
		s.builder.Text(s.openIndex, part.Get("text").String())
	default:
		log.Debugf("gemini: ignoring part shape: %s", part.Raw)
	}
}

func (s *loopState) ensureOpen(kind stream.ContentType) {
	if s.openKind == kind {
		return
	}
	s.closeOpen()
	s.openIndex = s.nextIndex
	s.nextIndex++
	s.openKind = kind
}

func (s *loopState) closeOpen() {
	if s.openKind == "" {
		return
	}
	s.builder.EndBlockIfOpen(s.openIndex)
	s.openKind = ""
}

func (s *loopState) stopReason() stream.StopReason {
	if s.finishReason == "" {
		if s.sawToolCall {
			return stream.StopReasonToolUse
		}
		return stream.StopReasonStop
	}
	reason := normalizeFinishReason(s.finishReason)
	// A STOP finish with pending function calls still means the model wants
	// tools executed.
	if reason == stream.StopReasonStop && s.sawToolCall {
		return stream.StopReasonToolUse
	}
	return reason
}

// normalizeFinishReason maps Gemini's finish vocabulary onto the canonical
// taxonomy. Unknown values panic.
func normalizeFinishReason(s string) stream.StopReason {
	switch s {
	case "STOP", "FINISH_REASON_UNSPECIFIED":
		return stream.StopReasonStop
	case "MAX_TOKENS":
		return stream.StopReasonLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII", "IMAGE_SAFETY":
		return stream.StopReasonSafety
	case "MALFORMED_FUNCTION_CALL", "OTHER":
		return stream.StopReasonError
	default:
		return stream.UnmappedStopReason("gemini", s)
	}
}
