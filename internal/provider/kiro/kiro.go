// Package kiro streams from the Kiro (CodeWhisperer) assistant endpoint. The
// protocol is undocumented: requests carry a conversationState envelope,
// responses are a raw byte stream with JSON objects embedded in it, reasoning
// arrives inline as <thinking> tags, and token usage is mostly estimated
// client-side.
package kiro

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tiktoken-go/tokenizer"

	"github.com/router-for-me/modelstream/internal/provider/common"
	"github.com/router-for-me/modelstream/internal/registry"
	"github.com/router-for-me/modelstream/internal/retry"
	"github.com/router-for-me/modelstream/internal/thinktag"
	"github.com/router-for-me/modelstream/sdk/stream"
)

const readChunkSize = 32 * 1024

// Adapter implements the Kiro protocol.
type Adapter struct{}

// New returns the adapter.
func New() *Adapter { return &Adapter{} }

// Identifier returns the provider identifier.
func (a *Adapter) Identifier() string { return "kiro" }

// Stream opens one generateAssistantResponse invocation.
func (a *Adapter) Stream(ctx context.Context, model string, reqCtx *stream.Context, opts *stream.Options) *stream.EventStream {
	s := stream.NewEventStream()
	b := stream.NewMessageBuilder(s, a.Identifier(), "kiro-generate-assistant-response", model)
	b.SetTools(reqCtx.Tools)
	go common.Run(ctx, b, registry.PricingFor(model), common.PolicyFromOptions(opts), func(ctx context.Context, b *stream.MessageBuilder) (stream.StopReason, error) {
		return a.attempt(ctx, b, model, reqCtx, opts)
	})
	return s
}

func (a *Adapter) endpoint(opts *stream.Options) string {
	if opts.BaseURL != "" {
		return opts.BaseURL + "/generateAssistantResponse"
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://codewhisperer.%s.amazonaws.com/generateAssistantResponse", region)
}

func (a *Adapter) attempt(ctx context.Context, b *stream.MessageBuilder, model string, reqCtx *stream.Context, opts *stream.Options) (stream.StopReason, error) {
	payload, err := buildRequest(model, reqCtx, opts)
	if err != nil {
		return "", fmt.Errorf("kiro: build request: %w", err)
	}

	wctx, watchdog := retry.NewWatchdog(ctx, common.IdleTimeout(opts))
	defer watchdog.Stop()

	req, err := http.NewRequestWithContext(wctx, http.MethodPost, a.endpoint(opts), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	token := opts.APIKey
	if opts.OAuthToken != nil {
		token = opts.OAuthToken.AccessToken
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("amz-sdk-invocation-id", uuid.New().String())

	body, err := common.Send(common.Client(opts), req)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	state := newLoopState(b, opts.ThinkingBudget > 0)
	extractor := &Extractor{}
	buf := make([]byte, readChunkSize)
	for {
		n, errRead := body.Read(buf)
		if n > 0 {
			watchdog.Reset()
			for _, f := range extractor.Push(buf[:n]) {
				state.consume(f)
			}
		}
		if errRead == io.EOF {
			break
		}
		if errRead != nil {
			if cause := context.Cause(wctx); cause != nil && errors.Is(cause, retry.ErrIdleTimeout) {
				return "", cause
			}
			return "", errRead
		}
	}
	if extractor.Buffered() > 0 {
		log.Debugf("kiro: %d bytes left unframed at end of stream", extractor.Buffered())
	}
	state.finish()

	b.SetUsage(estimateUsage(model, payload, state))
	if state.sawToolCall {
		return stream.StopReasonToolUse, nil
	}
	return stream.StopReasonStop, nil
}

// loopState tracks block bookkeeping for the frame sequence. Kiro has no wire
// indexes; blocks open and close as the content kind changes, with an
// optional thinking-tag splitter routing content between text and reasoning.
type loopState struct {
	builder  *stream.MessageBuilder
	splitter *thinktag.Splitter

	nextIndex int
	openIndex int
	openKind  stream.ContentType
	toolIndex int

	sawToolCall            bool
	rawContent             strings.Builder
	contextUsagePercentage float64
}

func newLoopState(b *stream.MessageBuilder, thinking bool) *loopState {
	s := &loopState{builder: b, toolIndex: -1}
	if thinking {
		s.splitter = &thinktag.Splitter{}
	}
	return s
}

func (s *loopState) consume(f Frame) {
	switch f.Kind {
	case FrameContent:
		s.rawContent.WriteString(f.Content)
		if s.splitter == nil {
			s.emitText(f.Content)
			return
		}
		for _, seg := range s.splitter.Push(f.Content) {
			s.emitSegment(seg)
		}
	case FrameToolUse:
		s.closeOpen()
		s.closeTool()
		idx := s.nextIndex
		s.nextIndex++
		s.builder.StartToolCall(idx, f.ToolUseID, f.Name)
		s.toolIndex = idx
		s.sawToolCall = true
		if f.Input != "" {
			s.builder.ToolCallArgs(idx, f.Input)
		}
		if f.Stop {
			s.closeTool()
		}
	case FrameToolUseInput:
		if s.toolIndex < 0 {
			log.Debugf("kiro: dropping input continuation with no open tool call")
			return
		}
		s.builder.ToolCallArgs(s.toolIndex, f.Input)
	case FrameToolUseStop:
		s.closeTool()
	case FrameUsage:
		s.contextUsagePercentage = f.ContextUsagePercentage
	}
}

func (s *loopState) emitSegment(seg thinktag.Segment) {
	if seg.Kind == thinktag.SegmentThinking {
		s.ensureOpen(stream.ContentThinking)
		s.builder.Thinking(s.openIndex, seg.Text)
		return
	}
	s.emitText(seg.Text)
}

func (s *loopState) emitText(text string) {
	s.ensureOpen(stream.ContentText)
	s.builder.Text(s.openIndex, text)
}

func (s *loopState) ensureOpen(kind stream.ContentType) {
	s.closeTool()
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

func (s *loopState) closeTool() {
	if s.toolIndex < 0 {
		return
	}
	s.builder.EndBlockIfOpen(s.toolIndex)
	s.toolIndex = -1
}

func (s *loopState) finish() {
	if s.splitter != nil {
		for _, seg := range s.splitter.Finalize() {
			s.emitSegment(seg)
		}
	}
	s.closeOpen()
	s.closeTool()
}

// estimateUsage fills the usage counters Kiro never reports directly. Output
// tokens are counted from the accumulated content; input tokens come from the
// reported context usage percentage when present, and from counting the
// request payload otherwise.
func estimateUsage(model string, payload []byte, state *loopState) stream.Usage {
	output := int64(countTokens(state.rawContent.String()))
	var input int64
	if pct := state.contextUsagePercentage; pct > 0 {
		window := registry.Get(model).EffectiveContextWindow()
		input = int64(pct * float64(window) / 100)
	} else {
		input = int64(countTokens(string(payload)))
	}
	return stream.Usage{Input: input, Output: output, TotalTokens: input + output}
}

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// countTokens counts with the o200k encoding, falling back to the bytes/4
// heuristic when the encoder is unavailable.
func countTokens(text string) int {
	if text == "" {
		return 0
	}
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.O200kBase)
		if err != nil {
			log.Warnf("kiro: tokenizer unavailable, estimating by length: %v", err)
			return
		}
		codec = c
	})
	if codec != nil {
		if n, err := codec.Count(text); err == nil {
			return n
		}
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
