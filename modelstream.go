// Package modelstream normalizes the streaming protocols of several LLM
// backends (Anthropic Messages, AWS Bedrock ConverseStream, the Gemini
// family, OpenAI Responses and Chat Completions, and Kiro) into one canonical
// event stream. Consumers read events from a stream.EventStream and never see
// provider wire formats.
package modelstream

import (
	"context"
	"fmt"
	"strings"

	"github.com/router-for-me/modelstream/internal/provider/bedrock"
	"github.com/router-for-me/modelstream/internal/provider/claude"
	"github.com/router-for-me/modelstream/internal/provider/gemini"
	"github.com/router-for-me/modelstream/internal/provider/kiro"
	"github.com/router-for-me/modelstream/internal/provider/openai"
	"github.com/router-for-me/modelstream/internal/registry"
	"github.com/router-for-me/modelstream/sdk/stream"
)

func init() {
	stream.Register(claude.New())
	stream.Register(bedrock.New())
	stream.Register(gemini.New(gemini.VariantGenerative))
	stream.Register(gemini.New(gemini.VariantVertex))
	stream.Register(gemini.New(gemini.VariantCloudCodeAssist))
	stream.Register(openai.NewResponses())
	stream.Register(openai.NewChat())
	stream.Register(kiro.New())
}

// Stream opens one model invocation, resolving the provider from the model
// definition table. The returned stream terminates in exactly one done or
// error event; cancelling ctx aborts it with stop reason aborted.
func Stream(ctx context.Context, model string, reqCtx *stream.Context, opts *stream.Options) (*stream.EventStream, error) {
	return StreamWith(ctx, providerFor(model), model, reqCtx, opts)
}

// StreamWith opens one invocation on an explicitly named provider, for models
// reachable through more than one surface (a Claude model via Bedrock, a
// Gemini model via Vertex).
func StreamWith(ctx context.Context, provider, model string, reqCtx *stream.Context, opts *stream.Options) (*stream.EventStream, error) {
	if provider == "" {
		return nil, fmt.Errorf("modelstream: no provider known for model %q", model)
	}
	p, err := stream.Lookup(provider)
	if err != nil {
		return nil, err
	}
	if reqCtx == nil {
		reqCtx = &stream.Context{}
	}
	if opts == nil {
		opts = &stream.Options{}
	}
	return p.Stream(ctx, model, reqCtx, opts), nil
}

// providerFor resolves a model ID to a provider identifier, preferring the
// definition table and falling back to name prefixes for unknown models.
func providerFor(model string) string {
	if info := registry.Get(model); info != nil {
		return info.Provider
	}
	switch {
	case strings.HasPrefix(model, "kiro-"):
		return "kiro"
	case strings.HasPrefix(model, "claude-"):
		return "claude"
	case strings.HasPrefix(model, "gemini-"):
		return "gemini"
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return "openai-responses"
	}
	return ""
}
