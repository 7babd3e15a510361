// Package registry provides static model definitions for the supported
// providers: context limits, thinking support, capability flags, and the
// per-million-token pricing used for cost accounting.
package registry

import (
	"sync"

	"github.com/router-for-me/modelstream/sdk/stream"
)

// ThinkingSupport describes a model's reasoning budget constraints.
type ThinkingSupport struct {
	Min            int
	Max            int
	ZeroAllowed    bool
	DynamicAllowed bool
}

// ModelInfo describes one model the layer can stream from.
type ModelInfo struct {
	ID                  string
	Provider            string
	DisplayName         string
	ContextLength       int
	MaxCompletionTokens int
	SupportsImages      bool
	// MultimodalFunctionResponses marks Gemini-3-style models that accept
	// images nested inside function responses.
	MultimodalFunctionResponses bool
	Thinking                    *ThinkingSupport
	Pricing                     stream.Pricing
}

// EffectiveContextWindow returns the context length, defaulting to 200k when
// a model is unknown to the table.
func (m *ModelInfo) EffectiveContextWindow() int {
	if m != nil && m.ContextLength > 0 {
		return m.ContextLength
	}
	return 200000
}

var (
	tableOnce sync.Once
	table     map[string]*ModelInfo
)

func buildTable() {
	table = make(map[string]*ModelInfo)
	for _, group := range [][]*ModelInfo{
		claudeModels(), geminiModels(), openaiModels(), kiroModels(),
	} {
		for _, m := range group {
			table[m.ID] = m
		}
	}
}

// Get returns the definition for a model ID, or nil when unknown. Unknown
// models still stream; they just cost nothing in the ledger.
func Get(id string) *ModelInfo {
	tableOnce.Do(buildTable)
	return table[id]
}

// PricingFor returns the pricing for a model ID, zero-valued when unknown.
// File-based overrides take precedence over the static table.
func PricingFor(id string) stream.Pricing {
	if p, ok := pricingOverride(id); ok {
		return p
	}
	if m := Get(id); m != nil {
		return m.Pricing
	}
	return stream.Pricing{}
}

func claudeModels() []*ModelInfo {
	return []*ModelInfo{
		{
			ID:                  "claude-haiku-4-5-20251001",
			Provider:            "claude",
			DisplayName:         "Claude 4.5 Haiku",
			ContextLength:       200000,
			MaxCompletionTokens: 64000,
			SupportsImages:      true,
			Pricing:             stream.Pricing{Input: 1, Output: 5, CacheRead: 0.1, CacheWrite: 1.25},
		},
		{
			ID:                  "claude-sonnet-4-5-20250929",
			Provider:            "claude",
			DisplayName:         "Claude 4.5 Sonnet",
			ContextLength:       200000,
			MaxCompletionTokens: 64000,
			SupportsImages:      true,
			Thinking:            &ThinkingSupport{Min: 1024, Max: 100000, DynamicAllowed: true},
			Pricing:             stream.Pricing{Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
		},
		{
			ID:                  "claude-opus-4-5-20251101",
			Provider:            "claude",
			DisplayName:         "Claude 4.5 Opus",
			ContextLength:       200000,
			MaxCompletionTokens: 64000,
			SupportsImages:      true,
			Thinking:            &ThinkingSupport{Min: 1024, Max: 100000, DynamicAllowed: true},
			Pricing:             stream.Pricing{Input: 5, Output: 25, CacheRead: 0.5, CacheWrite: 6.25},
		},
	}
}

func geminiModels() []*ModelInfo {
	return []*ModelInfo{
		{
			ID:                  "gemini-2.5-pro",
			Provider:            "gemini",
			DisplayName:         "Gemini 2.5 Pro",
			ContextLength:       1048576,
			MaxCompletionTokens: 65536,
			SupportsImages:      true,
			Thinking:            &ThinkingSupport{Min: 128, Max: 32768, DynamicAllowed: true},
			Pricing:             stream.Pricing{Input: 1.25, Output: 10, CacheRead: 0.31, CacheWrite: 1.625},
		},
		{
			ID:                  "gemini-2.5-flash",
			Provider:            "gemini",
			DisplayName:         "Gemini 2.5 Flash",
			ContextLength:       1048576,
			MaxCompletionTokens: 65536,
			SupportsImages:      true,
			Thinking:            &ThinkingSupport{Max: 24576, ZeroAllowed: true, DynamicAllowed: true},
			Pricing:             stream.Pricing{Input: 0.3, Output: 2.5, CacheRead: 0.075, CacheWrite: 0.3833},
		},
		{
			ID:                          "gemini-3-pro-preview",
			Provider:                    "gemini",
			DisplayName:                 "Gemini 3 Pro",
			ContextLength:               1048576,
			MaxCompletionTokens:         65536,
			SupportsImages:              true,
			MultimodalFunctionResponses: true,
			Thinking:                    &ThinkingSupport{Min: 128, Max: 32768, DynamicAllowed: true},
			Pricing:                     stream.Pricing{Input: 2, Output: 12, CacheRead: 0.2, CacheWrite: 2},
		},
	}
}

func openaiModels() []*ModelInfo {
	return []*ModelInfo{
		{
			ID:                  "gpt-5.1",
			Provider:            "openai-responses",
			DisplayName:         "GPT-5.1",
			ContextLength:       400000,
			MaxCompletionTokens: 128000,
			SupportsImages:      true,
			Pricing:             stream.Pricing{Input: 1.25, Output: 10, CacheRead: 0.125},
		},
		{
			ID:                  "gpt-5.1-codex",
			Provider:            "openai-responses",
			DisplayName:         "GPT-5.1 Codex",
			ContextLength:       400000,
			MaxCompletionTokens: 128000,
			SupportsImages:      true,
			Pricing:             stream.Pricing{Input: 1.25, Output: 10, CacheRead: 0.125},
		},
		{
			ID:                  "gpt-5-chat-latest",
			Provider:            "openai-responses",
			DisplayName:         "GPT-5 Chat",
			ContextLength:       128000,
			MaxCompletionTokens: 16384,
			SupportsImages:      true,
			Pricing:             stream.Pricing{Input: 1.25, Output: 10, CacheRead: 0.125},
		},
		{
			ID:                  "gpt-4o-mini",
			Provider:            "openai-chat",
			DisplayName:         "GPT-4o mini",
			ContextLength:       128000,
			MaxCompletionTokens: 16384,
			SupportsImages:      true,
			Pricing:             stream.Pricing{Input: 0.15, Output: 0.6, CacheRead: 0.075},
		},
	}
}

func kiroModels() []*ModelInfo {
	return []*ModelInfo{
		{
			ID:                  "kiro-claude-sonnet-4-5",
			Provider:            "kiro",
			DisplayName:         "Claude 4.5 Sonnet (Kiro)",
			ContextLength:       200000,
			MaxCompletionTokens: 64000,
			Thinking:            &ThinkingSupport{Min: 1024, Max: 100000, DynamicAllowed: true},
		},
		{
			ID:                  "kiro-claude-haiku-4-5",
			Provider:            "kiro",
			DisplayName:         "Claude 4.5 Haiku (Kiro)",
			ContextLength:       200000,
			MaxCompletionTokens: 64000,
		},
	}
}

// kiroAliases maps public model IDs onto the upstream CodeWhisperer model
// identifiers Kiro expects.
var kiroAliases = map[string]string{
	"kiro-claude-sonnet-4-5": "CLAUDE_SONNET_4_5_20250929_V1_0",
	"kiro-claude-haiku-4-5":  "CLAUDE_HAIKU_4_5_20251001_V1_0",
	"claude-sonnet-4-5":      "CLAUDE_SONNET_4_5_20250929_V1_0",
	"claude-sonnet-4":        "CLAUDE_SONNET_4_20250514_V1_0",
	"claude-3-7-sonnet":      "CLAUDE_3_7_SONNET_20250219_V1_0",
	"claude-haiku-4-5":       "CLAUDE_HAIKU_4_5_20251001_V1_0",
	"auto":                   "auto",
}

// KiroUpstreamModel resolves a model ID to Kiro's upstream identifier.
// Unknown IDs pass through unchanged so upstream can reject them itself.
func KiroUpstreamModel(id string) string {
	if alias, ok := kiroAliases[id]; ok {
		return alias
	}
	return id
}
