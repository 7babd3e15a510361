// Package stream defines the canonical assistant-message data model and the
// event vocabulary shared by every provider adapter. Adapters translate their
// wire-level protocols into this model; callers never see provider formats.
package stream

import (
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "toolResult"
)

// ContentType identifies the kind of a content block.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentThinking ContentType = "thinking"
	ContentToolCall ContentType = "toolCall"
	ContentImage    ContentType = "image"
)

// Content is one typed unit of message content. The Type field selects which
// of the remaining fields are meaningful.
type Content struct {
	Type ContentType `json:"type"`

	// Text content (ContentText).
	Text string `json:"text,omitempty"`

	// Thinking content (ContentThinking). Signature carries the provider's
	// opaque verification blob when one is returned alongside the reasoning.
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// Tool call (ContentToolCall). Arguments is the decoded argument object;
	// raw fragments accumulate inside the message builder while streaming and
	// only the best-effort parse is visible here.
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`

	// Image content (ContentImage). Input-only: adapters never produce it.
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
}

// Message is one turn of the conversation handed to an adapter.
// ToolCallID and IsError are meaningful only for RoleToolResult turns.
type Message struct {
	Role       Role      `json:"role"`
	Content    []Content `json:"content"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	IsError    bool      `json:"is_error,omitempty"`
}

// Tool describes one callable tool offered to the model. Parameters is a
// JSON-Schema object in its generic decoded form.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Context is the conversational input for one model invocation.
type Context struct {
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Messages     []Message `json:"messages"`
	Tools        []Tool    `json:"tools,omitempty"`
}

// ToolByName returns the tool definition with the given name, or nil.
func (c *Context) ToolByName(name string) *Tool {
	for i := range c.Tools {
		if c.Tools[i].Name == name {
			return &c.Tools[i]
		}
	}
	return nil
}

// ToolChoice constrains how the model may use tools.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

// ReasoningEffort selects how much reasoning budget the model should spend.
type ReasoningEffort string

const (
	ReasoningOff     ReasoningEffort = ""
	ReasoningMinimal ReasoningEffort = "minimal"
	ReasoningLow     ReasoningEffort = "low"
	ReasoningMedium  ReasoningEffort = "medium"
	ReasoningHigh    ReasoningEffort = "high"
)

// Options carries per-invocation tuning and credentials. Credentials are
// always passed explicitly; adapters never consult process environment.
type Options struct {
	// APIKey authenticates with providers that use static keys.
	APIKey string
	// OAuthToken authenticates with providers that use OAuth access tokens
	// (Anthropic OAuth, Vertex, Cloud Code Assist, Kiro). When both APIKey
	// and OAuthToken are set the adapter decides which one its protocol
	// prefers.
	OAuthToken *oauth2.Token

	// BaseURL overrides the provider's default endpoint.
	BaseURL string
	// Project and Region qualify Vertex and Bedrock endpoints.
	Project string
	Region  string

	Temperature *float64
	MaxTokens   int
	// Reasoning selects the provider's reasoning effort level where the
	// protocol takes an enum; ThinkingBudget is the token budget where the
	// protocol takes a number. Adapters use whichever applies.
	Reasoning      ReasoningEffort
	ThinkingBudget int
	ToolChoice     ToolChoice

	// ProxyURL routes the connection through an http, https or socks5 proxy.
	ProxyURL string
	// HTTPClient overrides the transport entirely (tests).
	HTTPClient *http.Client

	// MaxAttempts, RetryDelay and BackoffFactor tune the transient-failure
	// retry loop; zero values take the package defaults. IdleTimeout bounds
	// how long a connection may go without producing bytes.
	MaxAttempts   int
	RetryDelay    time.Duration
	BackoffFactor float64
	IdleTimeout   time.Duration

	// SessionID threads a stable conversation identifier to providers that
	// require one (Kiro). A random one is generated when empty.
	SessionID string
}

// AssistantMessage is the accumulated result of one model turn. It is owned
// and mutated exclusively by the adapter invocation that created it, and is
// immutable once handed to the caller in a terminal event.
type AssistantMessage struct {
	Role         Role       `json:"role"`
	Content      []Content  `json:"content"`
	API          string     `json:"api"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	Usage        Usage      `json:"usage"`
	StopReason   StopReason `json:"stop_reason"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}
