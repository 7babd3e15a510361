package kiro

import (
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/router-for-me/modelstream/internal/transform"
	"github.com/router-for-me/modelstream/sdk/stream"
)

func userText(s string) stream.Message {
	return stream.Message{Role: stream.RoleUser, Content: []stream.Content{{Type: stream.ContentText, Text: s}}}
}

func TestBuildRequestEnvelope(t *testing.T) {
	reqCtx := &stream.Context{
		SystemPrompt: "Be helpful.",
		Messages: []stream.Message{
			userText("first question"),
			{Role: stream.RoleAssistant, Content: []stream.Content{{Type: stream.ContentText, Text: "first answer"}}},
			userText("second question"),
		},
		Tools: []stream.Tool{{Name: "lookup", Description: "d"}},
	}
	body, err := buildRequest("kiro-claude-sonnet-4-5", reqCtx, &stream.Options{SessionID: "conv-1"})
	if err != nil {
		t.Fatal(err)
	}

	cs := gjson.GetBytes(body, "conversationState")
	if cs.Get("chatTriggerType").String() != "MANUAL" {
		t.Errorf("chatTriggerType = %q", cs.Get("chatTriggerType").String())
	}
	if cs.Get("conversationId").String() != "conv-1" {
		t.Errorf("conversationId = %q", cs.Get("conversationId").String())
	}

	current := cs.Get("currentMessage.userInputMessage")
	if current.Get("content").String() != "second question" {
		t.Errorf("current content = %q", current.Get("content").String())
	}
	if current.Get("modelId").String() != "CLAUDE_SONNET_4_5_20250929_V1_0" {
		t.Errorf("modelId = %q, alias not applied", current.Get("modelId").String())
	}
	if current.Get("origin").String() != "AI_EDITOR" {
		t.Errorf("origin = %q", current.Get("origin").String())
	}
	spec := current.Get("userInputMessageContext.tools.0.toolSpecification")
	if spec.Get("name").String() != "lookup" || !spec.Get("inputSchema.json").Exists() {
		t.Errorf("tool spec = %s", spec.Raw)
	}

	history := cs.Get("history").Array()
	if len(history) != 2 {
		t.Fatalf("history = %d entries, want 2", len(history))
	}
	// The system prompt rides the first user entry.
	first := history[0].Get("userInputMessage.content").String()
	if !strings.HasPrefix(first, "Be helpful.") || !strings.Contains(first, "first question") {
		t.Errorf("first entry content = %q", first)
	}
	if history[1].Get("assistantResponseMessage.content").String() != "first answer" {
		t.Errorf("second entry = %s", history[1].Raw)
	}
}

func TestBuildRequestSyntheticCurrentMessage(t *testing.T) {
	// Conversation ending on an assistant turn still needs a current user
	// message.
	reqCtx := &stream.Context{
		Messages: []stream.Message{
			userText("q"),
			{Role: stream.RoleAssistant, Content: []stream.Content{{Type: stream.ContentText, Text: "a"}}},
		},
	}
	body, err := buildRequest("auto", reqCtx, &stream.Options{})
	if err != nil {
		t.Fatal(err)
	}
	current := gjson.GetBytes(body, "conversationState.currentMessage.userInputMessage")
	if current.Get("content").String() != "Continue" {
		t.Errorf("synthetic content = %q", current.Get("content").String())
	}
	if n := len(gjson.GetBytes(body, "conversationState.history").Array()); n != 2 {
		t.Errorf("history entries = %d, want 2", n)
	}
}

func TestBuildRequestToolResults(t *testing.T) {
	reqCtx := &stream.Context{
		Messages: []stream.Message{
			userText("run it"),
			{Role: stream.RoleAssistant, Content: []stream.Content{
				{Type: stream.ContentToolCall, ID: "t1", Name: "lookup", Arguments: map[string]any{"k": "v"}},
			}},
			{Role: stream.RoleToolResult, ToolCallID: "t1", Content: []stream.Content{{Type: stream.ContentText, Text: "found"}}},
			{Role: stream.RoleToolResult, ToolCallID: "t1", Content: []stream.Content{{Type: stream.ContentText, Text: "duplicate"}}},
		},
	}
	body, err := buildRequest("auto", reqCtx, &stream.Options{})
	if err != nil {
		t.Fatal(err)
	}
	current := gjson.GetBytes(body, "conversationState.currentMessage.userInputMessage")
	if current.Get("content").String() != "Tool results provided." {
		t.Errorf("content = %q", current.Get("content").String())
	}
	results := current.Get("userInputMessageContext.toolResults").Array()
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1 after dedupe: %s", len(results), current.Raw)
	}
	if results[0].Get("toolUseId").String() != "t1" || results[0].Get("status").String() != "success" {
		t.Errorf("result = %s", results[0].Raw)
	}
	if results[0].Get("content.0.text").String() != "found" {
		t.Errorf("result text = %q", results[0].Get("content.0.text").String())
	}
}

func TestBuildRequestOrphanedResultsGetPlaceholder(t *testing.T) {
	// A result whose call never appears in history must be covered by a
	// synthetic assistant turn, or upstream rejects the payload.
	reqCtx := &stream.Context{
		Messages: []stream.Message{
			{Role: stream.RoleToolResult, ToolCallID: "lost", Content: []stream.Content{{Type: stream.ContentText, Text: "r"}}},
			userText("continue from there"),
		},
	}
	body, err := buildRequest("auto", reqCtx, &stream.Options{})
	if err != nil {
		t.Fatal(err)
	}
	history := gjson.GetBytes(body, "conversationState.history").Array()
	if len(history) != 1 {
		t.Fatalf("history = %d entries, want 1: %s", len(history), gjson.GetBytes(body, "conversationState.history").Raw)
	}
	uses := history[0].Get("assistantResponseMessage.toolUses").Array()
	if len(uses) != 1 || uses[0].Get("name").String() != placeholderToolName || uses[0].Get("toolUseId").String() != "lost" {
		t.Errorf("placeholder = %s", history[0].Raw)
	}
	current := gjson.GetBytes(body, "conversationState.currentMessage.userInputMessage")
	if !current.Get("userInputMessageContext.toolResults").Exists() {
		t.Errorf("results missing from current message: %s", current.Raw)
	}
}

func TestTrimHistoryDropsOldestPairs(t *testing.T) {
	big := strings.Repeat("x", historyByteBudget/2)
	history := []map[string]any{
		{"userInputMessage": map[string]any{"content": big}},
		{"assistantResponseMessage": map[string]any{"content": big}},
		{"userInputMessage": map[string]any{"content": "recent q"}},
		{"assistantResponseMessage": map[string]any{"content": "recent a"}},
	}
	trimmed := trimHistory(history)
	if len(trimmed) != 2 {
		t.Fatalf("trimmed to %d entries, want 2", len(trimmed))
	}
	if trimmed[0]["userInputMessage"].(map[string]any)["content"] != "recent q" {
		t.Fatal("trim removed the wrong end of the history")
	}
}

func TestRenderToolResultsTruncation(t *testing.T) {
	results := []transform.ToolResult{
		{ToolCallID: "big", Blocks: []stream.Content{{Type: stream.ContentText, Text: strings.Repeat("y", toolResultByteBudget+100)}}},
		{ToolCallID: "late", IsError: true, Blocks: []stream.Content{{Type: stream.ContentText, Text: "after budget"}}},
	}
	out := renderToolResults(results)
	if len(out) != 2 {
		t.Fatalf("results = %d, want 2", len(out))
	}
	first := out[0]["content"].([]map[string]any)[0]["text"].(string)
	if len(first) > toolResultByteBudget+len("\n[truncated]") {
		t.Fatalf("first result not truncated: %d bytes", len(first))
	}
	if !strings.HasSuffix(first, "[truncated]") {
		t.Fatal("truncation marker missing")
	}
	if out[1]["status"] != "error" {
		t.Errorf("status = %v", out[1]["status"])
	}
}
