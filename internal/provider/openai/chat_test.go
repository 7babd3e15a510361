package openai

import (
	"context"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/router-for-me/modelstream/sdk/stream"
)

func TestChatStreamReasoningTextAndToolCall(t *testing.T) {
	events := []string{
		"data: {\"choices\":[{\"delta\":{\"reasoning_content\":\"mulling\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"One sec.\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_abc\",\"function\":{\"name\":\"get_weather\",\"arguments\":\"{\\\"city\\\":\"}}]}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"\\\"SF\\\"}\"}}]}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n",
		"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":30,\"prompt_tokens_details\":{\"cached_tokens\":10},\"completion_tokens\":9,\"total_tokens\":39}}\n\n",
		"data: [DONE]\n\n",
	}
	srv := serveEvents(t, events)
	defer srv.Close()

	reqCtx := &stream.Context{
		Messages: []stream.Message{userMsg("weather?")},
		Tools:    []stream.Tool{{Name: "get_weather"}},
	}
	s := NewChat().Stream(context.Background(), "gpt-5", reqCtx, &stream.Options{BaseURL: srv.URL, APIKey: "k"})

	types, last := drain(t, s)
	want := []stream.EventType{
		stream.EventStart,
		stream.EventThinkingStart, stream.EventThinkingDelta, stream.EventThinkingEnd,
		stream.EventTextStart, stream.EventTextDelta, stream.EventTextEnd,
		stream.EventToolCallStart, stream.EventToolCallDelta, stream.EventToolCallDelta, stream.EventToolCallEnd,
		stream.EventDone,
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %s, want %s (all: %v)", i, types[i], want[i], types)
		}
	}

	if last.StopReason != stream.StopReasonToolUse {
		t.Fatalf("stop reason = %s", last.StopReason)
	}
	msg := last.Message
	if msg.Content[0].Thinking != "mulling" || msg.Content[1].Text != "One sec." {
		t.Fatalf("content = %+v", msg.Content)
	}
	call := msg.Content[2]
	if call.ID != "call_abc" || call.Arguments["city"] != "SF" {
		t.Fatalf("tool call = %+v", call)
	}
	if u := msg.Usage; u.Input != 20 || u.Output != 9 || u.CacheRead != 10 || u.TotalTokens != 39 {
		t.Fatalf("usage = %+v", u)
	}
}

func TestChatStreamSynthesizesToolCallID(t *testing.T) {
	events := []string{
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"name\":\"probe\",\"arguments\":\"{}\"}}]}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n",
		"data: [DONE]\n\n",
	}
	srv := serveEvents(t, events)
	defer srv.Close()

	reqCtx := &stream.Context{
		Messages: []stream.Message{userMsg("x")},
		Tools:    []stream.Tool{{Name: "probe"}},
	}
	s := NewChat().Stream(context.Background(), "gpt-5", reqCtx, &stream.Options{BaseURL: srv.URL, APIKey: "k"})
	final, ok := s.Final(context.Background())
	if !ok {
		t.Fatal("no terminal event")
	}
	if final.Content[0].ID != "call_0" {
		t.Fatalf("synthesized ID = %q", final.Content[0].ID)
	}
}

func TestChatStreamAPIError(t *testing.T) {
	events := []string{
		"data: {\"error\":{\"type\":\"invalid_request_error\",\"message\":\"bad request\"}}\n\n",
	}
	srv := serveEvents(t, events)
	defer srv.Close()

	s := NewChat().Stream(context.Background(), "gpt-5", &stream.Context{Messages: []stream.Message{userMsg("x")}}, &stream.Options{BaseURL: srv.URL, APIKey: "k"})
	final, ok := s.Final(context.Background())
	if !ok {
		t.Fatal("no terminal event")
	}
	if final.StopReason != stream.StopReasonError {
		t.Fatalf("stop reason = %s", final.StopReason)
	}
}

func TestBuildChatRequest(t *testing.T) {
	reqCtx := &stream.Context{
		SystemPrompt: "Be terse.",
		Messages: []stream.Message{
			userMsg("weather?"),
			{Role: stream.RoleAssistant, Content: []stream.Content{
				{Type: stream.ContentText, Text: "Checking."},
				{Type: stream.ContentToolCall, ID: "call_abc", Name: "get_weather", Arguments: map[string]any{"city": "SF"}},
			}},
			{Role: stream.RoleToolResult, ToolCallID: "call_abc", Content: []stream.Content{{Type: stream.ContentText, Text: "sunny"}}},
		},
		Tools: []stream.Tool{{Name: "get_weather"}},
	}
	body, err := buildChatRequest("gpt-5", reqCtx, &stream.Options{MaxTokens: 500, Reasoning: stream.ReasoningLow})
	if err != nil {
		t.Fatal(err)
	}

	if !gjson.GetBytes(body, "stream_options.include_usage").Bool() {
		t.Error("stream_options.include_usage must be set")
	}
	if got := gjson.GetBytes(body, "max_completion_tokens").Int(); got != 500 {
		t.Errorf("max_completion_tokens = %d", got)
	}
	if got := gjson.GetBytes(body, "reasoning_effort").String(); got != "low" {
		t.Errorf("reasoning_effort = %q", got)
	}
	// Chat tools nest the declaration under "function".
	if got := gjson.GetBytes(body, "tools.0.function.name").String(); got != "get_weather" {
		t.Errorf("tools.0.function.name = %q", got)
	}

	msgs := gjson.GetBytes(body, "messages").Array()
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4: %s", len(msgs), gjson.GetBytes(body, "messages").Raw)
	}
	if msgs[0].Get("role").String() != "system" || msgs[0].Get("content").String() != "Be terse." {
		t.Errorf("messages.0 = %s", msgs[0].Raw)
	}
	assistant := msgs[2]
	if assistant.Get("content").String() != "Checking." {
		t.Errorf("assistant content = %q", assistant.Get("content").String())
	}
	if got := assistant.Get("tool_calls.0.function.arguments").String(); got != `{"city":"SF"}` {
		t.Errorf("tool call arguments = %q", got)
	}
	tool := msgs[3]
	if tool.Get("role").String() != "tool" || tool.Get("tool_call_id").String() != "call_abc" || tool.Get("content").String() != "sunny" {
		t.Errorf("messages.3 = %s", tool.Raw)
	}
}

func TestBuildChatRequestChatTunedSkipsReasoning(t *testing.T) {
	body, err := buildChatRequest("gpt-5-chat-latest", &stream.Context{Messages: []stream.Message{userMsg("x")}}, &stream.Options{Reasoning: stream.ReasoningHigh})
	if err != nil {
		t.Fatal(err)
	}
	if gjson.GetBytes(body, "reasoning_effort").Exists() {
		t.Error("chat-tuned model must not carry reasoning_effort")
	}
}

func TestNormalizeFinishReason(t *testing.T) {
	cases := map[string]stream.StopReason{
		"stop":           stream.StopReasonStop,
		"length":         stream.StopReasonLength,
		"tool_calls":     stream.StopReasonToolUse,
		"function_call":  stream.StopReasonToolUse,
		"content_filter": stream.StopReasonSafety,
	}
	for in, want := range cases {
		if got := normalizeFinishReason(in); got != want {
			t.Errorf("normalizeFinishReason(%q) = %s, want %s", in, got, want)
		}
	}
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown finish reason")
		}
	}()
	normalizeFinishReason("novel")
}
