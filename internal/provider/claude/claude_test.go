package claude

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/router-for-me/modelstream/sdk/stream"
)

func sseServer(t *testing.T, events []string, onRequest func(*http.Request, []byte)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if onRequest != nil {
			onRequest(r, body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprint(w, ev)
		}
	}))
}

func drainTypes(t *testing.T, s *stream.EventStream) ([]stream.EventType, stream.Event) {
	t.Helper()
	var types []stream.EventType
	var last stream.Event
	for {
		ev, ok := s.Next(context.Background())
		if !ok {
			return types, last
		}
		types = append(types, ev.Type)
		last = ev
	}
}

func TestStreamTextAndToolCall(t *testing.T) {
	events := []string{
		"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":25,\"cache_read_input_tokens\":10}}}\n\n",
		"event: ping\ndata: {\"type\":\"ping\"}\n\n",
		"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\"}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Checking\"}}\n\n",
		"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":0}\n\n",
		"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":1,\"content_block\":{\"type\":\"tool_use\",\"id\":\"toolu_1\",\"name\":\"get_weather\"}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"city\\\":\"}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"\\\"SF\\\"}\"}}\n\n",
		"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":1}\n\n",
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"tool_use\"},\"usage\":{\"output_tokens\":17}}\n\n",
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
	}
	srv := sseServer(t, events, nil)
	defer srv.Close()

	reqCtx := &stream.Context{
		Messages: []stream.Message{{Role: stream.RoleUser, Content: []stream.Content{{Type: stream.ContentText, Text: "weather?"}}}},
		Tools:    []stream.Tool{{Name: "get_weather"}},
	}
	s := New().Stream(context.Background(), "claude-sonnet-4-5-20250929", reqCtx, &stream.Options{BaseURL: srv.URL, APIKey: "k"})

	types, last := drainTypes(t, s)
	want := []stream.EventType{
		stream.EventStart,
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
	if msg.Content[1].Arguments["city"] != "SF" {
		t.Fatalf("tool arguments = %v", msg.Content[1].Arguments)
	}
	u := msg.Usage
	if u.Input != 25 || u.Output != 17 || u.CacheRead != 10 {
		t.Fatalf("usage = %+v", u)
	}
	if u.Cost.Total == 0 {
		t.Fatal("known model should have a nonzero cost")
	}
}

func TestStreamDropsDeltasForUnhandledBlockTypes(t *testing.T) {
	events := []string{
		"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"server_tool_use\",\"id\":\"srvtoolu_1\",\"name\":\"web_search\"}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"query\\\":\\\"go\\\"}\"}}\n\n",
		"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":0}\n\n",
		"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":1,\"content_block\":{\"type\":\"text\"}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"text_delta\",\"text\":\"done\"}}\n\n",
		"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":1}\n\n",
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":2}}\n\n",
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
	}
	srv := sseServer(t, events, nil)
	defer srv.Close()

	reqCtx := &stream.Context{
		Messages: []stream.Message{{Role: stream.RoleUser, Content: []stream.Content{{Type: stream.ContentText, Text: "search"}}}},
	}
	s := New().Stream(context.Background(), "claude-sonnet-4-5-20250929", reqCtx, &stream.Options{BaseURL: srv.URL, APIKey: "k"})

	types, last := drainTypes(t, s)
	want := []stream.EventType{
		stream.EventStart,
		stream.EventTextStart, stream.EventTextDelta, stream.EventTextEnd,
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
	if len(last.Message.Content) != 1 || last.Message.Content[0].Text != "done" {
		t.Fatalf("content = %+v", last.Message.Content)
	}
}

func TestStreamOAuthHeadersAndSpoof(t *testing.T) {
	var gotAuth, gotBeta, gotAPIKey string
	var gotBody []byte
	events := []string{
		"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\"}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n",
		"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":0}\n\n",
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":1}}\n\n",
	}
	srv := sseServer(t, events, func(r *http.Request, body []byte) {
		gotAuth = r.Header.Get("Authorization")
		gotBeta = r.Header.Get("anthropic-beta")
		gotAPIKey = r.Header.Get("x-api-key")
		gotBody = body
	})
	defer srv.Close()

	reqCtx := &stream.Context{
		SystemPrompt: "Be terse.",
		Messages:     []stream.Message{{Role: stream.RoleUser, Content: []stream.Content{{Type: stream.ContentText, Text: "hi"}}}},
	}
	opts := &stream.Options{
		BaseURL:    srv.URL,
		OAuthToken: &oauth2.Token{AccessToken: "oat"},
	}
	s := New().Stream(context.Background(), "claude-sonnet-4-5-20250929", reqCtx, opts)
	if _, ok := s.Final(context.Background()); !ok {
		t.Fatal("no terminal event")
	}

	if gotAuth != "Bearer oat" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBeta != "oauth-2025-04-20" {
		t.Errorf("anthropic-beta = %q", gotBeta)
	}
	if gotAPIKey != "" {
		t.Errorf("x-api-key must be empty under OAuth, got %q", gotAPIKey)
	}

	system := gjson.GetBytes(gotBody, "system")
	if system.Get("0.text").String() != claudeSpoofPrompt {
		t.Errorf("first system block = %q, want the CLI identity prompt", system.Get("0.text").String())
	}
	if system.Get("1.text").String() != "Be terse." {
		t.Errorf("second system block = %q", system.Get("1.text").String())
	}
}

func TestStreamUpstreamErrorEvent(t *testing.T) {
	events := []string{
		"event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"invalid_request_error\",\"message\":\"bad tool schema\"}}\n\n",
	}
	srv := sseServer(t, events, nil)
	defer srv.Close()

	reqCtx := &stream.Context{
		Messages: []stream.Message{{Role: stream.RoleUser, Content: []stream.Content{{Type: stream.ContentText, Text: "x"}}}},
	}
	s := New().Stream(context.Background(), "claude-sonnet-4-5-20250929", reqCtx, &stream.Options{BaseURL: srv.URL, APIKey: "k"})
	types, last := drainTypes(t, s)
	if last.Type != stream.EventError {
		t.Fatalf("terminal = %s (all: %v)", last.Type, types)
	}
	if last.StopReason != stream.StopReasonError {
		t.Fatalf("stop reason = %s", last.StopReason)
	}
}

func TestNormalizeStopReason(t *testing.T) {
	cases := map[string]stream.StopReason{
		"end_turn":                      stream.StopReasonStop,
		"stop_sequence":                 stream.StopReasonStop,
		"pause_turn":                    stream.StopReasonStop,
		"max_tokens":                    stream.StopReasonLength,
		"model_context_window_exceeded": stream.StopReasonLength,
		"tool_use":                      stream.StopReasonToolUse,
		"refusal":                       stream.StopReasonSafety,
	}
	for in, want := range cases {
		if got := normalizeStopReason(in); got != want {
			t.Errorf("normalizeStopReason(%q) = %s, want %s", in, got, want)
		}
	}
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown stop reason")
		}
	}()
	normalizeStopReason("brand_new_reason")
}
