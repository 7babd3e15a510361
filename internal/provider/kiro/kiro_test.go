package kiro

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"

	"github.com/router-for-me/modelstream/sdk/stream"
)

func rawServer(t *testing.T, body string, onRequest func(*http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if onRequest != nil {
			onRequest(r)
		}
		fmt.Fprint(w, body)
	}))
}

func collect(t *testing.T, s *stream.EventStream) ([]stream.EventType, stream.Event) {
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

func TestStreamTextAndHeaders(t *testing.T) {
	var gotAuth, gotInvocation string
	srv := rawServer(t, `{"content":"Hello"}{"content":" world"}`, func(r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotInvocation = r.Header.Get("amz-sdk-invocation-id")
	})
	defer srv.Close()

	reqCtx := &stream.Context{Messages: []stream.Message{userText("hi")}}
	opts := &stream.Options{
		BaseURL:    srv.URL,
		APIKey:     "api-key",
		OAuthToken: &oauth2.Token{AccessToken: "oauth-token"},
	}
	s := New().Stream(context.Background(), "kiro-claude-sonnet-4-5", reqCtx, opts)

	types, last := collect(t, s)
	want := []stream.EventType{
		stream.EventStart,
		stream.EventTextStart, stream.EventTextDelta, stream.EventTextDelta, stream.EventTextEnd,
		stream.EventDone,
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, types[i], want[i])
		}
	}

	if last.StopReason != stream.StopReasonStop {
		t.Fatalf("stop reason = %s", last.StopReason)
	}
	if last.Message.Content[0].Text != "Hello world" {
		t.Fatalf("text = %q", last.Message.Content[0].Text)
	}
	// Output is token-counted from content; input estimated from the payload.
	if u := last.Message.Usage; u.Input <= 0 || u.Output <= 0 {
		t.Fatalf("usage = %+v", u)
	}

	// The OAuth token wins over the API key.
	if gotAuth != "Bearer oauth-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotInvocation == "" {
		t.Error("amz-sdk-invocation-id missing")
	}
}

func TestStreamSplitsThinkingTags(t *testing.T) {
	srv := rawServer(t, `{"content":"<thinking>plan the"}{"content":" reply</thinking>\n\nDone."}`, nil)
	defer srv.Close()

	reqCtx := &stream.Context{Messages: []stream.Message{userText("hi")}}
	s := New().Stream(context.Background(), "kiro-claude-sonnet-4-5", reqCtx, &stream.Options{BaseURL: srv.URL, APIKey: "k", ThinkingBudget: 1024})
	final, ok := s.Final(context.Background())
	if !ok {
		t.Fatal("no terminal event")
	}
	if len(final.Content) != 2 {
		t.Fatalf("content = %+v", final.Content)
	}
	if final.Content[0].Type != stream.ContentThinking || final.Content[0].Thinking != "plan the reply" {
		t.Fatalf("thinking block = %+v", final.Content[0])
	}
	if final.Content[1].Type != stream.ContentText || final.Content[1].Text != "Done." {
		t.Fatalf("text block = %+v", final.Content[1])
	}
}

func TestStreamToolUseAndUsageEstimate(t *testing.T) {
	body := `{"content":"Checking."}` +
		`{"name":"lookup","toolUseId":"t1","input":"{\"k\":"}` +
		`{"input":"\"v\"}"}` +
		`{"stop":true}` +
		`{"contextUsagePercentage":10}`
	srv := rawServer(t, body, nil)
	defer srv.Close()

	reqCtx := &stream.Context{
		Messages: []stream.Message{userText("look up k")},
		Tools:    []stream.Tool{{Name: "lookup"}},
	}
	s := New().Stream(context.Background(), "kiro-claude-sonnet-4-5", reqCtx, &stream.Options{BaseURL: srv.URL, APIKey: "k"})

	types, last := collect(t, s)
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
	call := last.Message.Content[1]
	if call.ID != "t1" || call.Arguments["k"] != "v" {
		t.Fatalf("tool call = %+v", call)
	}
	// 10% of the 200k window.
	if got := last.Message.Usage.Input; got != 20000 {
		t.Fatalf("input tokens = %d, want 20000", got)
	}
}
