package stream

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/modelstream/internal/jsonpartial"
)

// MessageBuilder is the sole mutator of one invocation's AssistantMessage.
// It enforces the block event ordering invariant (start, deltas, end), keeps
// transient per-block bookkeeping (provider stream index, raw argument
// buffer) out of the finished message, and tracks whether any content has
// been made visible to the caller, which gates retries.
//
// Blocks are keyed by a provider-native stream index. Providers without a
// native index maintain their own counter. Deltas for an index that was never
// started materialize the block lazily, covering providers that omit an
// explicit start for their first block of a type.
type MessageBuilder struct {
	stream *EventStream
	msg    *AssistantMessage

	open  map[int]*openBlock
	tools map[string]*jsonschema.Resolved

	contentEmitted bool
	terminal       bool
}

type openBlock struct {
	pos    int
	kind   ContentType
	args   strings.Builder
	parser jsonpartial.Parser
}

// NewMessageBuilder creates the empty message for one invocation and binds it
// to the stream the adapter will produce into.
func NewMessageBuilder(s *EventStream, provider, api, model string) *MessageBuilder {
	return &MessageBuilder{
		stream: s,
		msg: &AssistantMessage{
			Role:      RoleAssistant,
			Provider:  provider,
			API:       api,
			Model:     model,
			Timestamp: time.Now(),
		},
		open: make(map[int]*openBlock),
	}
}

// SetTools installs the request's tool list so tool-call starts can be
// checked against it and finished arguments validated against each tool's
// parameter schema. A tool call naming an unknown tool is a broken
// normalization contract and panics.
func (b *MessageBuilder) SetTools(tools []Tool) {
	if len(tools) == 0 {
		return
	}
	b.tools = make(map[string]*jsonschema.Resolved, len(tools))
	for _, t := range tools {
		b.tools[t.Name] = resolveToolSchema(t.Name, t.Parameters)
	}
}

// resolveToolSchema compiles a tool's parameter schema for argument
// validation. A tool without a usable schema still participates in the name
// check; only validation is skipped for it.
func resolveToolSchema(name string, params map[string]any) *jsonschema.Resolved {
	if len(params) == 0 {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		log.Warnf("stream: tool %s: parameter schema not encodable: %v", name, err)
		return nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		log.Warnf("stream: tool %s: parameter schema not a JSON Schema: %v", name, err)
		return nil
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		log.Warnf("stream: tool %s: parameter schema does not resolve: %v", name, err)
		return nil
	}
	return resolved
}

// Start announces the invocation. Message-level, so it does not count as
// visible content for retry gating.
func (b *MessageBuilder) Start() {
	b.stream.Push(Event{Type: EventStart})
}

// Status pushes a human-readable progress notice (retry waits and the like).
func (b *MessageBuilder) Status(text string) {
	b.stream.Push(Event{Type: EventStatus, Status: text})
}

// Message exposes the message under construction. Adapters may read it; only
// the builder writes it.
func (b *MessageBuilder) Message() *AssistantMessage { return b.msg }

// SetUsage replaces the usage counters wholesale. Providers report usage as
// cumulative snapshots, so the latest snapshot always wins.
func (b *MessageBuilder) SetUsage(u Usage) { b.msg.Usage = u }

// ContentEmitted reports whether any block event has been pushed.
func (b *MessageBuilder) ContentEmitted() bool { return b.contentEmitted }

func (b *MessageBuilder) startBlock(idx int, c Content) *openBlock {
	if _, exists := b.open[idx]; exists {
		panic(fmt.Sprintf("stream: block %d started twice", idx))
	}
	blk := &openBlock{pos: len(b.msg.Content), kind: c.Type}
	b.msg.Content = append(b.msg.Content, c)
	b.open[idx] = blk
	return blk
}

func (b *MessageBuilder) mustOpen(idx int, kind ContentType) *openBlock {
	blk, ok := b.open[idx]
	if !ok {
		panic(fmt.Sprintf("stream: no open block at index %d", idx))
	}
	if blk.kind != kind {
		panic(fmt.Sprintf("stream: block %d is %s, not %s", idx, blk.kind, kind))
	}
	return blk
}

// StartText opens a text block under the given provider index.
func (b *MessageBuilder) StartText(idx int) {
	blk := b.startBlock(idx, Content{Type: ContentText})
	b.contentEmitted = true
	b.stream.Push(Event{Type: EventTextStart, Index: blk.pos})
}

// Text appends a text delta, lazily opening the block if the provider never
// sent an explicit start.
func (b *MessageBuilder) Text(idx int, delta string) {
	blk, ok := b.open[idx]
	if !ok {
		b.StartText(idx)
		blk = b.open[idx]
	}
	b.msg.Content[blk.pos].Text += delta
	b.contentEmitted = true
	b.stream.Push(Event{Type: EventTextDelta, Index: blk.pos, Delta: delta})
}

// StartThinking opens a thinking block under the given provider index.
func (b *MessageBuilder) StartThinking(idx int) {
	blk := b.startBlock(idx, Content{Type: ContentThinking})
	b.contentEmitted = true
	b.stream.Push(Event{Type: EventThinkingStart, Index: blk.pos})
}

// Thinking appends a thinking delta, lazily opening the block.
func (b *MessageBuilder) Thinking(idx int, delta string) {
	blk, ok := b.open[idx]
	if !ok {
		b.StartThinking(idx)
		blk = b.open[idx]
	}
	b.msg.Content[blk.pos].Thinking += delta
	b.contentEmitted = true
	b.stream.Push(Event{Type: EventThinkingDelta, Index: blk.pos, Delta: delta})
}

// ThinkingSignature attaches the provider's opaque signature to the open
// thinking block without emitting a delta.
func (b *MessageBuilder) ThinkingSignature(idx int, sig string) {
	blk := b.mustOpen(idx, ContentThinking)
	b.msg.Content[blk.pos].Signature += sig
}

// StartToolCall opens a tool-call block. The name is checked against the
// request tool list when one was installed.
func (b *MessageBuilder) StartToolCall(idx int, id, name string) {
	if b.tools != nil {
		if _, known := b.tools[name]; !known {
			panic(fmt.Sprintf("stream: model called unknown tool %q", name))
		}
	}
	blk := b.startBlock(idx, Content{Type: ContentToolCall, ID: id, Name: name, Arguments: map[string]any{}})
	b.contentEmitted = true
	c := b.msg.Content[blk.pos]
	b.stream.Push(Event{Type: EventToolCallStart, Index: blk.pos, Content: &c})
}

// ToolCallArgs appends a raw argument fragment. The accumulated buffer is
// reparsed best-effort so the partial Arguments view stays current.
func (b *MessageBuilder) ToolCallArgs(idx int, fragment string) {
	blk := b.mustOpen(idx, ContentToolCall)
	blk.args.WriteString(fragment)
	b.msg.Content[blk.pos].Arguments = blk.parser.Parse(blk.args.String())
	b.contentEmitted = true
	b.stream.Push(Event{Type: EventToolCallDelta, Index: blk.pos, Delta: fragment})
}

// SetToolCallArgs replaces the accumulated argument buffer wholesale, for
// providers that deliver complete argument objects instead of fragments.
func (b *MessageBuilder) SetToolCallArgs(idx int, raw string) {
	blk := b.mustOpen(idx, ContentToolCall)
	blk.args.Reset()
	blk.args.WriteString(raw)
	b.msg.Content[blk.pos].Arguments = blk.parser.Parse(raw)
	b.contentEmitted = true
	b.stream.Push(Event{Type: EventToolCallDelta, Index: blk.pos, Delta: raw})
}

// EndBlock closes whichever block is open at the given index and emits the
// matching *_end event carrying the materialized value.
func (b *MessageBuilder) EndBlock(idx int) {
	blk, ok := b.open[idx]
	if !ok {
		panic(fmt.Sprintf("stream: no open block at index %d", idx))
	}
	b.finishBlock(blk, true)
	delete(b.open, idx)
}

// EndBlockIfOpen closes the block at idx when one is open; no-op otherwise.
func (b *MessageBuilder) EndBlockIfOpen(idx int) {
	if _, ok := b.open[idx]; ok {
		b.EndBlock(idx)
	}
}

func (b *MessageBuilder) finishBlock(blk *openBlock, emit bool) {
	c := &b.msg.Content[blk.pos]
	if blk.kind == ContentToolCall {
		c.Arguments = blk.parser.Final(blk.args.String())
		// Model misbehavior, not a normalization fault: the call is kept and
		// the violation surfaced in the log.
		if resolved := b.tools[c.Name]; resolved != nil {
			if err := resolved.Validate(c.Arguments); err != nil {
				log.Warnf("stream: tool %s arguments rejected by parameter schema: %v", c.Name, err)
			}
		}
	}
	if !emit {
		return
	}
	b.contentEmitted = true
	snapshot := *c
	switch blk.kind {
	case ContentText:
		b.stream.Push(Event{Type: EventTextEnd, Index: blk.pos, Content: &snapshot})
	case ContentThinking:
		b.stream.Push(Event{Type: EventThinkingEnd, Index: blk.pos, Content: &snapshot})
	case ContentToolCall:
		b.stream.Push(Event{Type: EventToolCallEnd, Index: blk.pos, Content: &snapshot})
	}
}

// closeAll finishes every open block in content order. Ends are emitted on
// the success path; on failure the partial values are materialized silently
// and the open starts stay unmatched, as the error event supersedes them.
func (b *MessageBuilder) closeAll(emit bool) {
	blocks := make([]*openBlock, 0, len(b.open))
	for _, blk := range b.open {
		blocks = append(blocks, blk)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].pos < blocks[j].pos })
	for _, blk := range blocks {
		b.finishBlock(blk, emit)
	}
	b.open = make(map[int]*openBlock)
}

// Done finalizes the message and pushes the terminal done event. The stream
// is ended; any further push panics.
func (b *MessageBuilder) Done(stop StopReason, pricing Pricing) {
	if b.terminal {
		panic("stream: terminal event already emitted")
	}
	b.terminal = true
	b.closeAll(true)
	b.msg.StopReason = stop
	b.msg.Usage.ComputeCost(pricing)
	b.stream.Push(Event{Type: EventDone, StopReason: stop, Message: b.msg})
	b.stream.End()
}

// Fail finalizes the partial message with the given stop reason (error or
// aborted) and pushes the terminal error event.
func (b *MessageBuilder) Fail(err error, stop StopReason, pricing Pricing) {
	if b.terminal {
		panic("stream: terminal event already emitted")
	}
	b.terminal = true
	b.closeAll(false)
	b.msg.StopReason = stop
	if err != nil {
		b.msg.ErrorMessage = err.Error()
	}
	b.msg.Usage.ComputeCost(pricing)
	b.stream.Push(Event{Type: EventError, StopReason: stop, Message: b.msg})
	b.stream.End()
}
