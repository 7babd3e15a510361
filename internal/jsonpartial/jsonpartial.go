// Package jsonpartial parses a growing prefix of an eventual JSON document.
// Providers that stream tool-call arguments as raw accumulating text (rather
// than structured deltas) feed each snapshot through a Parser to get the best
// available structured view without ever failing mid-stream.
package jsonpartial

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Parser holds the last successful parse of a growing buffer.
type Parser struct {
	last map[string]any
}

// Parse attempts to decode buf as a complete JSON object. On success the
// result is cached and returned; on failure the previous successful parse is
// returned instead (an empty object if none yet). Malformed or incomplete
// input is an expected condition here, never an error.
func (p *Parser) Parse(buf string) map[string]any {
	if p.last == nil {
		p.last = map[string]any{}
	}
	if buf == "" {
		return p.last
	}
	// gjson.Valid is a cheap pre-check that rejects most incomplete prefixes
	// without allocating.
	if !gjson.Valid(buf) {
		return p.last
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(buf), &v); err != nil {
		return p.last
	}
	p.last = v
	return p.last
}

// Final decodes a complete buffer, matching a one-shot json.Unmarshal of the
// same input. A non-object or malformed final buffer yields the last
// successful streaming parse, keeping the never-fail contract.
func (p *Parser) Final(buf string) map[string]any {
	return p.Parse(buf)
}
