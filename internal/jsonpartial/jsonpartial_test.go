package jsonpartial

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestParsePrefixes(t *testing.T) {
	full := `{"location":"San Francisco","unit":"celsius","days":3}`

	var want map[string]any
	if err := json.Unmarshal([]byte(full), &want); err != nil {
		t.Fatal(err)
	}

	var p Parser
	for i := 0; i <= len(full); i++ {
		got := p.Parse(full[:i])
		if got == nil {
			t.Fatalf("prefix %d: got nil, want a map", i)
		}
		// Every intermediate view must itself be a valid parse of some
		// earlier prefix; only the full document is pinned down exactly.
		if i == len(full) && !reflect.DeepEqual(got, want) {
			t.Fatalf("full parse: got %v, want %v", got, want)
		}
	}
	if got := p.Final(full); !reflect.DeepEqual(got, want) {
		t.Fatalf("final parse: got %v, want %v", got, want)
	}
}

func TestParseKeepsLastGoodOnRegression(t *testing.T) {
	var p Parser
	good := p.Parse(`{"a":1}`)
	if len(good) != 1 {
		t.Fatalf("expected a parsed object, got %v", good)
	}
	if got := p.Parse(`{"a":1,"b":`); !reflect.DeepEqual(got, good) {
		t.Errorf("incomplete continuation: got %v, want cached %v", got, good)
	}
	if got := p.Parse("not json at all"); !reflect.DeepEqual(got, good) {
		t.Errorf("garbage input: got %v, want cached %v", got, good)
	}
}

func TestParseEmptyAndNonObject(t *testing.T) {
	var p Parser
	if got := p.Parse(""); len(got) != 0 {
		t.Errorf("empty input: got %v, want empty map", got)
	}
	if got := p.Parse(`[1,2,3]`); len(got) != 0 {
		t.Errorf("array input: got %v, want empty map", got)
	}
	if got := p.Final(""); len(got) != 0 {
		t.Errorf("empty final: got %v, want empty map", got)
	}
}
