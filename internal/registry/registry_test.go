package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/router-for-me/modelstream/sdk/stream"
)

func TestGetKnownAndUnknown(t *testing.T) {
	m := Get("claude-sonnet-4-5-20250929")
	if m == nil {
		t.Fatal("known model missing from table")
	}
	if m.Provider != "claude" || m.ContextLength != 200000 {
		t.Fatalf("model = %+v", m)
	}
	if Get("made-up-model") != nil {
		t.Fatal("unknown model must return nil")
	}
}

func TestEffectiveContextWindowDefaults(t *testing.T) {
	var nilInfo *ModelInfo
	if got := nilInfo.EffectiveContextWindow(); got != 200000 {
		t.Errorf("nil window = %d", got)
	}
	if got := Get("kiro-claude-sonnet-4-5").EffectiveContextWindow(); got != 200000 {
		t.Errorf("kiro window = %d", got)
	}
}

func TestPricingForUnknownIsZero(t *testing.T) {
	if p := PricingFor("made-up-model"); p != (stream.Pricing{}) {
		t.Fatalf("pricing = %+v, want zero", p)
	}
}

func TestPricingOverridesWinOverTable(t *testing.T) {
	defer ApplyPricingOverrides(nil)

	base := PricingFor("claude-sonnet-4-5-20250929")
	if base.Input != 3 {
		t.Fatalf("table pricing = %+v", base)
	}

	ApplyPricingOverrides(map[string]stream.Pricing{
		"claude-sonnet-4-5-20250929": {Input: 99, Output: 1},
	})
	if p := PricingFor("claude-sonnet-4-5-20250929"); p.Input != 99 {
		t.Fatalf("override not applied: %+v", p)
	}

	ApplyPricingOverrides(nil)
	if p := PricingFor("claude-sonnet-4-5-20250929"); p.Input != 3 {
		t.Fatalf("override not cleared: %+v", p)
	}
}

func TestLoadPricingFile(t *testing.T) {
	defer ApplyPricingOverrides(nil)

	path := filepath.Join(t.TempDir(), "pricing.yaml")
	doc := "my-model:\n  input: 1.5\n  output: 6\n  cache-read: 0.15\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	require.NoError(t, LoadPricingFile(path))

	p := PricingFor("my-model")
	require.Equal(t, 1.5, p.Input)
	require.Equal(t, 6.0, p.Output)
	require.Equal(t, 0.15, p.CacheRead)

	require.Error(t, LoadPricingFile(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestKiroUpstreamModel(t *testing.T) {
	cases := map[string]string{
		"kiro-claude-sonnet-4-5": "CLAUDE_SONNET_4_5_20250929_V1_0",
		"claude-haiku-4-5":       "CLAUDE_HAIKU_4_5_20251001_V1_0",
		"auto":                   "auto",
		"unlisted-model":         "unlisted-model",
	}
	for in, want := range cases {
		if got := KiroUpstreamModel(in); got != want {
			t.Errorf("KiroUpstreamModel(%q) = %q, want %q", in, got, want)
		}
	}
}
