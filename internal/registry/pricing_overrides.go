package registry

import (
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/router-for-me/modelstream/sdk/stream"
)

var (
	overrideMu sync.RWMutex
	overrides  map[string]stream.Pricing
)

// ApplyPricingOverrides replaces the active pricing override set. An empty
// map clears all overrides.
func ApplyPricingOverrides(m map[string]stream.Pricing) {
	overrideMu.Lock()
	defer overrideMu.Unlock()
	overrides = m
}

// LoadPricingFile reads a YAML document of model-ID to pricing mappings and
// installs it as the override set. Used at startup and by the config watcher
// on file change.
func LoadPricingFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("registry: read pricing file: %w", err)
	}
	var parsed map[string]stream.Pricing
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("registry: parse pricing file: %w", err)
	}
	ApplyPricingOverrides(parsed)
	log.Debugf("registry: loaded %d pricing overrides from %s", len(parsed), path)
	return nil
}

func pricingOverride(id string) (stream.Pricing, bool) {
	overrideMu.RLock()
	defer overrideMu.RUnlock()
	p, ok := overrides[id]
	return p, ok
}
