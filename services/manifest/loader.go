package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stratoslabs/llm-router/models"
)

// Overrides is the shape of the optional manifest override file. Operators
// may adjust pricing, fallback chains and the strategy routing table
// without a rebuild; the result is validated like the built-in tables and
// sealed before the process starts serving.
type Overrides struct {
	Pricing        map[string]Pricing                `yaml:"pricing"`
	Routes         map[models.RouteClass]RouteConfig `yaml:"routes"`
	StrategyRoutes []StrategyRoute                   `yaml:"strategy_routes"`
}

// Load builds the manifest from the built-in tables plus the override file
// at path. An empty path returns the built-in manifest unchanged.
func Load(path string) (*Manifest, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read overrides: %w", err)
	}

	var ov Overrides
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return nil, fmt.Errorf("manifest: parse overrides: %w", err)
	}

	catalog := builtinCatalog()
	for i, rm := range catalog {
		if p, ok := ov.Pricing[rm.Key()]; ok {
			catalog[i].Pricing = p
		}
	}
	for key := range ov.Pricing {
		if !catalogHasKey(catalog, key) {
			return nil, fmt.Errorf("manifest: pricing override for unknown model %q", key)
		}
	}

	routes := builtinRoutes()
	for class, cfg := range ov.Routes {
		if _, ok := routes[class]; !ok {
			return nil, fmt.Errorf("manifest: route override for unknown class %q", class)
		}
		routes[class] = cfg
	}

	strategyRoutes := builtinStrategyRoutes()
	if len(ov.StrategyRoutes) > 0 {
		strategyRoutes = ov.StrategyRoutes
	}

	return New(
		catalog,
		routes,
		builtinRunTypeClasses(),
		builtinRunTypeCategories(),
		safetyCriticalRunTypes(),
		strategyRoutes,
	)
}

func catalogHasKey(catalog []ResolvedModel, key string) bool {
	for _, rm := range catalog {
		if rm.Key() == key {
			return true
		}
	}
	return false
}
