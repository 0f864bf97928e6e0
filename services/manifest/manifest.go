// Package manifest holds the static catalog of resolvable models and route
// class configuration. The manifest is constructed once at process start,
// validated, and injected into the policy resolver and dispatcher; no
// component reads ambient global state.
package manifest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stratoslabs/llm-router/models"
)

// CacheStrategy tags a model's provider-side prompt cache capability.
type CacheStrategy string

const (
	CacheNone      CacheStrategy = "none"
	CacheEphemeral CacheStrategy = "ephemeral"
	CacheImplicit  CacheStrategy = "implicit"
)

// Pricing is the per-million-token price tuple for a model.
// CachedInputPerMTok is zero when the provider offers no cache discount.
type Pricing struct {
	InputPerMTok       float64 `json:"input_per_mtok" yaml:"input_per_mtok"`
	OutputPerMTok      float64 `json:"output_per_mtok" yaml:"output_per_mtok"`
	CachedInputPerMTok float64 `json:"cached_input_per_mtok,omitempty" yaml:"cached_input_per_mtok,omitempty"`
}

// ResolvedModel is an immutable record describing one concrete model the
// router may dispatch to. Looked up by the canonical key "provider:model".
type ResolvedModel struct {
	Provider        string        `json:"provider"`
	Model           string        `json:"model"`
	Temperature     float64       `json:"temperature"`
	MaxOutputTokens int           `json:"max_output_tokens"`
	Cache           CacheStrategy `json:"cache"`
	Pricing         Pricing       `json:"pricing"`
}

// Key returns the canonical "provider:model" lookup key.
func (m ResolvedModel) Key() string {
	return m.Provider + ":" + m.Model
}

// EstimateCost projects the cost of a call from estimated token counts.
// No cache discount is applied at projection time; the discount only
// applies to actual cost.
func (m ResolvedModel) EstimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*m.Pricing.InputPerMTok +
		float64(outputTokens)/1e6*m.Pricing.OutputPerMTok
}

// ActualCost computes the billed cost from reported usage, pricing cached
// input tokens at the discounted rate when the model has one.
func (m ResolvedModel) ActualCost(usage models.TokenUsage) float64 {
	cached := usage.CachedInputTokens
	if cached > usage.InputTokens {
		cached = usage.InputTokens
	}
	uncached := usage.InputTokens - cached
	cachedRate := m.Pricing.CachedInputPerMTok
	if cachedRate == 0 {
		cachedRate = m.Pricing.InputPerMTok
	}
	return float64(uncached)/1e6*m.Pricing.InputPerMTok +
		float64(cached)/1e6*cachedRate +
		float64(usage.OutputTokens)/1e6*m.Pricing.OutputPerMTok
}

// RouteConfig maps a route class to its default model and ordered fallback
// chain. Both are empty for the hard_control tier.
type RouteConfig struct {
	Default   string   `json:"default" yaml:"default"`
	Fallbacks []string `json:"fallbacks" yaml:"fallbacks"`
}

// StrategyRoute maps a strategy-id prefix to a route class. Matching is
// case-insensitive on the prefix; the table replaces ad hoc substring
// checks so the mapping stays reviewable data.
type StrategyRoute struct {
	Prefix string            `json:"prefix" yaml:"prefix"`
	Class  models.RouteClass `json:"class" yaml:"class"`
}

// Manifest is the immutable routing catalog: resolvable models, per-class
// route configuration, run type mappings and the strategy routing table.
type Manifest struct {
	models          map[string]ResolvedModel
	routes          map[models.RouteClass]RouteConfig
	runTypeClass    map[models.RunType]models.RouteClass
	runTypeCategory map[models.RunType]models.BudgetCategory
	safetyCritical  map[models.RunType]bool
	strategyRoutes  []StrategyRoute
}

// New builds and validates a manifest from explicit tables.
func New(
	catalog []ResolvedModel,
	routes map[models.RouteClass]RouteConfig,
	runTypeClass map[models.RunType]models.RouteClass,
	runTypeCategory map[models.RunType]models.BudgetCategory,
	safetyCritical []models.RunType,
	strategyRoutes []StrategyRoute,
) (*Manifest, error) {
	m := &Manifest{
		models:          make(map[string]ResolvedModel, len(catalog)),
		routes:          routes,
		runTypeClass:    runTypeClass,
		runTypeCategory: runTypeCategory,
		safetyCritical:  make(map[models.RunType]bool, len(safetyCritical)),
		strategyRoutes:  strategyRoutes,
	}
	for _, rm := range catalog {
		if rm.Provider == "" || rm.Model == "" {
			return nil, fmt.Errorf("manifest: model entry missing provider or model: %+v", rm)
		}
		if _, dup := m.models[rm.Key()]; dup {
			return nil, fmt.Errorf("manifest: duplicate model key %q", rm.Key())
		}
		if rm.Pricing.InputPerMTok <= 0 || rm.Pricing.OutputPerMTok <= 0 {
			return nil, fmt.Errorf("manifest: model %q has non-positive pricing", rm.Key())
		}
		m.models[rm.Key()] = rm
	}
	for _, rt := range safetyCritical {
		m.safetyCritical[rt] = true
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// validate checks referential integrity and totality of the mapping tables.
func (m *Manifest) validate() error {
	for class, cfg := range m.routes {
		if class == models.RouteClassHardControl {
			if cfg.Default != "" || len(cfg.Fallbacks) > 0 {
				return fmt.Errorf("manifest: hard_control must not configure models")
			}
			continue
		}
		if cfg.Default == "" {
			return fmt.Errorf("manifest: route class %q has no default model", class)
		}
		if _, ok := m.models[cfg.Default]; !ok {
			return fmt.Errorf("manifest: route class %q default %q not in catalog", class, cfg.Default)
		}
		for _, fb := range cfg.Fallbacks {
			if _, ok := m.models[fb]; !ok {
				return fmt.Errorf("manifest: route class %q fallback %q not in catalog", class, fb)
			}
		}
	}
	for _, class := range models.AllRouteClasses() {
		if _, ok := m.routes[class]; !ok {
			return fmt.Errorf("manifest: route class %q has no configuration", class)
		}
	}
	for _, rt := range models.AllRunTypes() {
		if _, ok := m.runTypeClass[rt]; !ok {
			return fmt.Errorf("manifest: run type %q has no default route class", rt)
		}
		if _, ok := m.runTypeCategory[rt]; !ok {
			return fmt.Errorf("manifest: run type %q has no budget category", rt)
		}
	}
	for _, sr := range m.strategyRoutes {
		if sr.Prefix == "" {
			return fmt.Errorf("manifest: strategy route with empty prefix")
		}
		if _, ok := m.routes[sr.Class]; !ok {
			return fmt.Errorf("manifest: strategy prefix %q maps to unknown class %q", sr.Prefix, sr.Class)
		}
	}
	return nil
}

// Model looks up a resolved model by its canonical "provider:model" key.
func (m *Manifest) Model(key string) (ResolvedModel, bool) {
	rm, ok := m.models[key]
	return rm, ok
}

// Route returns the route configuration for a class.
func (m *Manifest) Route(class models.RouteClass) (RouteConfig, bool) {
	cfg, ok := m.routes[class]
	return cfg, ok
}

// DefaultClass returns the statically configured route class for a run type.
func (m *Manifest) DefaultClass(rt models.RunType) (models.RouteClass, bool) {
	class, ok := m.runTypeClass[rt]
	return class, ok
}

// Category returns the budget category for a run type.
func (m *Manifest) Category(rt models.RunType) (models.BudgetCategory, bool) {
	cat, ok := m.runTypeCategory[rt]
	return cat, ok
}

// IsSafetyCritical reports whether a run type is in the fixed
// safety-critical set.
func (m *Manifest) IsSafetyCritical(rt models.RunType) bool {
	return m.safetyCritical[rt]
}

// StrategyClass matches a strategy id against the prefix table,
// case-insensitively. First matching prefix wins.
func (m *Manifest) StrategyClass(strategyID string) (models.RouteClass, bool) {
	lowered := strings.ToLower(strategyID)
	for _, sr := range m.strategyRoutes {
		if strings.HasPrefix(lowered, strings.ToLower(sr.Prefix)) {
			return sr.Class, true
		}
	}
	return "", false
}

// Models returns the catalog sorted by key.
func (m *Manifest) Models() []ResolvedModel {
	out := make([]ResolvedModel, 0, len(m.models))
	for _, rm := range m.models {
		out = append(out, rm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
