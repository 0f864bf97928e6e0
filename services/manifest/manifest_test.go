package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratoslabs/llm-router/models"
)

func TestDefault_Valid(t *testing.T) {
	m, err := Default()
	require.NoError(t, err)

	t.Run("every run type has a class and a category", func(t *testing.T) {
		for _, rt := range models.AllRunTypes() {
			_, ok := m.DefaultClass(rt)
			assert.True(t, ok, "run type %q has no route class", rt)
			_, ok = m.Category(rt)
			assert.True(t, ok, "run type %q has no budget category", rt)
		}
	})

	t.Run("every route class is configured", func(t *testing.T) {
		for _, class := range models.AllRouteClasses() {
			_, ok := m.Route(class)
			assert.True(t, ok, "route class %q unconfigured", class)
		}
	})

	t.Run("hard control has no models", func(t *testing.T) {
		cfg, ok := m.Route(models.RouteClassHardControl)
		require.True(t, ok)
		assert.Empty(t, cfg.Default)
		assert.Empty(t, cfg.Fallbacks)
	})

	t.Run("safety critical set", func(t *testing.T) {
		assert.True(t, m.IsSafetyCritical(models.RunTypeDeepScoring))
		assert.True(t, m.IsSafetyCritical(models.RunTypeComplianceReview))
		assert.False(t, m.IsSafetyCritical(models.RunTypeFastScan))
	})
}

func TestNew_Validation(t *testing.T) {
	t.Run("duplicate model key", func(t *testing.T) {
		catalog := builtinCatalog()
		catalog = append(catalog, catalog[0])
		_, err := New(catalog, builtinRoutes(), builtinRunTypeClasses(), builtinRunTypeCategories(), safetyCriticalRunTypes(), builtinStrategyRoutes())
		assert.ErrorContains(t, err, "duplicate model key")
	})

	t.Run("hard control must not configure models", func(t *testing.T) {
		routes := builtinRoutes()
		routes[models.RouteClassHardControl] = RouteConfig{Default: "anthropic:claude-opus-4"}
		_, err := New(builtinCatalog(), routes, builtinRunTypeClasses(), builtinRunTypeCategories(), safetyCriticalRunTypes(), builtinStrategyRoutes())
		assert.ErrorContains(t, err, "hard_control")
	})

	t.Run("fallback must be in catalog", func(t *testing.T) {
		routes := builtinRoutes()
		cfg := routes[models.RouteClassEconomy]
		cfg.Fallbacks = append(cfg.Fallbacks, "openai:gpt-99")
		routes[models.RouteClassEconomy] = cfg
		_, err := New(builtinCatalog(), routes, builtinRunTypeClasses(), builtinRunTypeCategories(), safetyCriticalRunTypes(), builtinStrategyRoutes())
		assert.ErrorContains(t, err, "not in catalog")
	})

	t.Run("missing run type mapping", func(t *testing.T) {
		classes := builtinRunTypeClasses()
		delete(classes, models.RunTypeTriage)
		_, err := New(builtinCatalog(), builtinRoutes(), classes, builtinRunTypeCategories(), safetyCriticalRunTypes(), builtinStrategyRoutes())
		assert.ErrorContains(t, err, "no default route class")
	})

	t.Run("strategy prefix must map to a known class", func(t *testing.T) {
		strategies := []StrategyRoute{{Prefix: "x-", Class: models.RouteClass("turbo")}}
		_, err := New(builtinCatalog(), builtinRoutes(), builtinRunTypeClasses(), builtinRunTypeCategories(), safetyCriticalRunTypes(), strategies)
		assert.ErrorContains(t, err, "unknown class")
	})

	t.Run("non-positive pricing rejected", func(t *testing.T) {
		catalog := builtinCatalog()
		catalog[0].Pricing.OutputPerMTok = 0
		_, err := New(catalog, builtinRoutes(), builtinRunTypeClasses(), builtinRunTypeCategories(), safetyCriticalRunTypes(), builtinStrategyRoutes())
		assert.ErrorContains(t, err, "non-positive pricing")
	})
}

func TestStrategyClass(t *testing.T) {
	m, err := Default()
	require.NoError(t, err)

	tests := []struct {
		strategyID string
		wantClass  models.RouteClass
		wantMatch  bool
	}{
		{"deep-forensic-v2", models.RouteClassPremium, true},
		{"DEEP-forensic-v2", models.RouteClassPremium, true},
		{"scan-bulk", models.RouteClassEconomy, true},
		{"archive-2020", models.RouteClassLongContext, true},
		{"longctx-replay", models.RouteClassLongContext, true},
		{"exp-ab-7", models.RouteClassBalanced, true},
		{"unmatched-strategy", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		class, ok := m.StrategyClass(tt.strategyID)
		assert.Equal(t, tt.wantMatch, ok, "strategy %q", tt.strategyID)
		if tt.wantMatch {
			assert.Equal(t, tt.wantClass, class, "strategy %q", tt.strategyID)
		}
	}
}

func TestStrategyClass_FirstMatchWins(t *testing.T) {
	m, err := New(
		builtinCatalog(),
		builtinRoutes(),
		builtinRunTypeClasses(),
		builtinRunTypeCategories(),
		safetyCriticalRunTypes(),
		[]StrategyRoute{
			{Prefix: "deep-", Class: models.RouteClassPremium},
			{Prefix: "deep-scan-", Class: models.RouteClassEconomy},
		},
	)
	require.NoError(t, err)

	class, ok := m.StrategyClass("deep-scan-v1")
	require.True(t, ok)
	assert.Equal(t, models.RouteClassPremium, class)
}

func TestEstimateCost(t *testing.T) {
	m, err := Default()
	require.NoError(t, err)

	rm, ok := m.Model("anthropic:claude-sonnet-4")
	require.True(t, ok)

	// 1M input at $3 + 1M output at $15
	assert.InDelta(t, 18.0, rm.EstimateCost(1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 0.0, rm.EstimateCost(0, 0), 1e-9)

	// Projection never applies the cache discount.
	assert.InDelta(t, 3.0, rm.EstimateCost(1_000_000, 0), 1e-9)
}

func TestActualCost(t *testing.T) {
	m, err := Default()
	require.NoError(t, err)

	rm, ok := m.Model("anthropic:claude-sonnet-4")
	require.True(t, ok)

	t.Run("cached input billed at discounted rate", func(t *testing.T) {
		usage := models.TokenUsage{InputTokens: 1_000_000, CachedInputTokens: 1_000_000}
		assert.InDelta(t, 0.3, rm.ActualCost(usage), 1e-9)
	})

	t.Run("cached tokens clamped to input tokens", func(t *testing.T) {
		usage := models.TokenUsage{InputTokens: 500_000, CachedInputTokens: 900_000}
		assert.InDelta(t, 0.15, rm.ActualCost(usage), 1e-9)
	})

	t.Run("no discount when model has no cached rate", func(t *testing.T) {
		gemini, ok := m.Model("google:gemini-2.5-pro")
		require.True(t, ok)
		usage := models.TokenUsage{InputTokens: 1_000_000, CachedInputTokens: 1_000_000}
		assert.InDelta(t, 1.25, gemini.ActualCost(usage), 1e-9)
	})
}

func TestModels_SortedByKey(t *testing.T) {
	m, err := Default()
	require.NoError(t, err)

	catalog := m.Models()
	require.NotEmpty(t, catalog)
	for i := 1; i < len(catalog); i++ {
		assert.Less(t, catalog[i-1].Key(), catalog[i].Key())
	}
}
