package manifest

import "github.com/stratoslabs/llm-router/models"

// Built-in catalog. Prices are USD per million tokens. Operators adjust
// these through the YAML override file, never at runtime.
func builtinCatalog() []ResolvedModel {
	return []ResolvedModel{
		{
			Provider:        "anthropic",
			Model:           "claude-opus-4",
			Temperature:     0.2,
			MaxOutputTokens: 8192,
			Cache:           CacheEphemeral,
			Pricing:         Pricing{InputPerMTok: 15.0, OutputPerMTok: 75.0, CachedInputPerMTok: 1.5},
		},
		{
			Provider:        "anthropic",
			Model:           "claude-sonnet-4",
			Temperature:     0.3,
			MaxOutputTokens: 8192,
			Cache:           CacheEphemeral,
			Pricing:         Pricing{InputPerMTok: 3.0, OutputPerMTok: 15.0, CachedInputPerMTok: 0.3},
		},
		{
			Provider:        "anthropic",
			Model:           "claude-haiku-3-5",
			Temperature:     0.5,
			MaxOutputTokens: 4096,
			Cache:           CacheEphemeral,
			Pricing:         Pricing{InputPerMTok: 0.8, OutputPerMTok: 4.0, CachedInputPerMTok: 0.08},
		},
		{
			Provider:        "openai",
			Model:           "gpt-4o",
			Temperature:     0.3,
			MaxOutputTokens: 8192,
			Cache:           CacheImplicit,
			Pricing:         Pricing{InputPerMTok: 2.5, OutputPerMTok: 10.0, CachedInputPerMTok: 1.25},
		},
		{
			Provider:        "openai",
			Model:           "gpt-4o-mini",
			Temperature:     0.5,
			MaxOutputTokens: 4096,
			Cache:           CacheImplicit,
			Pricing:         Pricing{InputPerMTok: 0.15, OutputPerMTok: 0.6, CachedInputPerMTok: 0.075},
		},
		{
			Provider:        "google",
			Model:           "gemini-2.5-pro",
			Temperature:     0.3,
			MaxOutputTokens: 16384,
			Cache:           CacheNone,
			Pricing:         Pricing{InputPerMTok: 1.25, OutputPerMTok: 10.0},
		},
	}
}

func builtinRoutes() map[models.RouteClass]RouteConfig {
	return map[models.RouteClass]RouteConfig{
		models.RouteClassHardControl: {},
		models.RouteClassPremium: {
			Default:   "anthropic:claude-opus-4",
			Fallbacks: []string{"anthropic:claude-sonnet-4", "openai:gpt-4o"},
		},
		models.RouteClassBalanced: {
			Default:   "anthropic:claude-sonnet-4",
			Fallbacks: []string{"openai:gpt-4o", "anthropic:claude-haiku-3-5"},
		},
		models.RouteClassEconomy: {
			Default:   "anthropic:claude-haiku-3-5",
			Fallbacks: []string{"openai:gpt-4o-mini"},
		},
		models.RouteClassLongContext: {
			Default:   "google:gemini-2.5-pro",
			Fallbacks: []string{"anthropic:claude-sonnet-4"},
		},
	}
}

func builtinRunTypeClasses() map[models.RunType]models.RouteClass {
	return map[models.RunType]models.RouteClass{
		models.RunTypeDeepScoring:      models.RouteClassPremium,
		models.RunTypeFastScan:         models.RouteClassEconomy,
		models.RunTypeLongSynthesis:    models.RouteClassLongContext,
		models.RunTypeEnrichment:       models.RouteClassEconomy,
		models.RunTypeTriage:           models.RouteClassBalanced,
		models.RunTypeComplianceReview: models.RouteClassPremium,
		models.RunTypeAnomalyReview:    models.RouteClassBalanced,
		models.RunTypeSummary:          models.RouteClassEconomy,
	}
}

func builtinRunTypeCategories() map[models.RunType]models.BudgetCategory {
	return map[models.RunType]models.BudgetCategory{
		models.RunTypeDeepScoring:      models.BudgetCategoryScoring,
		models.RunTypeFastScan:         models.BudgetCategoryScanning,
		models.RunTypeLongSynthesis:    models.BudgetCategorySynthesis,
		models.RunTypeEnrichment:       models.BudgetCategoryEnrichment,
		models.RunTypeTriage:           models.BudgetCategoryScanning,
		models.RunTypeComplianceReview: models.BudgetCategoryScoring,
		models.RunTypeAnomalyReview:    models.BudgetCategoryScoring,
		models.RunTypeSummary:          models.BudgetCategorySynthesis,
	}
}

// safetyCriticalRunTypes always resolve to the premium tier regardless of
// strategy routing or defaults.
func safetyCriticalRunTypes() []models.RunType {
	return []models.RunType{
		models.RunTypeDeepScoring,
		models.RunTypeComplianceReview,
	}
}

// builtinStrategyRoutes is the reviewable prefix table for
// strategy-specific routing. First matching prefix wins.
func builtinStrategyRoutes() []StrategyRoute {
	return []StrategyRoute{
		{Prefix: "deep-", Class: models.RouteClassPremium},
		{Prefix: "forensic-", Class: models.RouteClassPremium},
		{Prefix: "scan-", Class: models.RouteClassEconomy},
		{Prefix: "bulk-", Class: models.RouteClassEconomy},
		{Prefix: "archive-", Class: models.RouteClassLongContext},
		{Prefix: "longctx-", Class: models.RouteClassLongContext},
		{Prefix: "exp-", Class: models.RouteClassBalanced},
	}
}

// Default returns the built-in manifest. The built-in tables are exercised
// by the validation in New, so a broken table is a startup failure.
func Default() (*Manifest, error) {
	return New(
		builtinCatalog(),
		builtinRoutes(),
		builtinRunTypeClasses(),
		builtinRunTypeCategories(),
		safetyCriticalRunTypes(),
		builtinStrategyRoutes(),
	)
}
