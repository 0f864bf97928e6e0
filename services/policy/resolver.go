// Package policy resolves a call's run type and overrides to a route class
// and a concrete model, applying a fixed precedence order. Resolution is
// pure: same input, same manifest, same answer.
package policy

import (
	"fmt"

	"github.com/stratoslabs/llm-router/models"
	"github.com/stratoslabs/llm-router/services"
	"github.com/stratoslabs/llm-router/services/manifest"
)

// RoutingInput is the per-call value object. Constructed fresh per call and
// never mutated after construction. Estimated token counts are used only
// for cost projection, never for billing.
type RoutingInput struct {
	RunType               models.RunType
	EstimatedInputTokens  int
	EstimatedOutputTokens int
	StrategyID            string
	ForceModel            string
	ForceRouteClass       models.RouteClass
	HighestStakes         bool
	OverrideReason        string
	Metadata              map[string]string
}

// Resolution is the outcome of route class resolution.
type Resolution struct {
	Class     models.RouteClass
	Source    models.PrecedenceSource
	Rationale string
}

// Resolver maps routing inputs to route classes and models against an
// immutable manifest.
type Resolver struct {
	manifest *manifest.Manifest
}

// NewResolver creates a resolver bound to a manifest.
func NewResolver(m *manifest.Manifest) *Resolver {
	return &Resolver{manifest: m}
}

// Resolve applies the precedence order, first match wins:
//  1. forced route class
//  2. highest-stakes flag or safety-critical run type -> premium
//  3. strategy prefix table
//  4. run type default (cheapest tier if the run type is unrecognized)
//
// An unrecognized forced class surfaces INVALID_FORCED_ROUTE_CLASS before
// any provider is touched.
func (r *Resolver) Resolve(input RoutingInput) (Resolution, error) {
	if input.ForceRouteClass != "" {
		if _, err := models.ParseRouteClass(string(input.ForceRouteClass)); err != nil {
			return Resolution{}, services.NewRoutingError(services.CodeInvalidForcedClass,
				fmt.Sprintf("forced route class %q is not recognized", input.ForceRouteClass), nil)
		}
		return Resolution{
			Class:     input.ForceRouteClass,
			Source:    models.SourceForcedOverride,
			Rationale: fmt.Sprintf("route class %q forced by caller", input.ForceRouteClass),
		}, nil
	}

	if input.HighestStakes || r.manifest.IsSafetyCritical(input.RunType) {
		reason := "run type is safety-critical"
		if input.HighestStakes {
			reason = "caller flagged highest stakes"
		}
		return Resolution{
			Class:     models.RouteClassPremium,
			Source:    models.SourceSafetyCritical,
			Rationale: fmt.Sprintf("premium tier selected: %s", reason),
		}, nil
	}

	if input.StrategyID != "" {
		if class, ok := r.manifest.StrategyClass(input.StrategyID); ok {
			return Resolution{
				Class:     class,
				Source:    models.SourceStrategySpecific,
				Rationale: fmt.Sprintf("strategy %q matched routing table entry for %q", input.StrategyID, class),
			}, nil
		}
	}

	if class, ok := r.manifest.DefaultClass(input.RunType); ok {
		return Resolution{
			Class:     class,
			Source:    models.SourceDefaultLowCost,
			Rationale: fmt.Sprintf("default route class %q for run type %q", class, input.RunType),
		}, nil
	}

	// Unreachable when the manifest passed validation; kept so a violated
	// mapping invariant degrades to the cheapest tier, never a nil model.
	return Resolution{
		Class:     models.RouteClassEconomy,
		Source:    models.SourceDefaultLowCost,
		Rationale: fmt.Sprintf("run type %q unrecognized, economy tier fallback", input.RunType),
	}, nil
}

// ModelForRoute selects the concrete model for a resolved class. A forced
// model beats the tier default but must exist in the manifest; model
// selection for the hard-control tier is always forbidden, forcing
// included.
func (r *Resolver) ModelForRoute(input RoutingInput, class models.RouteClass) (manifest.ResolvedModel, error) {
	if class == models.RouteClassHardControl {
		return manifest.ResolvedModel{}, services.NewRoutingError(services.CodeHardControlForbidden,
			fmt.Sprintf("run type %q resolved to the hard-control tier", input.RunType), nil)
	}

	if input.ForceModel != "" {
		rm, ok := r.manifest.Model(input.ForceModel)
		if !ok {
			return manifest.ResolvedModel{}, services.NewRoutingError(services.CodeInvalidForcedModel,
				fmt.Sprintf("forced model %q is not in the manifest", input.ForceModel), nil)
		}
		return rm, nil
	}

	cfg, ok := r.manifest.Route(class)
	if !ok || cfg.Default == "" {
		return manifest.ResolvedModel{}, services.NewRoutingError(services.CodeUnknownRunType,
			fmt.Sprintf("route class %q has no default model", class), nil)
	}
	rm, ok := r.manifest.Model(cfg.Default)
	if !ok {
		return manifest.ResolvedModel{}, services.NewRoutingError(services.CodeUnknownRunType,
			fmt.Sprintf("route class %q default %q missing from catalog", class, cfg.Default), nil)
	}
	return rm, nil
}

// Candidates builds the ordered dispatch list for a resolved class: the
// forced model alone when forcing was used, otherwise the default model
// followed by the tier's fallback chain, de-duplicated preserving
// first-seen order.
func (r *Resolver) Candidates(input RoutingInput, class models.RouteClass, selected manifest.ResolvedModel) []manifest.ResolvedModel {
	if input.ForceModel != "" {
		return []manifest.ResolvedModel{selected}
	}

	seen := map[string]bool{selected.Key(): true}
	out := []manifest.ResolvedModel{selected}
	if cfg, ok := r.manifest.Route(class); ok {
		for _, key := range cfg.Fallbacks {
			if seen[key] {
				continue
			}
			if rm, ok := r.manifest.Model(key); ok {
				seen[key] = true
				out = append(out, rm)
			}
		}
	}
	return out
}

// Category returns the budget category for the input's run type, falling
// back to enrichment if the run type is unmapped (unreachable after
// manifest validation).
func (r *Resolver) Category(rt models.RunType) models.BudgetCategory {
	if cat, ok := r.manifest.Category(rt); ok {
		return cat
	}
	return models.BudgetCategoryEnrichment
}
