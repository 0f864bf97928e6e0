// Package budget derives spending envelopes from declarative capacity
// assumptions and enforces them through an atomic admission ledger.
// Operators change the assumptions, never the derived numbers.
package budget

import (
	"fmt"
	"math"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/stratoslabs/llm-router/models"
	"github.com/stratoslabs/llm-router/services/manifest"
)

// mixTolerance is how far a fraction mix may drift from summing to 1.
const mixTolerance = 1e-4

// TokenProfile is the expected average token volume for one route class.
type TokenProfile struct {
	InputTokens  int `yaml:"input_tokens" validate:"gte=0"`
	OutputTokens int `yaml:"output_tokens" validate:"gte=0"`
}

// Assumptions is the declarative capacity plan the envelopes derive from.
// Route class mix and category mix must each sum to 1 within tolerance;
// violating this fails at construction, never at admission time.
type Assumptions struct {
	CallsPerDay       int                                `yaml:"calls_per_day" validate:"required,gt=0"`
	DaysPerMonth      int                                `yaml:"days_per_month" validate:"required,gte=1,lte=31"`
	RouteClassMix     map[models.RouteClass]float64      `yaml:"route_class_mix" validate:"required,dive,gte=0,lte=1"`
	CategoryMix       map[models.BudgetCategory]float64  `yaml:"category_mix" validate:"required,dive,gte=0,lte=1"`
	AvgTokens         map[models.RouteClass]TokenProfile `yaml:"avg_tokens" validate:"required"`
	RetryRate         float64                            `yaml:"retry_rate" validate:"gte=0,lte=1"`
	CacheHitRate      float64                            `yaml:"cache_hit_rate" validate:"gte=0,lte=1"`
	SafetyMultiplier  float64                            `yaml:"safety_multiplier" validate:"required,gte=1"`
	AlertThresholdPct float64                            `yaml:"alert_threshold_pct" validate:"required,gt=0,lte=100"`
	HardCapPct        float64                            `yaml:"hard_cap_pct" validate:"required,gt=0,lte=200"`
}

// Envelope is the derived per-category cap set. Never hand-authored.
type Envelope struct {
	Category          models.BudgetCategory `json:"category"`
	DailyLimitUSD     float64               `json:"daily_limit_usd"`
	MonthlyLimitUSD   float64               `json:"monthly_limit_usd"`
	AlertThresholdPct float64               `json:"alert_threshold_pct"`
	HardCapPct        float64               `json:"hard_cap_pct"`
}

var validate = validator.New()

// Validate checks field constraints and the mix-sum invariants.
func (a Assumptions) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("budget assumptions invalid: %w", err)
	}
	if err := checkMixSum("route class mix", sumClassMix(a.RouteClassMix)); err != nil {
		return err
	}
	if err := checkMixSum("category mix", sumCategoryMix(a.CategoryMix)); err != nil {
		return err
	}
	for class, frac := range a.RouteClassMix {
		if frac > 0 && class != models.RouteClassHardControl {
			if _, ok := a.AvgTokens[class]; !ok {
				return fmt.Errorf("budget assumptions invalid: route class %q in mix has no token profile", class)
			}
		}
	}
	return nil
}

func checkMixSum(name string, sum float64) error {
	if math.Abs(sum-1.0) > mixTolerance {
		return fmt.Errorf("budget assumptions invalid: %s sums to %.4f, want 1.0 within %.0e", name, sum, mixTolerance)
	}
	return nil
}

func sumClassMix(mix map[models.RouteClass]float64) float64 {
	var sum float64
	for _, f := range mix {
		sum += f
	}
	return sum
}

func sumCategoryMix(mix map[models.BudgetCategory]float64) float64 {
	var sum float64
	for _, f := range mix {
		sum += f
	}
	return sum
}

// DeriveEnvelopes computes per-category daily and monthly caps from the
// assumptions. The derivation is a pure function: identical assumptions
// and manifest yield bit-identical envelopes.
func DeriveEnvelopes(a Assumptions, m *manifest.Manifest) (map[models.BudgetCategory]Envelope, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	var totalDaily float64
	// Deterministic iteration so float accumulation order is stable.
	classes := make([]models.RouteClass, 0, len(a.RouteClassMix))
	for class := range a.RouteClassMix {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	for _, class := range classes {
		frac := a.RouteClassMix[class]
		if frac == 0 || class == models.RouteClassHardControl {
			continue
		}
		cfg, ok := m.Route(class)
		if !ok || cfg.Default == "" {
			return nil, fmt.Errorf("budget derivation: route class %q has no default model", class)
		}
		rm, ok := m.Model(cfg.Default)
		if !ok {
			return nil, fmt.Errorf("budget derivation: model %q not in catalog", cfg.Default)
		}
		profile := a.AvgTokens[class]
		totalDaily += float64(a.CallsPerDay) * frac * (1 + a.RetryRate) * costPerCall(rm, profile, a.CacheHitRate)
	}
	totalDaily *= a.SafetyMultiplier

	envelopes := make(map[models.BudgetCategory]Envelope, len(a.CategoryMix))
	for cat, frac := range a.CategoryMix {
		daily := totalDaily * frac
		envelopes[cat] = Envelope{
			Category:          cat,
			DailyLimitUSD:     daily,
			MonthlyLimitUSD:   daily * float64(a.DaysPerMonth),
			AlertThresholdPct: a.AlertThresholdPct,
			HardCapPct:        a.HardCapPct,
		}
	}
	return envelopes, nil
}

// costPerCall prices one average call for a class, applying the cache hit
// rate to the input side when the model discounts cached input.
func costPerCall(rm manifest.ResolvedModel, p TokenProfile, cacheHitRate float64) float64 {
	cachedRate := rm.Pricing.CachedInputPerMTok
	if cachedRate == 0 {
		cachedRate = rm.Pricing.InputPerMTok
	}
	in := float64(p.InputTokens)
	inputCost := in*(1-cacheHitRate)/1e6*rm.Pricing.InputPerMTok + in*cacheHitRate/1e6*cachedRate
	outputCost := float64(p.OutputTokens) / 1e6 * rm.Pricing.OutputPerMTok
	return inputCost + outputCost
}

// DefaultAssumptions is the shipped capacity plan.
func DefaultAssumptions() Assumptions {
	return Assumptions{
		CallsPerDay:  20000,
		DaysPerMonth: 30,
		RouteClassMix: map[models.RouteClass]float64{
			models.RouteClassPremium:     0.10,
			models.RouteClassBalanced:    0.25,
			models.RouteClassEconomy:     0.55,
			models.RouteClassLongContext: 0.10,
		},
		CategoryMix: map[models.BudgetCategory]float64{
			models.BudgetCategoryScoring:    0.35,
			models.BudgetCategoryScanning:   0.30,
			models.BudgetCategorySynthesis:  0.20,
			models.BudgetCategoryEnrichment: 0.15,
		},
		AvgTokens: map[models.RouteClass]TokenProfile{
			models.RouteClassPremium:     {InputTokens: 6000, OutputTokens: 1500},
			models.RouteClassBalanced:    {InputTokens: 3000, OutputTokens: 800},
			models.RouteClassEconomy:     {InputTokens: 1500, OutputTokens: 400},
			models.RouteClassLongContext: {InputTokens: 60000, OutputTokens: 2000},
		},
		RetryRate:         0.08,
		CacheHitRate:      0.35,
		SafetyMultiplier:  1.5,
		AlertThresholdPct: 80,
		HardCapPct:        100,
	}
}
