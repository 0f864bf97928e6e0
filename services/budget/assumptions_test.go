package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratoslabs/llm-router/models"
	"github.com/stratoslabs/llm-router/services/manifest"
)

func TestDefaultAssumptions_Valid(t *testing.T) {
	assert.NoError(t, DefaultAssumptions().Validate())
}

func TestAssumptions_Validate(t *testing.T) {
	t.Run("route class mix summing to 1.02 is rejected", func(t *testing.T) {
		a := DefaultAssumptions()
		a.RouteClassMix[models.RouteClassPremium] += 0.02

		err := a.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "route class mix")
	})

	t.Run("category mix must sum to 1", func(t *testing.T) {
		a := DefaultAssumptions()
		a.CategoryMix[models.BudgetCategoryScoring] -= 0.05

		err := a.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "category mix")
	})

	t.Run("drift within tolerance is accepted", func(t *testing.T) {
		a := DefaultAssumptions()
		a.RouteClassMix[models.RouteClassPremium] += 5e-5
		a.RouteClassMix[models.RouteClassEconomy] -= 1e-5

		assert.NoError(t, a.Validate())
	})

	t.Run("class in mix needs a token profile", func(t *testing.T) {
		a := DefaultAssumptions()
		delete(a.AvgTokens, models.RouteClassLongContext)

		err := a.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "token profile")
	})

	t.Run("zero calls per day rejected", func(t *testing.T) {
		a := DefaultAssumptions()
		a.CallsPerDay = 0
		assert.Error(t, a.Validate())
	})

	t.Run("safety multiplier below 1 rejected", func(t *testing.T) {
		a := DefaultAssumptions()
		a.SafetyMultiplier = 0.9
		assert.Error(t, a.Validate())
	})
}

func TestDeriveEnvelopes(t *testing.T) {
	m, err := manifest.Default()
	require.NoError(t, err)

	a := DefaultAssumptions()
	envelopes, err := DeriveEnvelopes(a, m)
	require.NoError(t, err)

	t.Run("every category in the mix gets an envelope", func(t *testing.T) {
		for _, cat := range models.AllBudgetCategories() {
			env, ok := envelopes[cat]
			require.True(t, ok, "category %q has no envelope", cat)
			assert.Greater(t, env.DailyLimitUSD, 0.0)
			assert.Equal(t, a.AlertThresholdPct, env.AlertThresholdPct)
			assert.Equal(t, a.HardCapPct, env.HardCapPct)
		}
	})

	t.Run("monthly is daily times days per month", func(t *testing.T) {
		for _, env := range envelopes {
			assert.InDelta(t, env.DailyLimitUSD*float64(a.DaysPerMonth), env.MonthlyLimitUSD, 1e-9)
		}
	})

	t.Run("category split follows the mix", func(t *testing.T) {
		var total float64
		for _, env := range envelopes {
			total += env.DailyLimitUSD
		}
		for cat, frac := range a.CategoryMix {
			assert.InDelta(t, total*frac, envelopes[cat].DailyLimitUSD, 1e-9)
		}
	})
}

func TestDeriveEnvelopes_Deterministic(t *testing.T) {
	m, err := manifest.Default()
	require.NoError(t, err)

	first, err := DeriveEnvelopes(DefaultAssumptions(), m)
	require.NoError(t, err)

	// Bit-identical across repeated derivations, map iteration order
	// notwithstanding.
	for i := 0; i < 20; i++ {
		again, err := DeriveEnvelopes(DefaultAssumptions(), m)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDeriveEnvelopes_InvalidAssumptions(t *testing.T) {
	m, err := manifest.Default()
	require.NoError(t, err)

	a := DefaultAssumptions()
	a.CategoryMix[models.BudgetCategoryScoring] += 0.02

	_, err = DeriveEnvelopes(a, m)
	assert.Error(t, err)
}

func TestCostPerCall(t *testing.T) {
	rm := manifest.ResolvedModel{
		Provider: "anthropic",
		Model:    "claude-sonnet-4",
		Pricing:  manifest.Pricing{InputPerMTok: 3.0, OutputPerMTok: 15.0, CachedInputPerMTok: 0.3},
	}
	profile := TokenProfile{InputTokens: 1_000_000, OutputTokens: 1_000_000}

	t.Run("no cache hits pays full input rate", func(t *testing.T) {
		assert.InDelta(t, 18.0, costPerCall(rm, profile, 0), 1e-9)
	})

	t.Run("full cache hits pay the discounted rate", func(t *testing.T) {
		assert.InDelta(t, 15.3, costPerCall(rm, profile, 1), 1e-9)
	})

	t.Run("no discount without a cached rate", func(t *testing.T) {
		flat := rm
		flat.Pricing.CachedInputPerMTok = 0
		assert.InDelta(t, 18.0, costPerCall(flat, profile, 0.5), 1e-9)
	})
}
