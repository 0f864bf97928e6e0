package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoutingDecision_DeterministicID(t *testing.T) {
	ts := time.Date(2025, 6, 12, 10, 30, 0, 0, time.UTC)

	t.Run("same fields produce the same id", func(t *testing.T) {
		a := NewRoutingDecision(RunTypeDeepScoring, RouteClassPremium, SourceSafetyCritical, "premium tier selected", ts)
		b := NewRoutingDecision(RunTypeDeepScoring, RouteClassPremium, SourceSafetyCritical, "premium tier selected", ts)
		assert.Equal(t, a.ID, b.ID)
	})

	t.Run("different timestamp produces a different id", func(t *testing.T) {
		a := NewRoutingDecision(RunTypeDeepScoring, RouteClassPremium, SourceSafetyCritical, "premium tier selected", ts)
		b := NewRoutingDecision(RunTypeDeepScoring, RouteClassPremium, SourceSafetyCritical, "premium tier selected", ts.Add(time.Nanosecond))
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("different rationale produces a different id", func(t *testing.T) {
		a := NewRoutingDecision(RunTypeTriage, RouteClassBalanced, SourceDefaultLowCost, "default route", ts)
		b := NewRoutingDecision(RunTypeTriage, RouteClassBalanced, SourceDefaultLowCost, "strategy route", ts)
		assert.NotEqual(t, a.ID, b.ID)
	})
}

func TestRoutingDecision_Builders(t *testing.T) {
	ts := time.Date(2025, 6, 12, 10, 30, 0, 0, time.UTC)
	d := NewRoutingDecision(RunTypeFastScan, RouteClassEconomy, SourceDefaultLowCost, "default", ts).
		WithModel("anthropic", "claude-haiku-3-5").
		WithStrategy("scan-q2").
		WithBudget(BudgetCategoryScanning, 0.004).
		WithMetadata(map[string]string{"tenant": "acme"})

	require.NotNil(t, d.Provider)
	assert.Equal(t, "anthropic", *d.Provider)
	require.NotNil(t, d.Model)
	assert.Equal(t, "claude-haiku-3-5", *d.Model)
	assert.Equal(t, "scan-q2", d.StrategyID)
	assert.Equal(t, BudgetCategoryScanning, d.BudgetCategory)
	assert.Equal(t, 0.004, d.ProjectedCost)
	assert.JSONEq(t, `{"tenant":"acme"}`, string(d.Metadata))
	assert.False(t, d.OverrideUsed)
}

func TestRoutingDecision_WithOverride(t *testing.T) {
	ts := time.Now().UTC()
	d := NewRoutingDecision(RunTypeTriage, RouteClassPremium, SourceForcedOverride, "forced", ts).
		WithOverride("incident response")

	assert.True(t, d.OverrideUsed)
	assert.Equal(t, "incident response", d.OverrideReason)
}

func TestRoutingDecision_MarkSucceeded(t *testing.T) {
	ts := time.Now().UTC()
	d := NewRoutingDecision(RunTypeSummary, RouteClassEconomy, SourceDefaultLowCost, "default", ts)
	d.MarkSucceeded(0.0123, 1500*time.Millisecond)

	assert.True(t, d.Success)
	require.NotNil(t, d.ActualCost)
	assert.Equal(t, 0.0123, *d.ActualCost)
	require.NotNil(t, d.LatencyMs)
	assert.Equal(t, 1500, *d.LatencyMs)
	assert.Nil(t, d.FailureCode)
}

func TestRoutingDecision_MarkFailed(t *testing.T) {
	ts := time.Now().UTC()

	t.Run("all models failed is retryable", func(t *testing.T) {
		d := NewRoutingDecision(RunTypeSummary, RouteClassEconomy, SourceDefaultLowCost, "default", ts)
		d.MarkFailed(FailureAllModelsFailed, "every candidate failed", true)

		assert.False(t, d.Success)
		require.NotNil(t, d.FailureCode)
		assert.Equal(t, FailureAllModelsFailed, *d.FailureCode)
		assert.True(t, d.Retryable)
	})

	t.Run("budget exceeded is not retryable", func(t *testing.T) {
		d := NewRoutingDecision(RunTypeSummary, RouteClassEconomy, SourceDefaultLowCost, "default", ts)
		d.MarkFailed(FailureBudgetExceeded, "daily budget exceeded", false)

		assert.False(t, d.Success)
		assert.False(t, d.Retryable)
	})
}
