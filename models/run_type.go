package models

import "fmt"

// RunType identifies the business purpose of a routed call. The set is
// closed: every run type is exhaustively mapped to a route class and a
// budget category at compile time.
type RunType string

const (
	RunTypeDeepScoring      RunType = "deep_scoring"      // high-stakes scoring
	RunTypeFastScan         RunType = "fast_scan"         // fast scanning
	RunTypeLongSynthesis    RunType = "long_synthesis"    // long-context synthesis
	RunTypeEnrichment       RunType = "enrichment"        // low-cost enrichment
	RunTypeTriage           RunType = "triage"            // initial case triage
	RunTypeComplianceReview RunType = "compliance_review" // regulated-decision review
	RunTypeAnomalyReview    RunType = "anomaly_review"    // second look at flagged items
	RunTypeSummary          RunType = "summary"           // case summarization
)

// AllRunTypes lists every known run type.
func AllRunTypes() []RunType {
	return []RunType{
		RunTypeDeepScoring,
		RunTypeFastScan,
		RunTypeLongSynthesis,
		RunTypeEnrichment,
		RunTypeTriage,
		RunTypeComplianceReview,
		RunTypeAnomalyReview,
		RunTypeSummary,
	}
}

// ParseRunType validates a string against the closed run type set.
func ParseRunType(s string) (RunType, error) {
	for _, rt := range AllRunTypes() {
		if string(rt) == s {
			return rt, nil
		}
	}
	return "", fmt.Errorf("unknown run type: %q", s)
}

// RouteClass is a policy tier balancing cost, latency and quality.
// RouteClassHardControl is the tier for which LLM use is categorically
// forbidden; the remaining four are LLM-eligible.
type RouteClass string

const (
	RouteClassHardControl RouteClass = "hard_control"
	RouteClassPremium     RouteClass = "premium"
	RouteClassBalanced    RouteClass = "balanced"
	RouteClassEconomy     RouteClass = "economy"
	RouteClassLongContext RouteClass = "long_context"
)

// AllRouteClasses lists every route class, hard_control included.
func AllRouteClasses() []RouteClass {
	return []RouteClass{
		RouteClassHardControl,
		RouteClassPremium,
		RouteClassBalanced,
		RouteClassEconomy,
		RouteClassLongContext,
	}
}

// ParseRouteClass validates a string against the closed route class set.
func ParseRouteClass(s string) (RouteClass, error) {
	for _, rc := range AllRouteClasses() {
		if string(rc) == s {
			return rc, nil
		}
	}
	return "", fmt.Errorf("unknown route class: %q", s)
}

// BudgetCategory groups spend for capping purposes. Several run types can
// share one category.
type BudgetCategory string

const (
	BudgetCategoryScoring    BudgetCategory = "scoring"
	BudgetCategoryScanning   BudgetCategory = "scanning"
	BudgetCategorySynthesis  BudgetCategory = "synthesis"
	BudgetCategoryEnrichment BudgetCategory = "enrichment"
)

// AllBudgetCategories lists every budget category.
func AllBudgetCategories() []BudgetCategory {
	return []BudgetCategory{
		BudgetCategoryScoring,
		BudgetCategoryScanning,
		BudgetCategorySynthesis,
		BudgetCategoryEnrichment,
	}
}

// ParseBudgetCategory validates a string against the closed category set.
func ParseBudgetCategory(s string) (BudgetCategory, error) {
	for _, c := range AllBudgetCategories() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown budget category: %q", s)
}

// BudgetPeriod is the time window a cap applies to.
type BudgetPeriod string

const (
	PeriodDaily   BudgetPeriod = "daily"
	PeriodMonthly BudgetPeriod = "monthly"
)

// ParseBudgetPeriod validates a string against the two period kinds.
func ParseBudgetPeriod(s string) (BudgetPeriod, error) {
	switch BudgetPeriod(s) {
	case PeriodDaily:
		return PeriodDaily, nil
	case PeriodMonthly:
		return PeriodMonthly, nil
	}
	return "", fmt.Errorf("unknown budget period: %q", s)
}

// PrecedenceSource names the policy rule that produced a routing decision.
type PrecedenceSource string

const (
	SourceForcedOverride   PrecedenceSource = "forced_override"
	SourceSafetyCritical   PrecedenceSource = "safety_critical"
	SourceStrategySpecific PrecedenceSource = "strategy_specific"
	SourceDefaultLowCost   PrecedenceSource = "default_low_cost"
)
