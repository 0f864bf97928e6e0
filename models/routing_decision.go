package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// decisionNamespace is the fixed UUIDv5 namespace for routing decision ids.
var decisionNamespace = uuid.MustParse("7d3f1a52-9e0b-4c6d-8a21-5b4f0c9d2e77")

// FailureCode classifies terminal routing failures. All codes are
// fail-closed; only ALL_MODELS_FAILED is retryable by the caller.
type FailureCode string

const (
	FailureUnknownRunType       FailureCode = "UNKNOWN_RUN_TYPE"
	FailureHardControlForbidden FailureCode = "DETERMINISTIC_HARD_CONTROL_FORBIDDEN"
	FailureInvalidForcedModel   FailureCode = "INVALID_FORCED_MODEL"
	FailureInvalidForcedClass   FailureCode = "INVALID_FORCED_ROUTE_CLASS"
	FailureBudgetExceeded       FailureCode = "BUDGET_EXCEEDED"
	FailureAllModelsFailed      FailureCode = "ALL_MODELS_FAILED"
)

// RoutingDecision is the single persisted artifact per routed call attempt.
// It is write-once: constructed, persisted, never updated.
type RoutingDecision struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	Timestamp      time.Time        `json:"timestamp" db:"timestamp"`
	RunType        RunType          `json:"run_type" db:"run_type"`
	RouteClass     RouteClass       `json:"route_class" db:"route_class"`
	Provider       *string          `json:"provider,omitempty" db:"provider"`
	Model          *string          `json:"model,omitempty" db:"model"`
	Rationale      string           `json:"rationale" db:"rationale"`
	Source         PrecedenceSource `json:"source" db:"source"`
	StrategyID     string           `json:"strategy_id,omitempty" db:"strategy_id"`
	OverrideUsed   bool             `json:"override_used" db:"override_used"`
	OverrideReason string           `json:"override_reason,omitempty" db:"override_reason"`
	ProjectedCost  float64          `json:"projected_cost" db:"projected_cost"`
	ActualCost     *float64         `json:"actual_cost,omitempty" db:"actual_cost"`
	LatencyMs      *int             `json:"latency_ms,omitempty" db:"latency_ms"`
	BudgetCategory BudgetCategory   `json:"budget_category" db:"budget_category"`
	Success        bool             `json:"success" db:"success"`
	FailureReason  *string          `json:"failure_reason,omitempty" db:"failure_reason"`
	FailureCode    *FailureCode     `json:"failure_code,omitempty" db:"failure_code"`
	Retryable      bool             `json:"retryable" db:"retryable"`
	Metadata       json.RawMessage  `json:"metadata,omitempty" db:"metadata"`
}

// TableName returns the table name for the RoutingDecision model.
func (RoutingDecision) TableName() string {
	return "routing_decisions"
}

// NewRoutingDecision builds a decision skeleton for a call attempt. The id
// is a UUIDv5 content hash over the identifying fields, so replaying the
// same attempt produces the same id. Collisions are as likely as SHA-1
// collisions, which is acceptable for audit-trail identity.
func NewRoutingDecision(runType RunType, routeClass RouteClass, source PrecedenceSource, rationale string, ts time.Time) *RoutingDecision {
	d := &RoutingDecision{
		Timestamp:  ts,
		RunType:    runType,
		RouteClass: routeClass,
		Rationale:  rationale,
		Source:     source,
	}
	d.ID = d.contentID()
	return d
}

// contentID derives the deterministic decision id from a canonical
// serialization of the identifying fields.
func (d *RoutingDecision) contentID() uuid.UUID {
	canonical := strings.Join([]string{
		string(d.RunType),
		string(d.RouteClass),
		string(d.Source),
		d.Rationale,
		fmt.Sprintf("%d", d.Timestamp.UnixNano()),
	}, "|")
	return uuid.NewSHA1(decisionNamespace, []byte(canonical))
}

// WithModel records the resolved provider and model.
func (d *RoutingDecision) WithModel(provider, model string) *RoutingDecision {
	d.Provider = &provider
	d.Model = &model
	return d
}

// WithStrategy records the caller-supplied strategy identifier.
func (d *RoutingDecision) WithStrategy(strategyID string) *RoutingDecision {
	d.StrategyID = strategyID
	return d
}

// WithOverride marks the decision as produced under an override.
func (d *RoutingDecision) WithOverride(reason string) *RoutingDecision {
	d.OverrideUsed = true
	d.OverrideReason = reason
	return d
}

// WithBudget records the projected cost and budget category.
func (d *RoutingDecision) WithBudget(category BudgetCategory, projected float64) *RoutingDecision {
	d.BudgetCategory = category
	d.ProjectedCost = projected
	return d
}

// WithMetadata attaches the opaque caller metadata bag.
func (d *RoutingDecision) WithMetadata(metadata map[string]string) *RoutingDecision {
	if len(metadata) == 0 {
		return d
	}
	if data, err := json.Marshal(metadata); err == nil {
		d.Metadata = data
	}
	return d
}

// MarkSucceeded finalizes the decision for a successful dispatch.
func (d *RoutingDecision) MarkSucceeded(actualCost float64, latency time.Duration) *RoutingDecision {
	d.Success = true
	d.ActualCost = &actualCost
	ms := int(latency.Milliseconds())
	d.LatencyMs = &ms
	return d
}

// MarkFailed finalizes the decision for a terminal failure.
func (d *RoutingDecision) MarkFailed(code FailureCode, reason string, retryable bool) *RoutingDecision {
	d.Success = false
	d.FailureCode = &code
	d.FailureReason = &reason
	d.Retryable = retryable
	return d
}
