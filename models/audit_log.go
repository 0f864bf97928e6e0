package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of event being audited.
type AuditAction string

const (
	AuditActionRoutingDecision AuditAction = "routing_decision"
	AuditActionRoutingOverride AuditAction = "routing_override"
	AuditActionBudgetDenied    AuditAction = "budget_denied"
	AuditActionBudgetAlert     AuditAction = "budget_alert"
)

// AuditLog represents one structured audit trail entry. EntityID points at
// the routing decision (or other record) the event describes; Details is a
// JSONB payload with event-specific fields.
type AuditLog struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	Action     AuditAction     `json:"action" db:"action"`
	EntityType string          `json:"entity_type" db:"entity_type"`
	EntityID   *uuid.UUID      `json:"entity_id,omitempty" db:"entity_id"`
	Details    json.RawMessage `json:"details" db:"details"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`

	// Routing-specific fields, denormalized for query convenience.
	RunType    *string  `json:"run_type,omitempty" db:"run_type"`
	RouteClass *string  `json:"route_class,omitempty" db:"route_class"`
	Model      *string  `json:"model,omitempty" db:"model"`
	Provider   *string  `json:"provider,omitempty" db:"provider"`
	CostUSD    *float64 `json:"cost_usd,omitempty" db:"cost_usd"`
	LatencyMs  *int     `json:"latency_ms,omitempty" db:"latency_ms"`
}

// TableName returns the table name for the AuditLog model.
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance.
func NewAuditLog(action AuditAction, entityType string) *AuditLog {
	return &AuditLog{
		ID:         uuid.New(),
		Action:     action,
		EntityType: entityType,
		Timestamp:  time.Now().UTC(),
	}
}

// WithEntity sets the entity the event refers to.
func (a *AuditLog) WithEntity(entityID uuid.UUID) *AuditLog {
	a.EntityID = &entityID
	return a
}

// WithDetails marshals and attaches the event payload.
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRouting sets the denormalized routing fields.
func (a *AuditLog) WithRouting(runType RunType, routeClass RouteClass) *AuditLog {
	rt := string(runType)
	rc := string(routeClass)
	a.RunType = &rt
	a.RouteClass = &rc
	return a
}

// WithModelMetrics sets model, provider, cost and latency.
func (a *AuditLog) WithModelMetrics(provider, model string, cost float64, latencyMs int) *AuditLog {
	a.Provider = &provider
	a.Model = &model
	a.CostUSD = &cost
	a.LatencyMs = &latencyMs
	return a
}
