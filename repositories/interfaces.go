// Package repositories defines the persistence interfaces for the routing
// pipeline. Implementations live in repositories/postgres.
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stratoslabs/llm-router/models"
)

// DecisionFilter narrows decision listings.
type DecisionFilter struct {
	RunType *models.RunType
	Limit   int
	Offset  int
}

// RouteClassStats aggregates decision outcomes for one route class over a
// time window.
type RouteClassStats struct {
	RouteClass   models.RouteClass `json:"route_class"`
	Calls        int               `json:"calls"`
	Successes    int               `json:"successes"`
	SuccessRate  float64           `json:"success_rate"`
	AvgLatencyMs float64           `json:"avg_latency_ms"`
	TotalCostUSD float64           `json:"total_cost_usd"`
}

// DecisionRepository persists write-once routing decisions. Insert is the
// only write; decisions are never updated.
type DecisionRepository interface {
	Insert(ctx context.Context, decision *models.RoutingDecision) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.RoutingDecision, error)
	List(ctx context.Context, filter DecisionFilter) ([]*models.RoutingDecision, error)
	StatsByRouteClass(ctx context.Context, since time.Time) ([]RouteClassStats, error)
}

// AuditRepository persists structured audit events.
type AuditRepository interface {
	Insert(ctx context.Context, log *models.AuditLog) error
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.AuditLog, error)
}
