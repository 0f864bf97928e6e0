package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratoslabs/llm-router/models"
	"github.com/stratoslabs/llm-router/repositories"
)

const decisionColumns = `id, timestamp, run_type, route_class, provider, model,
	       rationale, source, strategy_id, override_used, override_reason,
	       projected_cost, actual_cost, latency_ms, budget_category,
	       success, failure_reason, failure_code, retryable, metadata`

// DecisionRepository implements repositories.DecisionRepository.
type DecisionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDecisionRepository creates a new decision repository.
func NewDecisionRepository(db *DB, logger *zap.Logger) repositories.DecisionRepository {
	return &DecisionRepository{
		db:     db,
		logger: logger,
	}
}

// Insert persists a routing decision. Decisions are write-once; there is
// no update path.
func (r *DecisionRepository) Insert(ctx context.Context, d *models.RoutingDecision) error {
	query := `
		INSERT INTO routing_decisions (
			id, timestamp, run_type, route_class, provider, model,
			rationale, source, strategy_id, override_used, override_reason,
			projected_cost, actual_cost, latency_ms, budget_category,
			success, failure_reason, failure_code, retryable, metadata
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		d.ID,
		d.Timestamp,
		d.RunType,
		d.RouteClass,
		d.Provider,
		d.Model,
		d.Rationale,
		d.Source,
		d.StrategyID,
		d.OverrideUsed,
		d.OverrideReason,
		d.ProjectedCost,
		d.ActualCost,
		d.LatencyMs,
		d.BudgetCategory,
		d.Success,
		d.FailureReason,
		d.FailureCode,
		d.Retryable,
		d.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert routing decision: %w", err)
	}

	r.logger.Debug("routing decision persisted",
		zap.String("id", d.ID.String()),
		zap.String("run_type", string(d.RunType)),
		zap.Bool("success", d.Success))
	return nil
}

// GetByID retrieves a routing decision by id.
func (r *DecisionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.RoutingDecision, error) {
	query := `SELECT ` + decisionColumns + `
		FROM routing_decisions
		WHERE id = $1
	`

	d := &models.RoutingDecision{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(scanTargets(d)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("routing decision %s not found: %w", id, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get routing decision: %w", err)
	}
	return d, nil
}

// List retrieves recent decisions, newest first, optionally filtered by
// run type.
func (r *DecisionRepository) List(ctx context.Context, filter repositories.DecisionFilter) ([]*models.RoutingDecision, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		query string
		args  []interface{}
	)
	if filter.RunType != nil {
		query = `SELECT ` + decisionColumns + `
			FROM routing_decisions
			WHERE run_type = $1
			ORDER BY timestamp DESC
			LIMIT $2 OFFSET $3
		`
		args = []interface{}{*filter.RunType, limit, filter.Offset}
	} else {
		query = `SELECT ` + decisionColumns + `
			FROM routing_decisions
			ORDER BY timestamp DESC
			LIMIT $1 OFFSET $2
		`
		args = []interface{}{limit, filter.Offset}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list routing decisions: %w", err)
	}
	defer rows.Close()

	var out []*models.RoutingDecision
	for rows.Next() {
		d := &models.RoutingDecision{}
		if err := rows.Scan(scanTargets(d)...); err != nil {
			return nil, fmt.Errorf("failed to scan routing decision: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating routing decision rows: %w", err)
	}
	return out, nil
}

// StatsByRouteClass aggregates success rate, latency and cost per route
// class since the given time.
func (r *DecisionRepository) StatsByRouteClass(ctx context.Context, since time.Time) ([]repositories.RouteClassStats, error) {
	query := `
		SELECT route_class,
		       COUNT(*) AS calls,
		       COUNT(*) FILTER (WHERE success) AS successes,
		       COALESCE(AVG(latency_ms) FILTER (WHERE success), 0) AS avg_latency_ms,
		       COALESCE(SUM(actual_cost) FILTER (WHERE success), 0) AS total_cost
		FROM routing_decisions
		WHERE timestamp >= $1
		GROUP BY route_class
		ORDER BY route_class
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query route class stats: %w", err)
	}
	defer rows.Close()

	var out []repositories.RouteClassStats
	for rows.Next() {
		var s repositories.RouteClassStats
		if err := rows.Scan(&s.RouteClass, &s.Calls, &s.Successes, &s.AvgLatencyMs, &s.TotalCostUSD); err != nil {
			return nil, fmt.Errorf("failed to scan route class stats: %w", err)
		}
		if s.Calls > 0 {
			s.SuccessRate = float64(s.Successes) / float64(s.Calls)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats rows: %w", err)
	}
	return out, nil
}

// scanTargets returns the scan destinations matching decisionColumns order.
func scanTargets(d *models.RoutingDecision) []interface{} {
	return []interface{}{
		&d.ID,
		&d.Timestamp,
		&d.RunType,
		&d.RouteClass,
		&d.Provider,
		&d.Model,
		&d.Rationale,
		&d.Source,
		&d.StrategyID,
		&d.OverrideUsed,
		&d.OverrideReason,
		&d.ProjectedCost,
		&d.ActualCost,
		&d.LatencyMs,
		&d.BudgetCategory,
		&d.Success,
		&d.FailureReason,
		&d.FailureCode,
		&d.Retryable,
		&d.Metadata,
	}
}
