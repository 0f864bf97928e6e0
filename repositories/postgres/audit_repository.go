package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratoslabs/llm-router/models"
	"github.com/stratoslabs/llm-router/repositories"
)

// AuditRepository implements repositories.AuditRepository.
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new audit log entry.
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (
			id, action, entity_type, entity_id, details, timestamp,
			run_type, route_class, model, provider, cost_usd, latency_ms
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.Action,
		log.EntityType,
		log.EntityID,
		log.Details,
		log.Timestamp,
		log.RunType,
		log.RouteClass,
		log.Model,
		log.Provider,
		log.CostUSD,
		log.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted",
		zap.String("id", log.ID.String()),
		zap.String("action", string(log.Action)))
	return nil
}

// ListByEntity retrieves audit logs for one entity, newest first.
func (r *AuditRepository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.AuditLog, error) {
	query := `
		SELECT id, action, entity_type, entity_id, details, timestamp,
		       run_type, route_class, model, provider, cost_usd, latency_ms
		FROM audit_logs
		WHERE entity_id = $1
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log := &models.AuditLog{}
		err := rows.Scan(
			&log.ID,
			&log.Action,
			&log.EntityType,
			&log.EntityID,
			&log.Details,
			&log.Timestamp,
			&log.RunType,
			&log.RouteClass,
			&log.Model,
			&log.Provider,
			&log.CostUSD,
			&log.LatencyMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}
	return logs, nil
}
