package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/stratoslabs/llm-router/config"
)

// DB wraps the sql.DB connection pool.
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool.
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database.
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// InitSchema initializes the routing schema. All three routing tables are
// append-only; budget_counters is the only table that receives updates.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS routing_decisions (
			id UUID PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			run_type VARCHAR(50) NOT NULL,
			route_class VARCHAR(50) NOT NULL,
			provider VARCHAR(100),
			model VARCHAR(100),
			rationale TEXT NOT NULL,
			source VARCHAR(50) NOT NULL,
			strategy_id VARCHAR(255),
			override_used BOOLEAN NOT NULL DEFAULT false,
			override_reason TEXT,
			projected_cost DECIMAL(12, 8) NOT NULL DEFAULT 0,
			actual_cost DECIMAL(12, 8),
			latency_ms INTEGER,
			budget_category VARCHAR(50),
			success BOOLEAN NOT NULL,
			failure_reason TEXT,
			failure_code VARCHAR(64),
			retryable BOOLEAN NOT NULL DEFAULT false,
			metadata JSONB
		);

		CREATE TABLE IF NOT EXISTS audit_logs (
			id UUID PRIMARY KEY,
			action VARCHAR(100) NOT NULL,
			entity_type VARCHAR(100) NOT NULL,
			entity_id UUID,
			details JSONB,
			timestamp TIMESTAMP NOT NULL,
			run_type VARCHAR(50),
			route_class VARCHAR(50),
			model VARCHAR(100),
			provider VARCHAR(100),
			cost_usd DECIMAL(12, 8),
			latency_ms INTEGER
		);

		CREATE TABLE IF NOT EXISTS usage_ledger (
			id UUID PRIMARY KEY,
			category VARCHAR(50) NOT NULL,
			period_start TIMESTAMP NOT NULL,
			period_type VARCHAR(20) NOT NULL,
			cost_usd DECIMAL(12, 8) NOT NULL,
			timestamp TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS budget_counters (
			category VARCHAR(50) NOT NULL,
			period_key VARCHAR(20) NOT NULL,
			period_type VARCHAR(20) NOT NULL,
			consumed DECIMAL(14, 8) NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (category, period_key, period_type)
		);

		CREATE INDEX IF NOT EXISTS idx_routing_decisions_run_type ON routing_decisions(run_type);
		CREATE INDEX IF NOT EXISTS idx_routing_decisions_route_class ON routing_decisions(route_class);
		CREATE INDEX IF NOT EXISTS idx_routing_decisions_timestamp ON routing_decisions(timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_entity_id ON audit_logs(entity_id);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);
		CREATE INDEX IF NOT EXISTS idx_usage_ledger_category ON usage_ledger(category);
		CREATE INDEX IF NOT EXISTS idx_usage_ledger_period ON usage_ledger(period_type, period_start);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
