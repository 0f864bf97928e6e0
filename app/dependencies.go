package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stratoslabs/llm-router/config"
	"github.com/stratoslabs/llm-router/middleware"
	"github.com/stratoslabs/llm-router/repositories"
	"github.com/stratoslabs/llm-router/repositories/postgres"
	"github.com/stratoslabs/llm-router/services/audit"
	"github.com/stratoslabs/llm-router/services/budget"
	"github.com/stratoslabs/llm-router/services/dispatch"
	"github.com/stratoslabs/llm-router/services/manifest"
	"github.com/stratoslabs/llm-router/services/policy"
	"github.com/stratoslabs/llm-router/services/router"
)

// Dependencies holds all application dependencies. This is the central
// wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Domain
	Manifest *manifest.Manifest
	Resolver *policy.Resolver
	Ledger   *budget.Ledger
	Router   *router.Service

	// Repositories
	Decisions repositories.DecisionRepository
	AuditLogs repositories.AuditRepository

	// Services
	Audit *audit.Service

	// HTTP
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initManifest(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize manifest: %w", err)
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initBudget(); err != nil {
		return nil, fmt.Errorf("failed to initialize budget: %w", err)
	}

	if err := deps.initServices(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initManifest loads the model manifest, applying YAML overrides when a
// manifest path is configured.
func (d *Dependencies) initManifest(cfg *config.Config) error {
	var (
		m   *manifest.Manifest
		err error
	)
	if cfg.Router.ManifestPath != "" {
		m, err = manifest.Load(cfg.Router.ManifestPath)
	} else {
		m, err = manifest.Default()
	}
	if err != nil {
		return err
	}

	d.Manifest = m
	d.Resolver = policy.NewResolver(m)

	d.Logger.Info("manifest loaded",
		zap.Int("models", len(m.Models())),
		zap.Bool("overrides", cfg.Router.ManifestPath != ""))
	return nil
}

// initDatabase initializes the PostgreSQL connection pool and repositories
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewDB(cfg.Database, d.Logger)
	if err != nil {
		return err
	}
	d.DB = db

	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Decisions = postgres.NewDecisionRepository(db, d.Logger)
	d.AuditLogs = postgres.NewAuditRepository(db, d.Logger)

	d.Logger.Info("repositories initialized")
	return nil
}

// initBudget derives spend envelopes from the planning assumptions and
// opens the ledger over them.
func (d *Dependencies) initBudget() error {
	envelopes, err := budget.DeriveEnvelopes(budget.DefaultAssumptions(), d.Manifest)
	if err != nil {
		return err
	}

	d.Ledger = budget.NewLedger(d.DB.DB, envelopes, d.Logger)

	for category, env := range envelopes {
		d.Logger.Info("budget envelope derived",
			zap.String("category", string(category)),
			zap.Float64("daily_limit_usd", env.DailyLimitUSD),
			zap.Float64("monthly_limit_usd", env.MonthlyLimitUSD))
	}
	return nil
}

// initServices wires the audit worker pool, dispatcher and router
func (d *Dependencies) initServices(cfg *config.Config) error {
	d.Audit = audit.NewService(d.AuditLogs, d.Logger, audit.DefaultConfig())
	if err := d.Audit.Start(); err != nil {
		return err
	}

	dispatcher := dispatch.New(dispatch.Config{
		DefaultTimeout:  cfg.Dispatch.DefaultTimeout,
		ProviderTimeout: cfg.Dispatch.ProviderTimeout,
	}, d.Logger)

	d.Router = router.NewService(
		router.Config{
			ForceModel:      cfg.Router.ForceModel,
			ForceRouteClass: cfg.Router.ForceRouteClass,
			CallDeadline:    cfg.Router.CallDeadline,
		},
		d.Manifest,
		d.Resolver,
		d.Ledger,
		dispatcher,
		d.Decisions,
		d.Audit,
		d.Logger,
	)

	d.Logger.Info("router initialized",
		zap.String("force_model", cfg.Router.ForceModel),
		zap.String("force_route_class", cfg.Router.ForceRouteClass))
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if !cfg.Auth.Enabled {
		d.Logger.Warn("ops API auth disabled")
		d.AuthMiddleware = middleware.NewAuthMiddleware(nil, false, d.Logger)
		return
	}

	validator := middleware.NewJWTValidator(cfg.Auth.JWTSecret)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, true, d.Logger)
	d.Logger.Info("ops API auth enabled")
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Audit != nil {
		if err := d.Audit.Stop(10 * time.Second); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
