package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stratoslabs/llm-router/app"
	"github.com/stratoslabs/llm-router/config"
	"github.com/stratoslabs/llm-router/models"
	"github.com/stratoslabs/llm-router/routes"
	"github.com/stratoslabs/llm-router/services/budget"
	"github.com/stratoslabs/llm-router/services/manifest"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "routerd",
		Short: "LLM routing daemon and ops tooling",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newEnvelopesCommand())
	root.AddCommand(newBudgetCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ops API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.New()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger, err := buildLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps, err := app.NewDependencies(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize dependencies: %w", err)
			}

			srv := &http.Server{
				Addr:         cfg.Server.Address(),
				Handler:      routes.SetupRoutes(deps),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("ops API listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				_ = deps.Close(context.Background())
				return fmt.Errorf("server error: %w", err)
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("server shutdown failed", zap.Error(err))
			}
			return deps.Close(shutdownCtx)
		},
	}
}

func newEnvelopesCommand() *cobra.Command {
	var manifestPath string
	cmd := &cobra.Command{
		Use:   "envelopes",
		Short: "Print the spend envelopes derived from the planning assumptions",
		RunE: func(_ *cobra.Command, _ []string) error {
			var (
				m   *manifest.Manifest
				err error
			)
			if manifestPath != "" {
				m, err = manifest.Load(manifestPath)
			} else {
				m, err = manifest.Default()
			}
			if err != nil {
				return err
			}

			byCategory, err := budget.DeriveEnvelopes(budget.DefaultAssumptions(), m)
			if err != nil {
				return err
			}

			envelopes := make([]budget.Envelope, 0, len(byCategory))
			for _, env := range byCategory {
				envelopes = append(envelopes, env)
			}
			sort.Slice(envelopes, func(i, j int) bool {
				return envelopes[i].Category < envelopes[j].Category
			})

			return printJSON(envelopes)
		},
	}
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "YAML manifest override file")
	return cmd
}

func newBudgetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "budget",
		Short: "Print current budget state for every category and period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.New()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger, err := buildLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}

			deps, err := app.NewDependencies(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize dependencies: %w", err)
			}
			defer deps.Close(context.Background())

			var states []*budget.State
			for _, category := range models.AllBudgetCategories() {
				for _, period := range []models.BudgetPeriod{models.PeriodDaily, models.PeriodMonthly} {
					state, err := deps.Ledger.State(cmd.Context(), category, period)
					if err != nil {
						return err
					}
					states = append(states, state)
				}
			}

			return printJSON(states)
		},
	}
}

// buildLogger constructs the process logger from config. JSON in
// production, console otherwise.
func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if cfg.LogFormat == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
