// Package router composes policy resolution, budget admission and
// dispatch into the routing state machine. Every terminal outcome,
// success or failure, persists exactly one routing decision and emits one
// audit event before returning; a forced override emits a second,
// override-specific event.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stratoslabs/llm-router/models"
	"github.com/stratoslabs/llm-router/services"
	"github.com/stratoslabs/llm-router/services/budget"
	"github.com/stratoslabs/llm-router/services/dispatch"
	"github.com/stratoslabs/llm-router/services/manifest"
	"github.com/stratoslabs/llm-router/services/policy"
)

// BudgetController is the admission-control surface the router consumes.
type BudgetController interface {
	CheckAdmission(ctx context.Context, category models.BudgetCategory, projectedCost float64) (*budget.Admission, error)
	RecordUsage(ctx context.Context, category models.BudgetCategory, actualCost, reservedCost float64) error
	Release(ctx context.Context, category models.BudgetCategory, reservedCost float64) error
}

// DecisionStore persists write-once routing decisions.
type DecisionStore interface {
	Insert(ctx context.Context, decision *models.RoutingDecision) error
}

// AuditSink receives structured audit events.
type AuditSink interface {
	LogRoutingDecision(d *models.RoutingDecision) error
	LogRoutingOverride(d *models.RoutingDecision, forcedModel string, forcedClass models.RouteClass) error
	LogBudgetDenied(d *models.RoutingDecision, reason string) error
}

// Config holds router configuration, including the process-wide forced
// overrides operators can set without redeploying. Both are validated
// against the manifest on every call and fail closed when invalid.
type Config struct {
	ForceModel      string
	ForceRouteClass string

	// CallDeadline caps wall-clock time across the whole fallback chain.
	// Zero disables the overall deadline; per-attempt timeouts still apply.
	CallDeadline time.Duration
}

// Outcome is a successful routing result.
type Outcome struct {
	Decision *models.RoutingDecision
	Model    manifest.ResolvedModel
	Content  string
	Usage    models.TokenUsage
}

// Service is the routing orchestrator. Each call is independent; the only
// shared state is the budget ledger and the decision store.
type Service struct {
	config     Config
	manifest   *manifest.Manifest
	resolver   *policy.Resolver
	budget     BudgetController
	dispatcher *dispatch.Dispatcher
	decisions  DecisionStore
	audit      AuditSink
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates the routing orchestrator.
func NewService(
	config Config,
	m *manifest.Manifest,
	resolver *policy.Resolver,
	budgetCtl BudgetController,
	dispatcher *dispatch.Dispatcher,
	decisions DecisionStore,
	auditSink AuditSink,
	logger *zap.Logger,
) *Service {
	return &Service{
		config:     config,
		manifest:   m,
		resolver:   resolver,
		budget:     budgetCtl,
		dispatcher: dispatcher,
		decisions:  decisions,
		audit:      auditSink,
		logger:     logger,
		now:        time.Now,
	}
}

// Route resolves policy, checks budget admission, iterates the fallback
// chain through the dispatcher, records usage and persists the decision.
// Candidates are dispatched strictly in order, never in parallel: parallel
// speculative dispatch would double-spend budget.
func (s *Service) Route(ctx context.Context, input policy.RoutingInput, execute dispatch.ExecuteFunc) (*Outcome, error) {
	ts := s.now().UTC()

	// Process-wide forced overrides, validated before any
	// decision-specific logic runs.
	input, err := s.applyConfigOverrides(ctx, input, ts)
	if err != nil {
		return nil, err
	}

	res, err := s.resolver.Resolve(input)
	if err != nil {
		// Only an invalid forced route class reaches here.
		d := s.newDecision(input, models.RouteClass(input.ForceRouteClass), models.SourceForcedOverride,
			fmt.Sprintf("forced route class %q rejected", input.ForceRouteClass), ts)
		d.MarkFailed(models.FailureInvalidForcedClass, err.Error(), false)
		s.finalize(ctx, d, input)
		return nil, err
	}

	if res.Class == models.RouteClassHardControl {
		err := services.NewRoutingError(services.CodeHardControlForbidden,
			fmt.Sprintf("route class %q forbids LLM use for run type %q", res.Class, input.RunType), nil)
		d := s.newDecision(input, res.Class, res.Source, res.Rationale, ts)
		d.MarkFailed(models.FailureHardControlForbidden, err.Error(), false)
		s.finalize(ctx, d, input)
		return nil, err
	}

	selected, err := s.resolver.ModelForRoute(input, res.Class)
	if err != nil {
		d := s.newDecision(input, res.Class, res.Source, res.Rationale, ts)
		d.MarkFailed(models.FailureInvalidForcedModel, err.Error(), false)
		s.finalize(ctx, d, input)
		return nil, err
	}

	category := s.resolver.Category(input.RunType)
	projected := selected.EstimateCost(input.EstimatedInputTokens, input.EstimatedOutputTokens)

	adm, err := s.budget.CheckAdmission(ctx, category, projected)
	if err != nil {
		return nil, fmt.Errorf("budget admission check failed: %w", err)
	}
	if !adm.Allowed {
		denied := adm.DeniedError()
		d := s.newDecision(input, res.Class, res.Source, res.Rationale, ts).
			WithModel(selected.Provider, selected.Model).
			WithBudget(category, projected)
		d.MarkFailed(models.FailureBudgetExceeded, adm.Reason, false)
		s.finalize(ctx, d, input)
		if auditErr := s.audit.LogBudgetDenied(d, adm.Reason); auditErr != nil {
			s.logger.Warn("failed to emit budget audit event", zap.Error(auditErr))
		}
		return nil, denied
	}

	candidates := s.resolver.Candidates(input, res.Class, selected)

	dispatchCtx := ctx
	if s.config.CallDeadline > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, s.config.CallDeadline)
		defer cancel()
	}

	var failures []string
	for _, candidate := range candidates {
		attempt := s.dispatcher.Dispatch(dispatchCtx, candidate, execute)
		if attempt.Err != nil {
			failures = append(failures, attempt.Err.Error())
			if attempt.Err.Fatal {
				// Systemic, not provider-specific; later fallbacks
				// would fail the same way.
				break
			}
			continue
		}

		actualCost := attempt.Result.CostUSD
		if actualCost == 0 {
			actualCost = candidate.ActualCost(attempt.Result.Usage)
		}

		if err := s.budget.RecordUsage(ctx, category, actualCost, projected); err != nil {
			s.logger.Error("failed to record usage",
				zap.String("category", string(category)),
				zap.Error(err))
		}

		d := s.newDecision(input, res.Class, res.Source, res.Rationale, ts).
			WithModel(candidate.Provider, candidate.Model).
			WithBudget(category, projected)
		d.MarkSucceeded(actualCost, attempt.Latency)
		s.finalize(ctx, d, input)

		return &Outcome{
			Decision: d,
			Model:    candidate,
			Content:  attempt.Result.Content,
			Usage:    attempt.Result.Usage,
		}, nil
	}

	// Nothing was spent; back out the reservation.
	if err := s.budget.Release(ctx, category, projected); err != nil {
		s.logger.Error("failed to release budget reservation",
			zap.String("category", string(category)),
			zap.Error(err))
	}

	reason := fmt.Sprintf("all %d candidate models failed: %s", len(candidates), strings.Join(failures, "; "))
	d := s.newDecision(input, res.Class, res.Source, res.Rationale, ts).
		WithModel(selected.Provider, selected.Model).
		WithBudget(category, projected)
	d.MarkFailed(models.FailureAllModelsFailed, reason, true)
	s.finalize(ctx, d, input)

	return nil, services.NewRoutingError(services.CodeAllModelsFailed, reason, nil)
}

// applyConfigOverrides folds the process-wide forced overrides into the
// input. An invalid override aborts before any decision-specific logic and
// is itself persisted as a decision with the override marked.
func (s *Service) applyConfigOverrides(ctx context.Context, input policy.RoutingInput, ts time.Time) (policy.RoutingInput, error) {
	if s.config.ForceModel != "" && input.ForceModel == "" {
		if _, ok := s.manifest.Model(s.config.ForceModel); !ok {
			err := services.NewRoutingError(services.CodeInvalidForcedModel,
				fmt.Sprintf("configured forced model %q is not in the manifest", s.config.ForceModel), nil)
			d := s.newDecision(input, "", models.SourceForcedOverride,
				"process-wide forced model rejected", ts)
			d.OverrideUsed = true
			d.OverrideReason = "process-wide forced model"
			d.MarkFailed(models.FailureInvalidForcedModel, err.Error(), false)
			s.finalize(ctx, d, input)
			return input, err
		}
		input.ForceModel = s.config.ForceModel
		if input.OverrideReason == "" {
			input.OverrideReason = "process-wide forced model"
		}
	}

	if s.config.ForceRouteClass != "" && input.ForceRouteClass == "" {
		class, err := models.ParseRouteClass(s.config.ForceRouteClass)
		if err != nil {
			rerr := services.NewRoutingError(services.CodeInvalidForcedClass,
				fmt.Sprintf("configured forced route class %q is not recognized", s.config.ForceRouteClass), nil)
			d := s.newDecision(input, "", models.SourceForcedOverride,
				"process-wide forced route class rejected", ts)
			d.OverrideUsed = true
			d.OverrideReason = "process-wide forced route class"
			d.MarkFailed(models.FailureInvalidForcedClass, rerr.Error(), false)
			s.finalize(ctx, d, input)
			return input, rerr
		}
		input.ForceRouteClass = class
		if input.OverrideReason == "" {
			input.OverrideReason = "process-wide forced route class"
		}
	}

	return input, nil
}

// newDecision builds the decision skeleton shared by every terminal path.
func (s *Service) newDecision(input policy.RoutingInput, class models.RouteClass, source models.PrecedenceSource, rationale string, ts time.Time) *models.RoutingDecision {
	d := models.NewRoutingDecision(input.RunType, class, source, rationale, ts).
		WithStrategy(input.StrategyID).
		WithMetadata(input.Metadata)
	if input.ForceModel != "" || input.ForceRouteClass != "" {
		d.WithOverride(input.OverrideReason)
	}
	return d
}

// finalize persists the decision synchronously and emits the audit
// event(s). Persistence happens before the call returns; a crash between
// decision computation and this write is the only unrecoverable gap.
func (s *Service) finalize(ctx context.Context, d *models.RoutingDecision, input policy.RoutingInput) {
	if err := s.decisions.Insert(ctx, d); err != nil {
		s.logger.Error("failed to persist routing decision",
			zap.String("id", d.ID.String()),
			zap.Error(err))
	}
	if err := s.audit.LogRoutingDecision(d); err != nil {
		s.logger.Warn("failed to emit routing audit event", zap.Error(err))
	}
	if d.OverrideUsed {
		if err := s.audit.LogRoutingOverride(d, input.ForceModel, input.ForceRouteClass); err != nil {
			s.logger.Warn("failed to emit override audit event", zap.Error(err))
		}
	}
}
