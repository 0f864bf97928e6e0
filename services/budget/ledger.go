package budget

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stratoslabs/llm-router/models"
	"github.com/stratoslabs/llm-router/services"
)

// State is the answer to a budget query for one (category, period) pair.
// Recomputed on every admission check; never cached across calls.
type State struct {
	Category     models.BudgetCategory `json:"category"`
	Period       models.BudgetPeriod   `json:"period"`
	LimitUSD     float64               `json:"limit_usd"`
	ConsumedUSD  float64               `json:"consumed_usd"`
	RemainingUSD float64               `json:"remaining_usd"`
	PercentUsed  float64               `json:"percent_used"`
	Blocked      bool                  `json:"blocked"`
}

// Admission is the result of an admission check. When Allowed is true the
// projected cost has already been reserved against both period counters.
type Admission struct {
	Allowed     bool
	Reason      string
	ShouldAlert bool
	Daily       State
	Monthly     State
}

// Ledger tracks cumulative spend per budget category per calendar period in
// PostgreSQL. Admission reserves the projected cost with conditional
// counter increments inside one transaction, so two concurrent callers
// cannot both pass a nearly-exhausted cap.
type Ledger struct {
	db        *sql.DB
	envelopes map[models.BudgetCategory]Envelope
	logger    *zap.Logger
	now       func() time.Time
}

// NewLedger creates a ledger over derived envelopes.
func NewLedger(db *sql.DB, envelopes map[models.BudgetCategory]Envelope, logger *zap.Logger) *Ledger {
	return &Ledger{
		db:        db,
		envelopes: envelopes,
		logger:    logger,
		now:       time.Now,
	}
}

// Envelopes returns the derived envelope set.
func (l *Ledger) Envelopes() map[models.BudgetCategory]Envelope {
	out := make(map[models.BudgetCategory]Envelope, len(l.envelopes))
	for k, v := range l.envelopes {
		out[k] = v
	}
	return out
}

// Envelope returns the envelope for one category.
func (l *Ledger) Envelope(category models.BudgetCategory) (Envelope, bool) {
	env, ok := l.envelopes[category]
	return env, ok
}

// reserveQuery increments a period counter only while the hard cap holds.
// The insert arm covers the first reservation of a period; the update arm
// is guarded so an exhausted counter is left untouched.
const reserveQuery = `
	INSERT INTO budget_counters (category, period_key, period_type, consumed, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (category, period_key, period_type)
	DO UPDATE SET
		consumed = budget_counters.consumed + EXCLUDED.consumed,
		updated_at = EXCLUDED.updated_at
	WHERE budget_counters.consumed + EXCLUDED.consumed <= $6
	RETURNING consumed
`

// CheckAdmission answers "would this call, at this projected cost, exceed
// the cap" and, when allowed, atomically reserves the projected cost
// against the daily and monthly counters. Denial leaves both counters
// untouched.
func (l *Ledger) CheckAdmission(ctx context.Context, category models.BudgetCategory, projectedCost float64) (*Admission, error) {
	env, ok := l.envelopes[category]
	if !ok {
		return nil, fmt.Errorf("no budget envelope for category %q", category)
	}
	now := l.now().UTC()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin admission transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	dailyCap := env.DailyLimitUSD * env.HardCapPct / 100
	monthlyCap := env.MonthlyLimitUSD * env.HardCapPct / 100

	dailyConsumed, ok, err := l.reserve(ctx, tx, category, models.PeriodDaily, now, projectedCost, dailyCap)
	if err != nil {
		return nil, err
	}
	if !ok {
		adm := &Admission{
			Allowed: false,
			Reason:  "daily budget exceeded",
			Daily:   newState(category, models.PeriodDaily, env.DailyLimitUSD, dailyConsumed, env.HardCapPct),
		}
		return adm, nil
	}

	monthlyConsumed, ok, err := l.reserve(ctx, tx, category, models.PeriodMonthly, now, projectedCost, monthlyCap)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Rollback also releases the daily reservation.
		adm := &Admission{
			Allowed: false,
			Reason:  "monthly budget exceeded",
			Daily:   newState(category, models.PeriodDaily, env.DailyLimitUSD, dailyConsumed-projectedCost, env.HardCapPct),
			Monthly: newState(category, models.PeriodMonthly, env.MonthlyLimitUSD, monthlyConsumed, env.HardCapPct),
		}
		return adm, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit admission transaction: %w", err)
	}

	daily := newState(category, models.PeriodDaily, env.DailyLimitUSD, dailyConsumed, env.HardCapPct)
	monthly := newState(category, models.PeriodMonthly, env.MonthlyLimitUSD, monthlyConsumed, env.HardCapPct)
	adm := &Admission{
		Allowed:     true,
		ShouldAlert: daily.PercentUsed >= env.AlertThresholdPct || monthly.PercentUsed >= env.AlertThresholdPct,
		Daily:       daily,
		Monthly:     monthly,
	}
	if adm.ShouldAlert {
		l.logger.Warn("budget alert threshold crossed",
			zap.String("category", string(category)),
			zap.Float64("daily_pct", daily.PercentUsed),
			zap.Float64("monthly_pct", monthly.PercentUsed))
	}
	return adm, nil
}

// reserve runs the conditional increment for one period. The boolean is
// false when the cap would be exceeded; consumed then reports the current
// (unchanged) counter.
func (l *Ledger) reserve(ctx context.Context, tx *sql.Tx, category models.BudgetCategory, period models.BudgetPeriod, now time.Time, cost, capUSD float64) (float64, bool, error) {
	if cost > capUSD {
		consumed, err := l.periodConsumedTx(ctx, tx, category, period, now)
		if err != nil {
			return 0, false, err
		}
		return consumed, false, nil
	}

	periodKey := models.PeriodKey(now, period)
	var consumed float64
	err := tx.QueryRowContext(ctx, reserveQuery,
		category, periodKey, period, cost, now, capUSD,
	).Scan(&consumed)
	if err == sql.ErrNoRows {
		current, qerr := l.periodConsumedTx(ctx, tx, category, period, now)
		if qerr != nil {
			return 0, false, qerr
		}
		return current, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to reserve %s budget: %w", period, err)
	}
	return consumed, true, nil
}

// RecordUsage settles a reservation with the actual cost and appends the
// two flat ledger rows (daily and monthly tagged). The counters move by
// the difference between actual and reserved so the reservation is not
// double counted.
func (l *Ledger) RecordUsage(ctx context.Context, category models.BudgetCategory, actualCost, reservedCost float64) error {
	now := l.now().UTC()
	delta := actualCost - reservedCost

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin usage transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, period := range []models.BudgetPeriod{models.PeriodDaily, models.PeriodMonthly} {
		if err := l.adjustCounter(ctx, tx, category, period, now, delta); err != nil {
			return err
		}
		entry := models.NewUsageEntry(category, period, actualCost, now)
		if err := l.insertEntry(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit usage transaction: %w", err)
	}

	l.logger.Debug("usage recorded",
		zap.String("category", string(category)),
		zap.Float64("actual_cost", actualCost),
		zap.Float64("reserved_cost", reservedCost))
	return nil
}

// Release backs out a reservation after total dispatch failure. No ledger
// rows are written; nothing was spent.
func (l *Ledger) Release(ctx context.Context, category models.BudgetCategory, reservedCost float64) error {
	now := l.now().UTC()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin release transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, period := range []models.BudgetPeriod{models.PeriodDaily, models.PeriodMonthly} {
		if err := l.adjustCounter(ctx, tx, category, period, now, -reservedCost); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit release transaction: %w", err)
	}
	return nil
}

func (l *Ledger) adjustCounter(ctx context.Context, tx *sql.Tx, category models.BudgetCategory, period models.BudgetPeriod, now time.Time, delta float64) error {
	query := `
		INSERT INTO budget_counters (category, period_key, period_type, consumed, updated_at)
		VALUES ($1, $2, $3, GREATEST($4, 0), $5)
		ON CONFLICT (category, period_key, period_type)
		DO UPDATE SET
			consumed = GREATEST(budget_counters.consumed + $4, 0),
			updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, category, models.PeriodKey(now, period), period, delta, now); err != nil {
		return fmt.Errorf("failed to adjust %s counter: %w", period, err)
	}
	return nil
}

func (l *Ledger) insertEntry(ctx context.Context, tx *sql.Tx, entry *models.UsageEntry) error {
	query := `
		INSERT INTO usage_ledger (id, category, period_start, period_type, cost_usd, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := tx.ExecContext(ctx, query,
		entry.ID, entry.Category, entry.PeriodStart, entry.PeriodType, entry.CostUSD, entry.Timestamp); err != nil {
		return fmt.Errorf("failed to insert usage entry: %w", err)
	}
	return nil
}

// State returns the current budget state for a (category, period) pair.
func (l *Ledger) State(ctx context.Context, category models.BudgetCategory, period models.BudgetPeriod) (*State, error) {
	env, ok := l.envelopes[category]
	if !ok {
		return nil, fmt.Errorf("no budget envelope for category %q", category)
	}
	consumed, err := l.periodConsumed(ctx, category, period, l.now().UTC())
	if err != nil {
		return nil, err
	}
	limit := env.DailyLimitUSD
	if period == models.PeriodMonthly {
		limit = env.MonthlyLimitUSD
	}
	state := newState(category, period, limit, consumed, env.HardCapPct)
	return &state, nil
}

// AggregateSpend sums recorded spend across all categories for the period
// containing ts.
func (l *Ledger) AggregateSpend(ctx context.Context, period models.BudgetPeriod, ts time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_ledger
		WHERE period_type = $1 AND period_start = $2
	`
	var total float64
	if err := l.db.QueryRowContext(ctx, query, period, models.PeriodStart(ts, period)).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to aggregate spend: %w", err)
	}
	return total, nil
}

func (l *Ledger) periodConsumed(ctx context.Context, category models.BudgetCategory, period models.BudgetPeriod, now time.Time) (float64, error) {
	query := `
		SELECT COALESCE(consumed, 0)
		FROM budget_counters
		WHERE category = $1 AND period_key = $2 AND period_type = $3
	`
	var consumed float64
	err := l.db.QueryRowContext(ctx, query, category, models.PeriodKey(now, period), period).Scan(&consumed)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query budget counter: %w", err)
	}
	return consumed, nil
}

func (l *Ledger) periodConsumedTx(ctx context.Context, tx *sql.Tx, category models.BudgetCategory, period models.BudgetPeriod, now time.Time) (float64, error) {
	query := `
		SELECT COALESCE(consumed, 0)
		FROM budget_counters
		WHERE category = $1 AND period_key = $2 AND period_type = $3
	`
	var consumed float64
	err := tx.QueryRowContext(ctx, query, category, models.PeriodKey(now, period), period).Scan(&consumed)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query budget counter: %w", err)
	}
	return consumed, nil
}

func newState(category models.BudgetCategory, period models.BudgetPeriod, limit, consumed float64, hardCapPct float64) State {
	var pct float64
	if limit > 0 {
		pct = consumed / limit * 100
	}
	return State{
		Category:     category,
		Period:       period,
		LimitUSD:     limit,
		ConsumedUSD:  consumed,
		RemainingUSD: limit - consumed,
		PercentUsed:  pct,
		Blocked:      pct >= hardCapPct,
	}
}

// DeniedError converts a denial into the routing error taxonomy.
func (a *Admission) DeniedError() error {
	if a.Allowed {
		return nil
	}
	return services.NewRoutingError(services.CodeBudgetExceeded, a.Reason, nil).
		WithDetail("daily_percent_used", a.Daily.PercentUsed).
		WithDetail("monthly_percent_used", a.Monthly.PercentUsed)
}
