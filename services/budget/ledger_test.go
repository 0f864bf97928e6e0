package budget

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stratoslabs/llm-router/models"
	"github.com/stratoslabs/llm-router/services"
)

var testTime = time.Date(2025, 3, 17, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	envelopes := map[models.BudgetCategory]Envelope{
		models.BudgetCategoryScoring: {
			Category:          models.BudgetCategoryScoring,
			DailyLimitUSD:     10,
			MonthlyLimitUSD:   300,
			AlertThresholdPct: 80,
			HardCapPct:        100,
		},
	}

	ledger := NewLedger(db, envelopes, zap.NewNop())
	ledger.now = func() time.Time { return testTime }
	return ledger, mock
}

func consumedRows(consumed float64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"consumed"}).AddRow(consumed)
}

func TestCheckAdmission_Allowed(t *testing.T) {
	ledger, mock := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO budget_counters").WillReturnRows(consumedRows(4))
	mock.ExpectQuery("INSERT INTO budget_counters").WillReturnRows(consumedRows(4))
	mock.ExpectCommit()

	adm, err := ledger.CheckAdmission(context.Background(), models.BudgetCategoryScoring, 4)
	require.NoError(t, err)

	assert.True(t, adm.Allowed)
	assert.False(t, adm.ShouldAlert)
	assert.Equal(t, 4.0, adm.Daily.ConsumedUSD)
	assert.InDelta(t, 40.0, adm.Daily.PercentUsed, 1e-9)
	assert.Equal(t, 4.0, adm.Monthly.ConsumedUSD)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAdmission_AlertThreshold(t *testing.T) {
	ledger, mock := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO budget_counters").WillReturnRows(consumedRows(9))
	mock.ExpectQuery("INSERT INTO budget_counters").WillReturnRows(consumedRows(9))
	mock.ExpectCommit()

	adm, err := ledger.CheckAdmission(context.Background(), models.BudgetCategoryScoring, 1)
	require.NoError(t, err)

	assert.True(t, adm.Allowed)
	assert.True(t, adm.ShouldAlert)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAdmission_DailyDenied(t *testing.T) {
	ledger, mock := newTestLedger(t)

	// Conditional insert matches no row when the cap would be exceeded;
	// the current counter is then read for the denial report.
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO budget_counters").WillReturnRows(sqlmock.NewRows([]string{"consumed"}))
	mock.ExpectQuery("FROM budget_counters").WillReturnRows(consumedRows(8))
	mock.ExpectRollback()

	adm, err := ledger.CheckAdmission(context.Background(), models.BudgetCategoryScoring, 4)
	require.NoError(t, err)

	assert.False(t, adm.Allowed)
	assert.Equal(t, "daily budget exceeded", adm.Reason)
	assert.Equal(t, 8.0, adm.Daily.ConsumedUSD)

	deniedErr := adm.DeniedError()
	require.Error(t, deniedErr)
	assert.Equal(t, services.CodeBudgetExceeded, services.CodeOf(deniedErr))
	assert.False(t, services.IsRetryable(deniedErr))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAdmission_MonthlyDeniedReleasesDaily(t *testing.T) {
	ledger, mock := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO budget_counters").WillReturnRows(consumedRows(4))
	mock.ExpectQuery("INSERT INTO budget_counters").WillReturnRows(sqlmock.NewRows([]string{"consumed"}))
	mock.ExpectQuery("FROM budget_counters").WillReturnRows(consumedRows(299))
	mock.ExpectRollback()

	adm, err := ledger.CheckAdmission(context.Background(), models.BudgetCategoryScoring, 4)
	require.NoError(t, err)

	assert.False(t, adm.Allowed)
	assert.Equal(t, "monthly budget exceeded", adm.Reason)
	// The daily reservation was rolled back with the transaction.
	assert.Equal(t, 0.0, adm.Daily.ConsumedUSD)
	assert.Equal(t, 299.0, adm.Monthly.ConsumedUSD)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAdmission_CostAboveCap(t *testing.T) {
	ledger, mock := newTestLedger(t)

	// A single call larger than the whole cap never touches the counter.
	mock.ExpectBegin()
	mock.ExpectQuery("FROM budget_counters").WillReturnRows(consumedRows(0))
	mock.ExpectRollback()

	adm, err := ledger.CheckAdmission(context.Background(), models.BudgetCategoryScoring, 15)
	require.NoError(t, err)

	assert.False(t, adm.Allowed)
	assert.Equal(t, "daily budget exceeded", adm.Reason)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAdmission_UnknownCategory(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.CheckAdmission(context.Background(), models.BudgetCategoryEnrichment, 1)
	assert.ErrorContains(t, err, "no budget envelope")
}

func TestRecordUsage(t *testing.T) {
	ledger, mock := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO budget_counters").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO usage_ledger").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO budget_counters").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO usage_ledger").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ledger.RecordUsage(context.Background(), models.BudgetCategoryScoring, 0.05, 0.04)
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease(t *testing.T) {
	ledger, mock := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO budget_counters").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO budget_counters").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ledger.Release(context.Background(), models.BudgetCategoryScoring, 0.04)
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestState(t *testing.T) {
	ledger, mock := newTestLedger(t)

	mock.ExpectQuery("FROM budget_counters").
		WithArgs(models.BudgetCategoryScoring, "2025-03-17", models.PeriodDaily).
		WillReturnRows(consumedRows(7.5))

	state, err := ledger.State(context.Background(), models.BudgetCategoryScoring, models.PeriodDaily)
	require.NoError(t, err)

	assert.Equal(t, 10.0, state.LimitUSD)
	assert.Equal(t, 7.5, state.ConsumedUSD)
	assert.Equal(t, 2.5, state.RemainingUSD)
	assert.InDelta(t, 75.0, state.PercentUsed, 1e-9)
	assert.False(t, state.Blocked)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestState_Blocked(t *testing.T) {
	ledger, mock := newTestLedger(t)

	mock.ExpectQuery("FROM budget_counters").
		WithArgs(models.BudgetCategoryScoring, "2025-03", models.PeriodMonthly).
		WillReturnRows(consumedRows(300))

	state, err := ledger.State(context.Background(), models.BudgetCategoryScoring, models.PeriodMonthly)
	require.NoError(t, err)

	assert.Equal(t, 300.0, state.LimitUSD)
	assert.True(t, state.Blocked)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestState_NoCounterRowMeansZero(t *testing.T) {
	ledger, mock := newTestLedger(t)

	mock.ExpectQuery("FROM budget_counters").
		WillReturnRows(sqlmock.NewRows([]string{"consumed"}))

	state, err := ledger.State(context.Background(), models.BudgetCategoryScoring, models.PeriodDaily)
	require.NoError(t, err)

	assert.Equal(t, 0.0, state.ConsumedUSD)
	assert.Equal(t, 10.0, state.RemainingUSD)
}

func TestAggregateSpend(t *testing.T) {
	ledger, mock := newTestLedger(t)

	mock.ExpectQuery("FROM usage_ledger").
		WithArgs(models.PeriodDaily, time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(12.34))

	total, err := ledger.AggregateSpend(context.Background(), models.PeriodDaily, testTime)
	require.NoError(t, err)
	assert.Equal(t, 12.34, total)

	assert.NoError(t, mock.ExpectationsWereMet())
}
