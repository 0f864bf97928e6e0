package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// usageNamespace is the fixed UUIDv5 namespace for usage ledger entry ids.
var usageNamespace = uuid.MustParse("c1b8e6f4-2a5d-4e93-b07c-8f61d3a94e20")

// UsageEntry is one row of the flat spend ledger. Two entries are appended
// per recorded call, one tagged daily and one monthly. The id is derived
// from category, period and cost at the recording timestamp, so replaying
// the same event is detectable by id equality.
type UsageEntry struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	Category    BudgetCategory `json:"category" db:"category"`
	PeriodStart time.Time      `json:"period_start" db:"period_start"`
	PeriodType  BudgetPeriod   `json:"period_type" db:"period_type"`
	CostUSD     float64        `json:"cost_usd" db:"cost_usd"`
	Timestamp   time.Time      `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the UsageEntry model.
func (UsageEntry) TableName() string {
	return "usage_ledger"
}

// NewUsageEntry builds a ledger row with a deterministic content-derived id.
func NewUsageEntry(category BudgetCategory, periodType BudgetPeriod, cost float64, ts time.Time) *UsageEntry {
	entry := &UsageEntry{
		Category:    category,
		PeriodStart: PeriodStart(ts, periodType),
		PeriodType:  periodType,
		CostUSD:     cost,
		Timestamp:   ts,
	}
	canonical := fmt.Sprintf("%s|%s|%.9f|%d", category, periodType, cost, ts.UnixNano())
	entry.ID = uuid.NewSHA1(usageNamespace, []byte(canonical))
	return entry
}

// PeriodStart truncates a timestamp to the start of its budget period in UTC.
func PeriodStart(ts time.Time, period BudgetPeriod) time.Time {
	ts = ts.UTC()
	switch period {
	case PeriodMonthly:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// PeriodKey formats a timestamp as the canonical period bucket key.
func PeriodKey(ts time.Time, period BudgetPeriod) string {
	ts = ts.UTC()
	switch period {
	case PeriodMonthly:
		return ts.Format("2006-01")
	default:
		return ts.Format("2006-01-02")
	}
}
