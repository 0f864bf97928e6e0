package handlers

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stratoslabs/llm-router/models"
	"github.com/stratoslabs/llm-router/services/budget"
	"github.com/stratoslabs/llm-router/utils"
)

// SpendResponse reports aggregate spend across all categories for one period.
type SpendResponse struct {
	Period       models.BudgetPeriod `json:"period"`
	TotalCostUSD float64             `json:"total_cost_usd"`
}

// BudgetHandler serves budget envelope and consumption queries
type BudgetHandler struct {
	ledger *budget.Ledger
	logger *zap.Logger
}

// NewBudgetHandler creates a new BudgetHandler
func NewBudgetHandler(ledger *budget.Ledger, logger *zap.Logger) *BudgetHandler {
	return &BudgetHandler{
		ledger: ledger,
		logger: logger,
	}
}

// HandleListState handles GET /v1/budget
// Returns current state for every category under the requested period
func (h *BudgetHandler) HandleListState(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriod(r)
	if !ok {
		_ = utils.WriteBadRequest(w, "Invalid period, expected daily or monthly", nil)
		return
	}

	categories := models.AllBudgetCategories()
	states := make([]*budget.State, 0, len(categories))
	for _, category := range categories {
		state, err := h.ledger.State(r.Context(), category, period)
		if err != nil {
			respondInternalError(w, h.logger, "failed to read budget state", err)
			return
		}
		states = append(states, state)
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].Category < states[j].Category
	})

	_ = utils.WriteOK(w, states)
}

// HandleGetState handles GET /v1/budget/{category}
func (h *BudgetHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	category, err := models.ParseBudgetCategory(chi.URLParam(r, "category"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Unknown budget category", nil)
		return
	}

	period, ok := parsePeriod(r)
	if !ok {
		_ = utils.WriteBadRequest(w, "Invalid period, expected daily or monthly", nil)
		return
	}

	state, err := h.ledger.State(r.Context(), category, period)
	if err != nil {
		respondInternalError(w, h.logger, "failed to read budget state", err)
		return
	}

	_ = utils.WriteOK(w, state)
}

// HandleListEnvelopes handles GET /v1/budget/envelopes
// Envelopes are derived from planning assumptions at startup and do not
// change while the process runs.
func (h *BudgetHandler) HandleListEnvelopes(w http.ResponseWriter, r *http.Request) {
	byCategory := h.ledger.Envelopes()

	envelopes := make([]budget.Envelope, 0, len(byCategory))
	for _, env := range byCategory {
		envelopes = append(envelopes, env)
	}
	sort.Slice(envelopes, func(i, j int) bool {
		return envelopes[i].Category < envelopes[j].Category
	})

	_ = utils.WriteOK(w, envelopes)
}

// HandleAggregateSpend handles GET /v1/budget/spend
func (h *BudgetHandler) HandleAggregateSpend(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriod(r)
	if !ok {
		_ = utils.WriteBadRequest(w, "Invalid period, expected daily or monthly", nil)
		return
	}

	total, err := h.ledger.AggregateSpend(r.Context(), period, nowUTC())
	if err != nil {
		respondInternalError(w, h.logger, "failed to aggregate spend", err)
		return
	}

	_ = utils.WriteOK(w, SpendResponse{Period: period, TotalCostUSD: total})
}

// parsePeriod reads the ?period= query parameter, defaulting to daily.
func parsePeriod(r *http.Request) (models.BudgetPeriod, bool) {
	raw := r.URL.Query().Get("period")
	if raw == "" {
		return models.PeriodDaily, true
	}
	period, err := models.ParseBudgetPeriod(raw)
	if err != nil {
		return "", false
	}
	return period, true
}
