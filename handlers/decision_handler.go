package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratoslabs/llm-router/models"
	"github.com/stratoslabs/llm-router/repositories"
	"github.com/stratoslabs/llm-router/utils"
)

const (
	defaultDecisionLimit = 50
	maxDecisionLimit     = 500
	defaultStatsWindow   = 24 * time.Hour
	maxStatsWindow       = 90 * 24 * time.Hour
)

// DecisionHandler serves the routing decision audit trail
type DecisionHandler struct {
	decisions repositories.DecisionRepository
	audits    repositories.AuditRepository
	logger    *zap.Logger
}

// NewDecisionHandler creates a new DecisionHandler
func NewDecisionHandler(decisions repositories.DecisionRepository, audits repositories.AuditRepository, logger *zap.Logger) *DecisionHandler {
	return &DecisionHandler{
		decisions: decisions,
		audits:    audits,
		logger:    logger,
	}
}

// HandleListDecisions handles GET /v1/decisions
// Optional filters: ?run_type=, ?limit=, ?offset=
func (h *DecisionHandler) HandleListDecisions(w http.ResponseWriter, r *http.Request) {
	filter := repositories.DecisionFilter{}

	if raw := r.URL.Query().Get("run_type"); raw != "" {
		runType, err := models.ParseRunType(raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Unknown run type", map[string]interface{}{
				"run_type": raw,
			})
			return
		}
		filter.RunType = &runType
	}

	limit, ok := parseLimit(r, defaultDecisionLimit, maxDecisionLimit)
	if !ok {
		_ = utils.WriteBadRequest(w, "Invalid limit", nil)
		return
	}
	filter.Limit = limit

	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := parseNonNegative(raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid offset", nil)
			return
		}
		filter.Offset = offset
	}

	decisions, err := h.decisions.List(r.Context(), filter)
	if err != nil {
		respondInternalError(w, h.logger, "failed to list decisions", err)
		return
	}

	h.logger.Debug("listed decisions",
		zap.Int("count", len(decisions)))

	_ = utils.WriteOK(w, decisions)
}

// HandleGetDecision handles GET /v1/decisions/{id}
func (h *DecisionHandler) HandleGetDecision(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid decision ID format", nil)
		return
	}

	decision, err := h.decisions.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = utils.WriteNotFound(w, "Decision not found")
			return
		}
		respondInternalError(w, h.logger, "failed to fetch decision", err)
		return
	}

	_ = utils.WriteOK(w, decision)
}

// HandleDecisionAudit handles GET /v1/decisions/{id}/audit
// Returns audit events recorded against the decision
func (h *DecisionHandler) HandleDecisionAudit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid decision ID format", nil)
		return
	}

	logs, err := h.audits.ListByEntity(r.Context(), id)
	if err != nil {
		respondInternalError(w, h.logger, "failed to fetch audit events", err)
		return
	}

	_ = utils.WriteOK(w, logs)
}

// HandleRouteClassStats handles GET /v1/decisions/stats
// Aggregates success rate, latency, and cost by route class over a window
// given as ?window= (Go duration, default 24h).
func (h *DecisionHandler) HandleRouteClassStats(w http.ResponseWriter, r *http.Request) {
	window := defaultStatsWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 || parsed > maxStatsWindow {
			_ = utils.WriteBadRequest(w, "Invalid window, expected a duration like 24h", nil)
			return
		}
		window = parsed
	}

	since := nowUTC().Add(-window)
	stats, err := h.decisions.StatsByRouteClass(r.Context(), since)
	if err != nil {
		respondInternalError(w, h.logger, "failed to compute route class stats", err)
		return
	}

	_ = utils.WriteOK(w, stats)
}
