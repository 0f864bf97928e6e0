package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stratoslabs/llm-router/models"
	"github.com/stratoslabs/llm-router/repositories"
	"github.com/stratoslabs/llm-router/utils"
)

type fakeDecisionRepo struct {
	decisions  map[uuid.UUID]*models.RoutingDecision
	lastFilter repositories.DecisionFilter
	lastSince  time.Time
	stats      []repositories.RouteClassStats
	listErr    error
}

func (f *fakeDecisionRepo) Insert(ctx context.Context, d *models.RoutingDecision) error {
	if f.decisions == nil {
		f.decisions = make(map[uuid.UUID]*models.RoutingDecision)
	}
	f.decisions[d.ID] = d
	return nil
}

func (f *fakeDecisionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.RoutingDecision, error) {
	d, ok := f.decisions[id]
	if !ok {
		return nil, fmt.Errorf("routing decision %s not found: %w", id, sql.ErrNoRows)
	}
	return d, nil
}

func (f *fakeDecisionRepo) List(ctx context.Context, filter repositories.DecisionFilter) ([]*models.RoutingDecision, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.lastFilter = filter
	var out []*models.RoutingDecision
	for _, d := range f.decisions {
		if filter.RunType != nil && d.RunType != *filter.RunType {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDecisionRepo) StatsByRouteClass(ctx context.Context, since time.Time) ([]repositories.RouteClassStats, error) {
	f.lastSince = since
	return f.stats, nil
}

type fakeAuditRepo struct {
	logs []*models.AuditLog
}

func (f *fakeAuditRepo) Insert(ctx context.Context, log *models.AuditLog) error {
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeAuditRepo) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.AuditLog, error) {
	var out []*models.AuditLog
	for _, l := range f.logs {
		if l.EntityID != nil && *l.EntityID == entityID {
			out = append(out, l)
		}
	}
	return out, nil
}

func newDecisionRouter(h *DecisionHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/decisions", h.HandleListDecisions)
	r.Get("/v1/decisions/stats", h.HandleRouteClassStats)
	r.Get("/v1/decisions/{id}", h.HandleGetDecision)
	r.Get("/v1/decisions/{id}/audit", h.HandleDecisionAudit)
	return r
}

func storedDecision(repo *fakeDecisionRepo) *models.RoutingDecision {
	ts := time.Date(2025, 3, 17, 12, 0, 0, 0, time.UTC)
	d := models.NewRoutingDecision(models.RunTypeTriage, models.RouteClassBalanced,
		models.SourceDefaultLowCost, "default route class for run type", ts).
		WithModel("anthropic", "claude-sonnet-4").
		WithBudget(models.BudgetCategoryScanning, 0.45)
	d.MarkSucceeded(0.41, 1200*time.Millisecond)
	_ = repo.Insert(context.Background(), d)
	return d
}

func TestHandleListDecisions(t *testing.T) {
	repo := &fakeDecisionRepo{}
	d := storedDecision(repo)
	h := NewDecisionHandler(repo, &fakeAuditRepo{}, zap.NewNop())
	router := newDecisionRouter(h)

	t.Run("lists decisions", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/decisions", nil))

		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data []*models.RoutingDecision `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		require.Len(t, response.Data, 1)
		assert.Equal(t, d.ID, response.Data[0].ID)
		assert.Equal(t, defaultDecisionLimit, repo.lastFilter.Limit)
	})

	t.Run("run type filter", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/decisions?run_type=fast_scan", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, repo.lastFilter.RunType)
		assert.Equal(t, models.RunTypeFastScan, *repo.lastFilter.RunType)
	})

	t.Run("unknown run type is rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/decisions?run_type=nonsense", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "bad_request", response.Error)
		assert.Equal(t, "nonsense", response.Details["run_type"])
	})

	t.Run("limit is clamped to maximum", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/decisions?limit=9999", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, maxDecisionLimit, repo.lastFilter.Limit)
	})

	t.Run("invalid limit is rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/decisions?limit=abc", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid offset is rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/decisions?offset=-3", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("repository error maps to 500", func(t *testing.T) {
		failing := &fakeDecisionRepo{listErr: errors.New("connection lost")}
		fh := NewDecisionHandler(failing, &fakeAuditRepo{}, zap.NewNop())
		w := httptest.NewRecorder()
		newDecisionRouter(fh).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/decisions", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHandleGetDecision(t *testing.T) {
	repo := &fakeDecisionRepo{}
	d := storedDecision(repo)
	h := NewDecisionHandler(repo, &fakeAuditRepo{}, zap.NewNop())
	router := newDecisionRouter(h)

	t.Run("found", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/decisions/"+d.ID.String(), nil))

		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data models.RoutingDecision `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, d.ID, response.Data.ID)
		assert.True(t, response.Data.Success)
	})

	t.Run("not found", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/decisions/"+uuid.NewString(), nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/decisions/not-a-uuid", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleDecisionAudit(t *testing.T) {
	repo := &fakeDecisionRepo{}
	d := storedDecision(repo)

	audits := &fakeAuditRepo{}
	log := models.NewAuditLog(models.AuditActionRoutingDecision, "routing_decision").WithEntity(d.ID)
	_ = audits.Insert(context.Background(), log)

	h := NewDecisionHandler(repo, audits, zap.NewNop())
	router := newDecisionRouter(h)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/decisions/"+d.ID.String()+"/audit", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data []*models.AuditLog `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Len(t, response.Data, 1)
	assert.Equal(t, log.ID, response.Data[0].ID)
}

func TestHandleRouteClassStats(t *testing.T) {
	repo := &fakeDecisionRepo{
		stats: []repositories.RouteClassStats{
			{RouteClass: models.RouteClassBalanced, Calls: 10, Successes: 8, SuccessRate: 0.8},
		},
	}
	h := NewDecisionHandler(repo, &fakeAuditRepo{}, zap.NewNop())
	router := newDecisionRouter(h)

	t.Run("default window", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/decisions/stats", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.WithinDuration(t, time.Now().UTC().Add(-defaultStatsWindow), repo.lastSince, 5*time.Second)

		var response struct {
			Data []repositories.RouteClassStats `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		require.Len(t, response.Data, 1)
		assert.Equal(t, models.RouteClassBalanced, response.Data[0].RouteClass)
	})

	t.Run("custom window", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/decisions/stats?window=1h", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.WithinDuration(t, time.Now().UTC().Add(-time.Hour), repo.lastSince, 5*time.Second)
	})

	t.Run("invalid window", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/decisions/stats?window=yesterday", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("window above maximum", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/decisions/stats?window=2400h", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
