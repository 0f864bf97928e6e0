// Package handlers exposes the read-only ops API: budget state, derived
// envelopes, aggregate spend, and routing decision history. The routing
// pipeline itself is a library surface; nothing here mutates state.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/stratoslabs/llm-router/utils"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// parseLimit reads an optional ?limit= query parameter, clamped to max.
func parseLimit(r *http.Request, fallback, max int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, false
	}
	if limit > max {
		limit = max
	}
	return limit, true
}

// parseNonNegative parses a query parameter that must be >= 0.
func parseNonNegative(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

// respondInternalError logs the error and writes a 500 without leaking
// internals to the caller.
func respondInternalError(w http.ResponseWriter, logger *zap.Logger, msg string, err error) {
	logger.Error(msg, zap.Error(err))
	_ = utils.WriteInternalServerError(w, "")
}
