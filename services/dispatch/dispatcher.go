// Package dispatch invokes the caller-supplied execution callback for one
// resolved model, normalizes timing, and classifies any failure into the
// typed provider error set. Provider URLs and HTTP clients live behind the
// callback; this layer only knows the shape of the contract.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stratoslabs/llm-router/models"
	"github.com/stratoslabs/llm-router/services/manifest"
)

// ErrorCode classifies provider-level failures.
type ErrorCode string

const (
	CodeAuthFailed  ErrorCode = "PROVIDER_AUTH_FAILED"
	CodeRateLimited ErrorCode = "PROVIDER_RATE_LIMITED"
	CodeServerError ErrorCode = "PROVIDER_SERVER_ERROR"
	CodeTimeout     ErrorCode = "PROVIDER_TIMEOUT"
	CodeParseError  ErrorCode = "PROVIDER_PARSE_ERROR"
	CodeUnknown     ErrorCode = "PROVIDER_UNKNOWN"
)

// ProviderError is a typed provider failure. Fatal errors (invalid
// configuration or credentials) short-circuit the whole fallback chain;
// everything else is recovered by advancing to the next candidate.
type ProviderError struct {
	Provider string
	Code     ErrorCode
	Message  string
	Fatal    bool
	Cause    error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Provider, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Provider, e.Code, e.Message)
}

// Unwrap implements error unwrapping.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a typed provider error. Auth failures are fatal.
func NewProviderError(provider string, code ErrorCode, message string, cause error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Code:     code,
		Message:  message,
		Fatal:    code == CodeAuthFailed,
		Cause:    cause,
	}
}

// IsFatal reports whether the error must short-circuit the fallback chain.
func IsFatal(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Fatal
	}
	return false
}

// Result is the normalized outcome of one provider call. CostUSD is the
// provider-reported cost; zero means unreported and the router recomputes
// from token counts.
type Result struct {
	Content string
	Usage   models.TokenUsage
	CostUSD float64
}

// ExecuteFunc is the caller-supplied execution callback. It performs the
// actual network call for the resolved model's configuration and returns
// once, or fails with a ProviderError (anything untyped is classified as
// PROVIDER_UNKNOWN).
type ExecuteFunc func(ctx context.Context, model manifest.ResolvedModel) (*Result, error)

// Attempt is one dispatch attempt's outcome.
type Attempt struct {
	Model   manifest.ResolvedModel
	Result  *Result
	Err     *ProviderError
	Latency time.Duration
}

// Config holds per-provider dispatch timeouts.
type Config struct {
	DefaultTimeout  time.Duration
	ProviderTimeout map[string]time.Duration
}

// DefaultConfig returns the stock timeout table. Long-context providers
// get a longer window.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 60 * time.Second,
		ProviderTimeout: map[string]time.Duration{
			"google": 180 * time.Second,
		},
	}
}

// Dispatcher runs execution callbacks with timing and failure
// classification.
type Dispatcher struct {
	config Config
	logger *zap.Logger
}

// New creates a dispatcher.
func New(config Config, logger *zap.Logger) *Dispatcher {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 60 * time.Second
	}
	return &Dispatcher{config: config, logger: logger}
}

// Timeout returns the dispatch timeout for a provider.
func (d *Dispatcher) Timeout(provider string) time.Duration {
	if t, ok := d.config.ProviderTimeout[provider]; ok && t > 0 {
		return t
	}
	return d.config.DefaultTimeout
}

// Dispatch invokes the callback for one model under the provider's timeout
// and returns the classified attempt. A cancelled context or an expired
// timeout is classified as a timeout failure; no partial success is ever
// reported.
func (d *Dispatcher) Dispatch(ctx context.Context, model manifest.ResolvedModel, execute ExecuteFunc) Attempt {
	attemptCtx, cancel := context.WithTimeout(ctx, d.Timeout(model.Provider))
	defer cancel()

	start := time.Now()
	result, err := execute(attemptCtx, model)
	latency := time.Since(start)

	attempt := Attempt{Model: model, Latency: latency}
	if err != nil {
		attempt.Err = d.classify(model.Provider, err, attemptCtx)
		d.logger.Warn("dispatch attempt failed",
			zap.String("model", model.Key()),
			zap.String("code", string(attempt.Err.Code)),
			zap.Bool("fatal", attempt.Err.Fatal),
			zap.Duration("latency", latency))
		return attempt
	}
	if result == nil {
		attempt.Err = NewProviderError(model.Provider, CodeParseError, "callback returned no result", nil)
		return attempt
	}

	attempt.Result = result
	d.logger.Debug("dispatch attempt succeeded",
		zap.String("model", model.Key()),
		zap.Int("input_tokens", result.Usage.InputTokens),
		zap.Int("output_tokens", result.Usage.OutputTokens),
		zap.Duration("latency", latency))
	return attempt
}

// classify maps a callback error into the typed set. Typed errors pass
// through; context expiry becomes a timeout; anything else is unknown.
func (d *Dispatcher) classify(provider string, err error, ctx context.Context) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return NewProviderError(provider, CodeTimeout, "provider call timed out or was cancelled", err)
	}
	return NewProviderError(provider, CodeUnknown, "unclassified provider failure", err)
}
