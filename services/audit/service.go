// Package audit buffers structured audit events and writes them through
// the audit repository on a worker pool. The routing decision row itself
// is persisted synchronously by the router; this stream is the secondary
// structured event feed.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stratoslabs/llm-router/models"
	"github.com/stratoslabs/llm-router/repositories"
)

// Event wraps an audit log for queueing.
type Event struct {
	Log *models.AuditLog
}

// Config holds configuration for the Service.
type Config struct {
	BufferSize  int
	WorkerCount int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 5,
	}
}

// Service handles asynchronous audit logging.
type Service struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	eventChan   chan *Event
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	mu          sync.Mutex
}

// NewService creates a new audit service.
func NewService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		auditRepo:   auditRepo,
		logger:      logger,
		eventChan:   make(chan *Event, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))
	return nil
}

// Stop gracefully stops the audit service, waiting for pending events.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))
	close(s.eventChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent queues an event without blocking. A full buffer drops the event
// with a warning rather than stalling the routing path.
func (s *Service) LogEvent(event *Event) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.mu.Unlock()

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(event.Log.Action)))
		return fmt.Errorf("audit event buffer full")
	}
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(event.Log.Action)))
		}
	}
}

func (s *Service) processEvent(event *Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.auditRepo.Insert(ctx, event.Log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Stats represents audit service statistics.
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

// GetStats returns statistics about the audit service.
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started,
	}
}

// LogRoutingDecision emits one routing_decision event for a terminal
// routing outcome, success or failure.
func (s *Service) LogRoutingDecision(d *models.RoutingDecision) error {
	log := models.NewAuditLog(models.AuditActionRoutingDecision, "routing_decision").
		WithEntity(d.ID).
		WithRouting(d.RunType, d.RouteClass)

	details := map[string]interface{}{
		"source":         d.Source,
		"rationale":      d.Rationale,
		"success":        d.Success,
		"projected_cost": d.ProjectedCost,
		"retryable":      d.Retryable,
	}
	if d.FailureCode != nil {
		details["failure_code"] = *d.FailureCode
	}
	log.WithDetails(details)

	if d.Success && d.Provider != nil && d.Model != nil && d.ActualCost != nil && d.LatencyMs != nil {
		log.WithModelMetrics(*d.Provider, *d.Model, *d.ActualCost, *d.LatencyMs)
	}

	return s.LogEvent(&Event{Log: log})
}

// LogRoutingOverride emits the additional override event fired whenever a
// forced model or route class was in effect.
func (s *Service) LogRoutingOverride(d *models.RoutingDecision, forcedModel string, forcedClass models.RouteClass) error {
	log := models.NewAuditLog(models.AuditActionRoutingOverride, "routing_decision").
		WithEntity(d.ID).
		WithRouting(d.RunType, d.RouteClass)

	details := map[string]interface{}{
		"override_reason": d.OverrideReason,
	}
	if forcedModel != "" {
		details["forced_model"] = forcedModel
	}
	if forcedClass != "" {
		details["forced_route_class"] = forcedClass
	}
	log.WithDetails(details)

	return s.LogEvent(&Event{Log: log})
}

// LogBudgetDenied emits a budget_denied event for an admission denial.
func (s *Service) LogBudgetDenied(d *models.RoutingDecision, reason string) error {
	log := models.NewAuditLog(models.AuditActionBudgetDenied, "routing_decision").
		WithEntity(d.ID).
		WithRouting(d.RunType, d.RouteClass).
		WithDetails(map[string]interface{}{
			"reason":          reason,
			"budget_category": d.BudgetCategory,
			"projected_cost":  d.ProjectedCost,
		})

	return s.LogEvent(&Event{Log: log})
}
