// Package health runs component health checks for the control API.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/lookout/internal/logger"
)

// Status represents the health status of a component.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Check represents a health check result.
type Check struct {
	Name        string                 `json:"name"`
	Status      Status                 `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"-"`
	DurationMS  float64                `json:"duration_ms"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// Checker is the interface that health checkers must implement.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// DetailedChecker is a Checker that also reports details with its result.
type DetailedChecker interface {
	Checker
	Details() map[string]interface{}
}

// DegradedError marks a check that works but not at full health.
type DegradedError struct {
	Reason string
}

func (e *DegradedError) Error() string {
	return e.Reason
}

// Degraded returns a DegradedError for reason.
func Degraded(reason string) error {
	return &DegradedError{Reason: reason}
}

// Manager manages health checks.
type Manager struct {
	checkers []Checker
	results  map[string]*Check
	timeout  time.Duration
	mu       sync.RWMutex
	logger   logger.Logger
}

// NewManager creates a new health check manager.
func NewManager(log logger.Logger) *Manager {
	return &Manager{
		checkers: make([]Checker, 0),
		results:  make(map[string]*Check),
		timeout:  5 * time.Second,
		logger:   log.WithField("component", "health"),
	}
}

// Register adds a new health checker.
func (m *Manager) Register(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
	m.logger.WithField("checker", checker.Name()).Debug("Registered health checker")
}

// RunChecks runs every registered checker concurrently, records the
// results and returns them keyed by checker name.
func (m *Manager) RunChecks(ctx context.Context) map[string]*Check {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	checks := make([]*Check, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			checks[i] = m.run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]*Check, len(checks))
	m.mu.Lock()
	for _, check := range checks {
		results[check.Name] = check
		m.results[check.Name] = check
	}
	m.mu.Unlock()
	return results
}

func (m *Manager) run(ctx context.Context, c Checker) *Check {
	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	err := c.Check(checkCtx)
	duration := time.Since(start)

	check := &Check{
		Name:        c.Name(),
		Status:      StatusOK,
		LastChecked: time.Now(),
		Duration:    duration,
		DurationMS:  float64(duration.Milliseconds()),
	}
	if dc, ok := c.(DetailedChecker); ok {
		check.Details = dc.Details()
	}

	var degraded *DegradedError
	switch {
	case err == nil:
		m.logger.WithFields(map[string]interface{}{
			"checker":  c.Name(),
			"duration": duration,
		}).Debug("Health check passed")
	case errors.As(err, &degraded):
		check.Status = StatusDegraded
		check.Message = degraded.Reason
		m.logger.WithField("checker", c.Name()).Warn("Health check degraded: " + degraded.Reason)
	case errors.Is(err, context.DeadlineExceeded):
		check.Status = StatusDown
		check.Message = "Health check timed out"
		m.logger.WithField("checker", c.Name()).Error("Health check timed out")
	default:
		check.Status = StatusDown
		check.Message = err.Error()
		m.logger.WithError(err).WithFields(map[string]interface{}{
			"checker":  c.Name(),
			"duration": duration,
		}).Error("Health check failed")
	}
	return check
}

// GetResults returns the latest health check results.
func (m *Manager) GetResults() map[string]*Check {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]*Check, len(m.results))
	for k, v := range m.results {
		checkCopy := *v
		results[k] = &checkCopy
	}
	return results
}

// GetOverallStatus is the worst status among the last results. With no
// results yet it is StatusDown.
func (m *Manager) GetOverallStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.results) == 0 {
		return StatusDown
	}
	overall := StatusOK
	for _, check := range m.results {
		if severity(check.Status) > severity(overall) {
			overall = check.Status
		}
	}
	return overall
}

func severity(s Status) int {
	switch s {
	case StatusDown:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// StartPeriodicChecks starts running health checks periodically.
func (m *Manager) StartPeriodicChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.RunChecks(ctx)

	for {
		select {
		case <-ticker.C:
			m.RunChecks(ctx)
		case <-ctx.Done():
			m.logger.Info("Stopping periodic health checks")
			return
		}
	}
}
