package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Manager runs registered checkers and aggregates their results.
type Manager struct {
	mu          sync.RWMutex
	checkers    map[string]Checker
	lastResults map[string]CheckResult
	logger      *zap.Logger
}

// NewManager creates a new health manager
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		checkers:    make(map[string]Checker),
		lastResults: make(map[string]CheckResult),
		logger:      logger,
	}
}

// RegisterChecker registers a health check
func (m *Manager) RegisterChecker(checker Checker) error {
	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = checker
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", checker.IsCritical()),
		zap.Duration("timeout", checker.Timeout()))
	return nil
}

// Names returns the registered checker names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := lo.Keys(m.checkers)
	sort.Strings(out)
	return out
}

// GetDetailedHealth runs every check concurrently, each bounded by its own timeout.
func (m *Manager) GetDetailedHealth(ctx context.Context) DetailedHealth {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	timestamp := time.Now()
	results := make([]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runCheck(ctx, c)
		}()
	}
	wg.Wait()

	components := make(map[string]CheckResult, len(results))
	for _, result := range results {
		components[result.Component] = result
	}

	m.mu.Lock()
	for name, result := range components {
		m.lastResults[name] = result
	}
	m.mu.Unlock()

	detailed := aggregate(components, timestamp)
	detailed.Overall.Duration = time.Since(timestamp)
	return detailed
}

// GetCachedHealth aggregates the most recent results without running checks.
func (m *Manager) GetCachedHealth() DetailedHealth {
	return aggregate(m.GetLastResults(), time.Now())
}

// GetOverallHealth returns the overall health status
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	return m.GetDetailedHealth(ctx).Overall
}

// IsReady returns true if no critical component is failing.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Ready
}

// GetLastResults returns the most recent results without running checks.
func (m *Manager) GetLastResults() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CheckResult, len(m.lastResults))
	for name, result := range m.lastResults {
		out[name] = result
	}
	return out
}

func runCheck(ctx context.Context, checker Checker) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, checker.Timeout())
	defer cancel()

	start := time.Now()
	result := checker.Check(checkCtx)
	result.Component = checker.Name()
	result.Critical = checker.IsCritical()
	result.Duration = time.Since(start)
	result.Timestamp = start
	return result
}

func aggregate(components map[string]CheckResult, timestamp time.Time) DetailedHealth {
	summary := HealthSummary{Total: len(components)}
	for _, result := range components {
		switch result.Status {
		case StatusHealthy:
			summary.Healthy++
		case StatusDegraded:
			summary.Degraded++
		case StatusUnhealthy:
			summary.Unhealthy++
		}
		if result.Critical {
			summary.Critical++
		} else {
			summary.NonCritical++
		}
	}
	overall := overallStatus(components, summary)
	overall.Timestamp = timestamp
	return DetailedHealth{
		Overall:    overall,
		Components: components,
		Summary:    summary,
		Timestamp:  timestamp,
	}
}

func overallStatus(components map[string]CheckResult, summary HealthSummary) OverallHealth {
	if summary.Total == 0 {
		return OverallHealth{
			Status:  StatusUnknown,
			Message: "No health checks registered",
			Ready:   true,
			Live:    true,
		}
	}

	criticalFailures, nonCriticalFailures := 0, 0
	for _, result := range components {
		if result.Status != StatusUnhealthy {
			continue
		}
		if result.Critical {
			criticalFailures++
		} else {
			nonCriticalFailures++
		}
	}

	out := OverallHealth{Ready: true, Live: true}
	switch {
	case criticalFailures > 0:
		out.Status = StatusUnhealthy
		out.Message = fmt.Sprintf("%d critical component(s) failing", criticalFailures)
		out.Ready = false
	case summary.Degraded > 0:
		out.Status = StatusDegraded
		out.Message = fmt.Sprintf("%d component(s) degraded", summary.Degraded)
	case nonCriticalFailures > 0:
		out.Status = StatusDegraded
		out.Message = fmt.Sprintf("%d non-critical component(s) failing", nonCriticalFailures)
	default:
		out.Status = StatusHealthy
		out.Message = fmt.Sprintf("All %d components healthy", summary.Total)
	}
	out.Degraded = out.Status == StatusDegraded
	return out
}
