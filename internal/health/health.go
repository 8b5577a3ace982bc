package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hengadev/medx/internal/reliability"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnknown   HealthStatus = "unknown"
)

const defaultTimeout = 10 * time.Second

// HealthCheck probes one dependency. A failing critical check makes the
// whole report unhealthy; a failing non-critical one only degrades it.
type HealthCheck struct {
	Name      string
	CheckFunc func(context.Context) (HealthStatus, error)
	Timeout   time.Duration
	Critical  bool
}

// HealthResult represents the result of a health check
type HealthResult struct {
	Name     string        `json:"name"`
	Status   HealthStatus  `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Critical bool          `json:"critical"`

	err error
}

// Err returns the error the check failed with, if any.
func (r HealthResult) Err() error {
	return r.err
}

// HealthReport is the outcome of a full run, results in registration order.
type HealthReport struct {
	Status    HealthStatus   `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  time.Duration  `json:"duration"`
	Version   string         `json:"version,omitempty"`
	Results   []HealthResult `json:"results"`
}

// Failed returns the results that are not healthy.
func (r *HealthReport) Failed() []HealthResult {
	var out []HealthResult
	for _, res := range r.Results {
		if res.Status != StatusHealthy {
			out = append(out, res)
		}
	}
	return out
}

// HealthChecker runs registered checks concurrently.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []HealthCheck
	version string
	timeout time.Duration
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{version: version, timeout: defaultTimeout}
}

// SetTimeout sets the timeout of checks registered without one.
func (hc *HealthChecker) SetTimeout(timeout time.Duration) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.timeout = timeout
}

// RegisterCheck adds a check. Names must be unique.
func (hc *HealthChecker) RegisterCheck(check HealthCheck) error {
	if check.Name == "" {
		return fmt.Errorf("health check name cannot be empty")
	}
	if check.CheckFunc == nil {
		return fmt.Errorf("health check %q has no function", check.Name)
	}

	hc.mu.Lock()
	defer hc.mu.Unlock()
	for _, c := range hc.checks {
		if c.Name == check.Name {
			return fmt.Errorf("health check %q already registered", check.Name)
		}
	}
	if check.Timeout == 0 {
		check.Timeout = hc.timeout
	}
	hc.checks = append(hc.checks, check)
	return nil
}

// CheckHealth executes all registered health checks
func (hc *HealthChecker) CheckHealth(ctx context.Context) *HealthReport {
	start := time.Now()

	hc.mu.RLock()
	checks := append([]HealthCheck(nil), hc.checks...)
	hc.mu.RUnlock()

	results := make([]HealthResult, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = executeCheck(ctx, check)
		}()
	}
	wg.Wait()

	return &HealthReport{
		Status:    overallStatus(results),
		Timestamp: start,
		Duration:  time.Since(start),
		Version:   hc.version,
		Results:   results,
	}
}

func executeCheck(ctx context.Context, check HealthCheck) HealthResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	status, err := check.CheckFunc(checkCtx)
	result := HealthResult{
		Name:     check.Name,
		Status:   status,
		Duration: time.Since(start),
		Critical: check.Critical,
		err:      err,
	}
	if err != nil {
		result.Error = err.Error()
		if result.Status == StatusHealthy || result.Status == "" {
			result.Status = StatusUnhealthy
		}
	}
	return result
}

func overallStatus(results []HealthResult) HealthStatus {
	if len(results) == 0 {
		return StatusUnknown
	}

	degraded := false
	for _, r := range results {
		switch r.Status {
		case StatusHealthy:
		case StatusUnhealthy, StatusUnknown:
			if r.Critical {
				return StatusUnhealthy
			}
			degraded = true
		default:
			degraded = true
		}
	}
	if degraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// PingCheck wraps a function that only reports an error.
func PingCheck(name string, critical bool, ping func(context.Context) error) HealthCheck {
	return HealthCheck{
		Name:     name,
		Critical: critical,
		CheckFunc: func(ctx context.Context) (HealthStatus, error) {
			if err := ping(ctx); err != nil {
				return StatusUnhealthy, err
			}
			return StatusHealthy, nil
		},
	}
}

// CircuitBreakerCheck degrades the report while the breaker is not closed.
func CircuitBreakerCheck(name string, state func() reliability.CircuitState) HealthCheck {
	return HealthCheck{
		Name:    name,
		Timeout: time.Second,
		CheckFunc: func(ctx context.Context) (HealthStatus, error) {
			if s := state(); s != reliability.StateClosed {
				return StatusDegraded, fmt.Errorf("circuit breaker is %s", s)
			}
			return StatusHealthy, nil
		},
	}
}

// Handler serves /health (full report), /health/live and /health/ready.
// Readiness fails while any critical check fails.
func Handler(checker *HealthChecker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		report := checker.CheckHealth(r.Context())
		code := http.StatusOK
		if report.Status == StatusUnhealthy || report.Status == StatusUnknown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	})
	mux.HandleFunc("GET /health/live", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": StatusHealthy, "timestamp": time.Now()})
	})
	mux.HandleFunc("GET /health/ready", func(w http.ResponseWriter, r *http.Request) {
		report := checker.CheckHealth(r.Context())
		ready := report.Status != StatusUnhealthy
		code := http.StatusOK
		status := "ready"
		if !ready {
			code = http.StatusServiceUnavailable
			status = "not_ready"
		}
		writeJSON(w, code, map[string]any{"status": status, "timestamp": time.Now()})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
