// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Pinger is any dependency that can report its reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping implements Pinger
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RunningCounter reports how many tenant workers are live
type RunningCounter interface {
	RunningIDs() []int64
}

// HealthChecker provides health check endpoints
type HealthChecker struct {
	checks  map[string]Pinger
	workers RunningCounter
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status         string            `json:"status"`
	Timestamp      int64             `json:"timestamp"`
	Checks         map[string]string `json:"checks,omitempty"`
	RunningTenants *int              `json:"running_tenants,omitempty"`
}

// NewHealthChecker creates a health checker over named dependencies; nil
// entries are skipped
func NewHealthChecker(checks map[string]Pinger, workers RunningCounter, logger *zap.Logger) *HealthChecker {
	filtered := make(map[string]Pinger, len(checks))
	for name, p := range checks {
		if p != nil {
			filtered[name] = p
		}
	}
	return &HealthChecker{
		checks:  filtered,
		workers: workers,
		timeout: 5 * time.Second,
		logger:  logger,
		now:     time.Now,
	}
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, HealthStatus{
		Status:    "alive",
		Timestamp: h.now().Unix(),
	})
}

// ReadinessHandler pings every dependency and reports the running tenant count
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	status, ok := h.Check(r.Context())
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	writeStatus(w, code, status)
}

// Check runs every readiness probe
func (h *HealthChecker) Check(ctx context.Context) (HealthStatus, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := h.checks[name].Ping(ctx); err != nil {
			h.logger.Error("Readiness check failed", zap.String("check", name), zap.Error(err))
			checks[name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		checks[name] = "healthy"
	}

	status := HealthStatus{
		Status:    "ready",
		Timestamp: h.now().Unix(),
		Checks:    checks,
	}
	if h.workers != nil {
		n := len(h.workers.RunningIDs())
		status.RunningTenants = &n
	}
	if !healthy {
		status.Status = "not_ready"
	}
	return status, healthy
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
