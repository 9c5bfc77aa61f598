package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"pnl-dashboard/internal/broker"
	"pnl-dashboard/internal/models"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string                 `json:"name"`
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message,omitempty"`
	LastCheck time.Time              `json:"lastCheck"`
	Latency   time.Duration          `json:"latencyNs"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthCheck represents a health check function.
type HealthCheck func(ctx context.Context) ComponentHealth

// SystemHealth represents overall process health.
type SystemHealth struct {
	Status        HealthStatus      `json:"status"`
	Uptime        string            `json:"uptime"`
	StartTime     time.Time         `json:"startTime"`
	Components    []ComponentHealth `json:"components"`
	Goroutines    int               `json:"goroutines"`
	MemoryAllocMB uint64            `json:"memoryAllocMB"`
	TotalChecks   int64             `json:"totalChecks"`
	FailedChecks  int64             `json:"failedChecks"`
}

// HealthMonitor runs registered component checks on demand.
type HealthMonitor struct {
	mu sync.Mutex

	startTime  time.Time
	components map[string]HealthCheck
	now        func() time.Time

	totalChecks  int64
	failedChecks int64
}

// NewHealthMonitor creates a health monitor with no components.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		startTime:  time.Now(),
		components: make(map[string]HealthCheck),
		now:        time.Now,
	}
}

// RegisterComponent registers a health check for a component.
func (m *HealthMonitor) RegisterComponent(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = check
}

// Check runs every component check and derives the overall status: any
// unhealthy component makes the process unhealthy, any degraded one
// degrades it.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.Lock()
	names := make([]string, 0, len(m.components))
	for name := range m.components {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(m.components))
	for k, v := range m.components {
		checks[k] = v
	}
	m.mu.Unlock()
	sort.Strings(names)

	status := HealthStatusHealthy
	components := make([]ComponentHealth, 0, len(names))
	var failed int64
	for _, name := range names {
		h := checks[name](ctx)
		if h.Name == "" {
			h.Name = name
		}
		switch h.Status {
		case HealthStatusUnhealthy:
			status = HealthStatusUnhealthy
			failed++
		case HealthStatusDegraded:
			if status == HealthStatusHealthy {
				status = HealthStatusDegraded
			}
		}
		components = append(components, h)
	}

	m.mu.Lock()
	m.totalChecks += int64(len(names))
	m.failedChecks += failed
	total, totalFailed := m.totalChecks, m.failedChecks
	m.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return SystemHealth{
		Status:        status,
		Uptime:        m.now().Sub(m.startTime).Round(time.Second).String(),
		StartTime:     m.startTime,
		Components:    components,
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: memStats.Alloc / 1024 / 1024,
		TotalChecks:   total,
		FailedChecks:  totalFailed,
	}
}

// HealthHTTPHandler returns an HTTP handler for health checks.
func (m *HealthMonitor) HealthHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := m.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		switch health.Status {
		case HealthStatusHealthy, HealthStatusDegraded:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	}
}

// ReportFreshnessCheck reports degraded until the first cycle is published
// and when the latest report is older than maxAge. A zero maxAge disables
// the age check.
func ReportFreshnessCheck(latest func() *models.Report, maxAge time.Duration, now func() time.Time) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		health := ComponentHealth{
			Name:      "report",
			LastCheck: now(),
			Details:   make(map[string]interface{}),
		}

		report := latest()
		if report == nil {
			health.Status = HealthStatusDegraded
			health.Message = "waiting for first refresh cycle"
			return health
		}

		age := now().Sub(report.GeneratedAt)
		health.Details["seq"] = report.Seq
		health.Details["age"] = age.Round(time.Second).String()
		if len(report.PairErrors) > 0 {
			health.Details["failedPairs"] = len(report.PairErrors)
		}

		if maxAge > 0 && age > maxAge {
			health.Status = HealthStatusDegraded
			health.Message = fmt.Sprintf("no report for %v", age.Round(time.Second))
			return health
		}

		health.Status = HealthStatusHealthy
		return health
	}
}

// JournalHealthCheck creates a health check for the cycle journal.
func JournalHealthCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		health := ComponentHealth{
			Name:      "journal",
			LastCheck: time.Now(),
		}

		start := time.Now()
		err := ping(ctx)
		health.Latency = time.Since(start)

		if err != nil {
			health.Status = HealthStatusUnhealthy
			health.Message = fmt.Sprintf("journal ping failed: %v", err)
			return health
		}

		health.Status = HealthStatusHealthy
		return health
	}
}

// ExchangeHealthCheck reports the exchange endpoints' breaker states. Some
// open endpoints degrade the component; all of them open makes it
// unhealthy.
func ExchangeHealthCheck(stats func() []broker.EndpointStats) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		health := ComponentHealth{
			Name:      "exchange",
			LastCheck: time.Now(),
			Details:   make(map[string]interface{}),
		}

		endpoints := stats()
		open := 0
		for _, ep := range endpoints {
			health.Details[ep.BaseURL] = string(ep.State)
			if ep.State == broker.CircuitOpen {
				open++
			}
		}

		switch {
		case len(endpoints) > 0 && open == len(endpoints):
			health.Status = HealthStatusUnhealthy
			health.Message = "every exchange endpoint is failing"
		case open > 0:
			health.Status = HealthStatusDegraded
			health.Message = fmt.Sprintf("%d of %d endpoints skipped", open, len(endpoints))
		default:
			health.Status = HealthStatusHealthy
		}
		return health
	}
}
