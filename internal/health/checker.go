// Package health aggregates liveness checks over the gateway's moving
// parts: the account source, the usage ledger and the completion backend.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Status grades one component or the gateway as a whole.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Component is the check result for one dependency.
type Component struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Report is the aggregate health view served on /healthz.
type Report struct {
	Status     Status      `json:"status"`
	Components []Component `json:"components,omitempty"`
	CheckedAt  time.Time   `json:"checked_at"`
}

// CheckFunc probes one dependency and returns an error when it is down.
type CheckFunc func(ctx context.Context) error

// Checker runs the registered probes concurrently.
type Checker struct {
	timeout    time.Duration
	maxLatency time.Duration

	mu     sync.Mutex
	probes map[string]CheckFunc
}

// Config holds checker configuration.
type Config struct {
	// Timeout bounds one probe. Zero selects 3s.
	Timeout time.Duration
	// MaxLatency marks a slow-but-working probe degraded. Zero selects 500ms.
	MaxLatency time.Duration
}

// New creates an empty checker.
func New(cfg Config) *Checker {
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.MaxLatency == 0 {
		cfg.MaxLatency = 500 * time.Millisecond
	}
	return &Checker{
		timeout:    cfg.Timeout,
		maxLatency: cfg.MaxLatency,
		probes:     make(map[string]CheckFunc),
	}
}

// Register adds a named probe. Nil probes are ignored.
func (c *Checker) Register(name string, probe CheckFunc) {
	if probe == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = probe
}

// Check runs all probes and folds their results into a report. The overall
// status is the worst component status.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.Lock()
	probes := make(map[string]CheckFunc, len(c.probes))
	for name, probe := range c.probes {
		probes[name] = probe
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	results := make(chan Component, len(probes))
	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe CheckFunc) {
			defer wg.Done()
			results <- c.run(ctx, name, probe)
		}(name, probe)
	}
	wg.Wait()
	close(results)

	report := Report{Status: StatusHealthy, CheckedAt: time.Now().UTC()}
	for comp := range results {
		report.Components = append(report.Components, comp)
		if worse(comp.Status, report.Status) {
			report.Status = comp.Status
		}
	}
	return report
}

// HTTPStatus maps an overall status to a response code. Degraded still
// returns 200 so load balancers keep routing while operators investigate.
func (r Report) HTTPStatus() int {
	if r.Status == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (c *Checker) run(ctx context.Context, name string, probe CheckFunc) Component {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := probe(ctx)
	latency := time.Since(start)

	comp := Component{Name: name, LatencyMS: latency.Milliseconds()}
	switch {
	case err != nil:
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
	case latency > c.maxLatency:
		comp.Status = StatusDegraded
	default:
		comp.Status = StatusHealthy
	}
	return comp
}

func worse(a, b Status) bool {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	return rank[a] > rank[b]
}
