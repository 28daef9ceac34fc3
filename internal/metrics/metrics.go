// Package metrics tracks gateway counters and exposes them in Prometheus
// text format. Tracking is manual; pulling in prometheus/client_golang for
// a handful of counters is not worth the dependency.
package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yuegongzi/copilot-api/internal/canonical"
	"github.com/yuegongzi/copilot-api/internal/translate"
)

// Collector accumulates request and usage counters. Safe for concurrent use.
type Collector struct {
	mu sync.RWMutex

	startTime time.Time

	requests   map[string]int64 // by endpoint
	errors     map[string]int64 // 4xx/5xx by endpoint
	durationMS map[string]int64 // summed per endpoint

	promptTokens     int64
	completionTokens int64
	tokensByModel    map[string]int64
	usageBySchema    map[string]int64 // requests per client schema
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		startTime:     time.Now(),
		requests:      make(map[string]int64),
		errors:        make(map[string]int64),
		durationMS:    make(map[string]int64),
		tokensByModel: make(map[string]int64),
		usageBySchema: make(map[string]int64),
	}
}

// ObserveRequest records one handled HTTP request.
func (c *Collector) ObserveRequest(endpoint string, status int, dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[endpoint]++
	c.durationMS[endpoint] += dur.Milliseconds()
	if status >= 400 {
		c.errors[endpoint]++
	}
}

// RecordUsage counts completed backend token usage. The signature matches
// the orchestrator's UsageRecorder so a collector can sit next to the
// ledger in a fan-out.
func (c *Collector) RecordUsage(ctx context.Context, accountID, model string, schema translate.Schema, usage canonical.Usage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.promptTokens += int64(usage.InputTokens)
	c.completionTokens += int64(usage.OutputTokens)
	c.tokensByModel[model] += int64(usage.InputTokens + usage.OutputTokens)
	c.usageBySchema[string(schema)]++
	return nil
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds    int64
	Requests         map[string]int64
	Errors           map[string]int64
	DurationMS       map[string]int64
	PromptTokens     int64
	CompletionTokens int64
	TokensByModel    map[string]int64
	UsageBySchema    map[string]int64
}

// Snapshot copies the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		UptimeSeconds:    int64(time.Since(c.startTime).Seconds()),
		Requests:         copyMap(c.requests),
		Errors:           copyMap(c.errors),
		DurationMS:       copyMap(c.durationMS),
		PromptTokens:     c.promptTokens,
		CompletionTokens: c.completionTokens,
		TokensByModel:    copyMap(c.tokensByModel),
		UsageBySchema:    copyMap(c.usageBySchema),
	}
}

func copyMap(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// sortedKeys keeps the exposition output stable for scrapers and tests.
func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
