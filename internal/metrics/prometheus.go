package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// FormatPrometheus renders a snapshot in the Prometheus text exposition
// format. See https://prometheus.io/docs/instrumenting/exposition_formats/.
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	sb.WriteString("# HELP gateway_uptime_seconds Time since the gateway started\n")
	sb.WriteString("# TYPE gateway_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "gateway_uptime_seconds %d\n", snap.UptimeSeconds)

	sb.WriteString("# HELP gateway_requests_total Handled HTTP requests\n")
	sb.WriteString("# TYPE gateway_requests_total counter\n")
	for _, endpoint := range sortedKeys(snap.Requests) {
		fmt.Fprintf(&sb, "gateway_requests_total{endpoint=%q} %d\n", endpoint, snap.Requests[endpoint])
	}

	sb.WriteString("# HELP gateway_request_errors_total Requests answered with 4xx/5xx\n")
	sb.WriteString("# TYPE gateway_request_errors_total counter\n")
	for _, endpoint := range sortedKeys(snap.Errors) {
		fmt.Fprintf(&sb, "gateway_request_errors_total{endpoint=%q} %d\n", endpoint, snap.Errors[endpoint])
	}

	sb.WriteString("# HELP gateway_request_duration_ms_total Summed request duration\n")
	sb.WriteString("# TYPE gateway_request_duration_ms_total counter\n")
	for _, endpoint := range sortedKeys(snap.DurationMS) {
		fmt.Fprintf(&sb, "gateway_request_duration_ms_total{endpoint=%q} %d\n", endpoint, snap.DurationMS[endpoint])
	}

	sb.WriteString("# HELP gateway_tokens_total Backend tokens consumed\n")
	sb.WriteString("# TYPE gateway_tokens_total counter\n")
	fmt.Fprintf(&sb, "gateway_tokens_total{kind=\"prompt\"} %d\n", snap.PromptTokens)
	fmt.Fprintf(&sb, "gateway_tokens_total{kind=\"completion\"} %d\n", snap.CompletionTokens)

	sb.WriteString("# HELP gateway_model_tokens_total Tokens consumed per model\n")
	sb.WriteString("# TYPE gateway_model_tokens_total counter\n")
	for _, model := range sortedKeys(snap.TokensByModel) {
		fmt.Fprintf(&sb, "gateway_model_tokens_total{model=%q} %d\n", model, snap.TokensByModel[model])
	}

	sb.WriteString("# HELP gateway_schema_requests_total Completed requests per client schema\n")
	sb.WriteString("# TYPE gateway_schema_requests_total counter\n")
	for _, schema := range sortedKeys(snap.UsageBySchema) {
		fmt.Fprintf(&sb, "gateway_schema_requests_total{schema=%q} %d\n", schema, snap.UsageBySchema[schema])
	}

	return sb.String()
}

// Handler serves the collector in Prometheus text format.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(FormatPrometheus(c.Snapshot())))
	}
}

// HTTPMiddleware records per-endpoint request counters. The wrapper keeps
// http.Flusher visible so SSE responses still stream.
func HTTPMiddleware(c *Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if c == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)
			c.ObserveRequest(r.Method+" "+endpointLabel(r), sw.status, time.Since(start))
		})
	}
}

// endpointLabel keys the counters on the matched route pattern, not the raw
// path, so path parameters and probing traffic cannot blow up label
// cardinality. Requests outside a chi router fall back to the raw path.
func endpointLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
