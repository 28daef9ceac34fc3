// Package httpserver exposes the gateway over HTTP: the OpenAI and
// Anthropic compatibility surfaces, the model catalogue, token counting,
// health and the admin endpoints.
package httpserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yuegongzi/copilot-api/internal/accounts"
	"github.com/yuegongzi/copilot-api/internal/canonical"
	"github.com/yuegongzi/copilot-api/internal/copilot"
	"github.com/yuegongzi/copilot-api/internal/gateway"
	"github.com/yuegongzi/copilot-api/internal/health"
	"github.com/yuegongzi/copilot-api/internal/ledger"
	"github.com/yuegongzi/copilot-api/internal/metrics"
	"github.com/yuegongzi/copilot-api/internal/translate"
	"github.com/yuegongzi/copilot-api/internal/version"
)

// Completer runs one request through the pipeline; *gateway.Orchestrator is
// the production implementation.
type Completer interface {
	Complete(ctx context.Context, req canonical.Request, schema translate.Schema) (canonical.Response, error)
	Stream(ctx context.Context, req canonical.Request, schema translate.Schema, tr gateway.Transcoder) error
}

// AdminPool is the account-pool surface for the admin endpoints.
type AdminPool interface {
	Snapshot(ctx context.Context) ([]accounts.AccountStatus, error)
	ResetAccount(ctx context.Context, accountID string) error
}

// ModelCatalog lists backend models; *gateway.ModelService is the production
// implementation.
type ModelCatalog interface {
	List(ctx context.Context) ([]copilot.ModelInfo, error)
}

// Options configures the server surface.
type Options struct {
	AdminEnabled bool
	// Usage serves the admin usage endpoints when set.
	Usage ledger.Store
	// Health upgrades /healthz to component checks when set.
	Health *health.Checker
	// Metrics instruments requests and serves /metrics when set.
	Metrics *metrics.Collector
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	completer Completer
	models    ModelCatalog
	admin     AdminPool
	usage     ledger.Store
	openai    *translate.OpenAIMapper
	anthropic *translate.AnthropicMapper
	logger    *log.Logger
	opts      Options
}

// NewServer creates a server.
func NewServer(completer Completer, models ModelCatalog, admin AdminPool, opts Options, logger *log.Logger) *Server {
	return &Server{
		completer: completer,
		models:    models,
		admin:     admin,
		usage:     opts.Usage,
		openai:    translate.NewOpenAIMapper(logger),
		anthropic: translate.NewAnthropicMapper(logger),
		logger:    logger,
		opts:      opts,
	}
}

// Router returns the configured chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.opts.Metrics != nil {
		r.Use(metrics.HTTPMiddleware(s.opts.Metrics))
	}

	r.Get("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Get("/metrics", s.opts.Metrics.Handler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/chat/completions", s.handleChatCompletions)
		v1.Get("/models", s.handleModels)
		v1.Get("/models/{model}", s.handleModel)
		v1.Post("/messages", s.handleMessages)
		v1.Post("/messages/count_tokens", s.handleCountTokens)
	})

	if s.opts.AdminEnabled && s.admin != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Get("/accounts", s.handleAdminAccounts)
			admin.Post("/accounts/{id}/reset", s.handleAdminReset)
			if s.usage != nil {
				admin.Get("/usage", s.handleAdminUsage)
				admin.Get("/usage/{id}", s.handleAdminUsageAccount)
			}
		})
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.Version,
		})
		return
	}
	report := s.opts.Health.Check(r.Context())
	writeJSON(w, report.HTTPStatus(), struct {
		health.Report
		Version string `json:"version"`
	}{Report: report, Version: version.Version})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
