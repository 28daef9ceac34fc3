package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yuegongzi/copilot-api/internal/accounts"
	accountspg "github.com/yuegongzi/copilot-api/internal/accounts/postgres"
	"github.com/yuegongzi/copilot-api/internal/config"
	"github.com/yuegongzi/copilot-api/internal/copilot"
	"github.com/yuegongzi/copilot-api/internal/gateway"
	"github.com/yuegongzi/copilot-api/internal/health"
	"github.com/yuegongzi/copilot-api/internal/httpserver"
	"github.com/yuegongzi/copilot-api/internal/ledger"
	ledgerasync "github.com/yuegongzi/copilot-api/internal/ledger/async"
	ledgerpg "github.com/yuegongzi/copilot-api/internal/ledger/postgres"
	ledgersqlite "github.com/yuegongzi/copilot-api/internal/ledger/sqlite"
	"github.com/yuegongzi/copilot-api/internal/logging"
	"github.com/yuegongzi/copilot-api/internal/metrics"
	"github.com/yuegongzi/copilot-api/internal/ratelimit"
	"github.com/yuegongzi/copilot-api/internal/version"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to config.ini (optional)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.FullInfo())
		return
	}

	if flag.Arg(0) == "login" {
		if err := runLogin(); err != nil {
			log.Fatalf("login failed: %v", err)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Rotating file logging, mirrored to stdout for foreground runs.
	const maxLogBytes = int64(300 * 1024 * 1024) // 300MB
	if target := strings.TrimSpace(cfg.LogFile); target != "" {
		rot, err := logging.NewRotatingWriter(target, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		defer rot.Close()
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[copilot-api] ")
	logger := log.Default()

	logger.Printf("starting %s", version.FullInfo())

	provider, closeProvider, err := buildProvider(cfg)
	if err != nil {
		logger.Fatalf("init account provider: %v", err)
	}
	defer closeProvider()

	authClient := copilot.NewAuthClient(copilot.AuthConfig{RequestTimeout: cfg.RequestTimeout})
	backendClient := copilot.NewClient(copilot.Config{
		BaseURL:        cfg.BackendBaseURL,
		RequestTimeout: cfg.RequestTimeout,
	})

	tokens := accounts.NewTokenStore(authClient, cfg.RefreshMargin, logger)

	var stateStore accounts.StateStore
	if cfg.RedisAddr != "" {
		redisStore, err := accounts.NewRedisStateStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("init redis state store: %v", err)
		}
		defer redisStore.Close()
		stateStore = redisStore
		logger.Printf("rate-limit state shared via redis at %s", cfg.RedisAddr)
	}
	tracker := accounts.NewTracker(accounts.TrackerConfig{
		Store:           stateStore,
		DefaultCooldown: cfg.DefaultCooldown,
	}, logger)

	selector := accounts.NewSelector(provider, tokens, tracker, accounts.SelectorConfig{}, logger)

	usageStore, err := buildLedger(cfg, logger)
	if err != nil {
		logger.Fatalf("init usage ledger: %v", err)
	}
	var recorder gateway.UsageRecorder
	if usageStore != nil {
		defer usageStore.Close()
		recorder = ledger.NewRecorder(usageStore)
	}
	collector := metrics.NewCollector()
	recorder = gateway.MultiRecorder(recorder, collector)

	orch := gateway.NewOrchestrator(selector, gateway.CopilotBackend{Client: backendClient}, recorder, gateway.Config{
		AcquireTimeout: cfg.AcquireTimeout,
		MaxAttempts:    cfg.MaxAttempts,
	}, logger)
	models := gateway.NewModelService(selector, backendClient)

	checker := health.New(health.Config{})
	checker.Register("accounts", func(ctx context.Context) error {
		_, err := provider.ListAccounts(ctx)
		return err
	})
	if usageStore != nil {
		store := usageStore
		checker.Register("usage_ledger", func(ctx context.Context) error {
			_, err := store.Summaries(ctx)
			return err
		})
	}

	srv := httpserver.NewServer(orch, models, selector, httpserver.Options{
		AdminEnabled: cfg.AdminEnabled,
		Usage:        usageStore,
		Health:       checker,
		Metrics:      collector,
	}, logger)

	handler := http.Handler(srv.Router())
	if cfg.RateLimitRPS > 0 {
		limiter := ratelimit.NewClientLimiter(ratelimit.Config{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		})
		defer limiter.Close()
		handler = ratelimit.Middleware(limiter, logger)(handler)
		logger.Printf("inbound rate limit: %.1f req/s per client", cfg.RateLimitRPS)
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigs:
		logger.Printf("received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server: %v", err)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	logger.Printf("shutdown complete")
}

// buildProvider picks the account source: shared PostgreSQL pool, YAML file,
// or a single credential from the environment.
func buildProvider(cfg config.Config) (accounts.ConfigProvider, func(), error) {
	noop := func() {}
	switch {
	case cfg.AccountsDSN != "":
		p, err := accountspg.New(cfg.AccountsDSN, 10, 5)
		if err != nil {
			return nil, noop, err
		}
		return p, func() { _ = p.Close() }, nil
	case cfg.AccountsFile != "":
		return accounts.NewFileProvider(cfg.AccountsFile), noop, nil
	case cfg.GithubToken != "":
		return accounts.StaticProvider{{
			ID:                "default",
			Login:             "default",
			RefreshCredential: cfg.GithubToken,
		}}, noop, nil
	default:
		return nil, noop, errors.New("no account source configured: set accounts file, dsn, or GITHUB_TOKEN")
	}
}

func buildLedger(cfg config.Config, logger *log.Logger) (ledger.Store, error) {
	var store ledger.Store
	switch cfg.LedgerDriver {
	case "off":
		logger.Printf("usage ledger disabled")
		return nil, nil
	case "postgres":
		s, err := ledgerpg.New(cfg.LedgerDSN)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		s, err := ledgersqlite.New(cfg.LedgerPath)
		if err != nil {
			return nil, err
		}
		store = s
	}
	if cfg.LedgerAsync {
		store = ledgerasync.New(store, ledgerasync.Config{Logger: logger})
	}
	return store, nil
}

// runLogin walks the device-authorization flow and prints an accounts file
// snippet carrying the new refresh credential.
func runLogin() error {
	auth := copilot.NewAuthClient(copilot.AuthConfig{})
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	code, err := auth.StartDeviceFlow(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Open %s and enter code: %s\n", code.VerificationURI, code.UserCode)
	fmt.Println("Waiting for approval...")

	credential, err := auth.PollDeviceFlow(ctx, code)
	if err != nil {
		return err
	}
	fmt.Println("Approved. Add this account to your accounts file:")
	fmt.Printf("\naccounts:\n  - id: <pick-an-id>\n    login: <github-login>\n    refresh_credential: %s\n", credential)
	return nil
}
