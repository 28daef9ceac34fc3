// Package config loads gateway settings from an INI file with environment
// variable overrides. Every value has a usable default so the gateway can
// start from nothing but an accounts file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/ini.v1"
)

// Config describes runtime options for the gateway.
type Config struct {
	// Server
	ListenAddr   string
	AdminEnabled bool
	// RateLimitRPS throttles inbound requests per client. Zero disables
	// inbound limiting.
	RateLimitRPS   float64
	RateLimitBurst float64

	// Backend
	BackendBaseURL string
	RequestTimeout time.Duration

	// Accounts
	AccountsFile string
	// AccountsDSN selects the PostgreSQL account provider instead of the
	// file provider when set.
	AccountsDSN string
	// GithubToken is the single-credential fallback when no accounts file is
	// configured.
	GithubToken string

	// Pool tuning
	RefreshMargin   time.Duration
	DefaultCooldown time.Duration
	AcquireTimeout  time.Duration
	MaxAttempts     int

	// Rate-limit state sharing
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Ledger
	LedgerDriver string // sqlite|postgres|off
	LedgerPath   string
	LedgerDSN    string
	LedgerAsync  bool

	// Logging
	LogFile string
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ListenAddr:      ":8080",
		AdminEnabled:    true,
		RequestTimeout:  120 * time.Second,
		RefreshMargin:   2 * time.Minute,
		DefaultCooldown: 5 * time.Minute,
		AcquireTimeout:  10 * time.Second,
		MaxAttempts:     2,
		LedgerDriver:    "sqlite",
		LedgerPath:      DefaultLedgerPath(),
	}
}

// Load reads the INI file at path, falling back to defaults when the file is
// absent, then applies environment overrides. Passing an empty path skips
// the file entirely.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := loadFile(&cfg, path); err != nil {
				return Config{}, err
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("stat config file: %w", err)
		}
	}
	applyEnv(&cfg)

	if cfg.LedgerDriver != "sqlite" && cfg.LedgerDriver != "postgres" && cfg.LedgerDriver != "off" {
		return Config{}, fmt.Errorf("invalid ledger driver %q", cfg.LedgerDriver)
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	file, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}

	server := file.Section("server")
	cfg.ListenAddr = server.Key("listen_addr").MustString(cfg.ListenAddr)
	cfg.AdminEnabled = server.Key("admin_enabled").MustBool(cfg.AdminEnabled)
	cfg.RateLimitRPS = server.Key("rate_limit_rps").MustFloat64(cfg.RateLimitRPS)
	cfg.RateLimitBurst = server.Key("rate_limit_burst").MustFloat64(cfg.RateLimitBurst)

	backend := file.Section("backend")
	cfg.BackendBaseURL = backend.Key("base_url").MustString(cfg.BackendBaseURL)
	cfg.RequestTimeout = secondsKey(backend, "request_timeout_sec", cfg.RequestTimeout)

	accounts := file.Section("accounts")
	cfg.AccountsFile = accounts.Key("file").MustString(cfg.AccountsFile)
	cfg.AccountsDSN = accounts.Key("postgres_dsn").MustString(cfg.AccountsDSN)
	cfg.RefreshMargin = secondsKey(accounts, "refresh_margin_sec", cfg.RefreshMargin)
	cfg.DefaultCooldown = secondsKey(accounts, "default_cooldown_sec", cfg.DefaultCooldown)
	cfg.AcquireTimeout = secondsKey(accounts, "acquire_timeout_sec", cfg.AcquireTimeout)
	cfg.MaxAttempts = accounts.Key("max_attempts").MustInt(cfg.MaxAttempts)

	redis := file.Section("redis")
	cfg.RedisAddr = redis.Key("addr").MustString(cfg.RedisAddr)
	cfg.RedisPassword = redis.Key("password").MustString(cfg.RedisPassword)
	cfg.RedisDB = redis.Key("db").MustInt(cfg.RedisDB)

	ledger := file.Section("ledger")
	cfg.LedgerDriver = ledger.Key("driver").MustString(cfg.LedgerDriver)
	cfg.LedgerPath = ledger.Key("path").MustString(cfg.LedgerPath)
	cfg.LedgerDSN = ledger.Key("postgres_dsn").MustString(cfg.LedgerDSN)
	cfg.LedgerAsync = ledger.Key("async").MustBool(cfg.LedgerAsync)

	logging := file.Section("logging")
	cfg.LogFile = logging.Key("file").MustString(cfg.LogFile)
	return nil
}

func applyEnv(cfg *Config) {
	cfg.ListenAddr = firstNonEmpty(os.Getenv("COPILOT_API_LISTEN"), cfg.ListenAddr)
	cfg.BackendBaseURL = firstNonEmpty(os.Getenv("COPILOT_API_BACKEND_URL"), cfg.BackendBaseURL)
	cfg.AccountsFile = firstNonEmpty(os.Getenv("COPILOT_API_ACCOUNTS_FILE"), cfg.AccountsFile)
	cfg.AccountsDSN = firstNonEmpty(os.Getenv("COPILOT_API_ACCOUNTS_DSN"), cfg.AccountsDSN)
	cfg.GithubToken = firstNonEmpty(os.Getenv("COPILOT_API_GITHUB_TOKEN"), os.Getenv("GITHUB_TOKEN"), cfg.GithubToken)
	cfg.RedisAddr = firstNonEmpty(os.Getenv("COPILOT_API_REDIS_ADDR"), cfg.RedisAddr)
	cfg.RedisPassword = firstNonEmpty(os.Getenv("COPILOT_API_REDIS_PASSWORD"), cfg.RedisPassword)
	cfg.LedgerDriver = firstNonEmpty(os.Getenv("COPILOT_API_LEDGER_DRIVER"), cfg.LedgerDriver)
	cfg.LedgerPath = firstNonEmpty(os.Getenv("COPILOT_API_LEDGER_PATH"), cfg.LedgerPath)
	cfg.LedgerDSN = firstNonEmpty(os.Getenv("COPILOT_API_LEDGER_DSN"), cfg.LedgerDSN)
	cfg.LogFile = firstNonEmpty(os.Getenv("COPILOT_API_LOG_FILE"), cfg.LogFile)
	cfg.AdminEnabled = parseOptionalBool(os.Getenv("COPILOT_API_ADMIN_ENABLED"), cfg.AdminEnabled)
	cfg.RedisDB = parseOptionalInt(os.Getenv("COPILOT_API_REDIS_DB"), cfg.RedisDB)
	cfg.MaxAttempts = parseOptionalInt(os.Getenv("COPILOT_API_MAX_ATTEMPTS"), cfg.MaxAttempts)
	cfg.RateLimitRPS = parseOptionalFloat(os.Getenv("COPILOT_API_RATE_LIMIT_RPS"), cfg.RateLimitRPS)
}

func secondsKey(section *ini.Section, name string, fallback time.Duration) time.Duration {
	sec := section.Key(name).MustInt(int(fallback / time.Second))
	if sec <= 0 {
		return fallback
	}
	return time.Duration(sec) * time.Second
}

func parseOptionalBool(v string, fallback bool) bool {
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func parseOptionalInt(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func parseOptionalFloat(v string, fallback float64) float64 {
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// DefaultLedgerPath returns the per-user default SQLite path.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "copilot-api-usage.db"
	}
	return home + "/.copilot-api/usage.db"
}
