/*
config.go - Server configuration

PURPOSE:
  Builds the server Config from command-line flags, falling back to
  APPEALS_* environment variables, then to defaults. A flag given on the
  command line always wins over the environment.

FLAGS / ENVIRONMENT:
  -port              APPEALS_PORT              HTTP port (8080)
  -driver            APPEALS_DRIVER            sqlite | postgres | memory (sqlite)
  -db                APPEALS_DB_PATH           SQLite path (appeals.db)
  -postgres-dsn      APPEALS_POSTGRES_DSN      PostgreSQL DSN (required for postgres)
  -notify-mode       APPEALS_NOTIFY_MODE       emulate | provider (emulate)
  -provider-url      APPEALS_PROVIDER_URL      Provider endpoint (required for provider)
  -provider-api-key  APPEALS_PROVIDER_API_KEY  Provider bearer token
  -email-dir         APPEALS_EMAIL_DIR         Emulated email output directory
  -templates         APPEALS_TEMPLATES         Template catalogue override (YAML)
  -dedup-ttl         APPEALS_DEDUP_TTL         Notification suppression window (2s)
  -sweep-interval    APPEALS_SWEEP_INTERVAL    Cache sweep interval (1m)
  -log-level         APPEALS_LOG_LEVEL         debug | info | warn | error (info)
  -log-format        APPEALS_LOG_FORMAT        text | json (text)
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	NotifyEmulate  = "emulate"
	NotifyProvider = "provider"
)

type Config struct {
	Port int

	// Store
	Driver      string
	DBPath      string
	PostgresDSN string

	// Notifications
	NotifyMode     string
	ProviderURL    string
	ProviderAPIKey string
	EmailDir       string
	TemplatesPath  string
	DedupTTL       time.Duration
	SweepInterval  time.Duration

	// Logging
	LogLevel  slog.Level
	LogFormat string
}

// Load parses args (without the program name). getenv is usually os.Getenv.
func Load(args []string, getenv func(string) string) (Config, error) {
	env := func(key, def string) string {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return def
		}
		return v
	}

	envPort, err := envInt(getenv, "APPEALS_PORT", 8080)
	if err != nil {
		return Config{}, err
	}
	envTTL, err := envDuration(getenv, "APPEALS_DEDUP_TTL", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	envSweep, err := envDuration(getenv, "APPEALS_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return Config{}, err
	}

	var (
		cfg      Config
		logLevel string
	)
	fs := flag.NewFlagSet("appeals-server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&cfg.Port, "port", envPort, "HTTP server port")
	fs.StringVar(&cfg.Driver, "driver", env("APPEALS_DRIVER", DriverSQLite), "store driver: sqlite, postgres or memory")
	fs.StringVar(&cfg.DBPath, "db", env("APPEALS_DB_PATH", "appeals.db"), "SQLite database path (\":memory:\" for in-memory)")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", env("APPEALS_POSTGRES_DSN", ""), "PostgreSQL connection string")
	fs.StringVar(&cfg.NotifyMode, "notify-mode", env("APPEALS_NOTIFY_MODE", NotifyEmulate), "notification channel: emulate or provider")
	fs.StringVar(&cfg.ProviderURL, "provider-url", env("APPEALS_PROVIDER_URL", ""), "notification provider endpoint")
	fs.StringVar(&cfg.ProviderAPIKey, "provider-api-key", env("APPEALS_PROVIDER_API_KEY", ""), "notification provider API key")
	fs.StringVar(&cfg.EmailDir, "email-dir", env("APPEALS_EMAIL_DIR", ""), "directory for emulated emails (log only when empty)")
	fs.StringVar(&cfg.TemplatesPath, "templates", env("APPEALS_TEMPLATES", ""), "notification template catalogue (YAML)")
	fs.DurationVar(&cfg.DedupTTL, "dedup-ttl", envTTL, "duplicate notification suppression window")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", envSweep, "notification cache sweep interval")
	fs.StringVar(&logLevel, "log-level", env("APPEALS_LOG_LEVEL", "info"), "log level: debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", env("APPEALS_LOG_FORMAT", "text"), "log format: text or json")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
		return Config{}, fmt.Errorf("invalid log level %q", logLevel)
	}
	cfg.Driver = strings.ToLower(cfg.Driver)
	cfg.NotifyMode = strings.ToLower(cfg.NotifyMode)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	switch c.Driver {
	case DriverSQLite:
		if c.DBPath == "" {
			return errors.New("sqlite driver requires a database path")
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return errors.New("postgres driver requires -postgres-dsn")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Driver)
	}

	switch c.NotifyMode {
	case NotifyEmulate:
	case NotifyProvider:
		if c.ProviderURL == "" {
			return errors.New("provider notify mode requires -provider-url")
		}
	default:
		return fmt.Errorf("unknown notify mode %q", c.NotifyMode)
	}

	if c.DedupTTL <= 0 {
		return fmt.Errorf("dedup TTL must be positive, got %s", c.DedupTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", c.SweepInterval)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// NewLogger builds the process logger from the logging settings.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func envInt(getenv func(string) string, key string, def int) (int, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
