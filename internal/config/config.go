// Package config loads planner settings from an optional .env file, an
// optional YAML config file and PLANNER_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. PLANNER_ADDR
// or PLANNER_LLM_API_KEY for llm.api_key.
const EnvPrefix = "PLANNER"

type Config struct {
	Addr      string          `mapstructure:"addr"`
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Credits   CreditsConfig   `mapstructure:"credits"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Conflicts ConflictsConfig `mapstructure:"conflicts"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig selects the backend. Which one is used depends on build tags;
// see cmd/planner.
type StoreConfig struct {
	SQLiteDSN   string `mapstructure:"sqlite_dsn"`
	DatabaseURL string `mapstructure:"database_url"`
}

// RedisConfig enables the shared turn lock when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Endpoint    string        `mapstructure:"endpoint"`
	MaxTokens   int64         `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type CreditsConfig struct {
	PolicyFile     string `mapstructure:"policy_file"`
	InitialBalance int    `mapstructure:"initial_balance"`
	MonthlyQuota   int    `mapstructure:"monthly_quota"`
}

type EngineConfig struct {
	TokenWarningChars int `mapstructure:"token_warning_chars"`
}

type ConflictsConfig struct {
	DayWindow int `mapstructure:"day_window"`
}

type JobsConfig struct {
	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	RecentWindow time.Duration `mapstructure:"recent_window"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// AuthConfig chooses the identity provider: OIDC when OIDCIssuer is set,
// otherwise HMAC tokens signed with JWTSecret.
type AuthConfig struct {
	JWTSecret        string `mapstructure:"jwt_secret"`
	JWTIssuer        string `mapstructure:"jwt_issuer"`
	OIDCIssuer       string `mapstructure:"oidc_issuer"`
	OIDCClientID     string `mapstructure:"oidc_client_id"`
	OIDCClientSecret string `mapstructure:"oidc_client_secret"`
	OIDCRedirectURL  string `mapstructure:"oidc_redirect_url"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
	Release     string `mapstructure:"release"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

var defaults = map[string]any{
	"addr":                       ":8080",
	"log.level":                  "info",
	"log.format":                 "json",
	"store.sqlite_dsn":           "file:planner.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
	"store.database_url":         "",
	"redis.addr":                 "",
	"redis.password":             "",
	"redis.db":                   0,
	"redis.lock_ttl":             "3m",
	"llm.provider":               "openai",
	"llm.api_key":                "",
	"llm.model":                  "gpt-4o",
	"llm.endpoint":               "",
	"llm.max_tokens":             4096,
	"llm.temperature":            0.7,
	"llm.timeout":                "90s",
	"credits.policy_file":        "",
	"credits.initial_balance":    20,
	"credits.monthly_quota":      20,
	"engine.token_warning_chars": 60000,
	"conflicts.day_window":       1,
	"jobs.workers":               2,
	"jobs.poll_interval":         "2s",
	"jobs.recent_window":         "24h",
	"jobs.stale_after":           "10m",
	"jobs.timeout":               "5m",
	"auth.jwt_secret":            "",
	"auth.jwt_issuer":            "planner",
	"auth.oidc_issuer":           "",
	"auth.oidc_client_id":        "",
	"auth.oidc_client_secret":    "",
	"auth.oidc_redirect_url":     "",
	"rate_limit.rps":             100.0 / 60.0,
	"rate_limit.burst":           20,
	"sentry.dsn":                 "",
	"sentry.environment":         "production",
	"sentry.release":             "dev",
	"metrics.enabled":            true,
}

// New returns a viper instance with defaults and environment binding. The
// CLI binds its flags onto it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads .env (if present) and the config file at path (if non-empty)
// into v, then decodes and validates the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the planner cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.Credits.InitialBalance < 0 || c.Credits.MonthlyQuota < 0 {
		errs = append(errs, errors.New("credit balances must not be negative"))
	}
	if c.Jobs.Workers < 0 {
		errs = append(errs, errors.New("jobs.workers must not be negative"))
	}
	// A turn holds the lock for a whole model call.
	if c.Redis.Addr != "" && c.Redis.LockTTL <= c.LLM.Timeout {
		errs = append(errs, fmt.Errorf("redis.lock_ttl (%s) must exceed llm.timeout (%s)", c.Redis.LockTTL, c.LLM.Timeout))
	}
	// A job may go without progress for its whole timeout; requeueing it
	// earlier would run it twice.
	if c.Jobs.Timeout > 0 && c.Jobs.StaleAfter > 0 && c.Jobs.StaleAfter <= c.Jobs.Timeout {
		errs = append(errs, fmt.Errorf("jobs.stale_after (%s) must exceed jobs.timeout (%s)", c.Jobs.StaleAfter, c.Jobs.Timeout))
	}
	if c.Conflicts.DayWindow < 0 {
		errs = append(errs, errors.New("conflicts.day_window must not be negative"))
	}
	if c.Auth.OIDCIssuer != "" && c.Auth.OIDCClientID == "" {
		errs = append(errs, errors.New("auth.oidc_client_id is required with auth.oidc_issuer"))
	}
	if c.Auth.OIDCIssuer == "" && c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 bytes"))
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider))
	}
	return errors.Join(errs...)
}
