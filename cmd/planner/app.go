package main

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"

	"github.com/MrGSommer/vacation-planner-sub001/internal/audit"
	"github.com/MrGSommer/vacation-planner-sub001/internal/auth"
	"github.com/MrGSommer/vacation-planner-sub001/internal/auth/oidc"
	"github.com/MrGSommer/vacation-planner-sub001/internal/config"
	"github.com/MrGSommer/vacation-planner-sub001/internal/credits"
	"github.com/MrGSommer/vacation-planner-sub001/internal/jobs"
	"github.com/MrGSommer/vacation-planner-sub001/internal/llm"
	"github.com/MrGSommer/vacation-planner-sub001/internal/lock"
	"github.com/MrGSommer/vacation-planner-sub001/internal/observability"
	"github.com/MrGSommer/vacation-planner-sub001/internal/planning"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
)

// app holds the wired planner. Both serve and worker build one.
type app struct {
	cfg     *config.Config
	logger  observability.Logger
	metrics *observability.Metrics
	store   storage.Store
	audit   audit.AuditLogger
	ledger  *credits.Ledger
	engine  *planning.Engine
	jobs    *jobs.Service
	pool    *jobs.Pool
	redis   *redis.Client
	sentry  bool
}

func newLogger(cfg *config.Config) observability.Logger {
	logCfg := observability.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = cfg.Log.Format
	return observability.NewLogger(logCfg)
}

func initSentry(cfg config.SentryConfig, logger observability.Logger) bool {
	if cfg.DSN == "" {
		return false
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		TracesSampleRate: 1.0,
		AttachStacktrace: true,
	})
	if err != nil {
		logger.Warn("sentry initialization failed", "error", err)
		return false
	}
	logger.Info("sentry initialized", "environment", cfg.Environment, "release", cfg.Release)
	return true
}

func newApp(cfg *config.Config) (*app, error) {
	logger := newLogger(cfg)
	a := &app{cfg: cfg, logger: logger}
	a.sentry = initSentry(cfg.Sentry, logger)

	if cfg.Metrics.Enabled {
		mcfg := observability.DefaultMetricsConfig()
		mcfg.Version = cfg.Sentry.Release
		a.metrics = observability.NewMetrics(mcfg)
		logger.Info("metrics enabled", "namespace", mcfg.Namespace, "version", mcfg.Version)
	} else {
		logger.Info("metrics disabled")
	}

	a.store, a.audit = selectStore(cfg.Store, logger)

	policy, err := credits.LoadPolicy(cfg.Credits.PolicyFile)
	if err != nil {
		a.close()
		return nil, err
	}
	if cfg.Credits.PolicyFile == "" {
		policy.InitialBalance = cfg.Credits.InitialBalance
		policy.MonthlyQuota = cfg.Credits.MonthlyQuota
	}
	a.ledger = credits.NewLedger(a.store, policy,
		credits.WithAudit(a.audit),
		credits.WithMetrics(a.metrics),
		credits.WithLogger(logger),
	)

	var locker lock.Locker = lock.NewMemory()
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := a.redis.Ping(ctx).Err()
		cancel()
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		locker = lock.NewRedis(a.redis, cfg.Redis.LockTTL, logger)
		logger.Info("using redis turn lock", "addr", cfg.Redis.Addr)
	} else {
		logger.Info("using in-process turn lock")
	}

	provider := llm.New(llm.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Endpoint:    cfg.LLM.Endpoint,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	})
	if provider.Available() {
		logger.Info("language model configured", "provider", provider.Name(), "model", cfg.LLM.Model)
	} else {
		logger.Warn("language model not configured (set PLANNER_LLM_API_KEY)")
	}

	genCfg := planning.DefaultGeneratorConfig()
	if cfg.LLM.Timeout > 0 {
		genCfg.Timeout = cfg.LLM.Timeout
	}
	gen := planning.NewGenerator(provider, genCfg, a.metrics, logger)
	a.engine = planning.NewEngine(a.store, gen, a.ledger, locker, planning.EngineConfig{
		TokenWarningChars: cfg.Engine.TokenWarningChars,
		ConflictDayWindow: cfg.Conflicts.DayWindow,
	}, planning.WithLogger(logger), planning.WithMetrics(a.metrics))

	runner := jobs.NewRunner(a.store, gen, a.engine.Applier(), a.engine.Resolver(), a.ledger,
		jobs.WithTimeout(cfg.Jobs.Timeout),
		jobs.WithFinish(a.engine.SyncJob),
		jobs.WithMetrics(a.metrics),
		jobs.WithLogger(logger),
	)
	a.pool = jobs.NewPool(a.store, runner, jobs.PoolConfig{
		Workers:      cfg.Jobs.Workers,
		PollInterval: cfg.Jobs.PollInterval,
		StaleAfter:   cfg.Jobs.StaleAfter,
	}, logger)
	a.jobs = jobs.NewService(a.store, cfg.Jobs.RecentWindow)
	return a, nil
}

// authenticators returns the bearer-token verifier and, for OIDC with a
// redirect URL, the login flow.
func (a *app) authenticators(ctx context.Context) (auth.Authenticator, *oidc.Provider, error) {
	c := a.cfg.Auth
	switch {
	case c.OIDCIssuer != "":
		p, err := oidc.NewProvider(ctx, oidc.ProviderConfig{
			IssuerURL:    c.OIDCIssuer,
			ClientID:     c.OIDCClientID,
			ClientSecret: c.OIDCClientSecret,
			RedirectURL:  c.OIDCRedirectURL,
		})
		if err != nil {
			return nil, nil, err
		}
		a.logger.Info("oidc authentication enabled", "issuer", c.OIDCIssuer, "login", p.CanLogin())
		return p, p, nil
	case c.JWTSecret != "":
		h, err := auth.NewHMAC(c.JWTSecret, c.JWTIssuer)
		if err != nil {
			return nil, nil, err
		}
		a.logger.Info("hmac token authentication enabled", "issuer", c.JWTIssuer)
		return h, nil, nil
	default:
		a.logger.Warn("no authentication configured; API requests will be rejected (set PLANNER_AUTH_JWT_SECRET or PLANNER_AUTH_OIDC_ISSUER)")
		return nil, nil, nil
	}
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("error closing redis", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("error closing store", "error", err)
		} else {
			a.logger.Info("database connection closed")
		}
	}
	if a.sentry {
		a.logger.Info("flushing sentry events", "deadline", "2s")
		sentry.Flush(2 * time.Second)
	}
}
