// Command planner runs the vacation planner API and its background plan
// workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/MrGSommer/vacation-planner-sub001/internal/auth"
	"github.com/MrGSommer/vacation-planner-sub001/internal/config"
	apihttp "github.com/MrGSommer/vacation-planner-sub001/internal/http"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.New()}
	root := &cobra.Command{
		Use:           "planner",
		Short:         "Conversational vacation planner backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.v, c.cfgFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "path to a YAML config file")
	root.AddCommand(c.serveCmd(), c.workerCmd(), c.migrateCmd(), c.tokenCmd())
	return root
}

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API; also runs plan workers unless jobs.workers is 0",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
	cmd.Flags().String("addr", "", "listen address (host:port)")
	_ = c.v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	a, err := newApp(c.cfg)
	if err != nil {
		return err
	}
	defer a.close()

	authn, login, err := a.authenticators(ctx)
	if err != nil {
		return fmt.Errorf("configure authentication: %w", err)
	}

	rateCfg := apihttp.RateLimitConfig{RequestsPerSecond: c.cfg.RateLimit.RPS, Burst: c.cfg.RateLimit.Burst}
	if rateCfg.Enabled() {
		a.logger.Info("rate limiting configured", "requests_per_second", rateCfg.RequestsPerSecond, "burst", rateCfg.Burst)
	} else {
		a.logger.Info("rate limiting disabled")
	}

	api := apihttp.NewServer(apihttp.Deps{
		Engine:    a.engine,
		Jobs:      a.jobs,
		Ledger:    a.ledger,
		Store:     a.store,
		Auth:      authn,
		Login:     login,
		Metrics:   a.metrics,
		Logger:    a.logger,
		RateLimit: rateCfg,
	})
	api.RegisterRoutes()

	server := &http.Server{
		Addr:              c.cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Synchronous generation holds the request for a whole model call.
		WriteTimeout: c.cfg.LLM.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("planner listening", "addr", c.cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server", "timeout", "15s")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", "error", err)
			return err
		}
		a.logger.Info("server stopped gracefully")
		return nil
	})
	if c.cfg.Jobs.Workers > 0 {
		g.Go(func() error { return a.pool.Run(gctx) })
	} else {
		a.logger.Info("embedded job workers disabled; run `planner worker` separately")
	}
	return g.Wait()
}

func (c *cli) workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run plan workers without the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if c.cfg.Jobs.Workers <= 0 {
				return errors.New("jobs.workers must be positive for the worker command")
			}
			a, err := newApp(c.cfg)
			if err != nil {
				return err
			}
			defer a.close()
			return a.pool.Run(ctx)
		},
	}
	cmd.Flags().Int("workers", 0, "number of concurrent plan workers")
	_ = c.v.BindPFlag("jobs.workers", cmd.Flags().Lookup("workers"))
	return cmd
}

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				// Opening the store applies migrations.
				st, _ := selectStore(c.cfg.Store, newLogger(c.cfg))
				if err := st.Close(); err != nil {
					return err
				}
				return c.printStatus(cmd)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the applied schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.printStatus(cmd)
			},
		},
	)
	return cmd
}

func (c *cli) printStatus(cmd *cobra.Command) error {
	status := migrationStatus(c.cfg.Store)
	if status == "" {
		status = "migrations status not available in this build"
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), status)
	return err
}

func (c *cli) tokenCmd() *cobra.Command {
	var (
		id  auth.Identity
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an HMAC bearer token for local development",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id.UserID == "" {
				return errors.New("--user is required")
			}
			issuer, err := auth.NewHMAC(c.cfg.Auth.JWTSecret, c.cfg.Auth.JWTIssuer)
			if err != nil {
				return fmt.Errorf("auth.jwt_secret: %w", err)
			}
			token, err := issuer.Issue(id, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&id.UserID, "user", "", "user ID to put in the subject claim")
	cmd.Flags().StringVar(&id.Email, "email", "", "optional email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
