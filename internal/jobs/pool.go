package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrGSommer/vacation-planner-sub001/internal/observability"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
)

// PoolConfig tunes the worker pool.
type PoolConfig struct {
	Workers      int
	PollInterval time.Duration
	// StaleAfter is how long a running job may go without progress before
	// it is assumed orphaned by a crashed worker and requeued.
	StaleAfter time.Duration
}

// DefaultPoolConfig returns the standard pool settings.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:      2,
		PollInterval: 2 * time.Second,
		StaleAfter:   10 * time.Minute,
	}
}

// Pool polls the job store and runs claimed jobs.
type Pool struct {
	store  storage.JobStore
	runner *Runner
	cfg    PoolConfig
	now    func() time.Time
	log    observability.Logger
}

// NewPool returns a Pool. Zero config fields take their defaults.
func NewPool(store storage.JobStore, runner *Runner, cfg PoolConfig, log observability.Logger) *Pool {
	def := DefaultPoolConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if log == nil {
		log = observability.NopLogger()
	}
	return &Pool{store: store, runner: runner, cfg: cfg, now: time.Now, log: log.WithComponent("jobs")}
}

// RunOnce claims and runs at most one job. It reports whether a job was found.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	job, err := p.store.ClaimNextJob(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return true, p.runner.Run(ctx, job)
}

// Requeue returns orphaned running jobs to the queue.
func (p *Pool) Requeue(ctx context.Context) (int, error) {
	n, err := p.store.RequeueStaleJobs(ctx, p.now().Add(-p.cfg.StaleAfter))
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	if n > 0 {
		p.log.WarnContext(ctx, "requeued stale jobs", "count", n)
	}
	return n, nil
}

// Run starts the workers and blocks until ctx is cancelled. Jobs in flight
// finish under their own timeout.
func (p *Pool) Run(ctx context.Context) error {
	if _, err := p.Requeue(ctx); err != nil {
		p.log.ErrorContext(ctx, "startup requeue failed", "error", err)
	}
	p.log.InfoContext(ctx, "job workers started", "workers", p.cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			p.work(gctx, worker)
			return nil
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(p.cfg.StaleAfter / 2)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := p.Requeue(gctx); err != nil && gctx.Err() == nil {
					p.log.ErrorContext(gctx, "requeue failed", "error", err)
				}
			}
		}
	})
	err := g.Wait()
	p.log.InfoContext(ctx, "job workers stopped")
	return err
}

func (p *Pool) work(ctx context.Context, worker int) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		// Drain the queue before sleeping.
		for {
			found, err := p.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				p.log.ErrorContext(ctx, "job run failed", "worker", worker, "error", err)
			}
			if !found || ctx.Err() != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
