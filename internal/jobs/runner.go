package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/MrGSommer/vacation-planner-sub001/internal/audit"
	"github.com/MrGSommer/vacation-planner-sub001/internal/credits"
	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/observability"
	"github.com/MrGSommer/vacation-planner-sub001/internal/planning"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
)

// DefaultJobTimeout bounds one job run, including every model call.
const DefaultJobTimeout = 5 * time.Minute

// FinishFunc is called with the final job state after a run.
type FinishFunc func(ctx context.Context, job domain.PlanJob) error

// Runner executes a single claimed job.
type Runner struct {
	store    storage.JobStore
	gen      *planning.Generator
	applier  *planning.Applier
	resolver *planning.Resolver
	ledger   *credits.Ledger
	timeout  time.Duration
	finish   FinishFunc
	metrics  *observability.Metrics
	log      observability.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTimeout overrides DefaultJobTimeout.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithFinish registers fn to fold finished jobs into their conversations.
func WithFinish(fn FinishFunc) RunnerOption { return func(r *Runner) { r.finish = fn } }

// WithMetrics records job outcomes.
func WithMetrics(m *observability.Metrics) RunnerOption { return func(r *Runner) { r.metrics = m } }

// WithLogger sets the logger.
func WithLogger(log observability.Logger) RunnerOption {
	return func(r *Runner) { r.log = log.WithComponent("jobs") }
}

// NewRunner returns a Runner. applier and resolver are normally shared with
// the conversation engine.
func NewRunner(store storage.JobStore, gen *planning.Generator, applier *planning.Applier, resolver *planning.Resolver, ledger *credits.Ledger, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:    store,
		gen:      gen,
		applier:  applier,
		resolver: resolver,
		ledger:   ledger,
		timeout:  DefaultJobTimeout,
		log:      observability.NopLogger().WithComponent("jobs"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// progress tracks which trip a run writes to and whether it has started
// writing.
type progress struct {
	tripID   string
	applying bool
}

// Run generates and applies the plan for job, which must already be
// running. The outcome is recorded in the store; the returned error only
// reports store failures while recording it.
func (r *Runner) Run(ctx context.Context, job domain.PlanJob) error {
	// The job outlives whoever claimed it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	log := r.log.With("job_id", job.ID, "user_id", job.UserID, "mode", job.Mode)
	started := time.Now()
	log.InfoContext(ctx, "job started")

	var p progress
	result, err := r.execute(ctx, job, &p)
	if err != nil {
		return r.fail(ctx, log, job, err, p, started)
	}

	ok, err := r.store.CompleteJob(ctx, job.ID, result)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if !ok {
		log.WarnContext(ctx, "job no longer running, result dropped")
		return nil
	}
	r.metrics.RecordJob(string(domain.JobStatusDone), time.Since(started))
	log.InfoContext(ctx, "job done",
		"trip_id", result.TripID,
		"days_created", result.DaysCreated,
		"activities_created", result.ActivitiesCreated,
		"duration", time.Since(started))
	r.notify(ctx, log, job.ID)
	return nil
}

func (r *Runner) execute(ctx context.Context, job domain.PlanJob, p *progress) (domain.ExecutionResult, error) {
	in := planning.GenerationInput{
		Mode:       job.Mode,
		Context:    job.Snapshot.Context,
		Transcript: job.Snapshot.Transcript,
		Structure:  job.Snapshot.Structure,
	}

	if in.Structure == nil {
		s, err := r.gen.GenerateStructure(ctx, in)
		if err != nil {
			return domain.ExecutionResult{}, err
		}
		in.Structure = s
	}
	if err := r.advance(ctx, job.ID, domain.StepTrip); err != nil {
		return domain.ExecutionResult{}, err
	}

	tripID := job.TripID
	if job.Mode == domain.ModeCreate {
		// A retry continues the trip an earlier attempt started. Otherwise the
		// job ID doubles as trip ID so a requeued job reuses its trip.
		id := job.Snapshot.TripID
		if id == "" {
			id = job.ID
		}
		trip, err := r.applier.EnsureTrip(ctx, planning.NewTrip(id, job.UserID, &domain.Plan{}, in.Context))
		if err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("create trip: %w", err)
		}
		tripID = trip.ID
		p.tripID = tripID
	} else {
		_, summary, err := r.applier.Summarize(ctx, tripID)
		if err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("summarize trip: %w", err)
		}
		in.Context.ExistingSummary = summary
	}

	plan, err := r.gen.GeneratePlan(ctx, in)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	var skip domain.ConflictSet
	if job.Mode == domain.ModeEnhance {
		skip, err = r.resolver.Detect(ctx, tripID, plan)
		if err != nil {
			return domain.ExecutionResult{}, err
		}
	}
	p.applying = true
	return r.applier.ApplyObserved(ctx, tripID, plan, skip, func(step domain.ProgressStep) {
		if err := r.advance(ctx, job.ID, step); err != nil {
			r.log.WarnContext(ctx, "progress update failed", "job_id", job.ID, "step", step, "error", err)
		}
	})
}

func (r *Runner) advance(ctx context.Context, id string, step domain.ProgressStep) error {
	if _, err := r.store.UpdateJobProgress(ctx, id, step); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func (r *Runner) fail(ctx context.Context, log observability.Logger, job domain.PlanJob, cause error, p progress, started time.Time) error {
	class := domain.Classify(cause)
	log.ErrorContext(ctx, "job failed", "error", cause, "error_class", class)
	if class == domain.ErrorClassInternal {
		sentry.CaptureException(cause)
	}

	ok, err := r.store.FailJob(ctx, job.ID, cause.Error(), class, failedResult(cause, p))
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if !ok {
		return nil
	}
	r.metrics.RecordJob(string(domain.JobStatusError), time.Since(started))

	// Nothing was written to the itinerary, so the charge goes back.
	if !p.applying && job.Snapshot.CreditsCharged > 0 && r.ledger != nil {
		receipt := credits.Receipt{UserID: job.UserID, Operation: domain.OpPlan, Amount: job.Snapshot.CreditsCharged}
		if _, err := r.ledger.Refund(ctx, receipt, credits.Ref{ResourceType: audit.ResourceJob, ResourceID: job.ID}); err != nil {
			log.ErrorContext(ctx, "job refund failed", "amount", receipt.Amount, "error", err)
		}
	}
	r.notify(ctx, log, job.ID)
	return nil
}

// failedResult is what a failed run leaves behind: the counts of a partial
// application, or the empty trip a create-mode run made before failing.
func failedResult(cause error, p progress) *domain.ExecutionResult {
	var partial *domain.PartialApplicationError
	if errors.As(cause, &partial) {
		res := partial.Result
		return &res
	}
	if p.tripID != "" {
		return &domain.ExecutionResult{TripID: p.tripID}
	}
	return nil
}

// notify hands the final job state to the finish hook.
func (r *Runner) notify(ctx context.Context, log observability.Logger, id string) {
	if r.finish == nil {
		return
	}
	job, err := r.store.GetJob(ctx, id)
	if err != nil {
		log.WarnContext(ctx, "reload finished job", "error", err)
		return
	}
	if err := r.finish(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
		log.WarnContext(ctx, "sync conversation", "error", err)
	}
}
