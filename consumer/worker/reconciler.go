package worker

import (
	"context"
	"time"

	"github.com/scribe-rabbit/scribe-orchestrator/config"
	"github.com/scribe-rabbit/scribe-orchestrator/infra"
)

const reconcilerBatchSize = 100

// Reconciler re-enqueues pending jobs whose queue reference was lost,
// either because the intake publish failed after the row was written or
// because a broker hiccup dropped the message.
type Reconciler struct {
	cfg    *config.EnvConfig
	store  Store
	jobs   JobPublisher
	logger *infra.LoggerClient
}

func NewReconciler(cfg *config.EnvConfig, store Store, jobs JobPublisher, logger *infra.LoggerClient) *Reconciler {
	return &Reconciler{
		cfg:    cfg,
		store:  store,
		jobs:   jobs,
		logger: logger,
	}
}

// Start sweeps at the configured interval until ctx ends.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Jobs.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass, oldest jobs first. A second reference for a job
// that was delivered after all is harmless; the claim rejects the
// duplicate.
func (r *Reconciler) Sweep(ctx context.Context) {
	jobs, err := r.store.FindUndispatched(r.cfg.Jobs.SweepGracePeriod, r.cfg.Jobs.SweepGracePeriod, reconcilerBatchSize)
	if err != nil {
		r.logger.ErrorWithContextf(ctx, err, "[Reconciler] Sweep query failed")
		return
	}

	for i := range jobs {
		job := &jobs[i]
		if err := r.jobs.PublishJob(ctx, string(job.Kind), job.ID.String(), job.RetryCount); err != nil {
			r.logger.ErrorWithContextf(ctx, err, "[Reconciler] Failed to re-enqueue job %s", job.ID)
			continue
		}
		if err := r.store.MarkEnqueued(job.ID); err != nil {
			r.logger.WarningWithContextf(ctx, "[Reconciler] Failed to stamp enqueue time for %s: %v", job.ID, err)
			continue
		}
		r.logger.InfoWithContextf(ctx, "[Reconciler] Re-enqueued job %s", job.ID)
	}
}
