package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/scribe-rabbit/scribe-orchestrator/config"
	"github.com/scribe-rabbit/scribe-orchestrator/entity"
	"github.com/scribe-rabbit/scribe-orchestrator/infra"
	"github.com/scribe-rabbit/scribe-orchestrator/repository"
	"gorm.io/datatypes"
)

// executor carries the lease protocol shared by the transcription and
// enhance consumers: heartbeat renewal, progress checkpoints with
// cooperative cancellation, and the terminal transitions.
type executor struct {
	cfg    *config.EnvConfig
	owner  string
	store  Store
	jobs   JobPublisher
	notify WebhookPublisher
	logger *infra.LoggerClient
	obs    *infra.ObservabilityClient
}

func newExecutor(cfg *config.Config, infraClient *infra.Infra, repo *repository.Repository, owner string) executor {
	return executor{
		cfg:    cfg.EnvConfig,
		owner:  owner,
		store:  repo.JobRepo,
		jobs:   infraClient.Produce.JobService,
		notify: infraClient.Produce.NotifyService,
		logger: infraClient.Logger,
		obs:    infraClient.Observability,
	}
}

// jobRun is the per-job state shared between the heartbeat goroutine,
// the progress callback and the main execution path.
type jobRun struct {
	cancel    context.CancelFunc
	leaseLost atomic.Bool
	cancelled atomic.Bool
}

// startHeartbeat renews the lease until ctx ends. Losing the lease
// cancels the job context; the stale worker must not write anything
// after that.
func (e *executor) startHeartbeat(ctx context.Context, run *jobRun, job *entity.Job) {
	go func() {
		ticker := time.NewTicker(e.cfg.Jobs.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := e.store.RenewLease(job.ID, e.owner, e.cfg.Jobs.LeaseDuration)
				if err == nil {
					continue
				}
				if errors.Is(err, repository.ErrLeaseLost) {
					e.logger.WarningWithContextf(ctx, "[Worker] Lease lost for job %s, abandoning", job.ID)
					run.leaseLost.Store(true)
					run.cancel()
					return
				}
				e.logger.WarningWithContextf(ctx, "[Worker] Lease renewal failed for job %s: %v", job.ID, err)
			}
		}
	}()
}

// checkpoint persists progress and observes cooperative cancellation.
func (e *executor) checkpoint(ctx context.Context, run *jobRun, job *entity.Job, progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	cancelRequested, err := e.store.UpdateProgress(job.ID, e.owner, progress)
	if err != nil {
		if errors.Is(err, repository.ErrLeaseLost) {
			run.leaseLost.Store(true)
			run.cancel()
			return
		}
		e.logger.WarningWithContextf(ctx, "[Worker] Progress update failed for job %s: %v", job.ID, err)
		return
	}
	if cancelRequested {
		run.cancelled.Store(true)
		run.cancel()
	}
}

func (e *executor) finishSuccess(ctx context.Context, job *entity.Job, result datatypes.JSON) {
	if err := e.store.Complete(job.ID, e.owner, result); err != nil {
		if errors.Is(err, repository.ErrLeaseLost) {
			e.logger.WarningWithContextf(ctx, "[Worker] Discarding result of job %s, lease lost", job.ID)
			return
		}
		e.logger.ErrorWithContextf(ctx, err, "[Worker] Failed to complete job %s", job.ID)
		return
	}

	e.obs.JobsCompleted.Add(ctx, 1)
	e.logger.InfoWithContextf(ctx, "[Worker] Job %s completed", job.ID)
	e.publishWebhook(ctx, job, entity.JobStatusCompleted)
}

// finishFailure records the failure, then either takes the retry edge
// (transient failure, budget remaining) or leaves the job in terminal
// failed and notifies.
func (e *executor) finishFailure(ctx context.Context, job *entity.Job, procErr error) {
	if err := e.store.Fail(job.ID, e.owner, procErr.Error()); err != nil {
		if errors.Is(err, repository.ErrLeaseLost) {
			e.logger.WarningWithContextf(ctx, "[Worker] Discarding failure of job %s, lease lost", job.ID)
			return
		}
		e.logger.ErrorWithContextf(ctx, err, "[Worker] Failed to record failure of job %s", job.ID)
		return
	}

	if infra.IsTransient(procErr) && job.RetryCount < job.MaxRetries {
		if err := e.store.MarkRetry(job.ID); err == nil {
			attempt := job.RetryCount + 1
			delay := RetryDelay(attempt, e.cfg.Jobs.RetryBackoffBase, e.cfg.Jobs.RetryBackoffCap)
			e.logger.InfoWithContextf(ctx, "[Worker] Retrying job %s (attempt %d) in %s: %v", job.ID, attempt, delay, procErr)

			if err := e.jobs.PublishRetry(ctx, string(job.Kind), job.ID.String(), attempt, delay); err != nil {
				// The row is pending with no queue reference; the sweep
				// re-enqueues it.
				e.logger.ErrorWithContextf(ctx, err, "[Worker] Failed to publish retry for job %s, sweep will recover", job.ID)
			} else if err := e.store.MarkEnqueued(job.ID); err != nil {
				e.logger.WarningWithContextf(ctx, "[Worker] Failed to stamp enqueue time for %s: %v", job.ID, err)
			}

			e.obs.JobsRetried.Add(ctx, 1)
			return
		}
		// Retry transition rejected (budget raced out); fall through to
		// terminal failure handling.
	}

	e.obs.JobsFailed.Add(ctx, 1)
	e.logger.WarningWithContextf(ctx, "[Worker] Job %s failed permanently: %v", job.ID, procErr)
	e.publishWebhook(ctx, job, entity.JobStatusFailed)
}

func (e *executor) finishCancelled(ctx context.Context, job *entity.Job) {
	if err := e.store.CancelProcessing(job.ID, e.owner); err != nil {
		if errors.Is(err, repository.ErrLeaseLost) {
			return
		}
		e.logger.ErrorWithContextf(ctx, err, "[Worker] Failed to cancel job %s", job.ID)
		return
	}
	e.obs.JobsCancelled.Add(ctx, 1)
	e.logger.InfoWithContextf(ctx, "[Worker] Job %s cancelled at checkpoint", job.ID)
}

func (e *executor) publishWebhook(ctx context.Context, job *entity.Job, status entity.JobStatus) {
	if err := e.notify.PublishWebhookEvent(ctx, job.ID.String(), string(status)); err != nil {
		// Webhook delivery never gates job correctness.
		e.logger.ErrorWithContextf(ctx, err, "[Worker] Failed to enqueue webhook for job %s", job.ID)
	}
}
