package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/scribe-rabbit/scribe-orchestrator/entity"
	"gorm.io/datatypes"
)

// Store is the slice of the job repository the workers depend on. The
// job store arbitrates every concurrent write; workers never coordinate
// with each other directly.
type Store interface {
	FindByID(id uuid.UUID) (*entity.Job, error)
	Claim(id uuid.UUID, owner string, lease time.Duration) (*entity.Job, error)
	RenewLease(id uuid.UUID, owner string, lease time.Duration) error
	UpdateProgress(id uuid.UUID, owner string, progress int) (bool, error)
	Complete(id uuid.UUID, owner string, result datatypes.JSON) error
	Fail(id uuid.UUID, owner string, message string) error
	MarkRetry(id uuid.UUID) error
	CancelProcessing(id uuid.UUID, owner string) error
	MarkEnqueued(id uuid.UUID) error
	FindUndispatched(grace, redispatchAfter time.Duration, limit int) ([]entity.Job, error)
}

// JobPublisher re-enqueues job references (dispatch and delayed retry).
type JobPublisher interface {
	PublishJob(ctx context.Context, kind, jobID string, attempt int) error
	PublishRetry(ctx context.Context, kind, jobID string, attempt int, delay time.Duration) error
}

// WebhookPublisher hands terminal events to the notification dispatcher.
type WebhookPublisher interface {
	PublishWebhookEvent(ctx context.Context, jobID, status string) error
}

// RetryDelay computes the exponential re-dispatch delay for the given
// attempt (1-based), capped so a flapping dependency cannot push jobs
// out indefinitely.
func RetryDelay(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}
