package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/scribe-rabbit/scribe-orchestrator/entity"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobRepository is the single arbiter for concurrent job writers. Every
// state transition is a conditional UPDATE; zero rows affected means the
// transition was rejected and the caller must not proceed with side
// effects.
type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(job *entity.Job) error {
	return r.db.Create(job).Error
}

func (r *JobRepository) FindByID(id uuid.UUID) (*entity.Job, error) {
	var job entity.Job
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// MarkEnqueued stamps the moment a queue reference for the job was
// published. The reconciliation sweep re-enqueues rows where this never
// happened.
func (r *JobRepository) MarkEnqueued(id uuid.UUID) error {
	now := time.Now()
	return r.db.Model(&entity.Job{}).
		Where("id = ?", id).
		Update("enqueued_at", now).Error
}

// Claim performs the pending -> processing transition and takes the
// lease. A processing row whose lease has expired can be reclaimed (the
// previous worker crashed or stalled). Returns nil when another worker
// won; the caller drops the queue reference and moves on.
func (r *JobRepository) Claim(id uuid.UUID, owner string, lease time.Duration) (*entity.Job, error) {
	now := time.Now()
	res := r.db.Model(&entity.Job{}).
		Where("id = ? AND (status = ? OR (status = ? AND lease_expires_at < ?))",
			id, entity.JobStatusPending, entity.JobStatusProcessing, now).
		Updates(map[string]interface{}{
			"status":           entity.JobStatusProcessing,
			"lease_owner":      owner,
			"lease_expires_at": now.Add(lease),
			"progress":         0,
			"started_at":       now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return r.FindByID(id)
}

// RenewLease extends the lease while the worker is still making
// progress. ErrLeaseLost means another worker has reclaimed the job and
// the caller must abandon it.
func (r *JobRepository) RenewLease(id uuid.UUID, owner string, lease time.Duration) error {
	res := r.db.Model(&entity.Job{}).
		Where("id = ? AND lease_owner = ? AND status = ?", id, owner, entity.JobStatusProcessing).
		Update("lease_expires_at", time.Now().Add(lease))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// UpdateProgress persists a progress checkpoint. Progress is monotonic
// while processing; a stale lower value is silently dropped. The
// returned flag tells the worker a cooperative cancellation is pending.
func (r *JobRepository) UpdateProgress(id uuid.UUID, owner string, progress int) (bool, error) {
	res := r.db.Model(&entity.Job{}).
		Where("id = ? AND lease_owner = ? AND status = ? AND progress <= ?",
			id, owner, entity.JobStatusProcessing, progress).
		Update("progress", progress)
	if res.Error != nil {
		return false, res.Error
	}

	job, err := r.FindByID(id)
	if err != nil {
		return false, err
	}
	if job.Status != entity.JobStatusProcessing || job.LeaseOwner != owner {
		return false, ErrLeaseLost
	}
	return job.CancelRequested, nil
}

// Complete performs processing -> completed and sets the result exactly
// once. Owner-conditioned: a stale writer gets ErrLeaseLost.
func (r *JobRepository) Complete(id uuid.UUID, owner string, result datatypes.JSON) error {
	now := time.Now()
	res := r.db.Model(&entity.Job{}).
		Where("id = ? AND lease_owner = ? AND status = ?", id, owner, entity.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":           entity.JobStatusCompleted,
			"result":           result,
			"progress":         100,
			"lease_owner":      "",
			"lease_expires_at": nil,
			"completed_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Fail performs processing -> failed and records the error exactly once.
func (r *JobRepository) Fail(id uuid.UUID, owner string, message string) error {
	now := time.Now()
	res := r.db.Model(&entity.Job{}).
		Where("id = ? AND lease_owner = ? AND status = ?", id, owner, entity.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":           entity.JobStatusFailed,
			"error_message":    message,
			"lease_owner":      "",
			"lease_expires_at": nil,
			"completed_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// MarkRetry takes the failed -> pending retry edge. Only legal while the
// retry budget lasts; consumes one attempt and clears the failure state.
func (r *JobRepository) MarkRetry(id uuid.UUID) error {
	res := r.db.Model(&entity.Job{}).
		Where("id = ? AND status = ? AND retry_count < max_retries", id, entity.JobStatusFailed).
		Updates(map[string]interface{}{
			"status":        entity.JobStatusPending,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": "",
			"progress":      0,
			"completed_at":  nil,
			"enqueued_at":   nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Cancel handles a client cancellation request. Pending jobs cancel
// immediately; processing jobs are flagged and the worker honors the
// flag at its next progress checkpoint.
func (r *JobRepository) Cancel(id uuid.UUID) (*entity.Job, error) {
	now := time.Now()
	res := r.db.Model(&entity.Job{}).
		Where("id = ? AND status = ?", id, entity.JobStatusPending).
		Updates(map[string]interface{}{
			"status":       entity.JobStatusCancelled,
			"completed_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return r.FindByID(id)
	}

	job, err := r.FindByID(id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, ErrAlreadyTerminal
	}

	err = r.db.Model(&entity.Job{}).
		Where("id = ? AND status = ?", id, entity.JobStatusProcessing).
		Update("cancel_requested", true).Error
	if err != nil {
		return nil, err
	}
	return r.FindByID(id)
}

// CancelProcessing finishes a cooperative cancellation observed by the
// worker that owns the lease.
func (r *JobRepository) CancelProcessing(id uuid.UUID, owner string) error {
	now := time.Now()
	res := r.db.Model(&entity.Job{}).
		Where("id = ? AND lease_owner = ? AND status = ?", id, owner, entity.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":           entity.JobStatusCancelled,
			"lease_owner":      "",
			"lease_expires_at": nil,
			"completed_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *JobRepository) MarkWebhookDelivered(id uuid.UUID) error {
	return r.db.Model(&entity.Job{}).
		Where("id = ?", id).
		Update("webhook_delivered", true).Error
}

// FindUndispatched returns pending jobs with no live queue reference:
// either never enqueued (crash between store write and publish) past the
// grace period, or enqueued long enough ago that the reference is
// presumed lost. Oldest first, so starved jobs dispatch first.
func (r *JobRepository) FindUndispatched(grace, redispatchAfter time.Duration, limit int) ([]entity.Job, error) {
	now := time.Now()
	var jobs []entity.Job
	err := r.db.
		Where("status = ?", entity.JobStatusPending).
		Where(r.db.Where("enqueued_at IS NULL AND created_at < ?", now.Add(-grace)).
			Or("enqueued_at < ?", now.Add(-redispatchAfter))).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}
