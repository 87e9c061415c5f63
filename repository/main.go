package repository

import (
	"errors"

	"github.com/scribe-rabbit/scribe-orchestrator/infra"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrAlreadyTerminal   = errors.New("job already in a terminal status")
	// ErrLeaseLost means the caller no longer owns the job's lease; its
	// writes were discarded.
	ErrLeaseLost = errors.New("job lease lost")
)

type Repository struct {
	JobRepo                 *JobRepository
	NotificationAttemptRepo *NotificationAttemptRepository
	APIKeyRepo              *APIKeyRepository
}

var repository *Repository

func InitRepository(infra *infra.Infra) *Repository {
	repository = &Repository{
		JobRepo:                 NewJobRepository(infra.Postgres.DB),
		NotificationAttemptRepo: NewNotificationAttemptRepository(infra.Postgres.DB),
		APIKeyRepo:              NewAPIKeyRepository(infra.Postgres.DB),
	}
	return repository
}

func GetRepository() *Repository {
	if repository == nil {
		panic("repository not initialized")
	}
	return repository
}

func (r *Repository) WithTransaction(tx *gorm.DB) *Repository {
	return &Repository{
		JobRepo:                 NewJobRepository(tx),
		NotificationAttemptRepo: NewNotificationAttemptRepository(tx),
		APIKeyRepo:              NewAPIKeyRepository(tx),
	}
}
