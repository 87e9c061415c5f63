package repository

import (
	"github.com/google/uuid"
	"github.com/scribe-rabbit/scribe-orchestrator/entity"
	"gorm.io/gorm"
)

type NotificationAttemptRepository struct {
	db *gorm.DB
}

func NewNotificationAttemptRepository(db *gorm.DB) *NotificationAttemptRepository {
	return &NotificationAttemptRepository{db: db}
}

func (r *NotificationAttemptRepository) Create(attempt *entity.NotificationAttempt) error {
	return r.db.Create(attempt).Error
}

func (r *NotificationAttemptRepository) FindByJobID(jobID uuid.UUID) ([]entity.NotificationAttempt, error) {
	var attempts []entity.NotificationAttempt
	err := r.db.Where("job_id = ?", jobID).Order("attempt ASC").Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}
