package entity

import (
	"time"

	"github.com/google/uuid"
)

// NotificationAttempt records one webhook delivery try. It is an audit
// trail only; job correctness never depends on these rows.
type NotificationAttempt struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	JobID       uuid.UUID `json:"job_id" gorm:"type:uuid;not null;index"`
	TargetURL   string    `json:"target_url" gorm:"not null"`
	PayloadHash string    `json:"payload_hash" gorm:"not null"`
	Attempt     int       `json:"attempt" gorm:"not null"`
	StatusCode  int       `json:"status_code"`
	Error       string    `json:"error,omitempty" gorm:"type:text"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}
