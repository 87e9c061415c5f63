package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

type JobKind string

const (
	JobKindTranscription JobKind = "transcription"
	JobKindEnhancedAI    JobKind = "enhanced_ai"
)

type Job struct {
	ID               uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Kind             JobKind        `json:"kind" gorm:"not null;index"`
	Status           JobStatus      `json:"status" gorm:"not null;index:idx_jobs_status_created,priority:1"`
	ParentID         *uuid.UUID     `json:"parent_id,omitempty" gorm:"type:uuid;index"`
	Parameters       datatypes.JSON `json:"parameters" gorm:"not null"`
	Progress         int            `json:"progress" gorm:"not null;default:0"`
	Result           datatypes.JSON `json:"result,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty" gorm:"type:text"`
	RetryCount       int            `json:"retry_count" gorm:"not null;default:0"`
	MaxRetries       int            `json:"max_retries" gorm:"not null;default:3"`
	CancelRequested  bool           `json:"cancel_requested" gorm:"not null;default:false"`
	WebhookDelivered bool           `json:"webhook_delivered" gorm:"not null;default:false"`
	LeaseOwner       string         `json:"lease_owner,omitempty" gorm:"index"`
	LeaseExpiresAt   *time.Time     `json:"lease_expires_at,omitempty"`
	EnqueuedAt       *time.Time     `json:"enqueued_at,omitempty"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at" gorm:"index:idx_jobs_status_created,priority:2"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// JobParameters is the immutable request payload stored on each job.
type JobParameters struct {
	SourceURL      string `json:"source_url,omitempty"`
	SourceObject   string `json:"source_object,omitempty"`
	Filename       string `json:"filename,omitempty"`
	Engine         string `json:"engine,omitempty"`
	Model          string `json:"model,omitempty"`
	Language       string `json:"language,omitempty"`
	Diarize        bool   `json:"diarize"`
	WordTimestamps bool   `json:"word_timestamps"`
	WebhookURL     string `json:"webhook_url,omitempty"`
	CorrelationID  string `json:"correlation_id,omitempty"`

	// Enhanced AI options (chained stage only)
	Summarization     bool `json:"summarization,omitempty"`
	EntityExtraction  bool `json:"entity_extraction,omitempty"`
	SentimentAnalysis bool `json:"sentiment_analysis,omitempty"`
	Keywords          bool `json:"keywords,omitempty"`
}

func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ValidTransition reports whether the job state machine permits moving
// from one status to another. failed -> pending is the retry edge and is
// only taken by the worker loop while the retry budget lasts.
func ValidTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing || to == JobStatusCancelled
	case JobStatusProcessing:
		return to == JobStatusCompleted || to == JobStatusFailed || to == JobStatusCancelled
	case JobStatusFailed:
		return to == JobStatusPending
	}
	return false
}
