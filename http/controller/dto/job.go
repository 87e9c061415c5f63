package dto

// CreateTranscriptionJobDTO is the submit-job request body.
type CreateTranscriptionJobDTO struct {
	URL            string `json:"url" binding:"required"`
	Engine         string `json:"engine"`
	Model          string `json:"model"`
	Language       string `json:"language"`
	Diarize        bool   `json:"diarize"`
	WordTimestamps *bool  `json:"word_timestamps"`
	WebhookURL     string `json:"webhook_url"`
	CorrelationID  string `json:"correlation_id"`
}

// CreateEnhanceJobDTO submits a chained enhanced-AI job against a
// completed transcription.
type CreateEnhanceJobDTO struct {
	TranscriptionJobID string `json:"transcription_job_id" binding:"required,uuid"`
	Summarization      bool   `json:"summarization"`
	EntityExtraction   bool   `json:"entity_extraction"`
	SentimentAnalysis  bool   `json:"sentiment_analysis"`
	Keywords           bool   `json:"keywords"`
	WebhookURL         string `json:"webhook_url"`
	CorrelationID      string `json:"correlation_id"`
}

type JobCreatedDTO struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type JobStatusDTO struct {
	JobID            string      `json:"job_id"`
	Kind             string      `json:"kind"`
	Status           string      `json:"status"`
	Progress         int         `json:"progress"`
	Result           interface{} `json:"result,omitempty"`
	Error            string      `json:"error,omitempty"`
	RetryCount       int         `json:"retry_count"`
	WebhookDelivered bool        `json:"webhook_delivered"`
	CreatedAt        string      `json:"created_at"`
	UpdatedAt        string      `json:"updated_at"`
}
