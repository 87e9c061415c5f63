package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/scribe-rabbit/scribe-orchestrator/config"
	"github.com/scribe-rabbit/scribe-orchestrator/entity"
	"github.com/scribe-rabbit/scribe-orchestrator/infra"
	"github.com/scribe-rabbit/scribe-orchestrator/infra/produce"
	"github.com/scribe-rabbit/scribe-orchestrator/repository"
	"github.com/scribe-rabbit/scribe-orchestrator/utils"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Signature"

// NotificationStore is the slice of the repositories the dispatcher
// needs: the job row to rebuild the payload from, the delivery flag and
// the per-attempt audit trail.
type NotificationStore interface {
	FindByID(id uuid.UUID) (*entity.Job, error)
	MarkWebhookDelivered(id uuid.UUID) error
	RecordAttempt(attempt *entity.NotificationAttempt) error
}

// webhookPayload is the body POSTed to the caller's endpoint.
type webhookPayload struct {
	JobID         string          `json:"job_id"`
	Status        string          `json:"status"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Timestamp     string          `json:"timestamp"`
}

// WebhookConsumer delivers terminal-status callbacks with a bounded
// number of attempts per event.
type WebhookConsumer struct {
	cfg     *config.EnvConfig
	channel *amqp.Channel
	store   NotificationStore
	client  *http.Client
	logger  *infra.LoggerClient
	obs     *infra.ObservabilityClient

	// backoff between attempts, overridable in tests
	backoff func(attempt int) time.Duration
}

func NewWebhookConsumer(cfg *config.Config, infraClient *infra.Infra, repo *repository.Repository) *WebhookConsumer {
	return &WebhookConsumer{
		cfg:     cfg.EnvConfig,
		channel: infraClient.RabbitMQ.Channel,
		store: &notificationStore{
			jobs:     repo.JobRepo,
			attempts: repo.NotificationAttemptRepo,
		},
		client: &http.Client{Timeout: cfg.EnvConfig.Webhook.Timeout},
		logger: infraClient.Logger,
		obs:    infraClient.Observability,
		backoff: func(attempt int) time.Duration {
			return RetryDelay(attempt, time.Second, 30*time.Second)
		},
	}
}

// notificationStore adapts the repositories to the dispatcher's view.
type notificationStore struct {
	jobs     *repository.JobRepository
	attempts *repository.NotificationAttemptRepository
}

func (s *notificationStore) FindByID(id uuid.UUID) (*entity.Job, error) {
	return s.jobs.FindByID(id)
}

func (s *notificationStore) MarkWebhookDelivered(id uuid.UUID) error {
	return s.jobs.MarkWebhookDelivered(id)
}

func (s *notificationStore) RecordAttempt(attempt *entity.NotificationAttempt) error {
	return s.attempts.Create(attempt)
}

// Start consumes the notify queue. Returns once the consumer is running.
func (c *WebhookConsumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(produce.WebhookQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", produce.WebhookQueue, err)
	}

	c.logger.InfoWithContextf(ctx, "[WebhookConsumer] Started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				c.handleMessage(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *WebhookConsumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	var payload produce.WebhookMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.logger.ErrorWithContextf(ctx, err, "[WebhookConsumer] Dropping malformed message")
		_ = msg.Nack(false, false)
		return
	}

	jobID, err := uuid.Parse(payload.JobID)
	if err != nil {
		c.logger.ErrorWithContextf(ctx, err, "[WebhookConsumer] Dropping message with invalid job id %q", payload.JobID)
		_ = msg.Nack(false, false)
		return
	}

	if err := c.Deliver(ctx, jobID); err != nil {
		// Attempts are exhausted or the job cannot be loaded. The event
		// is not retried beyond its attempt budget.
		c.logger.WarningWithContextf(ctx, "[WebhookConsumer] Giving up on webhook for job %s: %v", payload.JobID, err)
	}
	_ = msg.Ack(false)
}

// Deliver rebuilds the callback payload from the current job row, signs
// it and POSTs it until a 2xx lands or the attempt budget runs out.
func (c *WebhookConsumer) Deliver(ctx context.Context, jobID uuid.UUID) error {
	job, err := c.store.FindByID(jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	var params entity.JobParameters
	if err := json.Unmarshal(job.Parameters, &params); err != nil {
		return fmt.Errorf("invalid job parameters: %w", err)
	}
	if params.WebhookURL == "" || job.WebhookDelivered {
		return nil
	}
	if !job.Status.Terminal() {
		// Late or duplicate event for a job that moved back to pending
		// through a retry; the next terminal transition publishes again.
		return nil
	}

	body, err := c.buildPayload(job, &params)
	if err != nil {
		return err
	}
	signature := utils.ComputeHMACSHA256(c.cfg.Webhook.Secret, body)
	payloadHash := utils.HashBodySHA256(body)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Webhook.MaxAttempts; attempt++ {
		c.obs.WebhookAttempts.Add(ctx, 1)

		started := time.Now()
		statusCode, attemptErr := c.post(ctx, params.WebhookURL, body, signature)

		record := &entity.NotificationAttempt{
			ID:          uuid.New(),
			JobID:       job.ID,
			TargetURL:   params.WebhookURL,
			PayloadHash: payloadHash,
			Attempt:     attempt,
			StatusCode:  statusCode,
			DurationMs:  time.Since(started).Milliseconds(),
		}
		if attemptErr != nil {
			record.Error = attemptErr.Error()
		}
		if err := c.store.RecordAttempt(record); err != nil {
			c.logger.WarningWithContextf(ctx, "[WebhookConsumer] Failed to record attempt for job %s: %v", job.ID, err)
		}

		if attemptErr == nil {
			if err := c.store.MarkWebhookDelivered(job.ID); err != nil {
				c.logger.WarningWithContextf(ctx, "[WebhookConsumer] Failed to flag delivery for job %s: %v", job.ID, err)
			}
			c.logger.InfoWithContextf(ctx, "[WebhookConsumer] Delivered %s webhook for job %s on attempt %d", job.Status, job.ID, attempt)
			return nil
		}

		lastErr = attemptErr
		if attempt < c.cfg.Webhook.MaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}
	}
	return lastErr
}

func (c *WebhookConsumer) buildPayload(job *entity.Job, params *entity.JobParameters) ([]byte, error) {
	payload := webhookPayload{
		JobID:         job.ID.String(),
		Status:        string(job.Status),
		CorrelationID: params.CorrelationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	switch job.Status {
	case entity.JobStatusCompleted:
		payload.Result = json.RawMessage(job.Result)
	case entity.JobStatusFailed:
		payload.Error = job.ErrorMessage
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
	}
	return body, nil
}

func (c *WebhookConsumer) post(ctx context.Context, url string, body []byte, signature string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
