package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/scribe-rabbit/scribe-orchestrator/config"
	"github.com/scribe-rabbit/scribe-orchestrator/entity"
	"github.com/scribe-rabbit/scribe-orchestrator/infra"
	"github.com/scribe-rabbit/scribe-orchestrator/infra/produce"
	"github.com/scribe-rabbit/scribe-orchestrator/repository"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
)

// Enhancer runs the downstream AI analysis over a finished transcript.
type Enhancer interface {
	Enhance(ctx context.Context, req infra.EnhanceRequest) (*infra.EnhanceResult, error)
}

// EnhanceConsumer executes enhanced AI jobs chained off completed
// transcriptions.
type EnhanceConsumer struct {
	executor
	channel  *amqp.Channel
	enhancer Enhancer
}

func NewEnhanceConsumer(cfg *config.Config, infraClient *infra.Infra, repo *repository.Repository, owner string) *EnhanceConsumer {
	return &EnhanceConsumer{
		executor: newExecutor(cfg, infraClient, repo, owner),
		channel:  infraClient.RabbitMQ.Channel,
		enhancer: infraClient.Enhance,
	}
}

// Start consumes the enhance queue. Returns once the consumer is running.
func (c *EnhanceConsumer) Start(ctx context.Context) error {
	if err := c.channel.Qos(c.cfg.Jobs.WorkerSlots, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := c.channel.Consume(produce.EnhanceQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", produce.EnhanceQueue, err)
	}

	c.logger.InfoWithContextf(ctx, "[EnhanceConsumer] Started as %s", c.owner)

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

func (c *EnhanceConsumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	var payload produce.JobMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.logger.ErrorWithContextf(ctx, err, "[EnhanceConsumer] Dropping malformed message")
		_ = msg.Nack(false, false)
		return
	}

	jobID, err := uuid.Parse(payload.JobID)
	if err != nil {
		c.logger.ErrorWithContextf(ctx, err, "[EnhanceConsumer] Dropping message with invalid job id %q", payload.JobID)
		_ = msg.Nack(false, false)
		return
	}

	job, err := c.store.Claim(jobID, c.owner, c.cfg.Jobs.LeaseDuration)
	if err != nil {
		c.logger.ErrorWithContextf(ctx, err, "[EnhanceConsumer] Claim failed for job %s, requeueing", payload.JobID)
		_ = msg.Nack(false, true)
		return
	}
	if job == nil {
		_ = msg.Ack(false)
		return
	}

	c.runJob(ctx, job)
	_ = msg.Ack(false)
}

func (c *EnhanceConsumer) runJob(parent context.Context, job *entity.Job) {
	spanCtx, span := c.obs.Tracer.Start(parent, "worker.enhance",
		trace.WithAttributes(c.obs.JobAttributes(job.ID.String(), string(job.Kind))...))
	defer span.End()

	ctx, cancel := context.WithCancel(spanCtx)
	defer cancel()

	run := &jobRun{cancel: cancel}
	c.startHeartbeat(ctx, run, job)

	result, err := c.enhance(ctx, run, job)

	switch {
	case run.leaseLost.Load():
	case run.cancelled.Load():
		c.finishCancelled(spanCtx, job)
	case err != nil:
		c.finishFailure(spanCtx, job, err)
	case result == nil:
		c.logger.WarningWithContextf(spanCtx, "[EnhanceConsumer] Abandoning job %s on shutdown", job.ID)
	default:
		c.finishSuccess(spanCtx, job, result)
	}
}

func (c *EnhanceConsumer) enhance(ctx context.Context, run *jobRun, job *entity.Job) (datatypes.JSON, error) {
	var params entity.JobParameters
	if err := json.Unmarshal(job.Parameters, &params); err != nil {
		return nil, fmt.Errorf("invalid job parameters: %w", err)
	}

	if job.CancelRequested {
		run.cancelled.Store(true)
		return nil, nil
	}
	if job.ParentID == nil {
		return nil, fmt.Errorf("enhance job has no parent transcription")
	}

	parent, err := c.store.FindByID(*job.ParentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parent job %s: %w", job.ParentID, err)
	}
	if parent.Status != entity.JobStatusCompleted {
		return nil, fmt.Errorf("parent job %s is %s, not completed", parent.ID, parent.Status)
	}

	var transcript struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(parent.Result, &transcript); err != nil {
		return nil, fmt.Errorf("invalid parent result: %w", err)
	}

	c.checkpoint(ctx, run, job, 10)
	if ctx.Err() != nil {
		return nil, nil
	}

	out, err := c.enhancer.Enhance(ctx, infra.EnhanceRequest{
		Text:              transcript.Text,
		Language:          transcript.Language,
		Summarization:     params.Summarization,
		EntityExtraction:  params.EntityExtraction,
		SentimentAnalysis: params.SentimentAnalysis,
		Keywords:          params.Keywords,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}

	c.checkpoint(ctx, run, job, 90)
	if ctx.Err() != nil {
		return nil, nil
	}

	result, err := json.Marshal(map[string]any{
		"transcription_job_id": parent.ID,
		"summary":              out.Summary,
		"entities":             out.Entities,
		"sentiment":            out.Sentiment,
		"keywords":             out.Keywords,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return result, nil
}
