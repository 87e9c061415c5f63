package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

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

// AudioPresigner resolves an uploaded object key into a URL the
// inference service can fetch.
type AudioPresigner interface {
	PresignAudioURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// TranscriptionConsumer executes transcription jobs from the queue.
type TranscriptionConsumer struct {
	executor
	channel *amqp.Channel
	models  *ModelCache
	storage AudioPresigner
}

func NewTranscriptionConsumer(cfg *config.Config, infraClient *infra.Infra, repo *repository.Repository, owner string, models *ModelCache) *TranscriptionConsumer {
	return &TranscriptionConsumer{
		executor: newExecutor(cfg, infraClient, repo, owner),
		channel:  infraClient.RabbitMQ.Channel,
		models:   models,
		storage:  infraClient.Minio,
	}
}

// Start consumes the transcription queue with WorkerSlots goroutines
// sharing one delivery channel. Returns once the consumers are running.
func (c *TranscriptionConsumer) Start(ctx context.Context) error {
	if err := c.channel.Qos(c.cfg.Jobs.WorkerSlots, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := c.channel.Consume(produce.TranscribeQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", produce.TranscribeQueue, err)
	}

	c.logger.InfoWithContextf(ctx, "[TranscriptionConsumer] Started with %d worker slots as %s", c.cfg.Jobs.WorkerSlots, c.owner)

	for i := 0; i < c.cfg.Jobs.WorkerSlots; i++ {
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
	}

	return nil
}

func (c *TranscriptionConsumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	var payload produce.JobMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.logger.ErrorWithContextf(ctx, err, "[TranscriptionConsumer] Dropping malformed message")
		_ = msg.Nack(false, false)
		return
	}

	jobID, err := uuid.Parse(payload.JobID)
	if err != nil {
		c.logger.ErrorWithContextf(ctx, err, "[TranscriptionConsumer] Dropping message with invalid job id %q", payload.JobID)
		_ = msg.Nack(false, false)
		return
	}

	job, err := c.store.Claim(jobID, c.owner, c.cfg.Jobs.LeaseDuration)
	if err != nil {
		c.logger.ErrorWithContextf(ctx, err, "[TranscriptionConsumer] Claim failed for job %s, requeueing", payload.JobID)
		_ = msg.Nack(false, true)
		return
	}
	if job == nil {
		// Already claimed, cancelled or finished elsewhere. The queue
		// reference is stale, drop it.
		_ = msg.Ack(false)
		return
	}

	c.runJob(ctx, job)
	_ = msg.Ack(false)
}

func (c *TranscriptionConsumer) runJob(parent context.Context, job *entity.Job) {
	spanCtx, span := c.obs.Tracer.Start(parent, "worker.transcribe",
		trace.WithAttributes(c.obs.JobAttributes(job.ID.String(), string(job.Kind))...))
	defer span.End()

	ctx, cancel := context.WithCancel(spanCtx)
	defer cancel()

	run := &jobRun{cancel: cancel}
	c.startHeartbeat(ctx, run, job)

	result, err := c.transcribe(ctx, run, job)

	switch {
	case run.leaseLost.Load():
		// Another worker owns the job now, discard everything.
	case run.cancelled.Load():
		c.finishCancelled(spanCtx, job)
	case err != nil:
		c.finishFailure(spanCtx, job, err)
	case result == nil:
		// Shutdown interrupted the job mid-flight. The lease expires and
		// another worker reclaims it.
		c.logger.WarningWithContextf(spanCtx, "[TranscriptionConsumer] Abandoning job %s on shutdown", job.ID)
	default:
		c.finishSuccess(spanCtx, job, result)
	}
}

func (c *TranscriptionConsumer) transcribe(ctx context.Context, run *jobRun, job *entity.Job) (datatypes.JSON, error) {
	var params entity.JobParameters
	if err := json.Unmarshal(job.Parameters, &params); err != nil {
		return nil, fmt.Errorf("invalid job parameters: %w", err)
	}

	if job.CancelRequested {
		run.cancelled.Store(true)
		return nil, nil
	}

	sourceURL, err := c.resolveSource(ctx, &params)
	if err != nil {
		return nil, err
	}

	model, err := c.models.Get(ctx, params.Engine, params.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s/%s: %w", params.Engine, params.Model, err)
	}

	c.checkpoint(ctx, run, job, 10)
	if ctx.Err() != nil {
		return nil, nil
	}

	out, err := model.Transcribe(ctx, infra.TranscriptionRequest{
		SourceURL:      sourceURL,
		Language:       params.Language,
		Diarize:        params.Diarize,
		WordTimestamps: params.WordTimestamps,
	}, func(progress int) {
		c.checkpoint(ctx, run, job, progress)
	})
	if err != nil {
		if ctx.Err() != nil {
			// The heartbeat or a checkpoint cancelled us mid-flight.
			return nil, nil
		}
		return nil, err
	}

	c.checkpoint(ctx, run, job, 90)
	if ctx.Err() != nil {
		return nil, nil
	}

	result, err := json.Marshal(map[string]any{
		"text":     out.Text,
		"language": out.Language,
		"duration": out.Duration,
		"segments": out.Segments,
		"engine":   params.Engine,
		"model":    params.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return result, nil
}

func (c *TranscriptionConsumer) resolveSource(ctx context.Context, params *entity.JobParameters) (string, error) {
	if params.SourceURL != "" {
		return params.SourceURL, nil
	}
	if params.SourceObject == "" {
		return "", fmt.Errorf("job has neither source url nor uploaded object")
	}
	url, err := c.storage.PresignAudioURL(ctx, params.SourceObject, 2*time.Hour)
	if err != nil {
		return "", infra.Transient(fmt.Errorf("failed to presign %s: %w", params.SourceObject, err))
	}
	return url, nil
}
