package produce

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	JobsExchange = "jobs.exchange"

	TranscribeQueue      = "jobs.transcribe"
	TranscribeRoutingKey = "jobs.transcribe"
	EnhanceQueue         = "jobs.enhance"
	EnhanceRoutingKey    = "jobs.enhance"

	// Retry queues hold delayed re-dispatches. Messages published here
	// carry a per-message TTL and dead-letter back to the live routing
	// key once it expires.
	TranscribeRetryQueue      = "jobs.transcribe.retry"
	TranscribeRetryRoutingKey = "jobs.transcribe.retry"
	EnhanceRetryQueue         = "jobs.enhance.retry"
	EnhanceRetryRoutingKey    = "jobs.enhance.retry"
)

type JobService struct {
	channel *amqp.Channel
}

// JobMessage is the queue reference to a persisted job. The row in the
// job store stays authoritative; this only tells a worker to go look.
type JobMessage struct {
	JobID     string `json:"job_id"`
	Kind      string `json:"kind"`
	Attempt   int    `json:"attempt"`
	Timestamp int64  `json:"timestamp"`
}

func InitJobService(channel *amqp.Channel) *JobService {
	service := &JobService{
		channel: channel,
	}

	err := channel.ExchangeDeclare(
		JobsExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		panic("Failed to declare jobs exchange: " + err.Error())
	}

	for _, q := range []struct {
		name string
		key  string
	}{
		{TranscribeQueue, TranscribeRoutingKey},
		{EnhanceQueue, EnhanceRoutingKey},
	} {
		_, err = channel.QueueDeclare(
			q.name,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,
		)
		if err != nil {
			panic("Failed to declare queue " + q.name + ": " + err.Error())
		}

		err = channel.QueueBind(q.name, q.key, JobsExchange, false, nil)
		if err != nil {
			panic("Failed to bind queue " + q.name + ": " + err.Error())
		}
	}

	for _, q := range []struct {
		name    string
		key     string
		liveKey string
	}{
		{TranscribeRetryQueue, TranscribeRetryRoutingKey, TranscribeRoutingKey},
		{EnhanceRetryQueue, EnhanceRetryRoutingKey, EnhanceRoutingKey},
	} {
		_, err = channel.QueueDeclare(
			q.name,
			true,
			false,
			false,
			false,
			amqp.Table{
				"x-dead-letter-exchange":    JobsExchange,
				"x-dead-letter-routing-key": q.liveKey,
			},
		)
		if err != nil {
			panic("Failed to declare retry queue " + q.name + ": " + err.Error())
		}

		err = channel.QueueBind(q.name, q.key, JobsExchange, false, nil)
		if err != nil {
			panic("Failed to bind retry queue " + q.name + ": " + err.Error())
		}
	}

	return service
}

// PublishJob enqueues a job reference for immediate dispatch.
func (s *JobService) PublishJob(ctx context.Context, kind, jobID string, attempt int) error {
	routingKey, err := routingKeyForKind(kind)
	if err != nil {
		return err
	}
	return s.publish(ctx, routingKey, JobMessage{
		JobID:     jobID,
		Kind:      kind,
		Attempt:   attempt,
		Timestamp: time.Now().Unix(),
	}, 0)
}

// PublishRetry enqueues a delayed re-dispatch after a transient failure.
func (s *JobService) PublishRetry(ctx context.Context, kind, jobID string, attempt int, delay time.Duration) error {
	var routingKey string
	switch kind {
	case "transcription":
		routingKey = TranscribeRetryRoutingKey
	case "enhanced_ai":
		routingKey = EnhanceRetryRoutingKey
	default:
		return fmt.Errorf("unknown job kind %q", kind)
	}
	return s.publish(ctx, routingKey, JobMessage{
		JobID:     jobID,
		Kind:      kind,
		Attempt:   attempt,
		Timestamp: time.Now().Unix(),
	}, delay)
}

func (s *JobService) publish(ctx context.Context, routingKey string, message JobMessage, delay time.Duration) error {
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}
	if delay > 0 {
		publishing.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}

	return s.channel.PublishWithContext(
		ctx,
		JobsExchange,
		routingKey,
		false,
		false,
		publishing,
	)
}

func routingKeyForKind(kind string) (string, error) {
	switch kind {
	case "transcription":
		return TranscribeRoutingKey, nil
	case "enhanced_ai":
		return EnhanceRoutingKey, nil
	}
	return "", fmt.Errorf("unknown job kind %q", kind)
}
