package produce

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	NotifyExchange    = "notify.exchange"
	WebhookQueue      = "notify.webhook"
	WebhookRoutingKey = "notify.webhook"
)

type NotifyService struct {
	channel *amqp.Channel
}

// WebhookMessage asks the dispatcher to deliver a terminal-status
// callback for a job. The payload itself is rebuilt from the job row at
// delivery time so late duplicates stay consistent.
type WebhookMessage struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

func InitNotifyService(channel *amqp.Channel) *NotifyService {
	service := &NotifyService{
		channel: channel,
	}

	err := channel.ExchangeDeclare(
		NotifyExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		panic("Failed to declare notify exchange: " + err.Error())
	}

	_, err = channel.QueueDeclare(
		WebhookQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		panic("Failed to declare webhook queue: " + err.Error())
	}

	err = channel.QueueBind(WebhookQueue, WebhookRoutingKey, NotifyExchange, false, nil)
	if err != nil {
		panic("Failed to bind webhook queue: " + err.Error())
	}

	return service
}

func (s *NotifyService) PublishWebhookEvent(ctx context.Context, jobID, status string) error {
	message := WebhookMessage{
		JobID:     jobID,
		Status:    status,
		Timestamp: time.Now().Unix(),
	}

	body, err := json.Marshal(message)
	if err != nil {
		return err
	}

	return s.channel.PublishWithContext(
		ctx,
		NotifyExchange,
		WebhookRoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}
