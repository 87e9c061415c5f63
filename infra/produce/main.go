package produce

import amqp "github.com/rabbitmq/amqp091-go"

type Produce struct {
	JobService    *JobService
	NotifyService *NotifyService
}

var produceInstance *Produce

func InitProduce(channel *amqp.Channel) *Produce {
	if produceInstance != nil {
		return produceInstance
	}

	jobService := InitJobService(channel)
	if jobService == nil {
		panic("Failed to initialize Job produce service")
	}

	notifyService := InitNotifyService(channel)
	if notifyService == nil {
		panic("Failed to initialize Notify produce service")
	}

	produceInstance = &Produce{
		JobService:    jobService,
		NotifyService: notifyService,
	}

	return produceInstance
}

func GetProduce() *Produce {
	if produceInstance == nil {
		panic("Produce not initialized. Call InitProduce() first.")
	}
	return produceInstance
}
