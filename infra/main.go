package infra

import (
	"github.com/scribe-rabbit/scribe-orchestrator/config"
	"github.com/scribe-rabbit/scribe-orchestrator/infra/produce"
)

type Infra struct {
	Postgres      *PostgresClient
	Redis         *RedisClient
	RabbitMQ      *RabbitMQClient
	Logger        *LoggerClient
	Observability *ObservabilityClient
	Minio         *MinioClient
	Inference     *InferenceService
	Enhance       *EnhanceService
	Produce       *produce.Produce
}

var infraInstance *Infra

func InitInfra(cfg *config.Config) *Infra {
	if infraInstance != nil {
		return infraInstance
	}

	logger := InitLoggerClient(cfg.EnvConfig)
	if logger == nil {
		panic("Failed to initialize Logger service")
	}

	observability := InitObservabilityClient(cfg.EnvConfig)

	postgres := InitPostgresClient(cfg.EnvConfig)
	if postgres == nil {
		panic("Failed to initialize Postgres service")
	}

	redis := InitRedisClient(cfg.EnvConfig)
	if redis == nil {
		panic("Failed to initialize Redis service")
	}

	rabbitMQ := InitRabbitMQClient(cfg.EnvConfig)
	if rabbitMQ == nil {
		panic("Failed to initialize RabbitMQ service")
	}

	minio := InitMinioClient(cfg.EnvConfig)
	if minio == nil {
		panic("Failed to initialize MinIO service")
	}

	inference := InitInferenceService(cfg.EnvConfig)
	if inference == nil {
		panic("Failed to initialize Inference service")
	}

	enhance := InitEnhanceService(cfg.EnvConfig)

	produceService := produce.InitProduce(rabbitMQ.Channel)
	if produceService == nil {
		panic("Failed to initialize Produce service")
	}

	infraInstance = &Infra{
		Postgres:      postgres,
		Redis:         redis,
		RabbitMQ:      rabbitMQ,
		Logger:        logger,
		Observability: observability,
		Minio:         minio,
		Inference:     inference,
		Enhance:       enhance,
		Produce:       produceService,
	}

	return infraInstance
}

func GetClient() *Infra {
	if infraInstance == nil {
		panic("Infra not initialized. Call InitInfra() first.")
	}
	return infraInstance
}
