package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type EnvConfig struct {
	Postgres struct {
		HOST     string
		Database string
		Username string
		Password string
		Port     string
	}
	CORS struct {
		AllowDomains string
	}
	Redis struct {
		Password  string
		Database  int
		RedisHost string
		RedisPort string
	}
	RabbitMQ struct {
		Host     string
		Port     string
		Username string
		Password string
	}
	Minio struct {
		Endpoint     string
		RootUser     string
		RootPassword string
		AudioBucket  string
	}
	Jobs struct {
		MaxRetries        int
		LeaseDuration     time.Duration
		HeartbeatInterval time.Duration
		RetryBackoffBase  time.Duration
		RetryBackoffCap   time.Duration
		SweepInterval     time.Duration
		SweepGracePeriod  time.Duration
		WorkerSlots       int
	}
	Webhook struct {
		Secret      string
		Timeout     time.Duration
		MaxAttempts int
	}
	Transcription struct {
		DefaultEngine    string
		DefaultModel     string
		DefaultLanguage  string
		ModelCacheBudget int64
	}
	RateLimit struct {
		Requests int
		Period   time.Duration
	}
	ExternalService struct {
		InferenceServiceURL string
		EnhanceServiceURL   string
		EnhanceAPIKey       string
	}
	Grafana struct {
		OTLPEndpoint string
		ServiceName  string
	}
	Environment struct {
		Mode  string
		Group string
	}
	DomainName string
}

func LoadEnvConfig() *EnvConfig {
	var config EnvConfig

	// Postgres
	config.Postgres.HOST = os.Getenv("PGPOOL_HOST")
	config.Postgres.Database = os.Getenv("PGPOOL_DB")
	config.Postgres.Username = os.Getenv("PGPOOL_USER")
	config.Postgres.Password = os.Getenv("PGPOOL_PASSWORD")
	config.Postgres.Port = os.Getenv("PGPOOL_PORT")
	if config.Postgres.Port == "" {
		config.Postgres.Port = "5432"
	}

	config.CORS.AllowDomains = os.Getenv("ALLOWED_DOMAINS")

	config.Redis.Password = os.Getenv("REDIS_PASSWORD")
	config.Redis.Database, _ = strconv.Atoi(os.Getenv("REDIS_DB"))
	config.Redis.RedisHost = os.Getenv("REDIS_HOST")
	config.Redis.RedisPort = os.Getenv("REDIS_PORT")
	if config.Redis.RedisPort == "" {
		config.Redis.RedisPort = "6379"
	}

	// RabbitMQ
	config.RabbitMQ.Host = os.Getenv("RABBITMQ_HOST")
	if config.RabbitMQ.Host == "" {
		config.RabbitMQ.Host = "localhost"
	}
	config.RabbitMQ.Port = os.Getenv("RABBITMQ_PORT")
	if config.RabbitMQ.Port == "" {
		config.RabbitMQ.Port = "5672"
	}
	config.RabbitMQ.Username = os.Getenv("RABBITMQ_USER")
	if config.RabbitMQ.Username == "" {
		config.RabbitMQ.Username = "guest"
	}
	config.RabbitMQ.Password = os.Getenv("RABBITMQ_PASSWORD")
	if config.RabbitMQ.Password == "" {
		config.RabbitMQ.Password = "guest"
	}

	config.Minio.Endpoint = os.Getenv("MINIO_ENDPOINT")
	config.Minio.RootUser = os.Getenv("MINIO_ROOT_USER")
	config.Minio.RootPassword = os.Getenv("MINIO_ROOT_PASSWORD")
	config.Minio.AudioBucket = os.Getenv("MINIO_AUDIO_BUCKET")
	if config.Minio.AudioBucket == "" {
		config.Minio.AudioBucket = "audio-uploads"
	}

	// Job orchestration
	config.Jobs.MaxRetries = envInt("JOB_MAX_RETRIES", 3)
	config.Jobs.LeaseDuration = envDuration("JOB_LEASE_DURATION", 2*time.Minute)
	config.Jobs.HeartbeatInterval = envDuration("JOB_HEARTBEAT_INTERVAL", config.Jobs.LeaseDuration/3)
	config.Jobs.RetryBackoffBase = envDuration("JOB_RETRY_BACKOFF_BASE", 5*time.Second)
	config.Jobs.RetryBackoffCap = envDuration("JOB_RETRY_BACKOFF_CAP", 5*time.Minute)
	config.Jobs.SweepInterval = envDuration("JOB_SWEEP_INTERVAL", 30*time.Second)
	config.Jobs.SweepGracePeriod = envDuration("JOB_SWEEP_GRACE_PERIOD", time.Minute)
	config.Jobs.WorkerSlots = envInt("WORKER_SLOTS", 2)

	// Webhook delivery
	config.Webhook.Secret = os.Getenv("WEBHOOK_SECRET")
	config.Webhook.Timeout = envDuration("WEBHOOK_TIMEOUT", 10*time.Second)
	config.Webhook.MaxAttempts = envInt("WEBHOOK_MAX_ATTEMPTS", 3)

	// Transcription defaults
	config.Transcription.DefaultEngine = os.Getenv("DEFAULT_ENGINE")
	if config.Transcription.DefaultEngine == "" {
		config.Transcription.DefaultEngine = "faster-whisper"
	}
	config.Transcription.DefaultModel = os.Getenv("DEFAULT_MODEL")
	if config.Transcription.DefaultModel == "" {
		config.Transcription.DefaultModel = "ivrit-ai/whisper-large-v3-turbo-ct2"
	}
	config.Transcription.DefaultLanguage = os.Getenv("DEFAULT_LANGUAGE")
	if config.Transcription.DefaultLanguage == "" {
		config.Transcription.DefaultLanguage = "he"
	}
	if budget := os.Getenv("MODEL_CACHE_BUDGET_BYTES"); budget != "" {
		if b, err := strconv.ParseInt(budget, 10, 64); err == nil && b > 0 {
			config.Transcription.ModelCacheBudget = b
		}
	}
	if config.Transcription.ModelCacheBudget == 0 {
		config.Transcription.ModelCacheBudget = 8 << 30 // 8 GiB
	}

	// Rate limiting
	config.RateLimit.Requests = envInt("RATE_LIMIT_REQUESTS", 100)
	config.RateLimit.Period = envDuration("RATE_LIMIT_PERIOD", time.Hour)

	config.ExternalService.InferenceServiceURL = os.Getenv("INFERENCE_SERVICE_URL")
	if config.ExternalService.InferenceServiceURL == "" {
		config.ExternalService.InferenceServiceURL = "http://localhost:8100"
	}
	config.ExternalService.EnhanceServiceURL = os.Getenv("ENHANCE_SERVICE_URL")
	config.ExternalService.EnhanceAPIKey = os.Getenv("ENHANCE_API_KEY")

	// Grafana/OpenTelemetry
	grafanaEndpoint := os.Getenv("GRAFANA_OTLP_ENDPOINT")
	// Remove protocol for OpenTelemetry client to avoid duplicate protocols
	if strings.HasPrefix(grafanaEndpoint, "https://") {
		config.Grafana.OTLPEndpoint = strings.TrimPrefix(grafanaEndpoint, "https://")
	} else if strings.HasPrefix(grafanaEndpoint, "http://") {
		config.Grafana.OTLPEndpoint = strings.TrimPrefix(grafanaEndpoint, "http://")
	} else {
		config.Grafana.OTLPEndpoint = grafanaEndpoint
	}
	config.Grafana.ServiceName = os.Getenv("SERVICE_NAME")
	if config.Grafana.ServiceName == "" {
		config.Grafana.ServiceName = "scribe-orchestrator"
	}

	config.Environment.Mode = os.Getenv("DEPLOY_ENV")
	if config.Environment.Mode == "" {
		config.Environment.Mode = "development"
	}

	config.Environment.Group = os.Getenv("GROUP_NAME")
	if config.Environment.Group == "" {
		config.Environment.Group = "local"
	}

	config.DomainName = os.Getenv("DOMAIN_NAME")
	if config.DomainName == "" {
		config.DomainName = "localhost:8080"
	}

	return &config
}

func envInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
