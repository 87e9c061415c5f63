package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/scribe-rabbit/scribe-orchestrator/config"
	"github.com/scribe-rabbit/scribe-orchestrator/entity"
	"github.com/scribe-rabbit/scribe-orchestrator/infra"
	"github.com/scribe-rabbit/scribe-orchestrator/repository"
	"github.com/scribe-rabbit/scribe-orchestrator/utils"
	"gorm.io/datatypes"
)

type fakeNotificationStore struct {
	mu        sync.Mutex
	job       *entity.Job
	delivered bool
	attempts  []entity.NotificationAttempt
}

func (s *fakeNotificationStore) FindByID(id uuid.UUID) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil || s.job.ID != id {
		return nil, repository.ErrNotFound
	}
	copied := *s.job
	copied.WebhookDelivered = s.delivered
	return &copied, nil
}

func (s *fakeNotificationStore) MarkWebhookDelivered(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = true
	return nil
}

func (s *fakeNotificationStore) RecordAttempt(attempt *entity.NotificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *attempt)
	return nil
}

func newTestWebhookConsumer(cfg *config.EnvConfig, store *fakeNotificationStore) *WebhookConsumer {
	return &WebhookConsumer{
		cfg:     cfg,
		store:   store,
		client:  &http.Client{Timeout: time.Second},
		logger:  infra.NewStdoutLogger(),
		obs:     infra.InitObservabilityClient(&config.EnvConfig{}),
		backoff: func(int) time.Duration { return 0 },
	}
}

func completedWebhookJob(t *testing.T, webhookURL string) *entity.Job {
	t.Helper()
	job := testJob(entity.JobKindTranscription, entity.JobParameters{
		SourceURL:     "https://example.com/a.mp3",
		WebhookURL:    webhookURL,
		CorrelationID: "order-42",
	})
	now := time.Now()
	job.Status = entity.JobStatusCompleted
	job.Progress = 100
	job.Result = datatypes.JSON(`{"text":"hello"}`)
	job.CompletedAt = &now
	return job
}

// TestWebhookDeliverySignsPayload checks that the POSTed body carries a
// valid HMAC signature over the exact bytes received.
func TestWebhookDeliverySignsPayload(t *testing.T) {
	cfg := testConfig()

	type received struct {
		body      []byte
		signature string
	}
	got := make(chan received, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{body: body, signature: r.Header.Get(SignatureHeader)}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := &fakeNotificationStore{job: completedWebhookJob(t, server.URL)}
	consumer := newTestWebhookConsumer(cfg, store)

	if err := consumer.Deliver(context.Background(), store.job.ID); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	r := <-got
	want := utils.ComputeHMACSHA256(cfg.Webhook.Secret, r.body)
	if !utils.SecureCompare(r.signature, want) {
		t.Fatalf("signature = %q, want %q", r.signature, want)
	}

	tampered := append([]byte{}, r.body...)
	tampered[0] ^= 0xff
	if utils.SecureCompare(utils.ComputeHMACSHA256(cfg.Webhook.Secret, tampered), r.signature) {
		t.Fatal("tampered body verified against original signature")
	}

	var payload map[string]any
	if err := json.Unmarshal(r.body, &payload); err != nil {
		t.Fatalf("payload unmarshal: %v", err)
	}
	if payload["job_id"] != store.job.ID.String() {
		t.Fatalf("payload job_id = %v, want %s", payload["job_id"], store.job.ID)
	}
	if payload["status"] != "completed" {
		t.Fatalf("payload status = %v, want completed", payload["status"])
	}
	if payload["correlation_id"] != "order-42" {
		t.Fatalf("payload correlation_id = %v, want order-42", payload["correlation_id"])
	}
	if _, ok := payload["result"]; !ok {
		t.Fatal("completed payload missing result")
	}

	if !store.delivered {
		t.Fatal("delivery flag not set")
	}
	if len(store.attempts) != 1 || store.attempts[0].StatusCode != 200 {
		t.Fatalf("attempts = %+v, want one 200", store.attempts)
	}
}

// TestWebhookDeliveryRetriesThenSucceeds checks that a failing endpoint
// is retried and each try is recorded.
func TestWebhookDeliveryRetriesThenSucceeds(t *testing.T) {
	cfg := testConfig()

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := &fakeNotificationStore{job: completedWebhookJob(t, server.URL)}
	consumer := newTestWebhookConsumer(cfg, store)

	if err := consumer.Deliver(context.Background(), store.job.ID); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if !store.delivered {
		t.Fatal("delivery flag not set")
	}
	if len(store.attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(store.attempts))
	}
	if store.attempts[0].StatusCode != 500 || store.attempts[2].StatusCode != 200 {
		t.Fatalf("attempt codes = %+v", store.attempts)
	}
}

// TestWebhookDeliveryGivesUpAfterBudget checks the bounded attempt
// budget for an endpoint that never recovers.
func TestWebhookDeliveryGivesUpAfterBudget(t *testing.T) {
	cfg := testConfig()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	store := &fakeNotificationStore{job: completedWebhookJob(t, server.URL)}
	consumer := newTestWebhookConsumer(cfg, store)

	if err := consumer.Deliver(context.Background(), store.job.ID); err == nil {
		t.Fatal("deliver succeeded against a dead endpoint")
	}

	if store.delivered {
		t.Fatal("delivery flag set despite failures")
	}
	if len(store.attempts) != cfg.Webhook.MaxAttempts {
		t.Fatalf("attempts = %d, want %d", len(store.attempts), cfg.Webhook.MaxAttempts)
	}
}

// TestWebhookDeliverySkipsJobsWithoutURL checks that jobs submitted
// without a callback are a no-op for the dispatcher.
func TestWebhookDeliverySkipsJobsWithoutURL(t *testing.T) {
	cfg := testConfig()

	job := completedWebhookJob(t, "")
	store := &fakeNotificationStore{job: job}
	consumer := newTestWebhookConsumer(cfg, store)

	if err := consumer.Deliver(context.Background(), job.ID); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(store.attempts) != 0 {
		t.Fatalf("attempts = %d, want 0", len(store.attempts))
	}
}

// TestWebhookDeliveryIdempotent checks that a duplicate event for an
// already delivered job does not POST again.
func TestWebhookDeliveryIdempotent(t *testing.T) {
	cfg := testConfig()

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := &fakeNotificationStore{job: completedWebhookJob(t, server.URL)}
	consumer := newTestWebhookConsumer(cfg, store)

	if err := consumer.Deliver(context.Background(), store.job.ID); err != nil {
		t.Fatalf("first deliver: %v", err)
	}
	if err := consumer.Deliver(context.Background(), store.job.ID); err != nil {
		t.Fatalf("second deliver: %v", err)
	}
	if calls != 1 {
		t.Fatalf("endpoint calls = %d, want 1", calls)
	}
}

// TestWebhookFailurePayloadCarriesError checks the failed-status body.
func TestWebhookFailurePayloadCarriesError(t *testing.T) {
	cfg := testConfig()

	got := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	job := completedWebhookJob(t, server.URL)
	job.Status = entity.JobStatusFailed
	job.Result = nil
	job.ErrorMessage = "gpu oom"
	store := &fakeNotificationStore{job: job}
	consumer := newTestWebhookConsumer(cfg, store)

	if err := consumer.Deliver(context.Background(), job.ID); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(<-got, &payload); err != nil {
		t.Fatalf("payload unmarshal: %v", err)
	}
	if payload["status"] != "failed" {
		t.Fatalf("payload status = %v, want failed", payload["status"])
	}
	if payload["error"] != "gpu oom" {
		t.Fatalf("payload error = %v, want gpu oom", payload["error"])
	}
	if _, ok := payload["result"]; ok {
		t.Fatal("failed payload carries a result")
	}
}
