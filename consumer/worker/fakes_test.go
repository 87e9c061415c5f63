package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scribe-rabbit/scribe-orchestrator/config"
	"github.com/scribe-rabbit/scribe-orchestrator/entity"
	"github.com/scribe-rabbit/scribe-orchestrator/infra"
	"github.com/scribe-rabbit/scribe-orchestrator/repository"
	"gorm.io/datatypes"
)

// fakeStore is an in-memory job store enforcing the same conditional
// semantics as the SQL repository: claims, lease ownership and the
// retry budget.
type fakeStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*entity.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[uuid.UUID]*entity.Job)}
}

func (s *fakeStore) put(job *entity.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
}

func (s *fakeStore) get(id uuid.UUID) entity.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *fakeStore) FindByID(id uuid.UUID) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeStore) Claim(id uuid.UUID, owner string, lease time.Duration) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	now := time.Now()
	expired := job.Status == entity.JobStatusProcessing &&
		job.LeaseExpiresAt != nil && job.LeaseExpiresAt.Before(now)
	if job.Status != entity.JobStatusPending && !expired {
		return nil, nil
	}
	expires := now.Add(lease)
	job.Status = entity.JobStatusProcessing
	job.LeaseOwner = owner
	job.LeaseExpiresAt = &expires
	job.StartedAt = &now
	job.Progress = 0
	copied := *job
	return &copied, nil
}

func (s *fakeStore) owns(job *entity.Job, owner string) bool {
	return job.Status == entity.JobStatusProcessing && job.LeaseOwner == owner
}

func (s *fakeStore) RenewLease(id uuid.UUID, owner string, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || !s.owns(job, owner) {
		return repository.ErrLeaseLost
	}
	expires := time.Now().Add(lease)
	job.LeaseExpiresAt = &expires
	return nil
}

func (s *fakeStore) UpdateProgress(id uuid.UUID, owner string, progress int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || !s.owns(job, owner) {
		return false, repository.ErrLeaseLost
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	return job.CancelRequested, nil
}

func (s *fakeStore) Complete(id uuid.UUID, owner string, result datatypes.JSON) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || !s.owns(job, owner) {
		return repository.ErrLeaseLost
	}
	now := time.Now()
	job.Status = entity.JobStatusCompleted
	job.Result = result
	job.Progress = 100
	job.LeaseOwner = ""
	job.LeaseExpiresAt = nil
	job.CompletedAt = &now
	return nil
}

func (s *fakeStore) Fail(id uuid.UUID, owner string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || !s.owns(job, owner) {
		return repository.ErrLeaseLost
	}
	now := time.Now()
	job.Status = entity.JobStatusFailed
	job.ErrorMessage = message
	job.LeaseOwner = ""
	job.LeaseExpiresAt = nil
	job.CompletedAt = &now
	return nil
}

func (s *fakeStore) MarkRetry(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != entity.JobStatusFailed || job.RetryCount >= job.MaxRetries {
		return repository.ErrInvalidTransition
	}
	job.Status = entity.JobStatusPending
	job.RetryCount++
	job.ErrorMessage = ""
	job.Progress = 0
	job.CompletedAt = nil
	job.EnqueuedAt = nil
	return nil
}

func (s *fakeStore) CancelProcessing(id uuid.UUID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || !s.owns(job, owner) {
		return repository.ErrLeaseLost
	}
	now := time.Now()
	job.Status = entity.JobStatusCancelled
	job.LeaseOwner = ""
	job.LeaseExpiresAt = nil
	job.CompletedAt = &now
	return nil
}

func (s *fakeStore) MarkEnqueued(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now()
	job.EnqueuedAt = &now
	return nil
}

func (s *fakeStore) FindUndispatched(grace, redispatchAfter time.Duration, limit int) ([]entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []entity.Job
	for _, job := range s.jobs {
		if job.Status != entity.JobStatusPending {
			continue
		}
		stranded := job.EnqueuedAt == nil && job.CreatedAt.Before(now.Add(-grace))
		stale := job.EnqueuedAt != nil && job.EnqueuedAt.Before(now.Add(-redispatchAfter))
		if stranded || stale {
			out = append(out, *job)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// publishedJob records one call to the job publisher.
type publishedJob struct {
	kind    string
	jobID   string
	attempt int
	delay   time.Duration
}

type fakeJobPublisher struct {
	mu      sync.Mutex
	pubs    []publishedJob
	retries []publishedJob
	err     error
}

func (p *fakeJobPublisher) PublishJob(ctx context.Context, kind, jobID string, attempt int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.pubs = append(p.pubs, publishedJob{kind: kind, jobID: jobID, attempt: attempt})
	return nil
}

func (p *fakeJobPublisher) PublishRetry(ctx context.Context, kind, jobID string, attempt int, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.retries = append(p.retries, publishedJob{kind: kind, jobID: jobID, attempt: attempt, delay: delay})
	return nil
}

type publishedEvent struct {
	jobID  string
	status string
}

type fakeWebhookPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakeWebhookPublisher) PublishWebhookEvent(ctx context.Context, jobID, status string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{jobID: jobID, status: status})
	return nil
}

// fakeTranscriber returns canned output and drives the progress hook.
type fakeTranscriber struct {
	size   int64
	text   string
	err    error
	closed bool
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req infra.TranscriptionRequest, progress func(int)) (*infra.TranscriptionResult, error) {
	if progress != nil {
		progress(50)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &infra.TranscriptionResult{Text: f.text, Language: req.Language, Duration: 1.5}, nil
}

func (f *fakeTranscriber) SizeBytes() int64 { return f.size }

func (f *fakeTranscriber) Close() error {
	f.closed = true
	return nil
}

type fakePresigner struct{}

func (fakePresigner) PresignAudioURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	return "https://storage.test/" + objectKey, nil
}

func testConfig() *config.EnvConfig {
	cfg := &config.EnvConfig{}
	cfg.Jobs.MaxRetries = 3
	cfg.Jobs.LeaseDuration = 2 * time.Minute
	cfg.Jobs.HeartbeatInterval = 40 * time.Second
	cfg.Jobs.RetryBackoffBase = 5 * time.Second
	cfg.Jobs.RetryBackoffCap = 5 * time.Minute
	cfg.Jobs.SweepInterval = 30 * time.Second
	cfg.Jobs.SweepGracePeriod = time.Minute
	cfg.Jobs.WorkerSlots = 2
	cfg.Webhook.Secret = "test-secret"
	cfg.Webhook.Timeout = 5 * time.Second
	cfg.Webhook.MaxAttempts = 3
	return cfg
}

func testExecutor(cfg *config.EnvConfig, store Store, jobs JobPublisher, notify WebhookPublisher) executor {
	return executor{
		cfg:    cfg,
		owner:  "worker-test",
		store:  store,
		jobs:   jobs,
		notify: notify,
		logger: infra.NewStdoutLogger(),
		obs:    infra.InitObservabilityClient(&config.EnvConfig{}),
	}
}

func testJob(kind entity.JobKind, params entity.JobParameters) *entity.Job {
	raw, err := paramsJSON(params)
	if err != nil {
		panic(err)
	}
	return &entity.Job{
		ID:         uuid.New(),
		Kind:       kind,
		Status:     entity.JobStatusPending,
		Parameters: raw,
		MaxRetries: 3,
		CreatedAt:  time.Now(),
	}
}

func paramsJSON(params entity.JobParameters) (datatypes.JSON, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return datatypes.JSON(raw), nil
}
