package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/scribe-rabbit/scribe-orchestrator/entity"
	"github.com/scribe-rabbit/scribe-orchestrator/infra"
	"gorm.io/datatypes"
)

func (s *fakeStore) requestCancel(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].CancelRequested = true
}

func (s *fakeStore) expireLease(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	past := time.Now().Add(-time.Minute)
	s.jobs[id].LeaseExpiresAt = &past
}

func newTestTranscriptionConsumer(store *fakeStore, jobs *fakeJobPublisher, notify *fakeWebhookPublisher, transcriber *fakeTranscriber) *TranscriptionConsumer {
	cfg := testConfig()
	return &TranscriptionConsumer{
		executor: testExecutor(cfg, store, jobs, notify),
		models: NewModelCache(1<<30, func(ctx context.Context, engine, model string) (infra.Transcriber, error) {
			return transcriber, nil
		}),
		storage: fakePresigner{},
	}
}

// TestRunJobCompletesAndNotifies checks the happy path: claim, progress,
// terminal complete and a completion webhook event.
func TestRunJobCompletesAndNotifies(t *testing.T) {
	store := newFakeStore()
	jobs := &fakeJobPublisher{}
	notify := &fakeWebhookPublisher{}
	consumer := newTestTranscriptionConsumer(store, jobs, notify, &fakeTranscriber{size: 100, text: "hello world"})

	job := testJob(entity.JobKindTranscription, entity.JobParameters{
		SourceURL: "https://example.com/audio.mp3",
		Engine:    "faster-whisper",
		Model:     "ivrit-ai/whisper-large-v3-turbo-ct2",
		Language:  "he",
	})
	store.put(job)

	claimed, err := store.Claim(job.ID, "worker-test", time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("claim failed: job=%v err=%v", claimed, err)
	}
	consumer.runJob(context.Background(), claimed)

	final := store.get(job.ID)
	if final.Status != entity.JobStatusCompleted {
		t.Fatalf("status = %q, want completed", final.Status)
	}
	if final.Progress != 100 {
		t.Fatalf("progress = %d, want 100", final.Progress)
	}

	var result map[string]any
	if err := json.Unmarshal(final.Result, &result); err != nil {
		t.Fatalf("result unmarshal: %v", err)
	}
	if result["text"] != "hello world" {
		t.Fatalf("result text = %v, want hello world", result["text"])
	}

	if len(notify.events) != 1 || notify.events[0].status != "completed" {
		t.Fatalf("notify events = %+v, want one completed event", notify.events)
	}
}

// TestRunJobRetriesTransientFailure checks that a transient failure with
// budget left moves the job back to pending and schedules a delayed
// redispatch instead of notifying.
func TestRunJobRetriesTransientFailure(t *testing.T) {
	store := newFakeStore()
	jobs := &fakeJobPublisher{}
	notify := &fakeWebhookPublisher{}
	transcriber := &fakeTranscriber{size: 100, err: infra.Transient(errors.New("gpu oom"))}
	consumer := newTestTranscriptionConsumer(store, jobs, notify, transcriber)

	job := testJob(entity.JobKindTranscription, entity.JobParameters{SourceURL: "https://example.com/a.mp3"})
	store.put(job)

	claimed, _ := store.Claim(job.ID, "worker-test", time.Minute)
	consumer.runJob(context.Background(), claimed)

	final := store.get(job.ID)
	if final.Status != entity.JobStatusPending {
		t.Fatalf("status = %q, want pending", final.Status)
	}
	if final.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", final.RetryCount)
	}
	if len(jobs.retries) != 1 {
		t.Fatalf("retry publishes = %d, want 1", len(jobs.retries))
	}
	if jobs.retries[0].delay != 5*time.Second {
		t.Fatalf("retry delay = %s, want 5s", jobs.retries[0].delay)
	}
	if len(notify.events) != 0 {
		t.Fatalf("notify events = %+v, want none on retry", notify.events)
	}
}

// TestRunJobFailsAfterRetryBudget checks that a transient failure with
// the budget spent lands in terminal failed and notifies.
func TestRunJobFailsAfterRetryBudget(t *testing.T) {
	store := newFakeStore()
	jobs := &fakeJobPublisher{}
	notify := &fakeWebhookPublisher{}
	transcriber := &fakeTranscriber{size: 100, err: infra.Transient(errors.New("gpu oom"))}
	consumer := newTestTranscriptionConsumer(store, jobs, notify, transcriber)

	job := testJob(entity.JobKindTranscription, entity.JobParameters{SourceURL: "https://example.com/a.mp3"})
	job.RetryCount = 3
	store.put(job)

	claimed, _ := store.Claim(job.ID, "worker-test", time.Minute)
	consumer.runJob(context.Background(), claimed)

	final := store.get(job.ID)
	if final.Status != entity.JobStatusFailed {
		t.Fatalf("status = %q, want failed", final.Status)
	}
	if final.ErrorMessage == "" {
		t.Fatal("error message not recorded")
	}
	if len(jobs.retries) != 0 {
		t.Fatalf("retry publishes = %d, want 0", len(jobs.retries))
	}
	if len(notify.events) != 1 || notify.events[0].status != "failed" {
		t.Fatalf("notify events = %+v, want one failed event", notify.events)
	}
}

// TestRunJobFailsPermanentErrorImmediately checks that a non-transient
// failure skips the retry edge even with budget left.
func TestRunJobFailsPermanentErrorImmediately(t *testing.T) {
	store := newFakeStore()
	jobs := &fakeJobPublisher{}
	notify := &fakeWebhookPublisher{}
	transcriber := &fakeTranscriber{size: 100, err: errors.New("unsupported audio codec")}
	consumer := newTestTranscriptionConsumer(store, jobs, notify, transcriber)

	job := testJob(entity.JobKindTranscription, entity.JobParameters{SourceURL: "https://example.com/a.mp3"})
	store.put(job)

	claimed, _ := store.Claim(job.ID, "worker-test", time.Minute)
	consumer.runJob(context.Background(), claimed)

	final := store.get(job.ID)
	if final.Status != entity.JobStatusFailed {
		t.Fatalf("status = %q, want failed", final.Status)
	}
	if final.RetryCount != 0 {
		t.Fatalf("retry count = %d, want 0", final.RetryCount)
	}
	if len(jobs.retries) != 0 {
		t.Fatalf("retry publishes = %d, want 0", len(jobs.retries))
	}
}

// TestRunJobObservesCancelAtCheckpoint checks cooperative cancellation:
// the cancel flag set mid-flight lands the job in cancelled without a
// webhook event.
func TestRunJobObservesCancelAtCheckpoint(t *testing.T) {
	store := newFakeStore()
	jobs := &fakeJobPublisher{}
	notify := &fakeWebhookPublisher{}
	consumer := newTestTranscriptionConsumer(store, jobs, notify, &fakeTranscriber{size: 100, text: "ignored"})

	job := testJob(entity.JobKindTranscription, entity.JobParameters{SourceURL: "https://example.com/a.mp3"})
	store.put(job)

	claimed, _ := store.Claim(job.ID, "worker-test", time.Minute)
	store.requestCancel(job.ID)
	consumer.runJob(context.Background(), claimed)

	final := store.get(job.ID)
	if final.Status != entity.JobStatusCancelled {
		t.Fatalf("status = %q, want cancelled", final.Status)
	}
	if len(notify.events) != 0 {
		t.Fatalf("notify events = %+v, want none for cancellation", notify.events)
	}
}

// TestClaimAdmitsExactlyOneWorker races many claimers for the same job.
func TestClaimAdmitsExactlyOneWorker(t *testing.T) {
	store := newFakeStore()
	job := testJob(entity.JobKindTranscription, entity.JobParameters{SourceURL: "https://example.com/a.mp3"})
	store.put(job)

	const workers = 16
	var wg sync.WaitGroup
	winners := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			owner := string(rune('a' + n))
			claimed, err := store.Claim(job.ID, owner, time.Minute)
			if err != nil {
				t.Errorf("claim error: %v", err)
				return
			}
			if claimed != nil {
				winners <- owner
			}
		}(i)
	}
	wg.Wait()
	close(winners)

	var count int
	for range winners {
		count++
	}
	if count != 1 {
		t.Fatalf("claim winners = %d, want exactly 1", count)
	}
}

// TestStaleWriterIsDiscarded checks that a worker whose lease expired
// and was reclaimed cannot overwrite the new owner's job.
func TestStaleWriterIsDiscarded(t *testing.T) {
	store := newFakeStore()
	jobs := &fakeJobPublisher{}
	notify := &fakeWebhookPublisher{}
	ex := testExecutor(testConfig(), store, jobs, notify)

	job := testJob(entity.JobKindTranscription, entity.JobParameters{SourceURL: "https://example.com/a.mp3"})
	store.put(job)

	claimed, _ := store.Claim(job.ID, "worker-test", time.Minute)
	store.expireLease(job.ID)
	if reclaimed, _ := store.Claim(job.ID, "worker-other", time.Minute); reclaimed == nil {
		t.Fatal("expired lease was not reclaimable")
	}

	ex.finishSuccess(context.Background(), claimed, datatypes.JSON(`{"text":"stale"}`))

	final := store.get(job.ID)
	if final.Status != entity.JobStatusProcessing {
		t.Fatalf("status = %q, want processing under new owner", final.Status)
	}
	if final.LeaseOwner != "worker-other" {
		t.Fatalf("lease owner = %q, want worker-other", final.LeaseOwner)
	}
	if len(notify.events) != 0 {
		t.Fatalf("notify events = %+v, want none from stale writer", notify.events)
	}
}

// TestRetryDelayBackoff checks the exponential curve and its cap.
func TestRetryDelayBackoff(t *testing.T) {
	base := 5 * time.Second
	cap := 5 * time.Minute
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{7, 5 * time.Minute},
		{20, 5 * time.Minute},
	}
	for _, tc := range cases {
		if got := RetryDelay(tc.attempt, base, cap); got != tc.want {
			t.Fatalf("RetryDelay(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}
