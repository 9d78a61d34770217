package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waiterbildung/course-advisor/internal/data"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
	"github.com/waiterbildung/course-advisor/internal/observability/notify"
	"github.com/waiterbildung/course-advisor/internal/service/failurenotifier"
)

type captureSink struct {
	mu       sync.Mutex
	payloads []notify.JobFailurePayload
}

func (c *captureSink) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *captureSink) all() []notify.JobFailurePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.JobFailurePayload(nil), c.payloads...)
}

func jobServiceWithNotifier(t *testing.T, repo *stubJobRepo, sink *captureSink) *JobService {
	t.Helper()
	svc, err := NewJobService(JobServiceOptions{
		Repo:         repo,
		DefaultLease: time.Minute,
		Logger:       slog.Default(),
		Notifier:     stubNotifier{},
		FailureNotifier: failurenotifier.NewService(failurenotifier.Options{
			Sinks: []failurenotifier.SinkRegistration{{Name: "capture", Sink: sink}},
		}),
	})
	require.NoError(t, err)
	return svc
}

func createScrapeJob(t *testing.T, svc *JobService, targetID string) *model.Job {
	t.Helper()
	payload, err := json.Marshal(model.ScrapeJobPayload{TargetID: targetID})
	require.NoError(t, err)
	job, err := svc.Create(context.Background(), &model.CreateJobRequest{
		Type:       model.JobTypeScrape,
		Payload:    payload,
		Priority:   50,
		MaxRetries: 3,
	})
	require.NoError(t, err)
	return job
}

func TestJobServiceFail(t *testing.T) {
	ctx := context.Background()

	t.Run("retriable failure stays quiet", func(t *testing.T) {
		repo := newStubJobRepo()
		sink := &captureSink{}
		svc := jobServiceWithNotifier(t, repo, sink)
		job := createScrapeJob(t, svc, "t1")

		terminal, err := svc.Fail(ctx, job.ID, "fetch timed out")
		require.NoError(t, err)
		assert.False(t, terminal)
		assert.Empty(t, sink.all())
	})

	t.Run("terminal failure fans out with job context", func(t *testing.T) {
		repo := newStubJobRepo()
		repo.failTerminal = true
		sink := &captureSink{}
		svc := jobServiceWithNotifier(t, repo, sink)
		job := createScrapeJob(t, svc, "t1")

		terminal, err := svc.FailWithDetails(ctx, job.ID, "fetch timed out", JobFailureDetails{
			ErrorClass: "transient_network",
		})
		require.NoError(t, err)
		assert.True(t, terminal)

		payloads := sink.all()
		require.Len(t, payloads, 1)
		assert.Equal(t, job.ID, payloads[0].JobID)
		assert.Equal(t, "scrape", payloads[0].JobType)
		assert.Equal(t, "t1", payloads[0].TargetID)
		assert.Equal(t, "fetch timed out", payloads[0].Error)
		assert.Equal(t, notify.SeverityCritical, payloads[0].Severity)
		assert.Equal(t, "transient_network", payloads[0].Metadata["error_class"])
		assert.Equal(t, "3", payloads[0].Metadata["max_retries"])
	})

	t.Run("empty error message is rejected", func(t *testing.T) {
		repo := newStubJobRepo()
		svc := newTestJobService(t, repo)

		_, err := svc.Fail(ctx, "job-1", "")
		require.Error(t, err)
		assert.Empty(t, repo.failed)
	})
}

func TestJobServiceDiscard(t *testing.T) {
	ctx := context.Background()

	t.Run("discards permanently invalid work", func(t *testing.T) {
		repo := newStubJobRepo()
		svc := newTestJobService(t, repo)
		job := createScrapeJob(t, svc, "t1")

		discarded, err := svc.Discard(ctx, job.ID, "unknown target")
		require.NoError(t, err)
		assert.True(t, discarded)
		assert.Equal(t, []string{job.ID}, repo.discarded)
		assert.Empty(t, repo.failed)
	})

	t.Run("empty error message is rejected", func(t *testing.T) {
		repo := newStubJobRepo()
		svc := newTestJobService(t, repo)

		_, err := svc.Discard(ctx, "job-1", "")
		require.Error(t, err)
		assert.Empty(t, repo.discarded)
	})
}

func TestJobServiceCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("pending job is cancelled", func(t *testing.T) {
		repo := newStubJobRepo()
		svc := newTestJobService(t, repo)
		job := createScrapeJob(t, svc, "t1")

		require.NoError(t, svc.Cancel(ctx, job.ID))
		assert.Equal(t, []string{job.ID}, repo.cancelled)

		_, err := svc.GetByID(ctx, job.ID)
		assert.ErrorIs(t, err, data.ErrJobNotFound)
	})

	t.Run("non-pending job surfaces the repo refusal", func(t *testing.T) {
		repo := newStubJobRepo()
		svc := newTestJobService(t, repo)
		job := createScrapeJob(t, svc, "t1")
		repo.jobs[job.ID].Status = model.JobStatusRunning

		err := svc.Cancel(ctx, job.ID)
		assert.ErrorIs(t, err, data.ErrJobNotCancellable)
		assert.Empty(t, repo.cancelled)
	})
}

func TestJobServiceReserveNext(t *testing.T) {
	ctx := context.Background()

	t.Run("passes whole-second leases through", func(t *testing.T) {
		repo := newStubJobRepo()
		svc := newTestJobService(t, repo)

		_, err := svc.ReserveNext(ctx, model.JobTypeScrape, 90*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 90, repo.lastLeaseSeconds)
	})

	t.Run("clamps sub-second leases to one second", func(t *testing.T) {
		repo := newStubJobRepo()
		svc := newTestJobService(t, repo)

		_, err := svc.ReserveNext(ctx, model.JobTypeScrape, 200*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, 1, repo.lastLeaseSeconds)
	})

	t.Run("zero lease falls back to the default", func(t *testing.T) {
		repo := newStubJobRepo()
		svc := newTestJobService(t, repo)

		_, err := svc.ReserveNext(ctx, model.JobTypeScrape, 0)
		require.NoError(t, err)
		assert.Equal(t, 60, repo.lastLeaseSeconds)
	})
}

func TestJobServiceCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects malformed payloads", func(t *testing.T) {
		repo := newStubJobRepo()
		svc := newTestJobService(t, repo)

		_, err := svc.Create(ctx, &model.CreateJobRequest{
			Type:    model.JobTypeScrape,
			Payload: json.RawMessage(`{"target_id":""}`),
		})
		require.Error(t, err)
		assert.Empty(t, repo.created)
	})
}
