package jobrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waiterbildung/course-advisor/internal/core"
	"github.com/waiterbildung/course-advisor/internal/data"
	"github.com/waiterbildung/course-advisor/internal/domain"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

type fakeJobRepo struct {
	mu        sync.Mutex
	jobs      map[string]*model.Job
	completed []string
	failed    []string
	discarded []string
	seq       int
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*model.Job)}
}

func (r *fakeJobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	job := &model.Job{
		ID:         fmt.Sprintf("job-%d", r.seq),
		Type:       req.Type,
		Status:     model.JobStatusPending,
		Payload:    req.Payload,
		MaxRetries: req.MaxRetries,
	}
	r.jobs[job.ID] = job
	return job, nil
}

func (r *fakeJobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	return job, nil
}

func (r *fakeJobRepo) ReserveNext(ctx context.Context, jobType model.JobType, leaseSeconds int) (*model.Job, error) {
	return nil, model.ErrNoJobsAvailable
}

func (r *fakeJobRepo) WaitForNotification(ctx context.Context, jobType model.JobType) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *fakeJobRepo) Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error) {
	return true, nil
}

func (r *fakeJobRepo) Complete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, id)
	return true, nil
}

func (r *fakeJobRepo) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, id)
	return false, nil
}

func (r *fakeJobRepo) Discard(ctx context.Context, id, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discarded = append(r.discarded, id)
	return true, nil
}

func (r *fakeJobRepo) Cancel(ctx context.Context, id string) error {
	return nil
}

func (r *fakeJobRepo) Stats(ctx context.Context, jobType model.JobType) (*model.JobStats, error) {
	return &model.JobStats{}, nil
}

func (r *fakeJobRepo) RequeueExpired(ctx context.Context, jobType model.JobType, limit int) (int64, error) {
	return 0, nil
}

func (r *fakeJobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	return 0, nil
}

type fakeTargetRepo struct {
	targets map[string]*model.ScrapeTarget
}

func (r *fakeTargetRepo) Create(ctx context.Context, req *model.CreateTargetRequest) (*model.ScrapeTarget, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeTargetRepo) GetByID(ctx context.Context, id string) (*model.ScrapeTarget, error) {
	target, ok := r.targets[id]
	if !ok {
		return nil, data.ErrTargetNotFound
	}
	return target, nil
}

func (r *fakeTargetRepo) GetByName(ctx context.Context, name string) (*model.ScrapeTarget, error) {
	return nil, data.ErrTargetNotFound
}

func (r *fakeTargetRepo) List(ctx context.Context, limit, offset int) ([]*model.ScrapeTarget, error) {
	return nil, nil
}

func (r *fakeTargetRepo) Update(ctx context.Context, id string, req model.UpdateTargetRequest) (*model.ScrapeTarget, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeTargetRepo) Delete(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func (r *fakeTargetRepo) FindDueAndMarkQueued(ctx context.Context, limit int) ([]*model.ScrapeTarget, error) {
	return nil, nil
}

type fakeCourseRepo struct {
	mu         sync.Mutex
	courses    map[string]*model.CourseRecord
	embeddings map[string][]float64
}

func newFakeCourseRepo() *fakeCourseRepo {
	return &fakeCourseRepo{
		courses:    make(map[string]*model.CourseRecord),
		embeddings: make(map[string][]float64),
	}
}

func (r *fakeCourseRepo) Upsert(ctx context.Context, rec *model.CourseRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *rec
	r.courses[rec.CanonicalID] = &stored
	return true, nil
}

func (r *fakeCourseRepo) GetByCanonicalID(ctx context.Context, canonicalID string) (*model.CourseRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.courses[canonicalID]
	if !ok {
		return nil, data.ErrCourseNotFound
	}
	return rec, nil
}

func (r *fakeCourseRepo) List(ctx context.Context, limit, offset int) ([]*model.CourseRecord, error) {
	return nil, nil
}

func (r *fakeCourseRepo) Delete(ctx context.Context, canonicalID string) (bool, error) {
	return false, nil
}

func (r *fakeCourseRepo) Count(ctx context.Context) (int, error) {
	return len(r.courses), nil
}

func (r *fakeCourseRepo) SetEmbedding(ctx context.Context, canonicalID string, embedding []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[canonicalID] = embedding
	return nil
}

func (r *fakeCourseRepo) Candidates(ctx context.Context, topicTags []string, limit int) ([]model.CourseRecord, error) {
	return nil, nil
}

type fakeScraper struct {
	outcome *model.ScrapeOutcome
	err     error
}

func (s *fakeScraper) Run(ctx context.Context, target *model.ScrapeTarget) (*model.ScrapeOutcome, error) {
	return s.outcome, s.err
}

type fakeProvider struct{}

func (fakeProvider) Name() string    { return "fake" }
func (fakeProvider) Dimensions() int { return 2 }
func (fakeProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	return []float64{1, 0}, nil
}

type fakeSender struct {
	mu       sync.Mutex
	payloads []model.NotifyJobPayload
	err      error
}

func (s *fakeSender) Send(ctx context.Context, payload model.NotifyJobPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return s.err
}

type runnerFixture struct {
	runner  *Runner
	repo    *fakeJobRepo
	targets *fakeTargetRepo
	courses *fakeCourseRepo
	scraper *fakeScraper
	sender  *fakeSender
}

func newRunnerFixture(t *testing.T, jobType model.JobType) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		repo:    newFakeJobRepo(),
		targets: &fakeTargetRepo{targets: make(map[string]*model.ScrapeTarget)},
		courses: newFakeCourseRepo(),
		scraper: &fakeScraper{outcome: &model.ScrapeOutcome{PagesSucceeded: 1}},
		sender:  &fakeSender{},
	}

	runner, err := NewRunner(RunnerOptions{
		JobsRepo:          f.repo,
		TargetsRepo:       f.targets,
		CoursesRepo:       f.courses,
		Scraper:           f.scraper,
		EmbeddingProvider: fakeProvider{},
		Notifications:     f.sender,
		JobType:           jobType,
		Lease:             time.Minute,
	})
	require.NoError(t, err)
	f.runner = runner
	return f
}

func (f *runnerFixture) job(t *testing.T, jobType model.JobType, payload any) *model.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	job, err := f.repo.Create(context.Background(), &model.CreateJobRequest{
		Type:    jobType,
		Payload: raw,
	})
	require.NoError(t, err)
	return job
}

func TestRunnerProcessJob(t *testing.T) {
	ctx := context.Background()

	t.Run("scrape job completes on success", func(t *testing.T) {
		f := newRunnerFixture(t, model.JobTypeScrape)
		f.targets.targets["t1"] = &model.ScrapeTarget{ID: "t1", Name: "uni", Enabled: true}
		job := f.job(t, model.JobTypeScrape, model.ScrapeJobPayload{TargetID: "t1"})

		f.runner.processJob(ctx, job)

		assert.Equal(t, []string{job.ID}, f.repo.completed)
		assert.Empty(t, f.repo.failed)
	})

	t.Run("malformed payload is discarded", func(t *testing.T) {
		f := newRunnerFixture(t, model.JobTypeScrape)
		job := &model.Job{ID: "job-x", Type: model.JobTypeScrape, Payload: json.RawMessage(`{`)}

		f.runner.processJob(ctx, job)

		assert.Equal(t, []string{"job-x"}, f.repo.discarded)
		assert.Empty(t, f.repo.failed)
	})

	t.Run("unknown target is discarded not retried", func(t *testing.T) {
		f := newRunnerFixture(t, model.JobTypeScrape)
		job := f.job(t, model.JobTypeScrape, model.ScrapeJobPayload{TargetID: "ghost"})

		f.runner.processJob(ctx, job)

		assert.Equal(t, []string{job.ID}, f.repo.discarded)
		assert.Empty(t, f.repo.failed)
	})

	t.Run("transient scrape failure goes through retry policy", func(t *testing.T) {
		f := newRunnerFixture(t, model.JobTypeScrape)
		f.targets.targets["t1"] = &model.ScrapeTarget{ID: "t1", Name: "uni", Enabled: true}
		f.scraper.err = &domain.TransientNetworkError{URL: "https://uni.example", Err: errors.New("timeout")}
		job := f.job(t, model.JobTypeScrape, model.ScrapeJobPayload{TargetID: "t1"})

		f.runner.processJob(ctx, job)

		assert.Equal(t, []string{job.ID}, f.repo.failed)
		assert.Empty(t, f.repo.discarded)
		assert.Empty(t, f.repo.completed)
	})

	t.Run("embed job stores the vector", func(t *testing.T) {
		f := newRunnerFixture(t, model.JobTypeEmbed)
		f.courses.courses["c1"] = &model.CourseRecord{CanonicalID: "c1", Title: "Applied Statistics"}
		job := f.job(t, model.JobTypeEmbed, model.EmbedJobPayload{CanonicalID: "c1"})

		f.runner.processJob(ctx, job)

		assert.Equal(t, []string{job.ID}, f.repo.completed)
		assert.Equal(t, []float64{1, 0}, f.courses.embeddings["c1"])
	})

	t.Run("notify job reaches the sender", func(t *testing.T) {
		f := newRunnerFixture(t, model.JobTypeNotify)
		job := f.job(t, model.JobTypeNotify, model.NotifyJobPayload{
			TemplateID: "profile-complete",
			Recipient:  "s1",
		})

		f.runner.processJob(ctx, job)

		require.Len(t, f.sender.payloads, 1)
		assert.Equal(t, "profile-complete", f.sender.payloads[0].TemplateID)
		assert.Equal(t, []string{job.ID}, f.repo.completed)
	})

	t.Run("rejected notification payload is discarded", func(t *testing.T) {
		f := newRunnerFixture(t, model.JobTypeNotify)
		f.sender.err = &domain.ValidationError{Field: "payload", Reason: "endpoint rejected"}
		job := f.job(t, model.JobTypeNotify, model.NotifyJobPayload{TemplateID: "profile-complete"})

		f.runner.processJob(ctx, job)

		assert.Equal(t, []string{job.ID}, f.repo.discarded)
		assert.Empty(t, f.repo.failed)
	})

	t.Run("missing sender drops the notification and completes", func(t *testing.T) {
		f := newRunnerFixture(t, model.JobTypeNotify)
		f.runner.notifications = nil
		job := f.job(t, model.JobTypeNotify, model.NotifyJobPayload{TemplateID: "profile-complete"})

		f.runner.processJob(ctx, job)

		assert.Equal(t, []string{job.ID}, f.repo.completed)
	})
}

func TestRunnerStopsOnCancel(t *testing.T) {
	f := newRunnerFixture(t, model.JobTypeScrape)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}
