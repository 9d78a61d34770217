package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redisstore "github.com/waiterbildung/course-advisor/internal/adapters/redis"
	"github.com/waiterbildung/course-advisor/internal/core"
	"github.com/waiterbildung/course-advisor/internal/data"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

// Hand-written stubs for the repository and store interfaces. Each stub keeps
// the minimal in-memory state the service tests need and records calls so a
// test can assert on what the service did.

type stubJobRepo struct {
	mu sync.Mutex

	created      []*model.Job
	jobs         map[string]*model.Job
	stats        model.JobStats
	statsErr     error
	failTerminal bool

	completed        []string
	failed           []string
	discarded        []string
	cancelled        []string
	lastLeaseSeconds int
	deleteBatches    []int64
	deleteCalls      []core.DeleteOldJobsParams
	seq              int
}

func newStubJobRepo() *stubJobRepo {
	return &stubJobRepo{jobs: make(map[string]*model.Job)}
}

func (r *stubJobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	now := time.Now()
	job := &model.Job{
		ID:          fmt.Sprintf("job-%d", r.seq),
		Type:        req.Type,
		Status:      model.JobStatusPending,
		Priority:    req.Priority,
		Payload:     req.Payload,
		ScheduledAt: now,
		MaxRetries:  req.MaxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.jobs[job.ID] = job
	r.created = append(r.created, job)
	return job, nil
}

func (r *stubJobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	return job, nil
}

func (r *stubJobRepo) ReserveNext(ctx context.Context, jobType model.JobType, leaseSeconds int) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastLeaseSeconds = leaseSeconds
	return nil, nil
}

func (r *stubJobRepo) WaitForNotification(ctx context.Context, jobType model.JobType) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *stubJobRepo) Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error) {
	return true, nil
}

func (r *stubJobRepo) Complete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, id)
	return true, nil
}

func (r *stubJobRepo) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, id)
	return r.failTerminal, nil
}

func (r *stubJobRepo) Discard(ctx context.Context, id, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discarded = append(r.discarded, id)
	return true, nil
}

func (r *stubJobRepo) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return data.ErrJobNotFound
	}
	if job.Status != model.JobStatusPending {
		return data.ErrJobNotCancellable
	}
	delete(r.jobs, id)
	r.cancelled = append(r.cancelled, id)
	return nil
}

func (r *stubJobRepo) Stats(ctx context.Context, jobType model.JobType) (*model.JobStats, error) {
	if r.statsErr != nil {
		return nil, r.statsErr
	}
	stats := r.stats
	return &stats, nil
}

func (r *stubJobRepo) RequeueExpired(ctx context.Context, jobType model.JobType, limit int) (int64, error) {
	return 0, nil
}

func (r *stubJobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteCalls = append(r.deleteCalls, params)
	if len(r.deleteBatches) == 0 {
		return 0, nil
	}
	count := r.deleteBatches[0]
	r.deleteBatches = r.deleteBatches[1:]
	return count, nil
}

func (r *stubJobRepo) createdOfType(jobType model.JobType) []*model.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Job
	for _, job := range r.created {
		if job.Type == jobType {
			out = append(out, job)
		}
	}
	return out
}

// stubNotifier satisfies the job notifier interface without goroutines so
// service tests never race shutdown.
type stubNotifier struct{}

func (stubNotifier) Subscribe(jobType model.JobType) (func(), <-chan struct{}) {
	ch := make(chan struct{})
	close(ch)
	return func() {}, ch
}

func (stubNotifier) StopAll() {}

type stubTargetRepo struct {
	mu       sync.Mutex
	targets  map[string]*model.ScrapeTarget
	due      []*model.ScrapeTarget
	dueErr   error
	dueCalls int
}

func newStubTargetRepo(targets ...*model.ScrapeTarget) *stubTargetRepo {
	repo := &stubTargetRepo{targets: make(map[string]*model.ScrapeTarget)}
	for _, t := range targets {
		repo.targets[t.ID] = t
	}
	return repo
}

func (r *stubTargetRepo) Create(ctx context.Context, req *model.CreateTargetRequest) (*model.ScrapeTarget, error) {
	return nil, fmt.Errorf("not implemented")
}

func (r *stubTargetRepo) GetByID(ctx context.Context, id string) (*model.ScrapeTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.targets[id]
	if !ok {
		return nil, data.ErrTargetNotFound
	}
	return target, nil
}

func (r *stubTargetRepo) GetByName(ctx context.Context, name string) (*model.ScrapeTarget, error) {
	return nil, data.ErrTargetNotFound
}

func (r *stubTargetRepo) List(ctx context.Context, limit, offset int) ([]*model.ScrapeTarget, error) {
	return nil, nil
}

func (r *stubTargetRepo) Update(ctx context.Context, id string, req model.UpdateTargetRequest) (*model.ScrapeTarget, error) {
	return nil, fmt.Errorf("not implemented")
}

func (r *stubTargetRepo) Delete(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func (r *stubTargetRepo) FindDueAndMarkQueued(ctx context.Context, limit int) ([]*model.ScrapeTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dueCalls++
	if r.dueErr != nil {
		return nil, r.dueErr
	}
	due := r.due
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	r.due = nil
	return due, nil
}

type stubCourseRepo struct {
	mu      sync.Mutex
	courses map[string]*model.CourseRecord

	// needsEmbed decides the Upsert return per record; nil means always true.
	needsEmbed   func(rec *model.CourseRecord) bool
	upserted     []model.CourseRecord
	embeddings   map[string][]float64
	candidateErr error
}

func newStubCourseRepo(records ...*model.CourseRecord) *stubCourseRepo {
	repo := &stubCourseRepo{
		courses:    make(map[string]*model.CourseRecord),
		embeddings: make(map[string][]float64),
	}
	for _, rec := range records {
		repo.courses[rec.CanonicalID] = rec
	}
	return repo
}

func (r *stubCourseRepo) Upsert(ctx context.Context, rec *model.CourseRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *rec
	r.courses[rec.CanonicalID] = &stored
	r.upserted = append(r.upserted, stored)
	if r.needsEmbed != nil {
		return r.needsEmbed(rec), nil
	}
	return true, nil
}

func (r *stubCourseRepo) GetByCanonicalID(ctx context.Context, canonicalID string) (*model.CourseRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.courses[canonicalID]
	if !ok {
		return nil, data.ErrCourseNotFound
	}
	return rec, nil
}

func (r *stubCourseRepo) List(ctx context.Context, limit, offset int) ([]*model.CourseRecord, error) {
	return nil, nil
}

func (r *stubCourseRepo) Delete(ctx context.Context, canonicalID string) (bool, error) {
	return false, nil
}

func (r *stubCourseRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.courses), nil
}

func (r *stubCourseRepo) SetEmbedding(ctx context.Context, canonicalID string, embedding []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.courses[canonicalID]; !ok {
		return data.ErrCourseNotFound
	}
	r.embeddings[canonicalID] = embedding
	r.courses[canonicalID].Embedding = embedding
	return nil
}

func (r *stubCourseRepo) Candidates(ctx context.Context, topicTags []string, limit int) ([]model.CourseRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.candidateErr != nil {
		return nil, r.candidateErr
	}

	var out []model.CourseRecord
	for _, rec := range r.courses {
		if len(rec.Embedding) == 0 {
			continue
		}
		if len(topicTags) > 0 && !hasAnyTag(rec.TopicTags, topicTags) {
			continue
		}
		out = append(out, *rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func hasAnyTag(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}

type stubSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.ConversationSession
	saveErr  error
}

func newStubSessionStore() *stubSessionStore {
	return &stubSessionStore{sessions: make(map[string]*model.ConversationSession)}
}

func (s *stubSessionStore) Get(ctx context.Context, sessionID string) (*model.ConversationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, redisstore.ErrNotFound
	}
	clone := *session
	clone.Answers = append([]model.Answer(nil), session.Answers...)
	return &clone, nil
}

func (s *stubSessionStore) Save(ctx context.Context, session *model.ConversationSession) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *session
	clone.Answers = append([]model.Answer(nil), session.Answers...)
	s.sessions[session.ID] = &clone
	return nil
}

func (s *stubSessionStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

type stubScrapeRunner struct {
	outcome *model.ScrapeOutcome
	err     error
	runs    int
}

func (s *stubScrapeRunner) Run(ctx context.Context, target *model.ScrapeTarget) (*model.ScrapeOutcome, error) {
	s.runs++
	return s.outcome, s.err
}

// stubProvider returns a fixed-dimension vector derived from text length so
// results are deterministic without a real embedding backend.
type stubProvider struct {
	embedFn func(text string) []float64
	err     error
	calls   []string
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Dimensions() int { return 2 }

func (p *stubProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	p.calls = append(p.calls, text)
	if p.err != nil {
		return nil, p.err
	}
	if p.embedFn != nil {
		return p.embedFn(text), nil
	}
	return []float64{1, 0}, nil
}

type stubSink struct {
	mu      sync.Mutex
	counts  map[string]int64
	gauges  map[string]float64
	timings map[string]time.Duration
}

func newStubSink() *stubSink {
	return &stubSink{
		counts:  make(map[string]int64),
		gauges:  make(map[string]float64),
		timings: make(map[string]time.Duration),
	}
}

func (s *stubSink) Count(name string, value int64, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[name] += value
}

func (s *stubSink) Gauge(name string, value float64, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges[name] = value
}

func (s *stubSink) Timing(name string, value time.Duration, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timings[name] = value
}

func (s *stubSink) count(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[name]
}

// fixedTimeProvider pins Now so durations and timestamps are assertable.
type fixedTimeProvider struct {
	now time.Time
}

func (f *fixedTimeProvider) Now() time.Time { return f.now }

func (f *fixedTimeProvider) FormatForDB(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
