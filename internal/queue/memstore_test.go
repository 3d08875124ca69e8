package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/domain"
)

// memStore is an in-memory JobStore with the same guard semantics as the
// Postgres repository.
type memStore struct {
	mu      sync.Mutex
	jobs    map[string]*domain.ResearchJob
	results map[string]*domain.ResearchResult
	sources map[string][]domain.Source
	seq     int

	failOn map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		jobs:    make(map[string]*domain.ResearchJob),
		results: make(map[string]*domain.ResearchResult),
		sources: make(map[string][]domain.Source),
		failOn:  make(map[string]error),
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) injected(op string) error {
	return m.failOn[op]
}

func (m *memStore) CreateJob(_ context.Context, spec domain.JobSpec) (*domain.ResearchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("CreateJob"); err != nil {
		return nil, err
	}
	job := domain.NewResearchJob(m.nextID("job"), spec, time.Now().UTC().Add(time.Duration(m.seq)*time.Millisecond))
	m.jobs[job.ID] = job
	clone := *job
	return &clone, nil
}

func (m *memStore) GetJob(_ context.Context, id string) (*domain.ResearchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("GetJob"); err != nil {
		return nil, err
	}
	job, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	clone := *job
	clone.StageProgress = make(map[domain.Stage]int, len(job.StageProgress))
	for k, v := range job.StageProgress {
		clone.StageProgress[k] = v
	}
	clone.QueryDecomposition = append([]string(nil), job.QueryDecomposition...)
	return &clone, nil
}

func (m *memStore) guarded(id string) (*domain.ResearchJob, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.IsTerminal() {
		return nil, domain.ErrJobTerminal
	}
	return job, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id string, status domain.JobStatus, extra domain.StatusExtra) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("UpdateStatus:" + string(status)); err != nil {
		return err
	}
	job, err := m.guarded(id)
	if err != nil {
		return err
	}
	if err := job.Transition(status, time.Now().UTC()); err != nil {
		return err
	}
	if extra.Stage != "" {
		job.CurrentStage = extra.Stage
	}
	if extra.ErrorMessage != "" {
		job.ErrorMessage = extra.ErrorMessage
	}
	return nil
}

func (m *memStore) UpdateStageProgress(_ context.Context, id string, stage domain.Stage, pct int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.guarded(id)
	if err != nil {
		return err
	}
	return job.SetStageProgress(stage, pct)
}

func (m *memStore) SetQueryDecomposition(_ context.Context, id string, subQuestions []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.guarded(id)
	if err != nil {
		return err
	}
	job.QueryDecomposition = append([]string(nil), subQuestions...)
	return nil
}

func (m *memStore) FailJob(_ context.Context, id string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.guarded(id)
	if err != nil {
		return err
	}
	if err := job.Transition(domain.JobStatusFailed, time.Now().UTC()); err != nil {
		return err
	}
	job.ErrorMessage = message
	return nil
}

func (m *memStore) CompleteWithResult(_ context.Context, result *domain.ResearchResult, in domain.CompletionInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("CompleteWithResult"); err != nil {
		return "", err
	}
	job, err := m.guarded(result.JobID)
	if err != nil {
		return "", err
	}
	if err := job.Transition(domain.JobStatusCompleted, time.Now().UTC()); err != nil {
		return "", err
	}
	clone := *result
	clone.ID = m.nextID("result")
	m.results[clone.JobID] = &clone

	job.ResultID = clone.ID
	job.ConfidenceScore = in.ConfidenceScore
	job.SourceCount = in.SourceCount
	job.ClaimCount = in.ClaimCount
	job.HasContradictions = in.HasContradictions
	return clone.ID, nil
}

func (m *memStore) AddSource(_ context.Context, source *domain.Source) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("AddSource"); err != nil {
		return "", err
	}
	id := source.ID
	if id == "" {
		id = m.nextID("source")
	}
	clone := *source
	clone.ID = id
	m.sources[source.JobID] = append(m.sources[source.JobID], clone)
	return id, nil
}

func (m *memStore) GetQueueSummary(_ context.Context) (map[domain.JobStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.JobStatus]int, len(domain.AllJobStatuses))
	for _, status := range domain.AllJobStatuses {
		counts[status] = 0
	}
	for _, job := range m.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (m *memStore) ListByStatus(_ context.Context, status domain.JobStatus, limit int) ([]*domain.ResearchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ResearchJob
	for _, job := range m.jobs {
		if job.Status == status {
			clone := *job
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ExpireStale(_ context.Context, olderThan time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, job := range m.jobs {
		if !job.IsTerminal() && job.UpdatedAt.Before(olderThan) {
			_ = job.Transition(domain.JobStatusExpired, time.Now().UTC())
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStore) job(id string) domain.ResearchJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memStore) result(jobID string) *domain.ResearchResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[jobID]
}

// insert adds a job directly, bypassing CreateJob.
func (m *memStore) insert(job *domain.ResearchJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
}
