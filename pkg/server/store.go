package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/database"
)

// JobStore keeps job records and job logs. database.JobRepository is the
// Postgres implementation; MemoryStore is used when no database is configured.
type JobStore interface {
	CreateJob(ctx context.Context, job *database.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*database.Job, error)
	ListJobs(ctx context.Context, limit int) ([]database.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateProgress(ctx context.Context, id uuid.UUID, progress database.Progress) error
	CompleteJob(ctx context.Context, id uuid.UUID, report string) error
	FailJob(ctx context.Context, id uuid.UUID, reason string) error
	AppendLog(ctx context.Context, jobID uuid.UUID, entry database.LogEntry) error
	GetLogs(ctx context.Context, jobID uuid.UUID) ([]database.LogEntry, error)
}

var _ JobStore = (*database.JobRepository)(nil)

type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*database.Job
	logs map[uuid.UUID][]database.LogEntry
	seq  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*database.Job),
		logs: make(map[uuid.UUID][]database.LogEntry),
	}
}

func (m *MemoryStore) CreateJob(_ context.Context, job *database.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	job.CreatedAt, job.UpdatedAt = now, now
	stored := *job
	m.jobs[job.ID] = &stored
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*database.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, database.ErrJobNotFound
	}
	out := copyJob(job)
	return &out, nil
}

func (m *MemoryStore) ListJobs(_ context.Context, limit int) ([]database.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]database.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, copyJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	return m.update(id, func(job *database.Job) { job.Status = status })
}

func (m *MemoryStore) UpdateProgress(_ context.Context, id uuid.UUID, progress database.Progress) error {
	progress.Queries = append([]string(nil), progress.Queries...)
	return m.update(id, func(job *database.Job) { job.Progress = &progress })
}

func (m *MemoryStore) CompleteJob(_ context.Context, id uuid.UUID, report string) error {
	return m.update(id, func(job *database.Job) {
		job.Status = database.StatusCompleted
		job.Report = &report
	})
}

func (m *MemoryStore) FailJob(_ context.Context, id uuid.UUID, reason string) error {
	return m.update(id, func(job *database.Job) {
		job.Status = database.StatusFailed
		job.Error = &reason
	})
}

func (m *MemoryStore) update(id uuid.UUID, fn func(job *database.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return database.ErrJobNotFound
	}
	fn(job)
	job.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) AppendLog(_ context.Context, jobID uuid.UUID, entry database.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; !ok {
		return database.ErrJobNotFound
	}
	m.seq++
	entry.ID = m.seq
	m.logs[jobID] = append(m.logs[jobID], entry)
	return nil
}

func (m *MemoryStore) GetLogs(_ context.Context, jobID uuid.UUID) ([]database.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]database.LogEntry(nil), m.logs[jobID]...), nil
}

func copyJob(job *database.Job) database.Job {
	out := *job
	if job.Progress != nil {
		p := *job.Progress
		p.Queries = append([]string(nil), p.Queries...)
		out.Progress = &p
	}
	return out
}
