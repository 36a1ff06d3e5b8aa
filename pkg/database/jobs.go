package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var ErrJobNotFound = errors.New("job not found")

// JobConfig holds the limits a job was started with.
type JobConfig struct {
	IterationLimit   int `json:"iteration_limit"`
	ResultsPerSearch int `json:"results_per_search"`
}

// Progress is the summary of a running job written after every iteration.
type Progress struct {
	Iteration      int      `json:"iteration"`
	IterationLimit int      `json:"iteration_limit"`
	Queries        []string `json:"queries"`
	Passages       int      `json:"passages"`
	Sources        int      `json:"sources"`
}

type Job struct {
	ID        uuid.UUID `json:"id"`
	Topic     string    `json:"topic"`
	Status    string    `json:"status"`
	Config    JobConfig `json:"config"`
	Progress  *Progress `json:"progress,omitempty"`
	Report    *string   `json:"report,omitempty"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

// JobRepository keeps job records and their logs in Postgres.
type JobRepository struct {
	DB *PostgresDB
}

func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{DB: db}
}

func (r *JobRepository) CreateJob(ctx context.Context, job *Job) error {
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal job config: %w", err)
	}

	query := `
		INSERT INTO research_jobs (id, topic, status, config)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	if err := r.DB.Pool.QueryRow(ctx, query, job.ID, job.Topic, job.Status, configJSON).Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

const jobColumns = "id, topic, status, config, progress, report, error, created_at, updated_at"

func scanJob(row pgx.Row) (*Job, error) {
	var (
		job          Job
		configJSON   []byte
		progressJSON []byte
	)
	if err := row.Scan(&job.ID, &job.Topic, &job.Status, &configJSON, &progressJSON, &job.Report, &job.Error, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &job.Config); err != nil {
			return nil, fmt.Errorf("failed to decode job config: %w", err)
		}
	}
	if len(progressJSON) > 0 {
		job.Progress = &Progress{}
		if err := json.Unmarshal(progressJSON, job.Progress); err != nil {
			return nil, fmt.Errorf("failed to decode job progress: %w", err)
		}
	}
	return &job, nil
}

func (r *JobRepository) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	job, err := scanJob(r.DB.Pool.QueryRow(ctx, "SELECT "+jobColumns+" FROM research_jobs WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (r *JobRepository) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	rows, err := r.DB.Pool.Query(ctx, "SELECT "+jobColumns+" FROM research_jobs ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	return r.exec(ctx, "UPDATE research_jobs SET status = $2, updated_at = NOW() WHERE id = $1", id, status)
}

func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress Progress) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	return r.exec(ctx, "UPDATE research_jobs SET progress = $2, updated_at = NOW() WHERE id = $1", id, progressJSON)
}

func (r *JobRepository) CompleteJob(ctx context.Context, id uuid.UUID, report string) error {
	return r.exec(ctx,
		"UPDATE research_jobs SET status = $2, report = $3, updated_at = NOW() WHERE id = $1",
		id, StatusCompleted, report)
}

func (r *JobRepository) FailJob(ctx context.Context, id uuid.UUID, reason string) error {
	return r.exec(ctx,
		"UPDATE research_jobs SET status = $2, error = $3, updated_at = NOW() WHERE id = $1",
		id, StatusFailed, reason)
}

func (r *JobRepository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.DB.Pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *JobRepository) AppendLog(ctx context.Context, jobID uuid.UUID, entry LogEntry) error {
	metadata := entry.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}
	query := `
		INSERT INTO research_logs (job_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.DB.Pool.Exec(ctx, query, jobID, entry.Timestamp, entry.Level, entry.Message, []byte(metadata)); err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

func (r *JobRepository) GetLogs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE job_id = $1
		ORDER BY id ASC
	`
	rows, err := r.DB.Pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var (
			l    LogEntry
			meta []byte
		)
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		l.Metadata = meta
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
