package database

import (
	"context"
	"fmt"
)

// InitSchema creates the job and job-log tables. It is idempotent.
func (db *PostgresDB) InitSchema(ctx context.Context) error {
	jobsQuery := `
		CREATE TABLE IF NOT EXISTS research_jobs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			topic TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			config JSONB,
			report TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, jobsQuery); err != nil {
		return fmt.Errorf("failed to create research_jobs table: %w", err)
	}

	logsQuery := `
		CREATE TABLE IF NOT EXISTS research_logs (
			id SERIAL PRIMARY KEY,
			job_id UUID NOT NULL REFERENCES research_jobs(id) ON DELETE CASCADE,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		);
	`
	if _, err := db.Pool.Exec(ctx, logsQuery); err != nil {
		return fmt.Errorf("failed to create research_logs table: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_logs_job_id ON research_logs(job_id)"); err != nil {
		return fmt.Errorf("failed to create index on research_logs: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_jobs_created_at ON research_jobs(created_at DESC)"); err != nil {
		return fmt.Errorf("failed to create index on research_jobs: %w", err)
	}

	// Columns added after the first release.
	migrations := []string{
		"ALTER TABLE research_jobs ADD COLUMN IF NOT EXISTS progress JSONB",
		"ALTER TABLE research_jobs ADD COLUMN IF NOT EXISTS error TEXT",
	}
	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("failed to migrate research_jobs: %w", err)
		}
	}

	return nil
}
