// Package jobs records pipeline job runs in the cache database.
package jobs

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Job run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one recorded job execution.
type Run struct {
	ID         string
	JobName    string
	Status     string
	Detail     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Repository handles job history persistence.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new job history repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "jobs").Logger(),
	}
}

// Start records the beginning of a job run and returns its id.
func (r *Repository) Start(jobName string) (string, error) {
	id := uuid.New().String()
	_, err := r.db.Exec(
		"INSERT INTO job_history (id, job_name, status, started_at) VALUES (?, ?, ?, ?)",
		id, jobName, StatusRunning, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record job start for %s: %w", jobName, err)
	}
	return id, nil
}

// Finish marks a job run completed or failed.
func (r *Repository) Finish(id, status, detail string) error {
	_, err := r.db.Exec(
		"UPDATE job_history SET status = ?, detail = ?, finished_at = ? WHERE id = ?",
		status, detail, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to record job finish for %s: %w", id, err)
	}
	return nil
}

// Recent returns the most recent runs, newest first.
func (r *Repository) Recent(limit int) ([]Run, error) {
	rows, err := r.db.Query(
		"SELECT id, job_name, status, detail, started_at, finished_at FROM job_history ORDER BY started_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query job history: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run        Run
			detail     sql.NullString
			startedAt  string
			finishedAt sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.JobName, &run.Status, &detail, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		run.Detail = detail.String
		if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
			run.StartedAt = t
		}
		if finishedAt.Valid {
			if t, err := time.Parse(time.RFC3339, finishedAt.String); err == nil {
				run.FinishedAt = &t
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
