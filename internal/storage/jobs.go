package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/google/uuid"
)

// CreateJob records a new batch job.
func (s *SQLiteStorage) CreateJob(ctx context.Context, job *model.Job) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: job", ErrNilParameter)
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = model.JobRunning
	}

	failures, err := marshalJSON(job.Failures)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, target, status, total, succeeded, failed, failures, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(), job.Kind, job.Target, job.Status, job.Total, job.Succeeded, job.Failed,
		failures, job.Error, job.StartedAt.UTC(), nullTime(job.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// UpdateJob writes the job's progress and outcome.
func (s *SQLiteStorage) UpdateJob(ctx context.Context, job *model.Job) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: job", ErrNilParameter)
	}

	failures, err := marshalJSON(job.Failures)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, total = ?, succeeded = ?, failed = ?, failures = ?, error = ?, completed_at = ?
		WHERE id = ?`,
		job.Status, job.Total, job.Succeeded, job.Failed, failures, job.Error,
		nullTime(job.CompletedAt), job.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return common.NewNotFoundError("job", job.ID.String())
	}
	return nil
}

// GetJob returns one job.
func (s *SQLiteStorage) GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, target, status, total, succeeded, failed, failures, error, started_at, completed_at
		FROM jobs WHERE id = ?`, id.String())
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("job", id.String())
	}
	return job, err
}

// ListJobs returns the most recently started jobs first.
func (s *SQLiteStorage) ListJobs(ctx context.Context, limit int) ([]model.Job, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, target, status, total, succeeded, failed, failures, error, started_at, completed_at
		FROM jobs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row rowScanner) (*model.Job, error) {
	var job model.Job
	var id string
	var failures sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&id, &job.Kind, &job.Target, &job.Status, &job.Total, &job.Succeeded,
		&job.Failed, &failures, &job.Error, &job.StartedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid job ID %q: %w", id, err)
	}
	job.ID = parsed
	job.CompletedAt = timePtr(completedAt)
	if err := unmarshalJSON(failures, &job.Failures); err != nil {
		return nil, err
	}
	return &job, nil
}
