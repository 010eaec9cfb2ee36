package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/bankcleanr/internal/common"
	"github.com/Veraticus/bankcleanr/internal/model"
)

// DefaultListLimit caps ListJobs when no limit is given.
const DefaultListLimit = 50

// SaveJob inserts or updates a job record. CreatedAt is kept from the first write.
func (s *SQLiteStorage) SaveJob(ctx context.Context, job *model.JobRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateJob(job); err != nil {
		return err
	}

	updated := job.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, filename, phase, last_status, failure, navigated, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filename = CASE WHEN excluded.filename != '' THEN excluded.filename ELSE jobs.filename END,
			phase = excluded.phase,
			last_status = CASE WHEN excluded.last_status != '' THEN excluded.last_status ELSE jobs.last_status END,
			failure = excluded.failure,
			navigated = MAX(jobs.navigated, excluded.navigated),
			updated_at = excluded.updated_at
	`, job.ID, job.Filename, job.Phase, string(job.LastStatus), job.Failure, job.Navigated, updated, updated)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns the record for id, or common.ErrNotFound.
func (s *SQLiteStorage) GetJob(ctx context.Context, id string) (*model.JobRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, phase, last_status, failure, navigated, created_at, updated_at
		FROM jobs WHERE id = ?
	`, id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns the most recently updated jobs first.
func (s *SQLiteStorage) ListJobs(ctx context.Context, limit int) ([]model.JobRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, phase, last_status, failure, navigated, created_at, updated_at
		FROM jobs
		ORDER BY updated_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []model.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*model.JobRecord, error) {
	var (
		job       model.JobRecord
		status    string
		navigated int
	)
	if err := row.Scan(&job.ID, &job.Filename, &job.Phase, &status, &job.Failure, &navigated, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.LastStatus = model.JobStatus(status)
	job.Navigated = navigated != 0
	return &job, nil
}
