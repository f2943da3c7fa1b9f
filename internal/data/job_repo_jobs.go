package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data/pgxutil"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
)

const defaultListLimit = 50

// Create inserts a pending job. The partial unique index on (kind, subject_id) rejects a second
// in-flight job; that surfaces as a Conflict error.
func (r *JobRepo) Create(ctx context.Context, params model.CreateJobParams) (*model.Job, error) {
	if !params.Kind.Valid() {
		return nil, apperrors.ValidationField("kind", fmt.Sprintf("invalid job kind %q", params.Kind))
	}
	if strings.TrimSpace(params.SubjectID) == "" {
		return nil, apperrors.ValidationField("subject_id", "subject_id is required")
	}

	payload := []byte(params.Payload)
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	now := r.timeProvider.Now().UTC()

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO jobs (kind, subject_id, status, payload, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, 'pending', $3, $4, $5, $5)
		RETURNING `+jobColumns,
		params.Kind, params.SubjectID, payload, params.IdempotencyKey, now,
	)
	job, err := scanJobFromRow(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		if !rows.Next() {
			if rowsErr := rows.Err(); rowsErr != nil {
				return rowsErr
			}
			return pgx.ErrNoRows
		}
		job, err = scanJobFromRow(rows)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, apperrors.MapDBError(err))
	}
	return job, nil
}

// FindActive returns the pending or processing job for (kind, subject).
func (r *JobRepo) FindActive(ctx context.Context, kind model.JobKind, subjectID string) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE kind = $1 AND subject_id = $2 AND status IN ('pending', 'processing')
		LIMIT 1
	`, kind, subjectID)
	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("no active %s job for %s", kind, subjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("find active job: %w", apperrors.MapDBError(err))
	}
	return job, nil
}

// ListBySubject lists a subject's jobs, newest first.
func (r *JobRepo) ListBySubject(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	conds := []string{"subject_id = $1"}
	args := []any{opts.SubjectID}
	if opts.Kind != nil {
		args = append(args, *opts.Kind)
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}
	if opts.Status != nil {
		args = append(args, *opts.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit, max(opts.Offset, 0))

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + strings.Join(conds, " AND ") +
		fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, scanErr := scanJobFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("list jobs: %w", rowsErr)
	}
	return jobs, nil
}

// Transition applies a guarded status change. Timestamps follow the target status:
// processing sets started_at, every terminal status sets completed_at.
func (r *JobRepo) Transition(ctx context.Context, tr model.JobTransition) (bool, error) {
	if !tr.To.Valid() || len(tr.From) == 0 {
		return false, fmt.Errorf("invalid transition to %q", tr.To)
	}
	errJSON, err := nullableJSON(tr.Error, tr.Error == nil)
	if err != nil {
		return false, fmt.Errorf("encode job error: %w", err)
	}
	from := make([]string, len(tr.From))
	for i, s := range tr.From {
		from[i] = string(s)
	}
	now := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2,
		    error = $3,
		    started_at = CASE WHEN $2 = 'processing' THEN COALESCE(started_at, $4) ELSE started_at END,
		    completed_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN $4 ELSE completed_at END,
		    updated_at = $4
		WHERE id = $1 AND status = ANY($5)
	`, tr.ID, tr.To, errJSON, now, from)
	if err != nil {
		return false, fmt.Errorf("transition job %s to %s: %w", tr.ID, tr.To, apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		r.logger.DebugContext(ctx, "job transition skipped", "job_id", tr.ID, "to", tr.To)
	}
	return n > 0, nil
}

// UpdateProgress records the stage and percent of a processing job.
func (r *JobRepo) UpdateProgress(ctx context.Context, id string, progress model.JobProgress) error {
	percent := min(max(progress.Percent, 0), 100)
	_, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET progress_stage = $2, progress_percent = $3, updated_at = $4
		WHERE id = $1 AND status = 'processing'
	`, id, progress.Stage, percent, r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// SaveRun stores the pipeline run record on the job.
func (r *JobRepo) SaveRun(ctx context.Context, id string, run *model.PipelineRun) error {
	runJSON, err := nullableJSON(run, run == nil)
	if err != nil {
		return fmt.Errorf("encode job run: %w", err)
	}
	if _, err := r.DB.ExecContext(ctx, `UPDATE jobs SET run = $2, updated_at = $3 WHERE id = $1`,
		id, runJSON, r.timeProvider.Now().UTC()); err != nil {
		return fmt.Errorf("save job run: %w", err)
	}
	return nil
}

var (
	_ core.JobRepository    = (*JobRepo)(nil)
	_ core.ReaperRepository = (*JobRepo)(nil)
)
