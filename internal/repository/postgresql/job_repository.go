package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"catalog-import-service/internal/entity"
	"catalog-import-service/internal/pipeline"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, importerID int64, typ entity.JobType, priority int, params entity.JobParams) (uuid.UUID, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return uuid.Nil, err
	}

	const q = `
INSERT INTO jobs (importer_id, type, status, priority, params)
VALUES ($1, $2, 'pending', $3, $4)
RETURNING id;
`
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, q, importerID, string(typ), priority, raw).Scan(&id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

const jobColumns = `id, importer_id, type, status, priority, progress, total_items, processed_items,
params, result, error_message, created_at, updated_at, started_at, completed_at`

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job         entity.Job
		typ, status string
		paramsBytes []byte
		resultBytes []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.ImporterID,
		&typ,
		&status,
		&job.Priority,
		&job.Progress,
		&job.TotalItems,
		&job.ProcessedItems,
		&paramsBytes,
		&resultBytes, // NULL => nil
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	job.Type = entity.JobType(typ)
	job.Status = entity.JobStatus(status)
	if len(paramsBytes) > 0 {
		if err := json.Unmarshal(paramsBytes, &job.Params); err != nil {
			return nil, err
		}
	}
	if resultBytes != nil {
		job.Result = json.RawMessage(resultBytes)
	}
	return &job, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	return scanJob(r.pool.QueryRow(ctx, q, id))
}

// ListByImporter returns the most recent jobs first.
func (r *JobRepository) ListByImporter(ctx context.Context, importerID int64, limit int) ([]entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE importer_id = $1 ORDER BY created_at DESC LIMIT $2;`
	rows, err := r.pool.Query(ctx, q, importerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (r *JobRepository) Status(ctx context.Context, id uuid.UUID) (entity.JobStatus, error) {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1;`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return entity.JobStatus(status), err
}

func (r *JobRepository) MarkRunning(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	const q = `
UPDATE jobs SET status = 'running', started_at = $2, updated_at = now()
WHERE id = $1 AND status = 'pending';
`
	tag, err := r.pool.Exec(ctx, q, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, p entity.JobProgress) error {
	const q = `
UPDATE jobs SET
    progress = $2,
    total_items = $3,
    processed_items = $4,
    result = jsonb_set(COALESCE(result, '{}'::jsonb), '{current_item}', to_jsonb($5::text)),
    updated_at = now()
WHERE id = $1 AND completed_at IS NULL;
`
	_, err := r.pool.Exec(ctx, q, id, p.Progress, p.TotalItems, p.ProcessedItems, p.CurrentItem)
	return err
}

// Finish writes the terminal state. The completed_at guard makes it happen once,
// also when an operator already flipped a running job to cancelled. A cancel
// request wins over the status the worker reports.
func (r *JobRepository) Finish(ctx context.Context, id uuid.UUID, f pipeline.Finish) (bool, error) {
	raw, err := json.Marshal(f.Result)
	if err != nil {
		return false, err
	}

	const q = `
UPDATE jobs SET
    status = CASE WHEN status = 'cancelled' THEN status ELSE $2::text END,
    progress = $3,
    total_items = $4,
    processed_items = $5,
    result = $6,
    error_message = $7,
    completed_at = $8,
    updated_at = now()
WHERE id = $1
  AND status IN ('running', 'cancelled')
  AND completed_at IS NULL;
`
	tag, err := r.pool.Exec(ctx, q, id, string(f.Status), f.Progress.Progress, f.Progress.TotalItems,
		f.Progress.ProcessedItems, raw, f.ErrorMessage, f.CompletedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Cancel flags a pending or running job as cancelled and returns the status it
// had before. A pending job is closed right away; a running one is closed by
// its worker at the next checkpoint. Terminal jobs are left untouched.
func (r *JobRepository) Cancel(ctx context.Context, id uuid.UUID, at time.Time) (entity.JobStatus, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var prev string
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE;`, id).Scan(&prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	switch entity.JobStatus(prev) {
	case entity.StatusPending:
		_, err = tx.Exec(ctx, `UPDATE jobs SET status = 'cancelled', completed_at = $2, updated_at = now() WHERE id = $1;`, id, at)
	case entity.StatusRunning:
		_, err = tx.Exec(ctx, `UPDATE jobs SET status = 'cancelled', updated_at = now() WHERE id = $1;`, id)
	default:
		return entity.JobStatus(prev), nil
	}
	if err != nil {
		return "", err
	}
	return entity.JobStatus(prev), tx.Commit(ctx)
}

func (r *JobRepository) AppendLog(ctx context.Context, id uuid.UUID, level entity.LogLevel, msg string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO job_logs (job_id, level, message) VALUES ($1, $2, $3);`, id, string(level), msg)
	return err
}

func (r *JobRepository) Logs(ctx context.Context, id uuid.UUID, limit int) ([]entity.JobLogEntry, error) {
	const q = `
SELECT id, job_id, level, message, created_at
FROM job_logs
WHERE job_id = $1
ORDER BY id
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.JobLogEntry
	for rows.Next() {
		var (
			e     entity.JobLogEntry
			level string
		)
		if err := rows.Scan(&e.ID, &e.JobID, &level, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Level = entity.LogLevel(level)
		out = append(out, e)
	}
	return out, rows.Err()
}
