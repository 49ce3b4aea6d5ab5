package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"catalog-import-service/internal/entity"
	"catalog-import-service/internal/pipeline"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, importerID int64, typ entity.JobType, priority int, params entity.JobParams) (uuid.UUID, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	ts := now()
	_, err = r.db.ExecContext(ctx, `
INSERT INTO jobs (id, importer_id, type, status, priority, params, created_at, updated_at)
VALUES (?, ?, ?, 'pending', ?, ?, ?, ?);`, id, importerID, string(typ), priority, string(raw), ts, ts)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

const jobColumns = `id, importer_id, type, status, priority, progress, total_items, processed_items,
params, result, error_message, created_at, updated_at, started_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*entity.Job, error) {
	var (
		job         entity.Job
		typ, status string
		params      string
		result      sql.NullString
	)
	err := row.Scan(&job.ID, &job.ImporterID, &typ, &status, &job.Priority, &job.Progress, &job.TotalItems,
		&job.ProcessedItems, &params, &result, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt,
		&job.StartedAt, &job.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Type = entity.JobType(typ)
	job.Status = entity.JobStatus(status)
	if params != "" {
		if err := json.Unmarshal([]byte(params), &job.Params); err != nil {
			return nil, err
		}
	}
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	return &job, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?;`, id))
}

func (r *JobRepository) Status(ctx context.Context, id uuid.UUID) (entity.JobStatus, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?;`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return entity.JobStatus(status), err
}

func (r *JobRepository) MarkRunning(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE jobs SET status = 'running', started_at = ?, updated_at = ?
WHERE id = ? AND status = 'pending';`, at.UTC(), now(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, p entity.JobProgress) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE jobs SET
    progress = ?,
    total_items = ?,
    processed_items = ?,
    result = json_set(COALESCE(result, '{}'), '$.current_item', ?),
    updated_at = ?
WHERE id = ? AND completed_at IS NULL;`, p.Progress, p.TotalItems, p.ProcessedItems, p.CurrentItem, now(), id)
	return err
}

func (r *JobRepository) Finish(ctx context.Context, id uuid.UUID, f pipeline.Finish) (bool, error) {
	raw, err := json.Marshal(f.Result)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE jobs SET
    status = CASE WHEN status = 'cancelled' THEN status ELSE ? END, progress = ?, total_items = ?, processed_items = ?,
    result = ?, error_message = ?, completed_at = ?, updated_at = ?
WHERE id = ? AND status IN ('running', 'cancelled') AND completed_at IS NULL;`,
		string(f.Status), f.Progress.Progress, f.Progress.TotalItems, f.Progress.ProcessedItems,
		string(raw), f.ErrorMessage, f.CompletedAt.UTC(), now(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Cancel mirrors postgresql.JobRepository.Cancel.
func (r *JobRepository) Cancel(ctx context.Context, id uuid.UUID, at time.Time) (entity.JobStatus, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var prev string
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?;`, id).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	switch entity.JobStatus(prev) {
	case entity.StatusPending:
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status = 'cancelled', completed_at = ?, updated_at = ? WHERE id = ?;`, at.UTC(), now(), id)
	case entity.StatusRunning:
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status = 'cancelled', updated_at = ? WHERE id = ?;`, now(), id)
	default:
		return entity.JobStatus(prev), nil
	}
	if err != nil {
		return "", err
	}
	return entity.JobStatus(prev), tx.Commit()
}

func (r *JobRepository) AppendLog(ctx context.Context, id uuid.UUID, level entity.LogLevel, msg string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO job_logs (job_id, level, message, created_at) VALUES (?, ?, ?, ?);`,
		id, string(level), msg, now())
	return err
}

func (r *JobRepository) Logs(ctx context.Context, id uuid.UUID, limit int) ([]entity.JobLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, job_id, level, message, created_at FROM job_logs WHERE job_id = ? ORDER BY id LIMIT ?;`, id, limit)
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
