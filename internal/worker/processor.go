package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"catalog-import-service/internal/entity"
	"catalog-import-service/internal/pipeline"
	"catalog-import-service/internal/supplier"
)

type JobRepo interface {
	pipeline.JobStore
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
}

type ImporterRepo interface {
	GetByID(ctx context.Context, id int64) (*entity.Importer, error)
}

type CategorySelection interface {
	SelectedCategoryIDs(ctx context.Context, importerID int64) ([]int64, error)
}

// Runner drives one job to a terminal state (pipeline.Orchestrator).
type Runner interface {
	Run(ctx context.Context, job *entity.Job, sup pipeline.Supplier, cfg entity.ImporterRunConfig) (entity.JobStatus, error)
}

// ResolveFunc picks the site implementation for an importer (supplier.Resolve).
type ResolveFunc func(name string, opts supplier.Options) (pipeline.Supplier, error)

type ProcessorConfig struct {
	ScreenshotDir string
	WaitTimeout   time.Duration
}

type Processor struct {
	jobs      JobRepo
	importers ImporterRepo
	selection CategorySelection
	runner    Runner
	resolve   ResolveFunc
	cfg       ProcessorConfig
	log       *log.Logger
}

func NewProcessor(jobs JobRepo, importers ImporterRepo, selection CategorySelection, runner Runner, resolve ResolveFunc, cfg ProcessorConfig, logger *log.Logger) *Processor {
	if resolve == nil {
		resolve = supplier.Resolve
	}
	return &Processor{
		jobs:      jobs,
		importers: importers,
		selection: selection,
		runner:    runner,
		resolve:   resolve,
		cfg:       cfg,
		log:       logger,
	}
}

// Process runs the job behind a queue message. A nil error means the message
// can be acked: the job is terminal, or it was never ours to run.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	start := time.Now()

	id, err := uuid.Parse(jobID)
	if err != nil {
		p.log.Warn().Str("job_id", jobID).Err(err).Msg("drop malformed queue message")
		return nil
	}

	job, err := p.jobs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			p.log.Warn().Str("job_id", jobID).Msg("drop message for unknown job")
			return nil
		}
		return fmt.Errorf("load job %s: %w", id, err)
	}
	if job.CompletedAt == nil && (job.Status == entity.StatusRunning || job.Status == entity.StatusCancelled) {
		// redelivered after a reap: the worker that claimed it is gone
		return p.abandon(ctx, job)
	}
	if job.Status != entity.StatusPending {
		p.log.Info().Str("job_id", jobID).Str("status", string(job.Status)).Msg("skip job that is not pending")
		return nil
	}

	imp, err := p.importers.GetByID(ctx, job.ImporterID)
	if errors.Is(err, entity.ErrNotFound) {
		return p.reject(ctx, job, fmt.Sprintf("importer %d not found", job.ImporterID))
	}
	if err != nil {
		return fmt.Errorf("load importer %d: %w", job.ImporterID, err)
	}
	if !imp.Active {
		return p.reject(ctx, job, "importer "+imp.Name+" is inactive")
	}

	sup, err := p.resolve(imp.Name, supplier.Options{
		ScreenshotDir: p.cfg.ScreenshotDir,
		WaitTimeout:   p.cfg.WaitTimeout,
		Log:           p.log,
	})
	if err != nil {
		return p.reject(ctx, job, err.Error())
	}

	categoryIDs := job.Params.CategoryIDs
	if job.Type == entity.JobTypeProducts && len(categoryIDs) == 0 {
		// jobs created outside the service carry no snapshot
		if categoryIDs, err = p.selection.SelectedCategoryIDs(ctx, imp.ID); err != nil {
			return fmt.Errorf("load selected categories: %w", err)
		}
	}
	cfg := entity.NewRunConfig(*imp, categoryIDs, p.cfg.ScreenshotDir)

	status, err := p.runner.Run(ctx, job, sup, cfg)
	if errors.Is(err, pipeline.ErrNotPending) {
		p.log.Info().Str("job_id", jobID).Msg("job was claimed elsewhere")
		return nil
	}
	if err != nil {
		return fmt.Errorf("run job %s: %w", id, err)
	}

	p.log.Info().Str("job_id", jobID).Str("importer", imp.Name).Str("job_type", string(job.Type)).
		Str("status", string(status)).Int64("duration_ms", time.Since(start).Milliseconds()).Msg("job processed")
	return nil
}

// abandon closes a job whose worker lost its lease before writing the terminal
// state. Counters and the last result snapshot stay as they were.
func (p *Processor) abandon(ctx context.Context, job *entity.Job) error {
	var res entity.JobResult
	if len(job.Result) > 0 {
		_ = json.Unmarshal(job.Result, &res)
	}
	res.Processed = job.ProcessedItems

	fin := pipeline.Finish{
		Status: entity.StatusCancelled,
		Progress: entity.JobProgress{
			Progress:       job.Progress,
			TotalItems:     job.TotalItems,
			ProcessedItems: job.ProcessedItems,
		},
		CompletedAt: time.Now().UTC(),
	}
	level, msg := entity.LogWarning, fmt.Sprintf("worker lost, cancelled after %d items", job.ProcessedItems)
	if job.Status == entity.StatusRunning {
		failed := "worker lost, partial results kept"
		res.LastError = failed
		fin.Status, fin.ErrorMessage = entity.StatusFailed, &failed
		level, msg = entity.LogError, fmt.Sprintf("%s (%d items)", failed, job.ProcessedItems)
	}
	fin.Result = res

	ok, err := p.jobs.Finish(ctx, job.ID, fin)
	if err != nil {
		return fmt.Errorf("finish abandoned job %s: %w", job.ID, err)
	}
	if ok {
		_ = p.jobs.AppendLog(ctx, job.ID, level, msg)
	}
	p.log.Warn().Str("job_id", job.ID.String()).Str("status", string(fin.Status)).Bool("written", ok).
		Int("processed", job.ProcessedItems).Msg("closed abandoned job")
	return nil
}

// reject closes a pending job that cannot start at all.
func (p *Processor) reject(ctx context.Context, job *entity.Job, msg string) error {
	p.log.Error().Str("job_id", job.ID.String()).Str("reason", msg).Msg("job rejected")

	now := time.Now().UTC()
	ok, err := p.jobs.MarkRunning(ctx, job.ID, now)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if !ok {
		return nil
	}
	_ = p.jobs.AppendLog(ctx, job.ID, entity.LogError, msg)
	if _, err := p.jobs.Finish(ctx, job.ID, pipeline.Finish{
		Status:       entity.StatusFailed,
		Result:       entity.JobResult{LastError: msg},
		ErrorMessage: &msg,
		CompletedAt:  now,
	}); err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}
