package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"catalog-import-service/internal/entity"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrImporterNotFound = errors.New("importer not found")
	ErrImporterInactive = errors.New("importer is inactive")
	ErrJobNotFound      = errors.New("job not found")
	// ErrJobFinished is returned when cancelling a job that already reached a terminal state.
	ErrJobFinished = errors.New("job already finished")
)

const (
	defaultLogLimit = 200
	maxLogLimit     = 1000
)

// JobRepository port (postgresql.JobRepository, sqlite.JobRepository).
type JobRepository interface {
	Create(ctx context.Context, importerID int64, typ entity.JobType, priority int, params entity.JobParams) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	// Cancel returns the status the job had before the call.
	Cancel(ctx context.Context, id uuid.UUID, at time.Time) (entity.JobStatus, error)
	Logs(ctx context.Context, id uuid.UUID, limit int) ([]entity.JobLogEntry, error)
}

type ImporterLookup interface {
	GetByName(ctx context.Context, name string) (*entity.Importer, error)
}

type CategorySelection interface {
	SelectedCategoryIDs(ctx context.Context, importerID int64) ([]int64, error)
}

// JobQueue is the enqueue-only half of Queue.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string, priority int) error
}

type JobService struct {
	jobs      JobRepository
	importers ImporterLookup
	selection CategorySelection
	queue     JobQueue
	validate  *validator.Validate

	now func() time.Time
}

func NewJobService(jobs JobRepository, importers ImporterLookup, selection CategorySelection, queue JobQueue) *JobService {
	return &JobService{
		jobs:      jobs,
		importers: importers,
		selection: selection,
		queue:     queue,
		validate:  validator.New(),
		now:       time.Now,
	}
}

type SubmitRequest struct {
	Importer string         `validate:"required"`
	Type     entity.JobType `validate:"required,oneof=categories products"`
	// CategoryIDs narrows a products job; empty means the importer's selected categories.
	CategoryIDs []int64 `validate:"omitempty,dive,gt=0"`
	// 0 low, 1 normal, 2 high; anything else becomes normal.
	Priority    int
	RequestedBy string `validate:"max=100"`
}

// SubmitImport creates a pending job and puts it on the queue. The category
// selection is frozen into the job params at submit time.
func (s *JobService) SubmitImport(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	req.Importer = strings.ToUpper(strings.TrimSpace(req.Importer))
	if err := s.validate.Struct(req); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	imp, err := s.importers.GetByName(ctx, req.Importer)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrImporterNotFound, req.Importer)
		}
		return uuid.Nil, err
	}
	if !imp.Active {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrImporterInactive, imp.Name)
	}

	params := entity.JobParams{RequestedBy: req.RequestedBy}
	if req.Type == entity.JobTypeProducts {
		params.CategoryIDs = req.CategoryIDs
		if len(params.CategoryIDs) == 0 {
			ids, err := s.selection.SelectedCategoryIDs(ctx, imp.ID)
			if err != nil {
				return uuid.Nil, fmt.Errorf("load selected categories: %w", err)
			}
			params.CategoryIDs = ids
		}
	}

	priority := req.Priority
	if priority < 0 || priority > 2 {
		priority = 1 // normal
	}

	id, err := s.jobs.Create(ctx, imp.ID, req.Type, priority, params)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.queue.Enqueue(ctx, id.String(), priority); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue %s: %w", id, err)
	}
	return id, nil
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}

// CancelJob requests cancellation. A pending job is closed right away; a
// running one is closed by its worker at the next checkpoint. Repeating the
// request for a job that is still winding down returns it unchanged.
func (s *JobService) CancelJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	prev, err := s.jobs.Cancel(ctx, id, s.now().UTC())
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if !prev.Terminal() {
		return s.GetJob(ctx, id)
	}
	if prev == entity.StatusCancelled {
		// asked again before the worker reached a checkpoint
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.CompletedAt == nil {
			return job, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrJobFinished, prev)
}

func (s *JobService) JobLogs(ctx context.Context, id uuid.UUID, limit int) ([]entity.JobLogEntry, error) {
	if _, err := s.GetJob(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	return s.jobs.Logs(ctx, id, limit)
}
