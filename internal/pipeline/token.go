package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"catalog-import-service/internal/entity"
)

// Token is polled at every safe stopping point of a job.
type Token interface {
	IsCancelled(ctx context.Context) bool
}

type StatusReader interface {
	Status(ctx context.Context, id uuid.UUID) (entity.JobStatus, error)
}

// StatusToken re-reads the job status on every check. A cancelled context
// counts as cancellation too.
type StatusToken struct {
	jobs StatusReader
	id   uuid.UUID
	log  *log.Logger
}

func NewStatusToken(jobs StatusReader, id uuid.UUID, logger *log.Logger) *StatusToken {
	return &StatusToken{jobs: jobs, id: id, log: logger}
}

func (t *StatusToken) IsCancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	st, err := t.jobs.Status(ctx, t.id)
	if err != nil {
		// keep going, the next checkpoint reads again
		t.log.Warn().Err(err).Msg("cancellation check failed")
		return false
	}
	return st == entity.StatusCancelled
}
