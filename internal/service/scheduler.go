package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"

	"catalog-import-service/internal/entity"
)

type Submitter interface {
	SubmitImport(ctx context.Context, req SubmitRequest) (uuid.UUID, error)
}

// Schedule submits one import job type for one importer on a cron spec
// ("0 3 * * *", "@daily", ...).
type Schedule struct {
	Importer string
	Type     entity.JobType
	Spec     string
	Priority int
}

type Scheduler struct {
	submit Submitter
	cron   *cron.Cron
	log    *log.Logger

	// SubmitTimeout bounds one scheduled submission.
	SubmitTimeout time.Duration
}

func NewScheduler(submit Submitter, logger *log.Logger) *Scheduler {
	return &Scheduler{
		submit:        submit,
		cron:          cron.New(),
		log:           logger,
		SubmitTimeout: 30 * time.Second,
	}
}

func (s *Scheduler) Add(sch Schedule) (cron.EntryID, error) {
	if !sch.Type.Valid() {
		return 0, fmt.Errorf("schedule %s: unknown job type %q", sch.Importer, sch.Type)
	}
	id, err := s.cron.AddFunc(sch.Spec, func() { s.fire(sch) })
	if err != nil {
		return 0, fmt.Errorf("schedule %s %s %q: %w", sch.Importer, sch.Type, sch.Spec, err)
	}
	s.log.Info().Str("importer", sch.Importer).Str("job_type", string(sch.Type)).
		Str("spec", sch.Spec).Msg("schedule registered")
	return id, nil
}

func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("entries", s.Len()).Msg("scheduler started")
}

// Stop stops firing new entries and waits for in-flight submissions or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) fire(sch Schedule) {
	ctx, cancel := context.WithTimeout(context.Background(), s.SubmitTimeout)
	defer cancel()

	id, err := s.submit.SubmitImport(ctx, SubmitRequest{
		Importer:    sch.Importer,
		Type:        sch.Type,
		Priority:    sch.Priority,
		RequestedBy: "scheduler",
	})
	if err != nil {
		s.log.Error().Err(err).Str("importer", sch.Importer).Str("job_type", string(sch.Type)).
			Msg("scheduled submit failed")
		return
	}
	s.log.Info().Str("job_id", id.String()).Str("importer", sch.Importer).
		Str("job_type", string(sch.Type)).Msg("scheduled job submitted")
}
