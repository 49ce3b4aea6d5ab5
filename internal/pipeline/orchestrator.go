package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"

	"catalog-import-service/internal/automation"
	"catalog-import-service/internal/entity"
	"catalog-import-service/internal/logger"
)

// ErrNotPending is returned when the job was no longer pending at start.
var ErrNotPending = errors.New("job is not pending")

type Orchestrator struct {
	jobs     JobStore
	catalog  CatalogStore
	launcher automation.Launcher
	log      *log.Logger

	// overridable in tests
	ListBackoff time.Duration
	Now         func() time.Time
	NewToken    func(job *entity.Job) Token
}

func NewOrchestrator(jobs JobStore, catalog CatalogStore, launcher automation.Launcher, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:     jobs,
		catalog:  catalog,
		launcher: launcher,
		log:      logger,
		Now:      time.Now,
	}
}

// Plan is the ordered phase list for a job type.
func Plan(t entity.JobType) ([]Phase, error) {
	switch t {
	case entity.JobTypeCategories:
		return []Phase{Authenticate{}, DiscoverCategories{}}, nil
	case entity.JobTypeProducts:
		return []Phase{Authenticate{}, ExtractProducts{}}, nil
	default:
		return nil, fmt.Errorf("unknown job type %q", t)
	}
}

// Run executes job to a terminal state and returns that state. The session
// opened during authentication is always closed before Run returns.
func (o *Orchestrator) Run(ctx context.Context, job *entity.Job, sup Supplier, cfg entity.ImporterRunConfig) (entity.JobStatus, error) {
	plan, err := Plan(job.Type)
	if err != nil {
		return job.Status, err
	}

	jlog := logger.With(o.log, "job_id", job.ID.String(), "importer", cfg.ImporterName, "job_type", string(job.Type))
	lc := newLifecycle(job.Status)

	ok, err := o.jobs.MarkRunning(ctx, job.ID, o.Now().UTC())
	if err != nil {
		return job.Status, fmt.Errorf("mark running: %w", err)
	}
	if !ok {
		return job.Status, ErrNotPending
	}
	lc.to(entity.StatusRunning)
	job.Status = entity.StatusRunning

	var token Token = NewStatusToken(o.jobs, job.ID, jlog)
	if o.NewToken != nil {
		token = o.NewToken(job)
	}
	run := &Run{
		Job:         job,
		Config:      cfg,
		Supplier:    sup,
		Launcher:    o.launcher,
		Catalog:     o.catalog,
		Jobs:        o.jobs,
		Token:       token,
		Limiter:     NewLimiter(DelayFor(cfg)),
		Progress:    NewTracker(o.jobs, job.ID, jlog),
		Log:         jlog,
		listBackoff: o.ListBackoff,
		now:         o.Now,
	}
	defer func() {
		if run.Session == nil {
			return
		}
		if err := run.Session.Close(); err != nil {
			jlog.Warn().Err(err).Msg("close session")
		}
	}()

	start := o.Now()
	run.Journal(ctx, entity.LogInfo, "%s import started for %s", job.Type, sup.Name())

	final := entity.StatusCompleted
	var errMsg *string
	for _, ph := range plan {
		if run.Token.IsCancelled(ctx) {
			final = entity.StatusCancelled
			break
		}

		plog := logger.With(jlog, "phase", ph.Name())
		plog.Info().Msg("phase started")
		res := ph.Execute(ctx, run)

		sum := entity.PhaseSummary{Name: ph.Name(), Success: res.Success, Cancelled: res.Cancelled, Summary: res.Summary}
		if res.Err != nil {
			sum.Error = res.Err.Error()
		}
		run.Result.Phases = append(run.Result.Phases, sum)

		if res.Cancelled {
			final = entity.StatusCancelled
			break
		}
		if !res.Success {
			final = entity.StatusFailed
			msg := "phase " + ph.Name() + " failed"
			if res.Err != nil {
				msg = res.Err.Error()
			}
			errMsg = &msg
			run.Result.LastError = msg
			plog.Error().Err(res.Err).Msg("phase failed")
			break
		}
		plog.Info().Str("summary", res.Summary).Msg("phase finished")
	}

	// a cancel written while the last phase ran is already terminal in the store
	fctx := context.WithoutCancel(ctx)
	if st, err := o.jobs.Status(fctx, job.ID); err == nil && st == entity.StatusCancelled {
		final = entity.StatusCancelled
	}

	lc.to(final)
	job.Status = final
	if final == entity.StatusCompleted {
		run.Progress.Complete()
	}

	snap := run.Progress.Snapshot()
	run.Result.Processed = snap.ProcessedItems
	run.Result.CurrentItem = snap.CurrentItem

	switch final {
	case entity.StatusCompleted:
		run.Journal(fctx, entity.LogInfo, "import completed: %d processed, %d created, %d updated",
			snap.ProcessedItems, run.Result.Created, run.Result.Updated)
	case entity.StatusCancelled:
		run.Journal(fctx, entity.LogWarning, "import cancelled after %d items", snap.ProcessedItems)
	case entity.StatusFailed:
		run.Journal(fctx, entity.LogError, "import failed: %s", *errMsg)
	}

	written, err := o.jobs.Finish(fctx, job.ID, Finish{
		Status:       final,
		Progress:     snap,
		Result:       run.Result,
		ErrorMessage: errMsg,
		CompletedAt:  o.Now().UTC(),
	})
	if err != nil {
		return final, fmt.Errorf("finish job: %w", err)
	}
	if !written {
		jlog.Warn().Msg("terminal state was already written")
	} else if final != entity.StatusCancelled {
		// a cancel that landed after the last check is kept by the store
		if st, err := o.jobs.Status(fctx, job.ID); err == nil && st == entity.StatusCancelled {
			final = entity.StatusCancelled
			job.Status = final
		}
	}

	jlog.Info().Str("status", string(final)).Int("processed", snap.ProcessedItems).
		Dur("duration", o.Now().Sub(start)).Msg("job finished")
	return final, nil
}

// lifecycle guards the job state machine. An illegal transition is a bug
// in this package, so it panics instead of returning an error.
type lifecycle struct {
	cur entity.JobStatus
}

func newLifecycle(s entity.JobStatus) *lifecycle { return &lifecycle{cur: s} }

func (l *lifecycle) to(next entity.JobStatus) {
	if !l.cur.CanTransitionTo(next) {
		panic(fmt.Sprintf("illegal job transition %s -> %s", l.cur, next))
	}
	l.cur = next
}
