package pipeline

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"catalog-import-service/internal/entity"
)

const (
	authShare    = 10
	workCeiling  = 99
	workShare    = workCeiling - authShare
	doneProgress = 100
)

type ProgressWriter interface {
	UpdateProgress(ctx context.Context, id uuid.UUID, p entity.JobProgress) error
}

// Tracker blends phase completion into one percentage. Authentication is
// worth a fixed share, the extraction phase fills the rest item by item.
// The percentage never goes down and processed never passes total.
type Tracker struct {
	store ProgressWriter
	jobID uuid.UUID
	log   *log.Logger

	percent   int
	total     int
	processed int
	current   string
}

func NewTracker(store ProgressWriter, jobID uuid.UUID, logger *log.Logger) *Tracker {
	return &Tracker{store: store, jobID: jobID, log: logger}
}

func (t *Tracker) Authenticated(ctx context.Context) {
	t.raise(authShare)
	t.write(ctx)
}

// Grow announces n more items to process.
func (t *Tracker) Grow(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	t.total += n
	t.write(ctx)
}

// Item records one processed item; fraction is how far the extraction phase is, 0..1.
func (t *Tracker) Item(ctx context.Context, key string, fraction float64) {
	t.processed++
	if t.processed > t.total {
		t.total = t.processed
	}
	t.current = key
	t.raise(authShare + int(math.Floor(clamp01(fraction)*workShare)))
	t.write(ctx)
}

// Discard takes back n items that were counted but never stored.
func (t *Tracker) Discard(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	t.processed = max(t.processed-n, 0)
	t.write(ctx)
}

// PhaseDone moves the bar to the end of the extraction share.
func (t *Tracker) PhaseDone(ctx context.Context) {
	t.raise(workCeiling)
	t.write(ctx)
}

func (t *Tracker) Complete() { t.raise(doneProgress) }

func (t *Tracker) Snapshot() entity.JobProgress {
	return entity.JobProgress{
		Progress:       t.percent,
		TotalItems:     t.total,
		ProcessedItems: t.processed,
		CurrentItem:    t.current,
	}
}

func (t *Tracker) raise(p int) {
	if p > t.percent {
		t.percent = p
	}
}

func (t *Tracker) write(ctx context.Context) {
	if err := t.store.UpdateProgress(ctx, t.jobID, t.Snapshot()); err != nil {
		t.log.Warn().Err(err).Msg("progress update failed")
	}
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
