package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/phuslu/log"

	"catalog-import-service/internal/automation"
	"catalog-import-service/internal/entity"
)

// Run is the state one job threads through its phases.
type Run struct {
	Job      *entity.Job
	Config   entity.ImporterRunConfig
	Supplier Supplier
	Launcher automation.Launcher
	Catalog  CatalogStore
	Jobs     JobStore
	Token    Token
	Limiter  *Limiter
	Progress *Tracker
	Log      *log.Logger

	// Session is opened by Authenticate and closed by the orchestrator.
	Session automation.Session
	Result  entity.JobResult

	listBackoff time.Duration
	now         func() time.Time
}

// Journal writes a user-facing job log line next to the process log.
func (r *Run) Journal(ctx context.Context, level entity.LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case entity.LogError:
		r.Log.Error().Msg(msg)
	case entity.LogWarning:
		r.Log.Warn().Msg(msg)
	default:
		r.Log.Info().Msg(msg)
	}
	if err := r.Jobs.AppendLog(context.WithoutCancel(ctx), r.Job.ID, level, msg); err != nil {
		r.Log.Warn().Err(err).Msg("append job log")
	}
}

type PhaseResult struct {
	Success   bool
	Cancelled bool
	Summary   string
	Err       error
}

type Phase interface {
	Name() string
	Execute(ctx context.Context, run *Run) PhaseResult
}

// Authenticate opens the browser session and logs in. It persists nothing.
type Authenticate struct{}

func (Authenticate) Name() string { return "authenticate" }

func (Authenticate) Execute(ctx context.Context, run *Run) PhaseResult {
	if run.Token.IsCancelled(ctx) {
		return PhaseResult{Cancelled: true, Summary: "cancelled before login"}
	}

	sess, err := run.Launcher.Open(ctx, run.Supplier.SessionOptions())
	if err != nil {
		return PhaseResult{Err: &Error{Kind: KindAuthentication, Err: fmt.Errorf("open session: %w", err)}}
	}
	run.Session = sess

	run.Journal(ctx, entity.LogInfo, "logging in to %s", run.Supplier.Name())
	if err := run.Supplier.Login(ctx, sess, run.Config.Credentials); err != nil {
		if run.Token.IsCancelled(ctx) {
			return PhaseResult{Cancelled: true, Summary: "cancelled during login"}
		}
		return PhaseResult{Err: &Error{Kind: KindAuthentication, Err: err}}
	}

	run.Progress.Authenticated(ctx)
	run.Journal(ctx, entity.LogInfo, "authenticated on %s", run.Supplier.Name())
	return PhaseResult{Success: true, Summary: "authenticated"}
}

// DiscoverCategories walks the supplier's category listing and upserts every category.
type DiscoverCategories struct{}

func (DiscoverCategories) Name() string { return "discover_categories" }

func (DiscoverCategories) Execute(ctx context.Context, run *Run) PhaseResult {
	sink := NewCategoryUpserter(run.Catalog, run.Config.ImporterID, run.Config.BatchSize)
	eng := &Engine[entity.Category]{
		Source:      run.Supplier.Categories(),
		Sink:        sink,
		Limiter:     run.Limiter,
		Token:       run.Token,
		Log:         run.Log,
		ListBackoff: run.listBackoff,
		OnGrow:      func(n int) { run.Progress.Grow(ctx, n) },
		OnItem: func(key string, done, planned int) {
			run.Progress.Item(ctx, key, ratio(done, planned))
		},
		OnDiscard: func(n int) { run.Progress.Discard(ctx, n) },
	}

	out, err := eng.Run(ctx, run.Session, Scope{Name: "categories"}, nil)
	run.addScope(out, sink)
	if err != nil {
		return PhaseResult{Err: err}
	}
	if out.Cancelled {
		return PhaseResult{Cancelled: true, Summary: fmt.Sprintf("cancelled after %d categories", out.Processed)}
	}

	if err := run.Catalog.MarkImporterSynced(ctx, run.Config.ImporterID, run.now().UTC()); err != nil {
		run.Log.Warn().Err(err).Msg("mark importer synced")
	}
	run.Progress.PhaseDone(ctx)

	created, updated := sink.Counts()
	summary := fmt.Sprintf("%d categories (%d new, %d updated)", out.Processed, created, updated)
	run.Journal(ctx, entity.LogInfo, "%s", summary)
	return PhaseResult{Success: true, Summary: summary}
}

// ExtractProducts walks every selected category and upserts its products.
type ExtractProducts struct{}

func (ExtractProducts) Name() string { return "extract_products" }

func (ExtractProducts) Execute(ctx context.Context, run *Run) PhaseResult {
	cats, err := run.Catalog.ListCategories(ctx, run.Config.ImporterID, run.Config.SelectedCategoryIDs)
	if err != nil {
		return PhaseResult{Err: &Error{Kind: KindPersistence, Err: fmt.Errorf("list categories: %w", err)}}
	}
	if len(cats) == 0 {
		run.Journal(ctx, entity.LogWarning, "no categories selected, nothing to extract")
		run.Progress.PhaseDone(ctx)
		return PhaseResult{Success: true, Summary: "no categories selected"}
	}

	limit := run.Config.PerCategoryItemLimit
	if limit == nil {
		run.Journal(ctx, entity.LogInfo, "extracting %d categories, no per-category limit", len(cats))
	} else {
		run.Journal(ctx, entity.LogInfo, "extracting %d categories, up to %d products each", len(cats), *limit)
	}

	var processed int
	for i, cat := range cats {
		if run.Token.IsCancelled(ctx) {
			return PhaseResult{Cancelled: true, Summary: fmt.Sprintf("cancelled after %d products", processed)}
		}

		id := cat.ID
		scope := Scope{Name: cat.Name, URL: cat.URL, ExternalID: cat.ExternalID, Kind: cat.Kind, CategoryID: &id}
		sink := NewProductUpserter(run.Catalog, run.Config.ImporterID, run.Config.BatchSize, run.now)
		idx, n := i, len(cats)
		eng := &Engine[entity.Product]{
			Source:      run.Supplier.Products(),
			Sink:        sink,
			Limiter:     run.Limiter,
			Token:       run.Token,
			Log:         run.Log,
			ListBackoff: run.listBackoff,
			OnGrow:      func(k int) { run.Progress.Grow(ctx, k) },
			OnItem: func(key string, done, planned int) {
				run.Progress.Item(ctx, key, (float64(idx)+ratio(done, planned))/float64(n))
			},
			OnDiscard: func(k int) { run.Progress.Discard(ctx, k) },
		}

		run.Journal(ctx, entity.LogInfo, "category %d/%d: %s", i+1, n, cat.Name)
		out, err := eng.Run(ctx, run.Session, scope, limit)
		run.addScope(out, sink)
		processed += out.Processed
		if err != nil {
			return PhaseResult{Err: err}
		}
		if out.Exhausted {
			run.Journal(ctx, entity.LogWarning, "category %s stopped early: %s", cat.Name, out.ListError)
		}
		if out.Total > 0 {
			if err := run.Catalog.SetCategoryProductCount(ctx, cat.ID, out.Total); err != nil {
				run.Log.Warn().Err(err).Int64("category_id", cat.ID).Msg("update product count")
			}
		}
		if out.Cancelled {
			return PhaseResult{Cancelled: true, Summary: fmt.Sprintf("cancelled after %d products", processed)}
		}
	}

	run.Progress.PhaseDone(ctx)
	summary := fmt.Sprintf("%d products from %d categories", processed, len(cats))
	run.Journal(ctx, entity.LogInfo, "%s", summary)
	return PhaseResult{Success: true, Summary: summary}
}

func (r *Run) addScope(out ScopeOutcome, counts interface{ Counts() (int, int) }) {
	created, updated := counts.Counts()
	r.Result.Created += created
	r.Result.Updated += updated
	r.Result.Skipped += out.Skipped
	r.Result.Scopes = append(r.Result.Scopes, out.ScopeSummary)
	if out.ListError != "" {
		r.Result.LastError = out.ListError
	}
}

func ratio(done, planned int) float64 {
	if planned <= 0 {
		return 0
	}
	return float64(done) / float64(planned)
}
