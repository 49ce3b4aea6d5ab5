package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/phuslu/log"

	"catalog-import-service/internal/automation"
	"catalog-import-service/internal/entity"
)

const defaultListBackoff = 2 * time.Second

// Unbounded marks a scope whose size is not known and has no limit.
const Unbounded = -1

// Engine walks one scope: paginated listing, then one detail per item.
type Engine[T any] struct {
	Source  Source[T]
	Sink    *Upserter[T]
	Limiter *Limiter
	Token   Token
	Log     *log.Logger

	// ListBackoff is the pause before the single retry of a failed listing.
	ListBackoff time.Duration
	// OnGrow is told how many items the scope is going to process.
	OnGrow func(n int)
	// OnItem is called after each staged item with done/planned for the scope.
	OnItem func(key string, done, planned int)
	// OnDiscard is told how many staged items were lost to a failed batch.
	OnDiscard func(n int)
}

type ScopeOutcome struct {
	entity.ScopeSummary
	Cancelled bool
}

// Run processes scope until the effective limit, the end of the listing or
// cancellation. Item and listing failures are absorbed; only a persistence
// failure is returned.
func (e *Engine[T]) Run(ctx context.Context, s automation.Session, scope Scope, limit *int) (ScopeOutcome, error) {
	out := ScopeOutcome{ScopeSummary: entity.ScopeSummary{Name: scope.Name}}

	bound := Unbounded
	total, err := e.Source.Total(ctx, s, scope)
	switch {
	case err == nil && total >= 0:
		out.Total = total
		bound = total
		if limit != nil && *limit < bound {
			bound = *limit
		}
	case limit != nil:
		bound = *limit
	}
	if err != nil && !errors.Is(err, ErrTotalUnknown) {
		e.Log.Warn().Err(err).Str("scope", scope.Name).Msg("total count unavailable")
	}
	out.Limit = bound

	planned := 0
	if bound != Unbounded {
		planned = bound
		e.grow(bound)
	}
	e.Log.Info().Str("scope", scope.Name).Int("total", out.Total).Int("limit", bound).Msg("scope started")

	reached := func() bool { return bound != Unbounded && out.Processed >= bound }

pages:
	for page := 1; !reached(); page++ {
		if e.Token.IsCancelled(ctx) {
			out.Cancelled = true
			break
		}

		listing, err := e.listPage(ctx, s, scope, page)
		if err != nil {
			if e.Token.IsCancelled(ctx) {
				out.Cancelled = true
				break
			}
			out.Exhausted = true
			out.ListError = err.Error()
			e.Log.Warn().Err(err).Str("scope", scope.Name).Int("page", page).Msg("listing failed, scope exhausted")
			break
		}

		if len(listing.Items) == 0 {
			if listing.HasMore {
				e.Log.Warn().Str("scope", scope.Name).Int("page", page).Msg("empty page claims more, stopping")
			}
			break
		}

		if bound == Unbounded {
			planned += len(listing.Items)
			e.grow(len(listing.Items))
		}

		for _, ref := range listing.Items {
			if reached() {
				break
			}
			if e.Token.IsCancelled(ctx) {
				out.Cancelled = true
				break pages
			}

			rec, err := e.Source.Detail(ctx, s, scope, ref)
			if err != nil {
				out.Skipped++
				ierr := &Error{Kind: KindItemExtraction, Scope: scope.Name, Item: ref.Key, Err: err}
				e.Log.Warn().Err(ierr).Msg("item skipped")
				continue
			}

			e.Sink.Stage(rec)
			out.Processed++
			if e.OnItem != nil {
				e.OnItem(ref.Key, out.Processed, planned)
			}

			if e.Sink.Full() {
				// commit what was already extracted even when stopping here
				if e.Token.IsCancelled(ctx) {
					out.Cancelled = true
				}
				if err := e.flush(ctx, &out); err != nil {
					return out, withScope(err, scope.Name)
				}
				if out.Cancelled {
					break pages
				}
			}

			if err := e.Limiter.Wait(ctx); err != nil {
				out.Cancelled = true
				break pages
			}
		}

		if !listing.HasMore {
			break
		}
	}

	if err := e.flush(context.WithoutCancel(ctx), &out); err != nil {
		return out, withScope(err, scope.Name)
	}
	e.Log.Info().Str("scope", scope.Name).Int("processed", out.Processed).Int("skipped", out.Skipped).
		Bool("cancelled", out.Cancelled).Bool("exhausted", out.Exhausted).Msg("scope finished")
	return out, nil
}

// listPage retries a failed listing once after a short backoff.
func (e *Engine[T]) listPage(ctx context.Context, s automation.Session, scope Scope, page int) (Listing, error) {
	listing, err := e.Source.ListPage(ctx, s, scope, page)
	if err == nil {
		return listing, nil
	}
	e.Log.Warn().Err(err).Str("scope", scope.Name).Int("page", page).Msg("listing failed, retrying")

	backoff := e.ListBackoff
	if backoff <= 0 {
		backoff = defaultListBackoff
	}
	t := time.NewTimer(backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return Listing{}, &Error{Kind: KindPageList, Scope: scope.Name, Err: ctx.Err()}
	case <-t.C:
	}

	listing, err = e.Source.ListPage(ctx, s, scope, page)
	if err != nil {
		return Listing{}, &Error{Kind: KindPageList, Scope: scope.Name, Err: err}
	}
	return listing, nil
}

// flush commits the staged batch. Items of a batch that did not commit are
// taken back out of the processed count.
func (e *Engine[T]) flush(ctx context.Context, out *ScopeOutcome) error {
	staged := e.Sink.Pending()
	err := e.Sink.Flush(ctx)
	if err != nil && staged > 0 {
		out.Processed -= staged
		if e.OnDiscard != nil {
			e.OnDiscard(staged)
		}
	}
	return err
}

func (e *Engine[T]) grow(n int) {
	if e.OnGrow != nil && n > 0 {
		e.OnGrow(n)
	}
}

func withScope(err error, scope string) error {
	var perr *Error
	if errors.As(err, &perr) && perr.Scope == "" {
		perr.Scope = scope
	}
	return err
}
