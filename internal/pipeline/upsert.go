package pipeline

import (
	"context"
	"fmt"
	"time"

	"catalog-import-service/internal/entity"
)

type Outcome int

const (
	Created Outcome = iota + 1
	Updated
)

type applyFunc[T any] func(ctx context.Context, tx CatalogTx, rec T) (Outcome, error)

// Upserter buffers records and writes them by natural key, one transaction
// per batch. Writing the same records twice leaves the same rows.
type Upserter[T any] struct {
	store     CatalogStore
	batchSize int
	apply     applyFunc[T]
	keyOf     func(T) string

	buf     []T
	created int
	updated int
}

func newUpserter[T any](store CatalogStore, batchSize int, apply applyFunc[T], keyOf func(T) string) *Upserter[T] {
	if batchSize <= 0 {
		batchSize = entity.DefaultBatchSize
	}
	return &Upserter[T]{store: store, batchSize: batchSize, apply: apply, keyOf: keyOf}
}

func NewCategoryUpserter(store CatalogStore, importerID int64, batchSize int) *Upserter[entity.Category] {
	return newUpserter(store, batchSize, func(ctx context.Context, tx CatalogTx, c entity.Category) (Outcome, error) {
		return upsertCategory(ctx, tx, importerID, c)
	}, func(c entity.Category) string { return c.ExternalID })
}

func NewProductUpserter(store CatalogStore, importerID int64, batchSize int, now func() time.Time) *Upserter[entity.Product] {
	if now == nil {
		now = time.Now
	}
	return newUpserter(store, batchSize, func(ctx context.Context, tx CatalogTx, p entity.Product) (Outcome, error) {
		return upsertProduct(ctx, tx, importerID, p, now().UTC())
	}, func(p entity.Product) string { return p.SKU })
}

// Stage buffers rec until the next Flush.
func (u *Upserter[T]) Stage(rec T) { u.buf = append(u.buf, rec) }

func (u *Upserter[T]) Full() bool { return len(u.buf) >= u.batchSize }

func (u *Upserter[T]) Pending() int { return len(u.buf) }

func (u *Upserter[T]) Counts() (created, updated int) { return u.created, u.updated }

// Flush commits the buffered batch. On failure the batch is rolled back,
// the buffer dropped and a KindPersistence error returned; earlier batches stay committed.
func (u *Upserter[T]) Flush(ctx context.Context) error {
	if len(u.buf) == 0 {
		return nil
	}
	batch := u.buf
	u.buf = nil

	tx, err := u.store.Begin(ctx)
	if err != nil {
		return &Error{Kind: KindPersistence, Err: fmt.Errorf("begin: %w", err)}
	}

	var created, updated int
	for _, rec := range batch {
		out, err := u.apply(ctx, tx, rec)
		if err != nil {
			_ = tx.Rollback(ctx)
			return &Error{Kind: KindPersistence, Item: u.keyOf(rec), Err: err}
		}
		if out == Created {
			created++
		} else {
			updated++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return &Error{Kind: KindPersistence, Err: fmt.Errorf("commit: %w", err)}
	}

	u.created += created
	u.updated += updated
	return nil
}

func upsertCategory(ctx context.Context, tx CatalogTx, importerID int64, c entity.Category) (Outcome, error) {
	c.ImporterID = importerID
	c.EnsureSlug()

	cur, found, err := tx.FindCategory(ctx, importerID, c.ExternalID)
	if err != nil {
		return 0, err
	}
	if !found {
		return Created, tx.InsertCategory(ctx, &c)
	}

	// selected belongs to the operator
	cur.Name = c.Name
	cur.Slug = c.Slug
	if c.URL != "" {
		cur.URL = c.URL
	}
	if c.Kind != "" {
		cur.Kind = c.Kind
	}
	return Updated, tx.UpdateCategory(ctx, &cur)
}

func upsertProduct(ctx context.Context, tx CatalogTx, importerID int64, p entity.Product, now time.Time) (Outcome, error) {
	p.ImporterID = importerID
	p.LastScrapedAt = &now
	if p.Images == nil {
		p.Images = []string{}
	}

	cur, found, err := tx.FindProduct(ctx, importerID, p.SKU)
	if err != nil {
		return 0, err
	}
	if !found {
		p.ExtraData = entity.MergeExtraData(nil, p.ExtraData)
		return Created, tx.InsertProduct(ctx, &p)
	}

	if p.Name != "" {
		cur.Name = p.Name
	}
	if p.Description != "" {
		cur.Description = p.Description
	}
	if p.Brand != "" {
		cur.Brand = p.Brand
	}
	if p.URL != "" {
		cur.URL = p.URL
	}
	if p.CategoryID != nil {
		cur.CategoryID = p.CategoryID
	}
	if len(p.Images) > 0 {
		cur.Images = p.Images
	}
	cur.Price = p.Price
	cur.Stock = p.Stock
	cur.ExtraData = entity.MergeExtraData(cur.ExtraData, p.ExtraData)
	cur.LastScrapedAt = p.LastScrapedAt
	return Updated, tx.UpdateProduct(ctx, &cur)
}
