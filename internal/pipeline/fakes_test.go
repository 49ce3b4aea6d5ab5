package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"catalog-import-service/internal/automation"
	"catalog-import-service/internal/entity"
	"catalog-import-service/internal/pipeline"
)

// ---- job store ----

type memJobs struct {
	mu       sync.Mutex
	status   map[uuid.UUID]entity.JobStatus
	progress []entity.JobProgress
	finishes []pipeline.Finish
	logs     []string
}

func newMemJobs(ids ...uuid.UUID) *memJobs {
	j := &memJobs{status: map[uuid.UUID]entity.JobStatus{}}
	for _, id := range ids {
		j.status[id] = entity.StatusPending
	}
	return j
}

func (j *memJobs) MarkRunning(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status[id] != entity.StatusPending {
		return false, nil
	}
	j.status[id] = entity.StatusRunning
	return true, nil
}

func (j *memJobs) Status(ctx context.Context, id uuid.UUID) (entity.JobStatus, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	st, ok := j.status[id]
	if !ok {
		return "", errors.New("not found")
	}
	return st, nil
}

func (j *memJobs) setStatus(id uuid.UUID, st entity.JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status[id] = st
}

func (j *memJobs) UpdateProgress(ctx context.Context, id uuid.UUID, p entity.JobProgress) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress = append(j.progress, p)
	return nil
}

func (j *memJobs) Finish(ctx context.Context, id uuid.UUID, f pipeline.Finish) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.finishes) > 0 {
		return false, nil
	}
	st := j.status[id]
	if st != entity.StatusRunning && st != entity.StatusCancelled {
		return false, nil
	}
	if st != entity.StatusCancelled {
		j.status[id] = f.Status
	}
	j.finishes = append(j.finishes, f)
	return true, nil
}

func (j *memJobs) AppendLog(ctx context.Context, id uuid.UUID, level entity.LogLevel, msg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.logs = append(j.logs, string(level)+" "+msg)
	return nil
}

// ---- catalog store ----

type memCatalog struct {
	mu         sync.Mutex
	nextID     int64
	categories map[string]entity.Category
	products   map[string]entity.Product
	commits    int
	failSKU    string
	synced     int
	counts     map[int64]int
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		categories: map[string]entity.Category{},
		products:   map[string]entity.Product{},
		counts:     map[int64]int{},
	}
}

func key(importerID int64, k string) string { return fmt.Sprintf("%d/%s", importerID, k) }

func (c *memCatalog) addCategory(cat entity.Category) entity.Category {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	cat.ID = c.nextID
	c.categories[key(cat.ImporterID, cat.ExternalID)] = cat
	return cat
}

func (c *memCatalog) productCount(importerID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.products {
		if p.ImporterID == importerID {
			n++
		}
	}
	return n
}

func (c *memCatalog) product(importerID int64, sku string) (entity.Product, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[key(importerID, sku)]
	return p, ok
}

func (c *memCatalog) Begin(ctx context.Context) (pipeline.CatalogTx, error) {
	return &memTx{c: c, cats: map[string]entity.Category{}, prods: map[string]entity.Product{}}, nil
}

func (c *memCatalog) ListCategories(ctx context.Context, importerID int64, ids []int64) ([]entity.Category, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []entity.Category
	for _, cat := range c.categories {
		if cat.ImporterID == importerID && want[cat.ID] {
			out = append(out, cat)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (c *memCatalog) SetCategoryProductCount(ctx context.Context, categoryID int64, count int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[categoryID] = count
	return nil
}

func (c *memCatalog) MarkImporterSynced(ctx context.Context, importerID int64, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.synced++
	return nil
}

type memTx struct {
	c     *memCatalog
	cats  map[string]entity.Category
	prods map[string]entity.Product
}

func (t *memTx) FindCategory(ctx context.Context, importerID int64, externalID string) (entity.Category, bool, error) {
	k := key(importerID, externalID)
	if cat, ok := t.cats[k]; ok {
		return cat, true, nil
	}
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	cat, ok := t.c.categories[k]
	return cat, ok, nil
}

func (t *memTx) InsertCategory(ctx context.Context, cat *entity.Category) error {
	t.c.mu.Lock()
	t.c.nextID++
	cat.ID = t.c.nextID
	t.c.mu.Unlock()
	t.cats[key(cat.ImporterID, cat.ExternalID)] = *cat
	return nil
}

func (t *memTx) UpdateCategory(ctx context.Context, cat *entity.Category) error {
	t.cats[key(cat.ImporterID, cat.ExternalID)] = *cat
	return nil
}

func (t *memTx) FindProduct(ctx context.Context, importerID int64, sku string) (entity.Product, bool, error) {
	k := key(importerID, sku)
	if p, ok := t.prods[k]; ok {
		return p, true, nil
	}
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	p, ok := t.c.products[k]
	return p, ok, nil
}

func (t *memTx) InsertProduct(ctx context.Context, p *entity.Product) error {
	if p.SKU == t.c.failSKU {
		return errors.New("constraint violation")
	}
	t.prods[key(p.ImporterID, p.SKU)] = *p
	return nil
}

func (t *memTx) UpdateProduct(ctx context.Context, p *entity.Product) error {
	if p.SKU == t.c.failSKU {
		return errors.New("constraint violation")
	}
	t.prods[key(p.ImporterID, p.SKU)] = *p
	return nil
}

func (t *memTx) Commit(ctx context.Context) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	for k, v := range t.cats {
		t.c.categories[k] = v
	}
	for k, v := range t.prods {
		t.c.products[k] = v
	}
	t.c.commits++
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.cats, t.prods = nil, nil
	return nil
}

// ---- supplier ----

type fakeSource[T any] struct {
	mu        sync.Mutex
	total     int
	totalErr  error
	pages     [][]pipeline.ItemRef
	pageFails map[int]int
	badItems  map[string]bool
	build     func(ref pipeline.ItemRef, scope pipeline.Scope) T
	afterItem func(n int)
	// endless makes every page claim there is another one
	endless bool

	listCalls []int
	details   int
}

func (f *fakeSource[T]) Total(ctx context.Context, s automation.Session, scope pipeline.Scope) (int, error) {
	if f.totalErr != nil {
		return 0, f.totalErr
	}
	return f.total, nil
}

func (f *fakeSource[T]) ListPage(ctx context.Context, s automation.Session, scope pipeline.Scope, page int) (pipeline.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, page)
	if f.pageFails[page] > 0 {
		f.pageFails[page]--
		return pipeline.Listing{}, fmt.Errorf("timeout listing page %d", page)
	}
	if page > len(f.pages) {
		return pipeline.Listing{HasMore: f.endless}, nil
	}
	return pipeline.Listing{Items: f.pages[page-1], HasMore: f.endless || page < len(f.pages)}, nil
}

func (f *fakeSource[T]) Detail(ctx context.Context, s automation.Session, scope pipeline.Scope, ref pipeline.ItemRef) (T, error) {
	var zero T
	if f.badItems[ref.Key] {
		return zero, errors.New("detail page timed out")
	}
	rec := f.build(ref, scope)
	f.mu.Lock()
	f.details++
	n := f.details
	f.mu.Unlock()
	if f.afterItem != nil {
		f.afterItem(n)
	}
	return rec, nil
}

func (f *fakeSource[T]) detailCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.details
}

func refs(prefix string, from, n int) []pipeline.ItemRef {
	out := make([]pipeline.ItemRef, 0, n)
	for i := from; i < from+n; i++ {
		out = append(out, pipeline.ItemRef{Key: fmt.Sprintf("%s%03d", prefix, i)})
	}
	return out
}

// paged splits n items into pages of size per.
func paged(prefix string, n, per int) [][]pipeline.ItemRef {
	var pages [][]pipeline.ItemRef
	for i := 0; i < n; i += per {
		size := per
		if i+size > n {
			size = n - i
		}
		pages = append(pages, refs(prefix, i, size))
	}
	return pages
}

func productSource(n, per int) *fakeSource[entity.Product] {
	return &fakeSource[entity.Product]{
		total:     n,
		pages:     paged("SKU", n, per),
		pageFails: map[int]int{},
		badItems:  map[string]bool{},
		build: func(ref pipeline.ItemRef, scope pipeline.Scope) entity.Product {
			return entity.Product{
				SKU:        ref.Key,
				Name:       "Product " + ref.Key,
				CategoryID: scope.CategoryID,
				Price:      1000,
				ExtraData:  map[string]any{"origin": "CL"},
			}
		},
	}
}

func categorySource(n int) *fakeSource[entity.Category] {
	return &fakeSource[entity.Category]{
		totalErr:  pipeline.ErrTotalUnknown,
		pages:     paged("CAT", n, n),
		pageFails: map[int]int{},
		badItems:  map[string]bool{},
		build: func(ref pipeline.ItemRef, scope pipeline.Scope) entity.Category {
			return entity.Category{ExternalID: ref.Key, Name: "Category " + ref.Key}
		},
	}
}

type fakeSupplier struct {
	loginErr error
	cats     *fakeSource[entity.Category]
	prods    *fakeSource[entity.Product]
}

func (s *fakeSupplier) Name() string                       { return "FAKE" }
func (s *fakeSupplier) SessionOptions() automation.Options { return automation.Options{} }

func (s *fakeSupplier) Login(ctx context.Context, sess automation.Session, creds entity.Credentials) error {
	return s.loginErr
}

func (s *fakeSupplier) Categories() pipeline.Source[entity.Category] { return s.cats }
func (s *fakeSupplier) Products() pipeline.Source[entity.Product]    { return s.prods }

// ---- token ----

type funcToken func() bool

func (f funcToken) IsCancelled(ctx context.Context) bool { return f() }

func never() pipeline.Token { return funcToken(func() bool { return false }) }
