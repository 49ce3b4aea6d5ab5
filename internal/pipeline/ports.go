package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"catalog-import-service/internal/automation"
	"catalog-import-service/internal/entity"
)

// ErrTotalUnknown is returned by Source.Total when the listing does not say how many items it has.
var ErrTotalUnknown = errors.New("total item count unknown")

// JobStore is the job record as seen by a running job.
type JobStore interface {
	// MarkRunning moves a pending job to running; false means it was not pending.
	MarkRunning(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	Status(ctx context.Context, id uuid.UUID) (entity.JobStatus, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, p entity.JobProgress) error
	// Finish writes the terminal state once; false means it was already written.
	Finish(ctx context.Context, id uuid.UUID, f Finish) (bool, error)
	AppendLog(ctx context.Context, id uuid.UUID, level entity.LogLevel, msg string) error
}

type Finish struct {
	Status       entity.JobStatus
	Progress     entity.JobProgress
	Result       entity.JobResult
	ErrorMessage *string
	CompletedAt  time.Time
}

type CatalogStore interface {
	Begin(ctx context.Context) (CatalogTx, error)
	// ListCategories returns the importer's categories with the given ids, in id order.
	ListCategories(ctx context.Context, importerID int64, ids []int64) ([]entity.Category, error)
	SetCategoryProductCount(ctx context.Context, categoryID int64, count int) error
	MarkImporterSynced(ctx context.Context, importerID int64, at time.Time) error
}

type CatalogTx interface {
	FindCategory(ctx context.Context, importerID int64, externalID string) (entity.Category, bool, error)
	InsertCategory(ctx context.Context, c *entity.Category) error
	UpdateCategory(ctx context.Context, c *entity.Category) error
	FindProduct(ctx context.Context, importerID int64, sku string) (entity.Product, bool, error)
	InsertProduct(ctx context.Context, p *entity.Product) error
	UpdateProduct(ctx context.Context, p *entity.Product) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Supplier is one catalog site: how to log in and how to walk its listings.
type Supplier interface {
	Name() string
	SessionOptions() automation.Options
	Login(ctx context.Context, s automation.Session, creds entity.Credentials) error
	Categories() Source[entity.Category]
	Products() Source[entity.Product]
}

// Scope is one paginated traversal; for products it is one category listing.
type Scope struct {
	Name       string
	URL        string
	ExternalID string
	Kind       string
	CategoryID *int64
}

type ItemRef struct {
	Key   string
	URL   string
	Name  string
	Attrs map[string]string
}

type Listing struct {
	Items   []ItemRef
	HasMore bool
}

type Source[T any] interface {
	Total(ctx context.Context, s automation.Session, scope Scope) (int, error)
	ListPage(ctx context.Context, s automation.Session, scope Scope, page int) (Listing, error)
	Detail(ctx context.Context, s automation.Session, scope Scope, ref ItemRef) (T, error)
}
