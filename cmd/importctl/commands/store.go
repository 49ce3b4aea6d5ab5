package commands

import (
	"context"
	"fmt"
	"strings"

	"catalog-import-service/internal/entity"
	"catalog-import-service/internal/pipeline"
	"catalog-import-service/internal/repository/postgresql"
	"catalog-import-service/internal/repository/sqlite"
	"catalog-import-service/internal/service"
	"catalog-import-service/internal/worker"
)

// The methods both repository packages provide.
type (
	jobStore interface {
		service.JobRepository
		worker.JobRepo
	}

	importerStore interface {
		service.ImporterLookup
		worker.ImporterRepo
		List(ctx context.Context) ([]entity.Importer, error)
		Upsert(ctx context.Context, imp *entity.Importer) error
	}

	catalogStore interface {
		pipeline.CatalogStore
		service.CategorySelection
		Categories(ctx context.Context, importerID int64, onlySelected bool) ([]entity.Category, error)
		SetSelected(ctx context.Context, importerID int64, externalIDs []string, selected bool) (int64, error)
	}
)

type store struct {
	jobs      jobStore
	importers importerStore
	catalog   catalogStore
	close     func()
}

func (s *store) Close() { s.close() }

// openStore opens --db when set, Postgres otherwise.
func (a *app) openStore(ctx context.Context) (*store, error) {
	if a.dbPath != "" {
		return openSQLite(ctx, a.dbPath)
	}
	if err := a.cfg.RequirePostgres(); err != nil {
		return nil, fmt.Errorf("%w (or pass --%s)", err, flagDB)
	}
	pool, err := postgresql.NewPool(ctx, a.cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("pg: %w", err)
	}
	if err := postgresql.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg schema: %w", err)
	}
	return &store{
		jobs:      postgresql.NewJobRepository(pool),
		importers: postgresql.NewImporterRepository(pool),
		catalog:   postgresql.NewCatalogRepository(pool),
		close:     pool.Close,
	}, nil
}

func openSQLite(ctx context.Context, path string) (*store, error) {
	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return &store{
		jobs:      sqlite.NewJobRepository(db),
		importers: sqlite.NewImporterRepository(db),
		catalog:   sqlite.NewCatalogRepository(db),
		close:     func() { _ = db.Close() },
	}, nil
}

func (s *store) jobService(queue service.JobQueue) *service.JobService {
	return service.NewJobService(s.jobs, s.importers, s.catalog, queue)
}

func normalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
