package postgresql

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"catalog-import-service/internal/entity"
)

type ImporterRepository struct {
	pool *pgxpool.Pool
}

func NewImporterRepository(pool *pgxpool.Pool) *ImporterRepository {
	return &ImporterRepository{pool: pool}
}

const importerColumns = `id, name, display_name, base_url, active, credentials, per_category_item_limit,
inter_item_delay_ms, batch_size, last_sync_at, created_at`

func scanImporter(row pgx.Row) (*entity.Importer, error) {
	var (
		imp       entity.Importer
		credBytes []byte
	)
	err := row.Scan(&imp.ID, &imp.Name, &imp.DisplayName, &imp.BaseURL, &imp.Active, &credBytes,
		&imp.Settings.PerCategoryItemLimit, &imp.Settings.InterItemDelayMs, &imp.Settings.BatchSize,
		&imp.LastSyncAt, &imp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(credBytes) > 0 {
		if err := json.Unmarshal(credBytes, &imp.Credentials); err != nil {
			return nil, err
		}
	}
	return &imp, nil
}

func (r *ImporterRepository) GetByID(ctx context.Context, id int64) (*entity.Importer, error) {
	return scanImporter(r.pool.QueryRow(ctx, `SELECT `+importerColumns+` FROM importers WHERE id = $1;`, id))
}

// GetByName looks the importer up by its registry name, e.g. NORIEGA.
func (r *ImporterRepository) GetByName(ctx context.Context, name string) (*entity.Importer, error) {
	return scanImporter(r.pool.QueryRow(ctx, `SELECT `+importerColumns+` FROM importers WHERE name = $1;`, name))
}

func (r *ImporterRepository) List(ctx context.Context) ([]entity.Importer, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+importerColumns+` FROM importers ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Importer
	for rows.Next() {
		imp, err := scanImporter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *imp)
	}
	return out, rows.Err()
}

// Upsert creates or refreshes an importer by name and fills in its id.
// last_sync_at is owned by the pipeline and is never overwritten here.
func (r *ImporterRepository) Upsert(ctx context.Context, imp *entity.Importer) error {
	creds := imp.Credentials
	if creds == nil {
		creds = entity.Credentials{}
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO importers (name, display_name, base_url, active, credentials, per_category_item_limit,
                       inter_item_delay_ms, batch_size)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (name) DO UPDATE SET
    display_name = EXCLUDED.display_name,
    base_url = EXCLUDED.base_url,
    active = EXCLUDED.active,
    credentials = EXCLUDED.credentials,
    per_category_item_limit = EXCLUDED.per_category_item_limit,
    inter_item_delay_ms = EXCLUDED.inter_item_delay_ms,
    batch_size = EXCLUDED.batch_size
RETURNING id, created_at;
`
	return r.pool.QueryRow(ctx, q, imp.Name, imp.DisplayName, imp.BaseURL, imp.Active, raw,
		imp.Settings.PerCategoryItemLimit, imp.Settings.InterItemDelayMs, imp.Settings.BatchSize).
		Scan(&imp.ID, &imp.CreatedAt)
}
