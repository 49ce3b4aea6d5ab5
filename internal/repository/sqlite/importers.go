package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"catalog-import-service/internal/entity"
)

type ImporterRepository struct {
	db *sql.DB
}

func NewImporterRepository(db *sql.DB) *ImporterRepository {
	return &ImporterRepository{db: db}
}

const importerColumns = `id, name, display_name, base_url, active, credentials, per_category_item_limit,
inter_item_delay_ms, batch_size, last_sync_at, created_at`

func scanImporter(row scanner) (*entity.Importer, error) {
	var (
		imp   entity.Importer
		creds string
	)
	err := row.Scan(&imp.ID, &imp.Name, &imp.DisplayName, &imp.BaseURL, &imp.Active, &creds,
		&imp.Settings.PerCategoryItemLimit, &imp.Settings.InterItemDelayMs, &imp.Settings.BatchSize,
		&imp.LastSyncAt, &imp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if creds != "" {
		if err := json.Unmarshal([]byte(creds), &imp.Credentials); err != nil {
			return nil, err
		}
	}
	return &imp, nil
}

func (r *ImporterRepository) GetByID(ctx context.Context, id int64) (*entity.Importer, error) {
	return scanImporter(r.db.QueryRowContext(ctx, `SELECT `+importerColumns+` FROM importers WHERE id = ?;`, id))
}

func (r *ImporterRepository) GetByName(ctx context.Context, name string) (*entity.Importer, error) {
	return scanImporter(r.db.QueryRowContext(ctx, `SELECT `+importerColumns+` FROM importers WHERE name = ?;`, name))
}

func (r *ImporterRepository) List(ctx context.Context) ([]entity.Importer, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+importerColumns+` FROM importers ORDER BY name;`)
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

func (r *ImporterRepository) Upsert(ctx context.Context, imp *entity.Importer) error {
	creds := imp.Credentials
	if creds == nil {
		creds = entity.Credentials{}
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	err = r.db.QueryRowContext(ctx, `
INSERT INTO importers (name, display_name, base_url, active, credentials, per_category_item_limit,
                       inter_item_delay_ms, batch_size, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (name) DO UPDATE SET
    display_name = excluded.display_name,
    base_url = excluded.base_url,
    active = excluded.active,
    credentials = excluded.credentials,
    per_category_item_limit = excluded.per_category_item_limit,
    inter_item_delay_ms = excluded.inter_item_delay_ms,
    batch_size = excluded.batch_size
RETURNING id;`,
		imp.Name, imp.DisplayName, imp.BaseURL, imp.Active, string(raw), imp.Settings.PerCategoryItemLimit,
		imp.Settings.InterItemDelayMs, imp.Settings.BatchSize, now()).Scan(&imp.ID)
	if err != nil {
		return err
	}
	// RETURNING drops the declared column type, so created_at is read back separately
	return r.db.QueryRowContext(ctx, `SELECT created_at FROM importers WHERE id = ?;`, imp.ID).Scan(&imp.CreatedAt)
}
