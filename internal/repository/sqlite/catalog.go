package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"catalog-import-service/internal/entity"
	"catalog-import-service/internal/pipeline"
)

type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) Begin(ctx context.Context) (pipeline.CatalogTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &catalogTx{tx: tx}, nil
}

const categoryColumns = `id, importer_id, external_id, name, slug, url, kind, product_count, selected, created_at, updated_at`

type scanner interface{ Scan(...any) error }

func scanCategory(row scanner) (entity.Category, error) {
	var c entity.Category
	err := row.Scan(&c.ID, &c.ImporterID, &c.ExternalID, &c.Name, &c.Slug, &c.URL, &c.Kind,
		&c.ProductCount, &c.Selected, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *CatalogRepository) ListCategories(ctx context.Context, importerID int64, ids []int64) ([]entity.Category, error) {
	args := []any{importerID}
	for _, id := range ids {
		args = append(args, id)
	}
	q := `SELECT ` + categoryColumns + ` FROM categories WHERE importer_id = ? AND id IN (` + inList(len(ids)) + `) ORDER BY id;`
	return r.queryCategories(ctx, q, args...)
}

func (r *CatalogRepository) Categories(ctx context.Context, importerID int64, onlySelected bool) ([]entity.Category, error) {
	q := `SELECT ` + categoryColumns + ` FROM categories WHERE importer_id = ? AND (? = 0 OR selected) ORDER BY id;`
	return r.queryCategories(ctx, q, importerID, onlySelected)
}

func (r *CatalogRepository) queryCategories(ctx context.Context, q string, args ...any) ([]entity.Category, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CatalogRepository) SelectedCategoryIDs(ctx context.Context, importerID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM categories WHERE importer_id = ? AND selected ORDER BY id;`, importerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *CatalogRepository) SetSelected(ctx context.Context, importerID int64, externalIDs []string, selected bool) (int64, error) {
	args := []any{selected, now(), importerID}
	for _, id := range externalIDs {
		args = append(args, id)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE categories SET selected = ?, updated_at = ?
WHERE importer_id = ? AND external_id IN (`+inList(len(externalIDs))+`);`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *CatalogRepository) SetCategoryProductCount(ctx context.Context, categoryID int64, count int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE categories SET product_count = ?, updated_at = ? WHERE id = ?;`, count, now(), categoryID)
	return err
}

func (r *CatalogRepository) MarkImporterSynced(ctx context.Context, importerID int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE importers SET last_sync_at = ? WHERE id = ?;`, at.UTC(), importerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *CatalogRepository) CountProducts(ctx context.Context, importerID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM products WHERE importer_id = ?;`, importerID).Scan(&n)
	return n, err
}

type catalogTx struct {
	tx *sql.Tx
}

func (t *catalogTx) FindCategory(ctx context.Context, importerID int64, externalID string) (entity.Category, bool, error) {
	q := `SELECT ` + categoryColumns + ` FROM categories WHERE importer_id = ? AND external_id = ?;`
	c, err := scanCategory(t.tx.QueryRowContext(ctx, q, importerID, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Category{}, false, nil
	}
	if err != nil {
		return entity.Category{}, false, err
	}
	return c, true, nil
}

func (t *catalogTx) InsertCategory(ctx context.Context, c *entity.Category) error {
	ts := now()
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO categories (importer_id, external_id, name, slug, url, kind, product_count, selected, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		c.ImporterID, c.ExternalID, c.Name, c.Slug, c.URL, c.Kind, c.ProductCount, c.Selected, ts, ts)
	if err != nil {
		return err
	}
	c.CreatedAt, c.UpdatedAt = ts, ts
	c.ID, err = res.LastInsertId()
	return err
}

func (t *catalogTx) UpdateCategory(ctx context.Context, c *entity.Category) error {
	c.UpdatedAt = now()
	_, err := t.tx.ExecContext(ctx, `UPDATE categories SET name = ?, slug = ?, url = ?, kind = ?, updated_at = ? WHERE id = ?;`,
		c.Name, c.Slug, c.URL, c.Kind, c.UpdatedAt, c.ID)
	return err
}

func (t *catalogTx) FindProduct(ctx context.Context, importerID int64, sku string) (entity.Product, bool, error) {
	var (
		p             entity.Product
		images, extra string
	)
	err := t.tx.QueryRowContext(ctx, `
SELECT id, importer_id, category_id, sku, name, description, brand, price, stock, images, url,
       extra_data, last_scraped_at, created_at, updated_at
FROM products WHERE importer_id = ? AND sku = ?;`, importerID, sku).Scan(&p.ID, &p.ImporterID, &p.CategoryID,
		&p.SKU, &p.Name, &p.Description, &p.Brand, &p.Price, &p.Stock, &images, &p.URL, &extra,
		&p.LastScrapedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Product{}, false, nil
	}
	if err != nil {
		return entity.Product{}, false, err
	}
	if err := json.Unmarshal([]byte(images), &p.Images); err != nil {
		return entity.Product{}, false, err
	}
	if err := json.Unmarshal([]byte(extra), &p.ExtraData); err != nil {
		return entity.Product{}, false, err
	}
	return p, true, nil
}

func productJSON(p *entity.Product) (images, extra string, err error) {
	if p.Images == nil {
		p.Images = []string{}
	}
	if p.ExtraData == nil {
		p.ExtraData = map[string]any{}
	}
	ib, err := json.Marshal(p.Images)
	if err != nil {
		return "", "", err
	}
	eb, err := json.Marshal(p.ExtraData)
	if err != nil {
		return "", "", err
	}
	return string(ib), string(eb), nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (t *catalogTx) InsertProduct(ctx context.Context, p *entity.Product) error {
	images, extra, err := productJSON(p)
	if err != nil {
		return err
	}
	ts := now()
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO products (importer_id, category_id, sku, name, description, brand, price, stock, images, url,
                      extra_data, last_scraped_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		p.ImporterID, p.CategoryID, p.SKU, p.Name, p.Description, p.Brand, p.Price, p.Stock, images, p.URL,
		extra, utcPtr(p.LastScrapedAt), ts, ts)
	if err != nil {
		return err
	}
	p.CreatedAt, p.UpdatedAt = ts, ts
	p.ID, err = res.LastInsertId()
	return err
}

func (t *catalogTx) UpdateProduct(ctx context.Context, p *entity.Product) error {
	images, extra, err := productJSON(p)
	if err != nil {
		return err
	}
	p.UpdatedAt = now()
	_, err = t.tx.ExecContext(ctx, `
UPDATE products SET
    category_id = ?, name = ?, description = ?, brand = ?, price = ?, stock = ?,
    images = ?, url = ?, extra_data = ?, last_scraped_at = ?, updated_at = ?
WHERE id = ?;`, p.CategoryID, p.Name, p.Description, p.Brand, p.Price, p.Stock, images, p.URL, extra,
		utcPtr(p.LastScrapedAt), p.UpdatedAt, p.ID)
	return err
}

func (t *catalogTx) Commit(context.Context) error   { return t.tx.Commit() }
func (t *catalogTx) Rollback(context.Context) error { return t.tx.Rollback() }
