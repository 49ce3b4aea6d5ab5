package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"catalog-import-service/internal/entity"
	"catalog-import-service/internal/pipeline"
)

// CatalogRepository stores categories and products keyed by importer.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) Begin(ctx context.Context) (pipeline.CatalogTx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &catalogTx{tx: tx}, nil
}

const categoryColumns = `id, importer_id, external_id, name, slug, url, kind, product_count, selected, created_at, updated_at`

func scanCategory(row pgx.Row) (entity.Category, error) {
	var c entity.Category
	err := row.Scan(&c.ID, &c.ImporterID, &c.ExternalID, &c.Name, &c.Slug, &c.URL, &c.Kind,
		&c.ProductCount, &c.Selected, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *CatalogRepository) ListCategories(ctx context.Context, importerID int64, ids []int64) ([]entity.Category, error) {
	q := `SELECT ` + categoryColumns + ` FROM categories WHERE importer_id = $1 AND id = ANY($2) ORDER BY id;`
	return r.queryCategories(ctx, q, importerID, ids)
}

// Categories lists every category of the importer, optionally only the selected ones.
func (r *CatalogRepository) Categories(ctx context.Context, importerID int64, onlySelected bool) ([]entity.Category, error) {
	q := `SELECT ` + categoryColumns + ` FROM categories WHERE importer_id = $1 AND ($2 = FALSE OR selected) ORDER BY id;`
	return r.queryCategories(ctx, q, importerID, onlySelected)
}

func (r *CatalogRepository) queryCategories(ctx context.Context, q string, args ...any) ([]entity.Category, error) {
	rows, err := r.pool.Query(ctx, q, args...)
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
	rows, err := r.pool.Query(ctx, `SELECT id FROM categories WHERE importer_id = $1 AND selected ORDER BY id;`, importerID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// SetSelected flags categories by external id; it returns how many rows changed.
func (r *CatalogRepository) SetSelected(ctx context.Context, importerID int64, externalIDs []string, selected bool) (int64, error) {
	const q = `UPDATE categories SET selected = $3, updated_at = now() WHERE importer_id = $1 AND external_id = ANY($2);`
	tag, err := r.pool.Exec(ctx, q, importerID, externalIDs, selected)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *CatalogRepository) SetCategoryProductCount(ctx context.Context, categoryID int64, count int) error {
	_, err := r.pool.Exec(ctx, `UPDATE categories SET product_count = $2, updated_at = now() WHERE id = $1;`, categoryID, count)
	return err
}

func (r *CatalogRepository) MarkImporterSynced(ctx context.Context, importerID int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE importers SET last_sync_at = $2 WHERE id = $1;`, importerID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *CatalogRepository) CountProducts(ctx context.Context, importerID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM products WHERE importer_id = $1;`, importerID).Scan(&n)
	return n, err
}

type catalogTx struct {
	tx pgx.Tx
}

func (t *catalogTx) FindCategory(ctx context.Context, importerID int64, externalID string) (entity.Category, bool, error) {
	q := `SELECT ` + categoryColumns + ` FROM categories WHERE importer_id = $1 AND external_id = $2 FOR UPDATE;`
	c, err := scanCategory(t.tx.QueryRow(ctx, q, importerID, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return entity.Category{}, false, nil
	}
	if err != nil {
		return entity.Category{}, false, err
	}
	return c, true, nil
}

func (t *catalogTx) InsertCategory(ctx context.Context, c *entity.Category) error {
	const q = `
INSERT INTO categories (importer_id, external_id, name, slug, url, kind, product_count, selected)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at, updated_at;
`
	return t.tx.QueryRow(ctx, q, c.ImporterID, c.ExternalID, c.Name, c.Slug, c.URL, c.Kind, c.ProductCount, c.Selected).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (t *catalogTx) UpdateCategory(ctx context.Context, c *entity.Category) error {
	const q = `
UPDATE categories SET name = $2, slug = $3, url = $4, kind = $5, updated_at = now()
WHERE id = $1
RETURNING updated_at;
`
	return t.tx.QueryRow(ctx, q, c.ID, c.Name, c.Slug, c.URL, c.Kind).Scan(&c.UpdatedAt)
}

func (t *catalogTx) FindProduct(ctx context.Context, importerID int64, sku string) (entity.Product, bool, error) {
	const q = `
SELECT id, importer_id, category_id, sku, name, description, brand, price, stock, images, url,
       extra_data, last_scraped_at, created_at, updated_at
FROM products
WHERE importer_id = $1 AND sku = $2
FOR UPDATE;
`
	var (
		p           entity.Product
		imagesBytes []byte
		extraBytes  []byte
	)
	err := t.tx.QueryRow(ctx, q, importerID, sku).Scan(&p.ID, &p.ImporterID, &p.CategoryID, &p.SKU, &p.Name,
		&p.Description, &p.Brand, &p.Price, &p.Stock, &imagesBytes, &p.URL, &extraBytes, &p.LastScrapedAt,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return entity.Product{}, false, nil
	}
	if err != nil {
		return entity.Product{}, false, err
	}
	if err := json.Unmarshal(imagesBytes, &p.Images); err != nil {
		return entity.Product{}, false, err
	}
	if err := json.Unmarshal(extraBytes, &p.ExtraData); err != nil {
		return entity.Product{}, false, err
	}
	return p, true, nil
}

func encodeProductJSON(p *entity.Product) (images, extra []byte, err error) {
	if p.Images == nil {
		p.Images = []string{}
	}
	if p.ExtraData == nil {
		p.ExtraData = map[string]any{}
	}
	if images, err = json.Marshal(p.Images); err != nil {
		return nil, nil, err
	}
	if extra, err = json.Marshal(p.ExtraData); err != nil {
		return nil, nil, err
	}
	return images, extra, nil
}

func (t *catalogTx) InsertProduct(ctx context.Context, p *entity.Product) error {
	images, extra, err := encodeProductJSON(p)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO products (importer_id, category_id, sku, name, description, brand, price, stock, images, url,
                      extra_data, last_scraped_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id, created_at, updated_at;
`
	return t.tx.QueryRow(ctx, q, p.ImporterID, p.CategoryID, p.SKU, p.Name, p.Description, p.Brand, p.Price,
		p.Stock, images, p.URL, extra, p.LastScrapedAt).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (t *catalogTx) UpdateProduct(ctx context.Context, p *entity.Product) error {
	images, extra, err := encodeProductJSON(p)
	if err != nil {
		return err
	}
	const q = `
UPDATE products SET
    category_id = $2, name = $3, description = $4, brand = $5, price = $6, stock = $7,
    images = $8, url = $9, extra_data = $10, last_scraped_at = $11, updated_at = now()
WHERE id = $1
RETURNING updated_at;
`
	return t.tx.QueryRow(ctx, q, p.ID, p.CategoryID, p.Name, p.Description, p.Brand, p.Price, p.Stock,
		images, p.URL, extra, p.LastScrapedAt).Scan(&p.UpdatedAt)
}

func (t *catalogTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *catalogTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
