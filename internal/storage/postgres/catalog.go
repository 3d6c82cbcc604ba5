package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardapiopro/cardapio-api/internal/domain/catalog"
)

const (
	productColumns = `id, name, description, category, image_url, price, promotional_price,
		preparation_time, available, active`

	listProductsSQL = `SELECT ` + productColumns + `
		FROM products WHERE active = TRUE ORDER BY category, name`

	getProductsByIDsSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = ANY($1)`

	listAddonsSQL = `SELECT id, name, price, active FROM addons WHERE active = TRUE ORDER BY name`

	getAddonsByIDsSQL = `SELECT id, name, price, active FROM addons WHERE id = ANY($1)`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description,
			category = EXCLUDED.category, image_url = EXCLUDED.image_url, price = EXCLUDED.price,
			promotional_price = EXCLUDED.promotional_price, preparation_time = EXCLUDED.preparation_time,
			available = EXCLUDED.available, active = EXCLUDED.active`

	upsertAddonSQL = `INSERT INTO addons (id, name, price, active) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, active = EXCLUDED.active`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// ListProducts returns the active menu ordered by category and name.
func (r *CatalogRepository) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// ProductsByIDs returns the products matching any of ids, inactive ones
// included.
func (r *CatalogRepository) ProductsByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// ListAddons returns the active addons.
func (r *CatalogRepository) ListAddons(ctx context.Context) ([]catalog.Addon, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listAddonsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing addons: %w", err)
	}
	return pgx.CollectRows(rows, scanAddon)
}

// AddonsByIDs returns the addons matching any of ids.
func (r *CatalogRepository) AddonsByIDs(ctx context.Context, ids []string) ([]catalog.Addon, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getAddonsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting addons by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanAddon)
}

// UpsertProduct inserts p or replaces the product with the same ID.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p catalog.Product) error {
	_, err := conn(ctx, r.pool).Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.Description, p.Category, p.ImageURL,
		p.Price, p.PromotionalPrice, p.PreparationTime, p.Available, p.Active,
	)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

// UpsertAddon inserts a or replaces the addon with the same ID.
func (r *CatalogRepository) UpsertAddon(ctx context.Context, a catalog.Addon) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, upsertAddonSQL, a.ID, a.Name, a.Price, a.Active); err != nil {
		return fmt.Errorf("upserting addon %q: %w", a.ID, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var (
		p        catalog.Product
		prepTime *int32
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Category, &p.ImageURL,
		&p.Price, &p.PromotionalPrice, &prepTime, &p.Available, &p.Active,
	)
	p.PreparationTime = intPtr(prepTime)
	return p, err
}

func scanAddon(row pgx.CollectableRow) (catalog.Addon, error) {
	var a catalog.Addon
	err := row.Scan(&a.ID, &a.Name, &a.Price, &a.Active)
	return a, err
}
