package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
)

type catalogRepo struct{ q pgx.Tx }

func (r catalogRepo) Store(ctx context.Context, id string) (domain.Store, error) {
	var s domain.Store
	err := r.q.QueryRow(ctx, `SELECT id, name, deleted_at FROM stores WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, domain.NotFound("postgres.catalog.store", "store", id)
	}
	return s, err
}

func (r catalogRepo) Branch(ctx context.Context, id string) (domain.Branch, error) {
	var b domain.Branch
	err := r.q.QueryRow(ctx, `
		SELECT id, store_id, name, carrier_store_id, is_active, created_at
		FROM branches WHERE id = $1`, id).
		Scan(&b.ID, &b.StoreID, &b.Name, &b.CarrierStoreID, &b.Active, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return b, domain.NotFound("postgres.catalog.branch", "branch", id)
	}
	return b, err
}

func (r catalogRepo) ActiveBranches(ctx context.Context, storeID string) ([]string, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id FROM branches
		WHERE store_id = $1 AND is_active
		ORDER BY created_at, id`, storeID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r catalogRepo) Products(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, store_id, name, base_price, compare_at_price, image_url, weight_grams, is_active, deleted_at
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.StoreID, &p.Name, &p.BasePrice, &p.CompareAtPrice,
			&p.ImageURL, &p.WeightGrams, &p.Active, &p.DeletedAt); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r catalogRepo) Variants(ctx context.Context, ids []string) (map[string]domain.Variant, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, product_id, name, price, compare_at_price, image_url, weight_grams, is_active, deleted_at
		FROM product_variants WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.Variant, len(ids))
	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Name, &v.Price, &v.CompareAtPrice,
			&v.ImageURL, &v.WeightGrams, &v.Active, &v.DeletedAt); err != nil {
			return nil, err
		}
		out[v.ID] = v
	}
	return out, rows.Err()
}
