package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// Product CRUD lives outside the transactional core: single-row reads and
// writes only. Stock mutation during order creation stays in CreateOrder.

func (r *Repo) CreateProduct(ctx context.Context, p Product) (Product, error) {
	err := r.DB.QueryRow(ctx, `
		INSERT INTO products(sku, name, price_cents, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4, now(), now())
		RETURNING id, created_at, updated_at
	`, p.SKU, p.Name, p.PriceCents, p.Stock).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// UpdateProduct patches price and/or stock; nil leaves the column untouched.
func (r *Repo) UpdateProduct(ctx context.Context, id int64, priceCents, stock *int) (Product, error) {
	var p Product
	err := r.DB.QueryRow(ctx, `
		UPDATE products
		SET price_cents = COALESCE($2, price_cents),
		    stock       = COALESCE($3, stock),
		    updated_at  = now()
		WHERE id=$1
		RETURNING id, sku, name, price_cents, stock, created_at, updated_at
	`, id, priceCents, stock).Scan(&p.ID, &p.SKU, &p.Name, &p.PriceCents, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

func (r *Repo) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.DB.QueryRow(ctx, `
		SELECT id, sku, name, price_cents, stock, created_at, updated_at
		FROM products WHERE id=$1
	`, id).Scan(&p.ID, &p.SKU, &p.Name, &p.PriceCents, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

func (r *Repo) ListProducts(ctx context.Context, f ProductFilter) ([]Product, error) {
	if f.Limit <= 0 {
		f.Limit = 10
	}
	rows, err := r.DB.Query(ctx, `
		SELECT id, sku, name, price_cents, stock, created_at, updated_at
		FROM products
		WHERE name ILIKE '%' || $1 || '%' OR sku ILIKE '%' || $1 || '%'
		ORDER BY sku LIMIT $2 OFFSET $3
	`, f.Search, f.Limit, f.Cursor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.PriceCents, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
