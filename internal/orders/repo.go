package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

// ConfirmResult is what a confirm attempt produced.
type ConfirmResult struct {
	Body      json.RawMessage
	Replayed  bool // served from a stored idempotency record
	Confirmed bool // CREATED -> CONFIRMED happened in this call
}

// CreateOrder reserves stock and creates the order in one transaction.
// Every product row is locked (FOR UPDATE) and checked before any stock is
// decremented, so either the whole order commits or nothing does.
func (r *Repo) CreateOrder(ctx context.Context, customerID int64, items []ItemInput) (Order, []OrderItem, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// pass 1: lock + check every line, snapshot prices. Locks are taken in
	// product-id order so two concurrent orders cannot deadlock each other.
	locked := lockOrder(items)
	total := 0
	prices := make(map[int64]int, len(items))
	for _, it := range locked {
		var price, stock int
		err := tx.QueryRow(ctx,
			`SELECT price_cents, stock FROM products WHERE id=$1 FOR UPDATE`,
			it.ProductID).Scan(&price, &stock)
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, nil, ErrProductNotFound
		}
		if err != nil {
			return Order{}, nil, err
		}
		if stock < it.Qty {
			return Order{}, nil, ErrInsufficientStock
		}
		prices[it.ProductID] = price
		total += price * it.Qty
	}

	// pass 2: all lines passed, apply the decrements
	for _, it := range locked {
		ct, err := tx.Exec(ctx,
			`UPDATE products SET stock = stock - $2, updated_at = now() WHERE id=$1`,
			it.ProductID, it.Qty)
		if err != nil {
			return Order{}, nil, err
		}
		if ct.RowsAffected() != 1 {
			return Order{}, nil, ErrProductNotFound
		}
	}

	o := Order{CustomerID: customerID, Status: StatusCreated, TotalCents: total}
	err = tx.QueryRow(ctx, `
		INSERT INTO orders(customer_id, status, total_cents, created_at)
		VALUES ($1, 'CREATED', $2, now())
		RETURNING id, created_at
	`, customerID, total).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return Order{}, nil, err
	}

	out := make([]OrderItem, 0, len(items))
	for _, it := range items {
		oi := OrderItem{
			OrderID:        o.ID,
			ProductID:      it.ProductID,
			Qty:            it.Qty,
			UnitPriceCents: prices[it.ProductID],
			SubtotalCents:  prices[it.ProductID] * it.Qty,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO order_items(order_id, product_id, qty, unit_price_cents, subtotal_cents)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING id
		`, oi.OrderID, oi.ProductID, oi.Qty, oi.UnitPriceCents, oi.SubtotalCents).Scan(&oi.ID)
		if err != nil {
			return Order{}, nil, err
		}
		out = append(out, oi)
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, nil, err
	}
	return o, out, nil
}

// ConfirmOrder transitions CREATED -> CONFIRMED exactly once per key.
// A stored record for the key wins over current order state; the unique
// constraint on the key resolves concurrent first uses.
func (r *Repo) ConfirmOrder(ctx context.Context, orderID int64, key string) (ConfirmResult, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ConfirmResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var body []byte
	err = tx.QueryRow(ctx, `
		SELECT response_body FROM idempotency_keys
		WHERE key=$1 AND target_type='order' AND target_id=$2
	`, key, orderID).Scan(&body)
	if err == nil {
		return ConfirmResult{Body: body, Replayed: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return ConfirmResult{}, err
	}

	var o Order
	err = tx.QueryRow(ctx, `
		SELECT id, customer_id, status, total_cents, created_at
		FROM orders WHERE id=$1 FOR UPDATE
	`, orderID).Scan(&o.ID, &o.CustomerID, &o.Status, &o.TotalCents, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConfirmResult{}, ErrNotFound
	}
	if err != nil {
		return ConfirmResult{}, err
	}

	if o.Status != StatusCreated {
		// already confirmed/canceled: no-op, nothing new computed, no record
		b, err := json.Marshal(o)
		if err != nil {
			return ConfirmResult{}, err
		}
		return ConfirmResult{Body: b}, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status='CONFIRMED' WHERE id=$1`, orderID); err != nil {
		return ConfirmResult{}, err
	}
	err = tx.QueryRow(ctx, `
		SELECT id, customer_id, status, total_cents, created_at FROM orders WHERE id=$1
	`, orderID).Scan(&o.ID, &o.CustomerID, &o.Status, &o.TotalCents, &o.CreatedAt)
	if err != nil {
		return ConfirmResult{}, err
	}
	b, err := json.Marshal(o)
	if err != nil {
		return ConfirmResult{}, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO idempotency_keys(key, target_type, target_id, status, response_body, created_at)
		VALUES ($1, 'order', $2, $3, $4, now())
	`, key, orderID, o.Status, b)
	if isUniqueViolation(err) {
		// lost the race on first use: roll back our transition and return
		// the winner's stored response
		_ = tx.Rollback(ctx)
		var winner []byte
		if err := r.DB.QueryRow(ctx,
			`SELECT response_body FROM idempotency_keys WHERE key=$1`, key).Scan(&winner); err != nil {
			return ConfirmResult{}, fmt.Errorf("reread idempotency key: %w", err)
		}
		return ConfirmResult{Body: winner, Replayed: true}, nil
	}
	if err != nil {
		return ConfirmResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ConfirmResult{}, err
	}
	return ConfirmResult{Body: b, Confirmed: true}, nil
}

// CancelOrder applies the cancellation state machine under a row lock.
// Stock is not returned to the ledger on cancel.
func (r *Repo) CancelOrder(ctx context.Context, orderID int64, now time.Time) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var o Order
	err = tx.QueryRow(ctx, `
		SELECT id, customer_id, status, total_cents, created_at
		FROM orders WHERE id=$1 FOR UPDATE
	`, orderID).Scan(&o.ID, &o.CustomerID, &o.Status, &o.TotalCents, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}

	if err := CanCancel(o.Status, o.CreatedAt, now); err != nil {
		return o, err
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status='CANCELED' WHERE id=$1`, orderID); err != nil {
		return Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	o.Status = StatusCanceled
	return o, nil
}

func (r *Repo) GetOrder(ctx context.Context, orderID int64) (Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, customer_id, status, total_cents, created_at FROM orders WHERE id=$1
	`, orderID).Scan(&o.ID, &o.CustomerID, &o.Status, &o.TotalCents, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

func (r *Repo) GetOrderItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, qty, unit_price_cents, subtotal_cents
		FROM order_items WHERE order_id=$1 ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var oi OrderItem
		if err := rows.Scan(&oi.ID, &oi.OrderID, &oi.ProductID, &oi.Qty, &oi.UnitPriceCents, &oi.SubtotalCents); err != nil {
			return nil, err
		}
		out = append(out, oi)
	}
	return out, rows.Err()
}

func (r *Repo) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	q := `SELECT id, customer_id, status, total_cents, created_at FROM orders WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		q += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		q += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		q += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	if f.Limit <= 0 {
		f.Limit = 10
	}
	args = append(args, f.Limit)
	q += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))
	args = append(args, f.Cursor)
	q += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.Status, &o.TotalCents, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// lockOrder returns a copy of items sorted by product id. The caller's
// order is preserved for the order_items inserts.
func lockOrder(items []ItemInput) []ItemInput {
	out := make([]ItemInput, len(items))
	copy(out, items)
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
