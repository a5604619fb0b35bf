package orders

import "time"

type Product struct {
	ID         int64     `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	PriceCents int       `json:"price_cents"`
	Stock      int       `json:"stock"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Order struct {
	ID         int64     `json:"id"`
	CustomerID int64     `json:"customer_id"`
	Status     Status    `json:"status"`
	TotalCents int       `json:"total_cents"`
	CreatedAt  time.Time `json:"created_at"`
}

// OrderItem is created atomically with its order and immutable afterwards.
// UnitPriceCents snapshots the product price at order time.
type OrderItem struct {
	ID             int64 `json:"id"`
	OrderID        int64 `json:"order_id"`
	ProductID      int64 `json:"product_id"`
	Qty            int   `json:"qty"`
	UnitPriceCents int   `json:"unit_price_cents"`
	SubtotalCents  int   `json:"subtotal_cents"`
}

type ItemInput struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

// IdempotencyRecord is the write-once cache of a completed confirm, keyed by
// the client-supplied key and scoped to its target.
type IdempotencyRecord struct {
	Key          string
	TargetType   string
	TargetID     int64
	Status       Status
	ResponseBody []byte
	CreatedAt    time.Time
}

type OrderFilter struct {
	Status Status
	From   time.Time // zero = unset
	To     time.Time // zero = unset
	Cursor int
	Limit  int
}

type ProductFilter struct {
	Search string
	Cursor int
	Limit  int
}
