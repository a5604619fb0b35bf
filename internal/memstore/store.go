// Package memstore is a mutex-guarded in-memory implementation of the
// orders store interfaces, mirroring the Postgres repo's semantics. It backs
// service and handler tests.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmartinezc/orders-api/internal/orders"
)

type Store struct {
	mu sync.Mutex

	Now func() time.Time // defaults to time.Now

	products map[int64]orders.Product
	orders   map[int64]orders.Order
	items    map[int64][]orders.OrderItem
	idem     map[string]orders.IdempotencyRecord

	nextProduct int64
	nextOrder   int64
	nextItem    int64
}

func New() *Store {
	return &Store{
		products: make(map[int64]orders.Product),
		orders:   make(map[int64]orders.Order),
		items:    make(map[int64][]orders.OrderItem),
		idem:     make(map[string]orders.IdempotencyRecord),
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ---- orders.Store ----

func (s *Store) CreateOrder(ctx context.Context, customerID int64, items []orders.ItemInput) (orders.Order, []orders.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// check every line before touching any counter
	total := 0
	for _, it := range items {
		p, ok := s.products[it.ProductID]
		if !ok {
			return orders.Order{}, nil, orders.ErrProductNotFound
		}
		if p.Stock < it.Qty {
			return orders.Order{}, nil, orders.ErrInsufficientStock
		}
		total += p.PriceCents * it.Qty
	}

	for _, it := range items {
		p := s.products[it.ProductID]
		p.Stock -= it.Qty
		p.UpdatedAt = s.now()
		s.products[it.ProductID] = p
	}

	s.nextOrder++
	o := orders.Order{
		ID:         s.nextOrder,
		CustomerID: customerID,
		Status:     orders.StatusCreated,
		TotalCents: total,
		CreatedAt:  s.now(),
	}
	s.orders[o.ID] = o

	out := make([]orders.OrderItem, 0, len(items))
	for _, it := range items {
		s.nextItem++
		price := s.products[it.ProductID].PriceCents
		oi := orders.OrderItem{
			ID:             s.nextItem,
			OrderID:        o.ID,
			ProductID:      it.ProductID,
			Qty:            it.Qty,
			UnitPriceCents: price,
			SubtotalCents:  price * it.Qty,
		}
		out = append(out, oi)
	}
	s.items[o.ID] = out
	return o, out, nil
}

func (s *Store) ConfirmOrder(ctx context.Context, orderID int64, key string) (orders.ConfirmResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.idem[key]; ok && rec.TargetType == "order" && rec.TargetID == orderID {
		return orders.ConfirmResult{Body: rec.ResponseBody, Replayed: true}, nil
	}

	o, ok := s.orders[orderID]
	if !ok {
		return orders.ConfirmResult{}, orders.ErrNotFound
	}
	if o.Status != orders.StatusCreated {
		b, err := json.Marshal(o)
		if err != nil {
			return orders.ConfirmResult{}, err
		}
		return orders.ConfirmResult{Body: b}, nil
	}

	// key uniqueness: a record stored for another target wins the key
	if rec, ok := s.idem[key]; ok {
		return orders.ConfirmResult{Body: rec.ResponseBody, Replayed: true}, nil
	}

	o.Status = orders.StatusConfirmed
	s.orders[orderID] = o
	b, err := json.Marshal(o)
	if err != nil {
		return orders.ConfirmResult{}, err
	}
	s.idem[key] = orders.IdempotencyRecord{
		Key:          key,
		TargetType:   "order",
		TargetID:     orderID,
		Status:       o.Status,
		ResponseBody: b,
		CreatedAt:    s.now(),
	}
	return orders.ConfirmResult{Body: b, Confirmed: true}, nil
}

func (s *Store) CancelOrder(ctx context.Context, orderID int64, now time.Time) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	if err := orders.CanCancel(o.Status, o.CreatedAt, now); err != nil {
		return o, err
	}
	o.Status = orders.StatusCanceled
	s.orders[orderID] = o
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID int64) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]orders.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.OrderItem, len(s.items[orderID]))
	copy(out, s.items[orderID])
	return out, nil
}

func (s *Store) ListOrders(ctx context.Context, f orders.OrderFilter) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []orders.Order
	for _, o := range s.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && o.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && o.CreatedAt.After(f.To) {
			continue
		}
		all = append(all, o)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if f.Cursor >= len(all) {
		return nil, nil
	}
	all = all[f.Cursor:]
	if f.Limit <= 0 {
		f.Limit = 10
	}
	if len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, nil
}

// ---- orders.ProductStore ----

func (s *Store) CreateProduct(ctx context.Context, p orders.Product) (orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProduct++
	p.ID = s.nextProduct
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	s.products[p.ID] = p
	return p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, id int64, priceCents, stock *int) (orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return orders.Product{}, orders.ErrNotFound
	}
	if priceCents != nil {
		p.PriceCents = *priceCents
	}
	if stock != nil {
		p.Stock = *stock
	}
	p.UpdatedAt = s.now()
	s.products[id] = p
	return p, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return orders.Product{}, orders.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context, f orders.ProductFilter) ([]orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(f.Search)
	var all []orders.Product
	for _, p := range s.products {
		if needle != "" &&
			!strings.Contains(strings.ToLower(p.Name), needle) &&
			!strings.Contains(strings.ToLower(p.SKU), needle) {
			continue
		}
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SKU < all[j].SKU })
	if f.Cursor >= len(all) {
		return nil, nil
	}
	all = all[f.Cursor:]
	if f.Limit <= 0 {
		f.Limit = 10
	}
	if len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, nil
}
