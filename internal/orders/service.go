package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	kafkax "github.com/dmartinezc/orders-api/internal/kafka"
	"github.com/dmartinezc/orders-api/internal/redisx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Store is what the lifecycle controller needs from persistence. *Repo is
// the pgx implementation; memstore provides one for tests.
type Store interface {
	CreateOrder(ctx context.Context, customerID int64, items []ItemInput) (Order, []OrderItem, error)
	ConfirmOrder(ctx context.Context, orderID int64, key string) (ConfirmResult, error)
	CancelOrder(ctx context.Context, orderID int64, now time.Time) (Order, error)
	GetOrder(ctx context.Context, orderID int64) (Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]OrderItem, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]Order, error)
}

// ProductStore covers the product CRUD surface.
type ProductStore interface {
	CreateProduct(ctx context.Context, p Product) (Product, error)
	UpdateProduct(ctx context.Context, id int64, priceCents, stock *int) (Product, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, f ProductFilter) ([]Product, error)
}

// CustomerValidator gates order creation on the external identity service.
type CustomerValidator interface {
	Validate(ctx context.Context, customerID int64) error
}

// Service orchestrates create/confirm/cancel: customer pre-check, store
// transactions, status cache, and lifecycle events. Redis and Producer are
// optional; the store is the source of truth either way.
type Service struct {
	Store     Store
	Customers CustomerValidator
	Producer  *kafkax.Producer
	Redis     *redis.Client
	Log       *zap.Logger
	Name      string // producer name in event envelopes

	Now func() time.Time // test hook; defaults to time.Now
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Create validates input and the customer before any inventory mutation,
// then runs the atomic reserve-and-create transaction.
func (s *Service) Create(ctx context.Context, customerID int64, items []ItemInput, traceID string) (Order, []OrderItem, error) {
	if customerID <= 0 {
		return Order{}, nil, Validationf("invalid customer_id")
	}
	if len(items) == 0 {
		return Order{}, nil, Validationf("items must not be empty")
	}
	seen := make(map[int64]bool, len(items))
	for _, it := range items {
		if it.ProductID <= 0 {
			return Order{}, nil, Validationf("invalid product_id")
		}
		if it.Qty < 1 {
			return Order{}, nil, Validationf("invalid qty for product %d", it.ProductID)
		}
		if seen[it.ProductID] {
			return Order{}, nil, Validationf("duplicate product %d", it.ProductID)
		}
		seen[it.ProductID] = true
	}

	// pre-condition gate, outside the transaction: read-only, no compensation
	if err := s.Customers.Validate(ctx, customerID); err != nil {
		return Order{}, nil, err
	}

	o, its, err := s.Store.CreateOrder(ctx, customerID, items)
	if err != nil {
		return Order{}, nil, err
	}

	s.cacheStatus(ctx, o.ID, o.Status)
	evItems := make([]ItemPrice, 0, len(its))
	for _, it := range its {
		evItems = append(evItems, ItemPrice{ProductID: it.ProductID, Qty: it.Qty, UnitPriceCents: it.UnitPriceCents})
	}
	s.publish(EventOrderCreated, o.ID, OrderCreatedPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Items:      evItems,
		TotalCents: o.TotalCents,
	}, traceID)
	return o, its, nil
}

// Confirm is retry-safe per idempotency key: the first computed response for
// a key is returned verbatim on every later call.
func (s *Service) Confirm(ctx context.Context, orderID int64, key, traceID string) (json.RawMessage, error) {
	if key == "" {
		return nil, ErrMissingIdempotencyKey
	}

	// replay fast path; misses fall through to the store. The cache key is
	// scoped to the order so a key reused against another id cannot hit it.
	if s.Redis != nil {
		ck := fmt.Sprintf(redisx.KeyIdemConfirm, orderID, key)
		if b, err := s.Redis.Get(ctx, ck).Bytes(); err == nil && len(b) > 0 {
			return b, nil
		}
	}

	res, err := s.Store.ConfirmOrder(ctx, orderID, key)
	if err != nil {
		return nil, err
	}

	// only responses backed by a stored record may be served from cache
	if s.Redis != nil && (res.Confirmed || res.Replayed) {
		ck := fmt.Sprintf(redisx.KeyIdemConfirm, orderID, key)
		if err := s.Redis.Set(ctx, ck, []byte(res.Body), redisx.TTLIdempotency).Err(); err != nil {
			s.Log.Warn("confirm cache set", zap.Error(err))
		}
	}
	if res.Confirmed {
		s.cacheStatus(ctx, orderID, StatusConfirmed)
		s.publish(EventOrderConfirmed, orderID, OrderStatusPayload{OrderID: orderID, Status: StatusConfirmed}, traceID)
	}
	return res.Body, nil
}

func (s *Service) Cancel(ctx context.Context, orderID int64, traceID string) (Order, error) {
	o, err := s.Store.CancelOrder(ctx, orderID, s.now())
	if err != nil {
		return o, err
	}
	s.cacheStatus(ctx, o.ID, o.Status)
	s.publish(EventOrderCanceled, o.ID, OrderStatusPayload{OrderID: o.ID, Status: o.Status}, traceID)
	return o, nil
}

func (s *Service) Get(ctx context.Context, orderID int64) (Order, []OrderItem, error) {
	o, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, nil, err
	}
	its, err := s.Store.GetOrderItems(ctx, orderID)
	if err != nil {
		return Order{}, nil, err
	}
	return o, its, nil
}

func (s *Service) List(ctx context.Context, f OrderFilter) ([]Order, error) {
	return s.Store.ListOrders(ctx, f)
}

// GetStatus serves the cached status when present; stale reads are fine
// outside the transactional path.
func (s *Service) GetStatus(ctx context.Context, orderID int64) (Status, error) {
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s.Redis != nil {
		if v, err := s.Redis.Get(ctx, key).Result(); err == nil && v != "" {
			var cached struct {
				Status Status `json:"status"`
			}
			if err := json.Unmarshal([]byte(v), &cached); err == nil && ValidStatus(cached.Status) {
				return cached.Status, nil
			}
		}
	}
	o, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	s.cacheStatus(ctx, o.ID, o.Status)
	return o.Status, nil
}

func (s *Service) cacheStatus(ctx context.Context, orderID int64, status Status) {
	if s.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	b, _ := json.Marshal(map[string]Status{"status": status})
	if err := s.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err(); err != nil {
		s.Log.Warn("status cache set", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

func (s *Service) publish(eventType string, orderID int64, payload any, traceID string) {
	if s.Producer == nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.Name,
		TraceID:       traceID,
		CorrelationID: strconv.FormatInt(orderID, 10),
		Payload:       kafkax.MustMarshal(payload),
	}
	s.Producer.Publish(PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
