package orders_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dmartinezc/orders-api/internal/customers"
	"github.com/dmartinezc/orders-api/internal/memstore"
	"github.com/dmartinezc/orders-api/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeValidator struct {
	err   error
	calls int
}

func (f *fakeValidator) Validate(ctx context.Context, customerID int64) error {
	f.calls++
	return f.err
}

type env struct {
	svc       *orders.Service
	store     *memstore.Store
	validator *fakeValidator
	now       time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:     memstore.New(),
		validator: &fakeValidator{},
		now:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	e.store.Now = func() time.Time { return e.now }
	e.svc = &orders.Service{
		Store:     e.store,
		Customers: e.validator,
		Log:       zap.NewNop(),
		Name:      "orders-api-test",
		Now:       func() time.Time { return e.now },
	}
	return e
}

func (e *env) seedProduct(t *testing.T, sku string, priceCents, stock int) orders.Product {
	t.Helper()
	p, err := e.store.CreateProduct(context.Background(), orders.Product{
		SKU: sku, Name: sku, PriceCents: priceCents, Stock: stock,
	})
	require.NoError(t, err)
	return p
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("reserves stock and totals line items", func(t *testing.T) {
		e := newEnv(t)
		p := e.seedProduct(t, "SKU-1", 500, 5)

		o, items, err := e.svc.Create(ctx, 1, []orders.ItemInput{{ProductID: p.ID, Qty: 2}}, "")
		require.NoError(t, err)
		assert.Equal(t, orders.StatusCreated, o.Status)
		assert.Equal(t, 1000, o.TotalCents)
		require.Len(t, items, 1)
		assert.Equal(t, 500, items[0].UnitPriceCents)
		assert.Equal(t, 1000, items[0].SubtotalCents)

		after, err := e.store.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, after.Stock)

		sum := 0
		for _, it := range items {
			sum += it.SubtotalCents
		}
		assert.Equal(t, o.TotalCents, sum)
	})

	t.Run("price snapshot survives later price changes", func(t *testing.T) {
		e := newEnv(t)
		p := e.seedProduct(t, "SKU-1", 500, 5)

		o, _, err := e.svc.Create(ctx, 1, []orders.ItemInput{{ProductID: p.ID, Qty: 1}}, "")
		require.NoError(t, err)

		newPrice := 999
		_, err = e.store.UpdateProduct(ctx, p.ID, &newPrice, nil)
		require.NoError(t, err)

		got, gotItems, err := e.svc.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, 500, got.TotalCents)
		assert.Equal(t, 500, gotItems[0].UnitPriceCents)
	})

	t.Run("insufficient stock leaves everything untouched", func(t *testing.T) {
		e := newEnv(t)
		p := e.seedProduct(t, "SKU-1", 500, 1)

		_, _, err := e.svc.Create(ctx, 1, []orders.ItemInput{{ProductID: p.ID, Qty: 2}}, "")
		assert.ErrorIs(t, err, orders.ErrInsufficientStock)

		after, err := e.store.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, after.Stock)

		got, err := e.store.ListOrders(ctx, orders.OrderFilter{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("one bad line rolls back the whole order", func(t *testing.T) {
		e := newEnv(t)
		ok := e.seedProduct(t, "SKU-1", 500, 5)
		low := e.seedProduct(t, "SKU-2", 300, 1)

		_, _, err := e.svc.Create(ctx, 1, []orders.ItemInput{
			{ProductID: ok.ID, Qty: 2},
			{ProductID: low.ID, Qty: 3},
		}, "")
		assert.ErrorIs(t, err, orders.ErrInsufficientStock)

		p1, _ := e.store.GetProduct(ctx, ok.ID)
		p2, _ := e.store.GetProduct(ctx, low.ID)
		assert.Equal(t, 5, p1.Stock)
		assert.Equal(t, 1, p2.Stock)
	})

	t.Run("unknown product", func(t *testing.T) {
		e := newEnv(t)
		_, _, err := e.svc.Create(ctx, 1, []orders.ItemInput{{ProductID: 42, Qty: 1}}, "")
		assert.ErrorIs(t, err, orders.ErrProductNotFound)
	})

	t.Run("rejects bad input before any call", func(t *testing.T) {
		e := newEnv(t)
		p := e.seedProduct(t, "SKU-1", 500, 5)

		var ve *orders.ValidationError
		for _, tc := range []struct {
			name       string
			customerID int64
			items      []orders.ItemInput
		}{
			{"no items", 1, nil},
			{"zero qty", 1, []orders.ItemInput{{ProductID: p.ID, Qty: 0}}},
			{"negative qty", 1, []orders.ItemInput{{ProductID: p.ID, Qty: -3}}},
			{"duplicate product", 1, []orders.ItemInput{{ProductID: p.ID, Qty: 1}, {ProductID: p.ID, Qty: 1}}},
			{"bad customer id", 0, []orders.ItemInput{{ProductID: p.ID, Qty: 1}}},
		} {
			_, _, err := e.svc.Create(ctx, tc.customerID, tc.items, "")
			assert.ErrorAs(t, err, &ve, tc.name)
		}
		// validation rejects before the customer gate
		assert.Zero(t, e.validator.calls)
	})

	t.Run("customer gate runs before the transaction", func(t *testing.T) {
		e := newEnv(t)
		p := e.seedProduct(t, "SKU-1", 500, 5)
		e.validator.err = customers.ErrNotFound

		_, _, err := e.svc.Create(ctx, 7, []orders.ItemInput{{ProductID: p.ID, Qty: 2}}, "")
		assert.ErrorIs(t, err, customers.ErrNotFound)

		after, _ := e.store.GetProduct(ctx, p.ID)
		assert.Equal(t, 5, after.Stock)
	})

	t.Run("upstream failure surfaces as retryable", func(t *testing.T) {
		e := newEnv(t)
		p := e.seedProduct(t, "SKU-1", 500, 5)
		e.validator.err = customers.ErrUpstream

		_, _, err := e.svc.Create(ctx, 7, []orders.ItemInput{{ProductID: p.ID, Qty: 1}}, "")
		assert.ErrorIs(t, err, customers.ErrUpstream)
	})
}

func TestConfirmOrder(t *testing.T) {
	ctx := context.Background()

	create := func(t *testing.T, e *env) orders.Order {
		t.Helper()
		p := e.seedProduct(t, "SKU-1", 500, 5)
		o, _, err := e.svc.Create(ctx, 1, []orders.ItemInput{{ProductID: p.ID, Qty: 2}}, "")
		require.NoError(t, err)
		return o
	}

	t.Run("missing key is rejected first", func(t *testing.T) {
		e := newEnv(t)
		o := create(t, e)
		_, err := e.svc.Confirm(ctx, o.ID, "", "")
		assert.ErrorIs(t, err, orders.ErrMissingIdempotencyKey)
	})

	t.Run("same key replays byte-identical response", func(t *testing.T) {
		e := newEnv(t)
		o := create(t, e)

		first, err := e.svc.Confirm(ctx, o.ID, "abc", "")
		require.NoError(t, err)
		second, err := e.svc.Confirm(ctx, o.ID, "abc", "")
		require.NoError(t, err)
		assert.Equal(t, []byte(first), []byte(second))

		got, err := e.store.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, orders.StatusConfirmed, got.Status)
	})

	t.Run("stored response wins even after state changes", func(t *testing.T) {
		e := newEnv(t)
		o := create(t, e)

		first, err := e.svc.Confirm(ctx, o.ID, "abc", "")
		require.NoError(t, err)

		// cancel inside the window, then retry the confirm
		_, err = e.svc.Cancel(ctx, o.ID, "")
		require.NoError(t, err)

		replay, err := e.svc.Confirm(ctx, o.ID, "abc", "")
		require.NoError(t, err)
		assert.Equal(t, []byte(first), []byte(replay))

		got, _ := e.store.GetOrder(ctx, o.ID)
		assert.Equal(t, orders.StatusCanceled, got.Status)
	})

	t.Run("new key on a confirmed order is a no-op", func(t *testing.T) {
		e := newEnv(t)
		o := create(t, e)

		_, err := e.svc.Confirm(ctx, o.ID, "abc", "")
		require.NoError(t, err)

		body, err := e.svc.Confirm(ctx, o.ID, "other-key", "")
		require.NoError(t, err)

		var resp orders.Order
		require.NoError(t, json.Unmarshal(body, &resp))
		assert.Equal(t, orders.StatusConfirmed, resp.Status)
		assert.Equal(t, o.TotalCents, resp.TotalCents)

		got, _ := e.store.GetOrder(ctx, o.ID)
		assert.Equal(t, orders.StatusConfirmed, got.Status)
	})

	t.Run("unknown order", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.Confirm(ctx, 99, "abc", "")
		assert.ErrorIs(t, err, orders.ErrNotFound)
	})

	t.Run("key reused against another order", func(t *testing.T) {
		e := newEnv(t)
		p := e.seedProduct(t, "SKU-1", 500, 10)
		o1, _, err := e.svc.Create(ctx, 1, []orders.ItemInput{{ProductID: p.ID, Qty: 1}}, "")
		require.NoError(t, err)
		o2, _, err := e.svc.Create(ctx, 1, []orders.ItemInput{{ProductID: p.ID, Qty: 1}}, "")
		require.NoError(t, err)

		first, err := e.svc.Confirm(ctx, o1.ID, "abc", "")
		require.NoError(t, err)

		// the key is globally unique: its first result wins, the second
		// order stays untouched
		replay, err := e.svc.Confirm(ctx, o2.ID, "abc", "")
		require.NoError(t, err)
		assert.Equal(t, []byte(first), []byte(replay))

		got, err := e.store.GetOrder(ctx, o2.ID)
		require.NoError(t, err)
		assert.Equal(t, orders.StatusCreated, got.Status)

		// a used key against a missing order is still not found
		_, err = e.svc.Confirm(ctx, 99, "abc", "")
		assert.ErrorIs(t, err, orders.ErrNotFound)
	})
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()

	create := func(t *testing.T, e *env) orders.Order {
		t.Helper()
		p := e.seedProduct(t, "SKU-1", 500, 5)
		o, _, err := e.svc.Create(ctx, 1, []orders.ItemInput{{ProductID: p.ID, Qty: 2}}, "")
		require.NoError(t, err)
		return o
	}

	t.Run("created cancels regardless of age", func(t *testing.T) {
		e := newEnv(t)
		o := create(t, e)
		e.now = e.now.Add(3 * time.Hour)

		got, err := e.svc.Cancel(ctx, o.ID, "")
		require.NoError(t, err)
		assert.Equal(t, orders.StatusCanceled, got.Status)
	})

	t.Run("confirmed cancels at exactly ten minutes", func(t *testing.T) {
		e := newEnv(t)
		o := create(t, e)
		_, err := e.svc.Confirm(ctx, o.ID, "abc", "")
		require.NoError(t, err)

		e.now = o.CreatedAt.Add(10 * time.Minute)
		got, err := e.svc.Cancel(ctx, o.ID, "")
		require.NoError(t, err)
		assert.Equal(t, orders.StatusCanceled, got.Status)
	})

	t.Run("confirmed past the window is rejected", func(t *testing.T) {
		e := newEnv(t)
		o := create(t, e)
		_, err := e.svc.Confirm(ctx, o.ID, "abc", "")
		require.NoError(t, err)

		e.now = o.CreatedAt.Add(11 * time.Minute)
		_, err = e.svc.Cancel(ctx, o.ID, "")
		assert.ErrorIs(t, err, orders.ErrWindowExpired)

		got, _ := e.store.GetOrder(ctx, o.ID)
		assert.Equal(t, orders.StatusConfirmed, got.Status)
	})

	t.Run("canceling twice hits the terminal state", func(t *testing.T) {
		e := newEnv(t)
		o := create(t, e)
		_, err := e.svc.Cancel(ctx, o.ID, "")
		require.NoError(t, err)

		_, err = e.svc.Cancel(ctx, o.ID, "")
		assert.ErrorIs(t, err, orders.ErrInvalidStatus)
	})

	t.Run("cancel does not restock", func(t *testing.T) {
		e := newEnv(t)
		p := e.seedProduct(t, "SKU-1", 500, 5)
		o, _, err := e.svc.Create(ctx, 1, []orders.ItemInput{{ProductID: p.ID, Qty: 2}}, "")
		require.NoError(t, err)

		_, err = e.svc.Cancel(ctx, o.ID, "")
		require.NoError(t, err)

		after, _ := e.store.GetProduct(ctx, p.ID)
		assert.Equal(t, 3, after.Stock)
	})

	t.Run("unknown order", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.Cancel(ctx, 99, "")
		assert.ErrorIs(t, err, orders.ErrNotFound)
	})
}
