package statuscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkax "github.com/dmartinezc/orders-api/internal/kafka"
	"github.com/dmartinezc/orders-api/internal/orders"
	"github.com/dmartinezc/orders-api/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KV is the slice of key-value behavior the worker needs.
type KV interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisKV adapts a redis client to KV.
type RedisKV struct{ C *redis.Client }

func (r RedisKV) Exists(ctx context.Context, key string) (bool, error) {
	return redisx.Exists(ctx, r.C, key)
}

func (r RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.C.Set(ctx, key, value, ttl).Err()
}

// Service consumes order lifecycle events and keeps the Redis status cache
// warm across API instances. The cache is advisory; reads that miss fall
// back to the store.
type Service struct {
	KV  KV
	Log *zap.Logger
}

// HandleOrderEvent is installed as the consumer handler for orders.events.
// A non-nil return leaves the offset uncommitted so the message redelivers.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, "statuscache", env.EventID)
	if seen, _ := s.KV.Exists(ctx, dkey); seen {
		return nil
	}

	var orderID int64
	var status orders.Status
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return err
		}
		orderID, status = p.OrderID, orders.StatusCreated
	case orders.EventOrderConfirmed, orders.EventOrderCanceled:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusPayload](env.Payload)
		if err != nil {
			return err
		}
		orderID, status = p.OrderID, p.Status
	default:
		return nil // ignore
	}

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	b, _ := json.Marshal(map[string]orders.Status{"status": status})
	if err := s.KV.Set(ctx, key, string(b), redisx.TTLStatusCache); err != nil {
		return err
	}

	// dedup only once the update landed; a failed mark just means one
	// redundant overwrite on redelivery
	if err := s.KV.Set(ctx, dkey, "1", redisx.TTLDedup); err != nil {
		s.Log.Warn("dedup mark", zap.String("event_id", env.EventID), zap.Error(err))
	}
	s.Log.Debug("status cached", zap.Int64("order_id", orderID), zap.String("status", string(status)))
	return nil
}
