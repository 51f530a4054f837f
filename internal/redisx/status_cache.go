package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/marketplace-fulfillment/internal/events"
)

// OrderStatus is the cached answer of GET /orders/{id}/status.
type OrderStatus struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number,omitempty"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StatusCache keeps the latest status of each order. It is refreshed from
// lifecycle events, so it also serves as an order event publisher.
type StatusCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStatusCache(rdb redis.Cmdable) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: TTLStatusCache}
}

func statusKey(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }

// Get returns ok=false on a cache miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) (OrderStatus, bool, error) {
	b, err := c.rdb.Get(ctx, statusKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return OrderStatus{}, false, nil
	}
	if err != nil {
		return OrderStatus{}, false, err
	}
	var s OrderStatus
	if err := json.Unmarshal(b, &s); err != nil {
		// A value we cannot read is a miss; the next Set replaces it.
		return OrderStatus{}, false, nil
	}
	return s, true, nil
}

func (c *StatusCache) Set(ctx context.Context, s OrderStatus) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, statusKey(s.OrderID), b, c.ttl).Err()
}

// PublishOrderEvent refreshes the cached status from a committed event.
// Delivery events do not carry an order status and are skipped.
func (c *StatusCache) PublishOrderEvent(ctx context.Context, ev events.OrderEvent) error {
	switch ev.Type {
	case events.EventOrderCreated, events.EventOrderEdited, events.EventOrderStatusChanged:
	default:
		return nil
	}
	if ev.To == "" {
		return nil
	}
	return c.Set(ctx, OrderStatus{
		OrderID:     ev.OrderID,
		OrderNumber: ev.OrderNumber,
		Status:      ev.To,
		UpdatedAt:   ev.OccurredAt,
	})
}
