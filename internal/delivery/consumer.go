package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
	"github.com/ariefcatur/marketplace-fulfillment/internal/events"
	kafkax "github.com/ariefcatur/marketplace-fulfillment/internal/kafka"
)

// Deduper remembers which carrier events were already applied.
type Deduper interface {
	// Claim returns false when id was claimed before.
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// Consumer applies carrier status events read from kafka.
type Consumer struct {
	bridge *Bridge
	dedup  Deduper
	log    *zap.Logger
}

func NewConsumer(bridge *Bridge, dedup Deduper, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{bridge: bridge, dedup: dedup, log: log}
}

// HandleCarrierMessage is a kafka handler. It returns nil when the offset may
// be committed: applied, duplicate, or a message that can never apply.
func (c *Consumer) HandleCarrierMessage(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		c.log.Warn("drop undecodable carrier message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != events.EventCarrierStatus {
		return nil
	}
	p, err := kafkax.DecodePayload[Webhook](env)
	if err != nil {
		c.log.Warn("drop carrier message with bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	return c.Apply(ctx, DedupKey(env.EventID, p), p)
}

// Apply runs a webhook once per key.
func (c *Consumer) Apply(ctx context.Context, key string, p Webhook) error {
	if c.dedup != nil {
		first, err := c.dedup.Claim(ctx, key)
		if err != nil {
			c.log.Warn("carrier dedup unavailable", zap.String("key", key), zap.Error(err))
		} else if !first {
			c.log.Debug("skip duplicate carrier event", zap.String("key", key))
			return nil
		}
	}

	err := c.bridge.ApplyCarrierWebhook(ctx, p)
	switch kind := domain.KindOf(err); {
	case err == nil:
		return nil
	case kind == domain.KindNotFound || kind == domain.KindInvalidInput:
		c.log.Warn("drop carrier event",
			zap.String("consignment_id", p.ConsignmentID),
			zap.String("merchant_order_id", p.MerchantOrderID),
			zap.Error(err))
		return nil
	}
	if c.dedup != nil {
		if rerr := c.dedup.Release(ctx, key); rerr != nil {
			c.log.Warn("release carrier dedup key", zap.String("key", key), zap.Error(rerr))
		}
	}
	return err
}

// DedupKey identifies a carrier event: the envelope id when present, else the
// consignment and status it reports.
func DedupKey(eventID string, p Webhook) string {
	if eventID != "" {
		return eventID
	}
	return fmt.Sprintf("%s:%s", p.ConsignmentID, normalize(p.OrderStatus))
}

// DecodeWebhook parses a webhook body.
func DecodeWebhook(b []byte) (Webhook, error) {
	var p Webhook
	if err := json.Unmarshal(b, &p); err != nil {
		return Webhook{}, fmt.Errorf("decode carrier webhook: %w", err)
	}
	return p, nil
}
