package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/marketplace-fulfillment/internal/events"
)

// Sink accepts encoded messages for one topic. *Producer is the production
// implementation.
type Sink interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

// EventPublisher wraps order events in the versioned envelope and routes them
// to their topic.
type EventPublisher struct {
	sinks   map[string]Sink
	service string
	newID   func() string
	now     func() time.Time
}

func NewEventPublisher(service string, sinks map[string]Sink) *EventPublisher {
	return &EventPublisher{sinks: sinks, service: service, newID: uuid.NewString, now: time.Now}
}

func (p *EventPublisher) PublishOrderEvent(ctx context.Context, ev events.OrderEvent) error {
	topic := events.TopicFor(ev.Type)
	sink, ok := p.sinks[topic]
	if !ok {
		return fmt.Errorf("kafka: no producer for topic %s", topic)
	}
	at := ev.OccurredAt
	if at.IsZero() {
		at = p.now().UTC()
	}
	env := events.Envelope{
		EventID:       p.newID(),
		EventType:     ev.Type,
		EventVersion:  events.EnvelopeVersion,
		OccurredAt:    at,
		Producer:      p.service,
		CorrelationID: ev.OrderID,
		Payload:       mustJSON(ev.Payload()),
	}
	return sink.Publish(ctx, events.PartitionKey(ev.OrderID), mustJSON(env),
		kafka.Header{Key: "x-event-type", Value: []byte(ev.Type)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(events.EnvelopeVersion))},
	)
}

// mustJSON encodes envelopes and payload structs, which always marshal.
func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
