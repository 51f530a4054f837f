// Package orders owns the order lifecycle: checkout, manual orders, edits and
// status transitions together with their inventory side effects.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-fulfillment/internal/activity"
	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
	"github.com/ariefcatur/marketplace-fulfillment/internal/events"
	"github.com/ariefcatur/marketplace-fulfillment/internal/inventory"
	"github.com/ariefcatur/marketplace-fulfillment/internal/sequence"
	"github.com/ariefcatur/marketplace-fulfillment/internal/store"
)

const tracerName = "github.com/ariefcatur/marketplace-fulfillment/internal/orders"

// EventPublisher receives lifecycle events after their transaction committed.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, ev events.OrderEvent) error
}

// Publishers fans an event out to several publishers.
type Publishers []EventPublisher

func (ps Publishers) PublishOrderEvent(ctx context.Context, ev events.OrderEvent) error {
	var errs []error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.PublishOrderEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Deps struct {
	Store           store.Manager
	Publisher       EventPublisher
	Logger          *zap.Logger
	Clock           func() time.Time
	IDGenerator     func() string
	DeliveryCharges map[domain.DeliveryZone]decimal.Decimal
	Tracer          trace.Tracer
}

type Service struct {
	store     store.Manager
	publisher EventPublisher
	log       *zap.Logger
	clock     func() time.Time
	newID     func() string
	charges   map[domain.DeliveryZone]decimal.Decimal
	tracer    trace.Tracer
	sequencer *sequence.Sequencer
}

func NewService(deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("orders service: store is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	utc := func() time.Time { return clock().UTC() }

	newID := deps.IDGenerator
	if newID == nil {
		newID = uuid.NewString
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	charges := deps.DeliveryCharges
	if len(charges) == 0 {
		charges = DefaultDeliveryCharges
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Service{
		store:     deps.Store,
		publisher: deps.Publisher,
		log:       logger,
		clock:     utc,
		newID:     newID,
		charges:   charges,
		tracer:    tracer,
		sequencer: sequence.New(utc),
	}, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var out domain.Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

func (s *Service) deliveryCharge(op string, zone domain.DeliveryZone) (decimal.Decimal, error) {
	c, ok := s.charges[zone]
	if !ok {
		return decimal.Zero, domain.InvalidInput(op, fmt.Sprintf("unknown delivery zone %q", zone))
	}
	return c, nil
}

func (s *Service) recorder(tx store.Tx) *activity.Recorder {
	return activity.NewRecorder(tx.Activities(), s.clock, s.newID)
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Publish sends events that belong to a committed transaction. Failures are
// logged; the transaction is already durable.
func (s *Service) Publish(ctx context.Context, evs ...events.OrderEvent) {
	if s.publisher == nil {
		return
	}
	for _, ev := range evs {
		if err := s.publisher.PublishOrderEvent(ctx, ev); err != nil {
			s.log.Warn("publish order event failed",
				zap.String("event_type", ev.Type),
				zap.String("order_id", ev.OrderID),
				zap.Error(err))
		}
	}
}

// StatusEvent describes a committed status change.
func (s *Service) StatusEvent(o domain.Order, from domain.Status, actorID string) events.OrderEvent {
	return events.OrderEvent{
		Type:        events.EventOrderStatusChanged,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		StoreID:     o.StoreID,
		BranchID:    o.AssignedBranchID,
		From:        string(from),
		To:          string(o.Status),
		ActorID:     actorID,
		OccurredAt:  s.clock(),
	}
}

func orderEvent(typ string, o domain.Order, at time.Time) events.OrderEvent {
	items := make([]events.ItemQty, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, events.ItemQty{ProductID: it.ProductID, VariantID: it.VariantID, Qty: it.Quantity})
	}
	return events.OrderEvent{
		Type:        typ,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		StoreID:     o.StoreID,
		BranchID:    o.AssignedBranchID,
		To:          string(o.Status),
		TotalAmount: o.TotalAmount.StringFixed(2),
		OccurredAt:  at,
		Items:       items,
	}
}

// stockLines returns the ledger lines of an order's variant items.
func stockLines(o domain.Order) []inventory.Line {
	var lines []inventory.Line
	for _, it := range o.Items {
		if it.VariantID == "" {
			continue
		}
		branch := it.BranchID
		if branch == "" {
			branch = o.AssignedBranchID
		}
		lines = append(lines, inventory.Line{VariantID: it.VariantID, BranchID: branch, Quantity: it.Quantity})
	}
	return lines
}
