// Package delivery books carrier pickups for orders and turns carrier status
// reports into booking and order status changes.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-fulfillment/internal/activity"
	"github.com/ariefcatur/marketplace-fulfillment/internal/carrier"
	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
	"github.com/ariefcatur/marketplace-fulfillment/internal/events"
	"github.com/ariefcatur/marketplace-fulfillment/internal/orders"
	"github.com/ariefcatur/marketplace-fulfillment/internal/store"
)

const (
	DefaultMaxRetries = 3
	// DefaultInFlight is how long a PENDING booking is treated as an attempt
	// still talking to the carrier.
	DefaultInFlight = time.Minute
	maxErrorLength  = 500
)

// Carrier is the outbound carrier API.
type Carrier interface {
	CreateConsignment(ctx context.Context, req carrier.ConsignmentRequest) (carrier.Consignment, error)
	ConsignmentStatus(ctx context.Context, consignmentID string) (string, error)
}

type Deps struct {
	Store       store.Manager
	Orders      *orders.Service
	Carrier     Carrier
	Logger      *zap.Logger
	Clock       func() time.Time
	IDGenerator func() string
	MaxRetries  int
	InFlight    time.Duration
	// Backoff builds the wait policy between booking attempts.
	Backoff func() backoff.BackOff
}

type Bridge struct {
	store      store.Manager
	orders     *orders.Service
	carrier    Carrier
	log        *zap.Logger
	clock      func() time.Time
	newID      func() string
	maxRetries int
	inFlight   time.Duration
	newBackoff func() backoff.BackOff
}

func NewBridge(deps Deps) (*Bridge, error) {
	if deps.Store == nil || deps.Orders == nil || deps.Carrier == nil {
		return nil, errors.New("delivery bridge: store, orders and carrier are required")
	}
	b := &Bridge{
		store:      deps.Store,
		orders:     deps.Orders,
		carrier:    deps.Carrier,
		log:        deps.Logger,
		clock:      deps.Clock,
		newID:      deps.IDGenerator,
		maxRetries: deps.MaxRetries,
		inFlight:   deps.InFlight,
		newBackoff: deps.Backoff,
	}
	if b.log == nil {
		b.log = zap.NewNop()
	}
	if b.clock == nil {
		b.clock = time.Now
	}
	if b.newID == nil {
		b.newID = uuid.NewString
	}
	if b.maxRetries <= 0 {
		b.maxRetries = DefaultMaxRetries
	}
	if b.inFlight <= 0 {
		b.inFlight = DefaultInFlight
	}
	if b.newBackoff == nil {
		b.newBackoff = func() backoff.BackOff {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = 500 * time.Millisecond
			eb.MaxInterval = 4 * time.Second
			eb.MaxElapsedTime = 15 * time.Second
			return eb
		}
	}
	return b, nil
}

func (b *Bridge) now() time.Time { return b.clock().UTC() }

func bookable(s domain.Status) bool {
	return s == domain.StatusConfirmed || s == domain.StatusProcessing || s == domain.StatusReadyForPickup
}

// BookDelivery requests a carrier pickup for a confirmed order. The booking
// row is written before the carrier is called, so an interrupted attempt
// leaves a PENDING booking that the next call picks up again. Failed attempts
// are retried with backoff until the booking has failed MaxRetries times.
func (b *Bridge) BookDelivery(ctx context.Context, orderID string, actor domain.Actor) (domain.DeliveryBooking, error) {
	const op = "delivery.book"
	var (
		booking domain.DeliveryBooking
		req     carrier.ConsignmentRequest
	)
	err := b.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.ManagesStore(o.StoreID) {
			return domain.Forbidden(op, fmt.Sprintf("actor does not manage store %s", o.StoreID))
		}
		if !bookable(o.Status) {
			return domain.InvalidTransition(op, o.Status, domain.StatusShipped)
		}
		if o.AssignedBranchID == "" {
			return domain.New(op, domain.KindNoBranchAssigned, fmt.Sprintf("order %s has no assigned branch", o.OrderNumber))
		}
		br, err := tx.Catalog().Branch(ctx, o.AssignedBranchID)
		if err != nil {
			return err
		}

		now := b.now()
		cur, err := tx.Bookings().Active(ctx, o.ID)
		switch {
		case err == nil:
			if cur.ConsignmentID != "" {
				return domain.New(op, domain.KindDeliveryAlreadyBooked, fmt.Sprintf("order is booked as consignment %s", cur.ConsignmentID))
			}
			if cur.RetryCount >= b.maxRetries {
				return retryLimit(op, cur, nil)
			}
			if cur.Status == domain.BookingPending && now.Sub(cur.UpdatedAt) < b.inFlight {
				return domain.New(op, domain.KindDeliveryAlreadyBooked, "a booking attempt is already in progress")
			}
			cur.Status = domain.BookingPending
			cur.UpdatedAt = now
			if err := tx.Bookings().Update(ctx, cur); err != nil {
				return err
			}
			booking = cur
		case errors.Is(err, domain.ErrNotFound):
			booking = domain.DeliveryBooking{
				ID:        b.newID(),
				OrderID:   o.ID,
				Status:    domain.BookingPending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Bookings().Insert(ctx, booking); err != nil {
				return err
			}
		default:
			return err
		}
		req = consignmentRequest(o, br)
		return b.recorder(tx).Record(ctx, o.ID, actor.UserID, activity.ActionDeliveryRequested,
			fmt.Sprintf("carrier pickup requested from branch %s", br.Name))
	})
	if err != nil {
		return domain.DeliveryBooking{}, err
	}

	remaining := b.maxRetries - booking.RetryCount
	policy := backoff.WithContext(backoff.WithMaxRetries(b.newBackoff(), uint64(remaining-1)), ctx)
	var consignment carrier.Consignment
	err = backoff.Retry(func() error {
		c, err := b.carrier.CreateConsignment(ctx, req)
		if err == nil {
			consignment = c
			return nil
		}
		failed, ferr := b.recordFailure(ctx, orderID, err)
		if ferr != nil {
			return backoff.Permanent(ferr)
		}
		booking = failed
		if carrier.IsPermanent(err) || failed.RetryCount >= b.maxRetries {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	if err != nil {
		if booking.RetryCount >= b.maxRetries {
			return booking, retryLimit(op, booking, err)
		}
		return booking, fmt.Errorf("%s: %w", op, err)
	}

	var o domain.Order
	err = b.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cur, err := tx.Bookings().Active(ctx, orderID)
		if err != nil {
			return err
		}
		cur.ConsignmentID = consignment.ConsignmentID
		cur.Status = domain.BookingPickupRequested
		cur.LastError = ""
		cur.UpdatedAt = b.now()
		if err := tx.Bookings().Update(ctx, cur); err != nil {
			return err
		}
		if o, err = tx.Orders().Get(ctx, orderID); err != nil {
			return err
		}
		booking = cur
		return b.recorder(tx).Record(ctx, orderID, actor.UserID, activity.ActionDeliveryBooked,
			fmt.Sprintf("carrier accepted pickup, consignment %s", cur.ConsignmentID))
	})
	if err != nil {
		// The carrier holds a consignment the booking does not know about.
		b.log.Error("store carrier consignment",
			zap.String("order_id", orderID),
			zap.String("consignment_id", consignment.ConsignmentID),
			zap.Error(err))
		return domain.DeliveryBooking{}, err
	}
	b.orders.Publish(ctx, deliveryEvent(events.EventDeliveryBooked, o, booking, b.now()))
	b.log.Info("delivery booked",
		zap.String("order_id", orderID),
		zap.String("consignment_id", booking.ConsignmentID))
	return booking, nil
}

// recordFailure stores one failed carrier attempt in its own transaction. The
// booking stays PENDING while another attempt will follow and becomes FAILED
// once none will.
func (b *Bridge) recordFailure(ctx context.Context, orderID string, cause error) (domain.DeliveryBooking, error) {
	var out domain.DeliveryBooking
	err := b.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cur, err := tx.Bookings().Active(ctx, orderID)
		if err != nil {
			return err
		}
		cur.RetryCount++
		cur.LastError = truncate(cause.Error(), maxErrorLength)
		cur.Status = domain.BookingPending
		if carrier.IsPermanent(cause) || cur.RetryCount >= b.maxRetries {
			cur.Status = domain.BookingFailed
		}
		cur.UpdatedAt = b.now()
		if err := tx.Bookings().Update(ctx, cur); err != nil {
			return err
		}
		out = cur
		return b.recorder(tx).Record(ctx, orderID, "", activity.ActionDeliveryFailed,
			fmt.Sprintf("carrier booking attempt %d failed: %s", cur.RetryCount, cur.LastError))
	})
	b.log.Warn("carrier booking attempt failed",
		zap.String("order_id", orderID),
		zap.Int("retry_count", out.RetryCount),
		zap.Error(cause))
	return out, err
}

// Webhook is the payload the carrier posts on every consignment update.
type Webhook struct {
	ConsignmentID   string `json:"consignment_id"`
	MerchantOrderID string `json:"merchant_order_id"`
	OrderStatus     string `json:"order_status"`
	EventType       string `json:"event_type"`
}

// ApplyCarrierWebhook records a carrier status report and forces the order
// status it implies. Unknown statuses are logged and ignored.
func (b *Bridge) ApplyCarrierWebhook(ctx context.Context, p Webhook) error {
	status, ok := MapCarrierStatus(p.OrderStatus)
	if !ok {
		b.log.Warn("ignoring unknown carrier status",
			zap.String("consignment_id", p.ConsignmentID),
			zap.String("order_status", p.OrderStatus),
			zap.String("event_type", p.EventType))
		return nil
	}
	_, err := b.applyStatus(ctx, "delivery.webhook", p.ConsignmentID, p.MerchantOrderID, status, p.OrderStatus)
	return err
}

// SyncDeliveryStatus polls the carrier for an order's consignment and applies
// the answer like a webhook.
func (b *Bridge) SyncDeliveryStatus(ctx context.Context, orderID string, actor domain.Actor) (domain.DeliveryBooking, error) {
	const op = "delivery.sync"
	var bk domain.DeliveryBooking
	err := b.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.ManagesStore(o.StoreID) {
			return domain.Forbidden(op, fmt.Sprintf("actor does not manage store %s", o.StoreID))
		}
		bk, err = tx.Bookings().Active(ctx, orderID)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && bk.ConsignmentID == "") {
			return domain.New(op, domain.KindDeliveryNotBooked, "order has no carrier consignment")
		}
		return err
	})
	if err != nil {
		return domain.DeliveryBooking{}, err
	}

	raw, err := b.carrier.ConsignmentStatus(ctx, bk.ConsignmentID)
	if err != nil {
		return bk, fmt.Errorf("%s: %w", op, err)
	}
	status, ok := MapCarrierStatus(raw)
	if !ok {
		b.log.Warn("ignoring unknown carrier status",
			zap.String("consignment_id", bk.ConsignmentID),
			zap.String("order_status", raw))
		return bk, nil
	}
	return b.applyStatus(ctx, op, bk.ConsignmentID, "", status, raw)
}

// applyStatus finds the booking by consignment, falling back to the merchant
// order number, updates it and forces the implied order status in the same
// transaction. A report that would move the booking backwards changes nothing.
func (b *Bridge) applyStatus(ctx context.Context, op, consignmentID, orderNumber string, status domain.BookingStatus, raw string) (domain.DeliveryBooking, error) {
	var (
		bk      domain.DeliveryBooking
		o       domain.Order
		changed bool
		stale   bool
		res     orders.CarrierResult
	)
	err := b.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		bk, err = findBooking(ctx, tx, consignmentID, orderNumber)
		if err != nil {
			return err
		}
		if bk.Status != status && !bk.Status.CanAdvanceTo(status) {
			stale = true
			return nil
		}
		changed = bk.Status != status
		if changed {
			from := bk.Status
			bk.Status = status
			bk.UpdatedAt = b.now()
			if err := tx.Bookings().Update(ctx, bk); err != nil {
				return err
			}
			desc := fmt.Sprintf("carrier status %s (%s -> %s)", raw, from, status)
			if err := b.recorder(tx).Record(ctx, bk.OrderID, "", activity.ActionDeliveryUpdated, desc); err != nil {
				return err
			}
		}
		if target, ok := OrderStatusFor(status); ok {
			res, err = b.orders.ApplyCarrierStatus(ctx, tx, bk.OrderID, target, "carrier status "+raw)
			if err != nil {
				return err
			}
			o = res.Order
			return nil
		}
		o, err = tx.Orders().Get(ctx, bk.OrderID)
		return err
	})
	if err != nil {
		if domain.KindOf(err) == "" {
			return domain.DeliveryBooking{}, fmt.Errorf("%s: %w", op, err)
		}
		return domain.DeliveryBooking{}, err
	}
	if stale {
		b.log.Info("ignoring out-of-order carrier status",
			zap.String("order_id", bk.OrderID),
			zap.String("consignment_id", bk.ConsignmentID),
			zap.String("booking_status", string(bk.Status)),
			zap.String("order_status", raw))
		return bk, nil
	}

	if changed {
		b.orders.Publish(ctx, deliveryEvent(events.EventDeliveryUpdated, o, bk, b.now()))
	}
	if res.Changed {
		b.orders.Publish(ctx, b.orders.StatusEvent(res.Order, res.From, ""))
		b.log.Info("carrier moved order",
			zap.String("order_id", res.Order.ID),
			zap.String("from", string(res.From)),
			zap.String("to", string(res.Order.Status)))
	}
	return bk, nil
}

func findBooking(ctx context.Context, tx store.Tx, consignmentID, orderNumber string) (domain.DeliveryBooking, error) {
	if consignmentID != "" {
		bk, err := tx.Bookings().ByConsignment(ctx, consignmentID)
		if err == nil || !errors.Is(err, domain.ErrNotFound) || orderNumber == "" {
			return bk, err
		}
	}
	if orderNumber == "" {
		return domain.DeliveryBooking{}, domain.InvalidInput("delivery.find_booking", "consignment_id or merchant_order_id is required")
	}
	o, err := tx.Orders().GetByNumber(ctx, orderNumber)
	if err != nil {
		return domain.DeliveryBooking{}, err
	}
	return tx.Bookings().Active(ctx, o.ID)
}

// DeleteBooking soft-deletes a booking the carrier never accepted (or has
// cancelled) so a fresh attempt can be made.
func (b *Bridge) DeleteBooking(ctx context.Context, orderID string, actor domain.Actor) error {
	const op = "delivery.delete"
	return b.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.ManagesStore(o.StoreID) {
			return domain.Forbidden(op, fmt.Sprintf("actor does not manage store %s", o.StoreID))
		}
		bk, err := tx.Bookings().Active(ctx, orderID)
		if err != nil {
			return err
		}
		if bk.Confirmed() {
			return domain.New(op, domain.KindDeliveryAlreadyBooked, fmt.Sprintf("consignment %s is active with the carrier", bk.ConsignmentID))
		}
		if err := tx.Bookings().SoftDelete(ctx, bk.ID, b.now()); err != nil {
			return err
		}
		desc := fmt.Sprintf("delivery booking removed after %d failed attempt(s)", bk.RetryCount)
		return b.recorder(tx).Record(ctx, orderID, actor.UserID, activity.ActionDeliveryDeleted, desc)
	})
}

func (b *Bridge) recorder(tx store.Tx) *activity.Recorder {
	return activity.NewRecorder(tx.Activities(), b.now, b.newID)
}

func retryLimit(op string, bk domain.DeliveryBooking, cause error) error {
	return &domain.Error{
		Op:      op,
		Kind:    domain.KindRetryLimitExceeded,
		Message: fmt.Sprintf("carrier booking failed %d times, delete the booking to try again", bk.RetryCount),
		Err:     cause,
	}
}

func consignmentRequest(o domain.Order, br domain.Branch) carrier.ConsignmentRequest {
	qty := 0
	for _, it := range o.Items {
		qty += it.Quantity
	}
	amount := o.TotalAmount
	if o.PaymentMethod == domain.PaymentOnline {
		amount = decimal.Zero
	}
	return carrier.ConsignmentRequest{
		CarrierStoreID:   br.CarrierStoreID,
		MerchantOrderID:  o.OrderNumber,
		RecipientName:    o.Contact.Name,
		RecipientPhone:   o.Contact.Phone,
		RecipientAddress: o.Contact.Address,
		RecipientCity:    o.Contact.City,
		RecipientArea:    o.Contact.Area,
		ItemQuantity:     qty,
		AmountToCollect:  amount,
		Instruction:      o.Note,
	}
}

func deliveryEvent(typ string, o domain.Order, bk domain.DeliveryBooking, at time.Time) events.OrderEvent {
	return events.OrderEvent{
		Type:        typ,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		StoreID:     o.StoreID,
		BranchID:    o.AssignedBranchID,
		To:          string(bk.Status),
		OccurredAt:  at,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
