package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-fulfillment/internal/activity"
	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
	"github.com/ariefcatur/marketplace-fulfillment/internal/inventory"
	"github.com/ariefcatur/marketplace-fulfillment/internal/store"
)

// TransitionStatus moves an order along the manual transition table and applies
// the inventory effect of that move. Cancellation goes through CancelOrder.
func (s *Service) TransitionStatus(ctx context.Context, orderID string, actor domain.Actor, to domain.Status) (_ domain.Order, err error) {
	const op = "orders.transition"
	if to == domain.StatusCancelled {
		return s.CancelOrder(ctx, orderID, actor, "")
	}
	ctx, span := s.startSpan(ctx, op, attribute.String("order.id", orderID), attribute.String("order.status", string(to)))
	defer func() { endSpan(span, err) }()

	if !to.Valid() {
		return domain.Order{}, domain.InvalidInput(op, fmt.Sprintf("unknown status %q", to))
	}
	if actor.Role == domain.RoleCustomer {
		return domain.Order{}, domain.Forbidden(op, "customers cannot change order status")
	}

	var (
		out  domain.Order
		from domain.Status
	)
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.ManagesStore(o.StoreID) {
			return domain.Forbidden(op, fmt.Sprintf("actor does not manage store %s", o.StoreID))
		}
		if !domain.CanTransition(o.Status, to) {
			return domain.InvalidTransition(op, o.Status, to)
		}
		if to == domain.StatusShipped {
			if err := requireBooking(ctx, op, tx, o.ID); err != nil {
				return err
			}
		}
		from = o.Status
		desc := fmt.Sprintf("status changed from %s to %s", from, to)
		if err := s.applyTransition(ctx, op, tx, &o, to, actor.UserID, activity.ActionStatusChanged, desc); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.Publish(ctx, s.StatusEvent(out, from, actor.UserID))
	return out, nil
}

// CancelOrder cancels an order on behalf of a customer, vendor or admin and
// returns its stock: reservations are released, deductions restored.
func (s *Service) CancelOrder(ctx context.Context, orderID string, actor domain.Actor, reason string) (_ domain.Order, err error) {
	const op = "orders.cancel"
	ctx, span := s.startSpan(ctx, op, attribute.String("order.id", orderID), attribute.String("actor.role", string(actor.Role)))
	defer func() { endSpan(span, err) }()

	var (
		out  domain.Order
		from domain.Status
	)
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := authorizeCancel(op, actor, o); err != nil {
			return err
		}
		switch _, err := tx.Bookings().Active(ctx, o.ID); {
		case err == nil:
			return domain.New(op, domain.KindDeliveryAlreadyBooked, "carrier pickup must be cancelled before the order")
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		from = o.Status
		now := s.clock()
		o.CancelledAt = &now
		o.CancelledBy = actor.UserID
		o.CancelReason = strings.TrimSpace(reason)

		desc := fmt.Sprintf("order cancelled by %s from %s", strings.ToLower(string(actor.Role)), from)
		if o.CancelReason != "" {
			desc += ": " + o.CancelReason
		}
		if err := s.applyTransition(ctx, op, tx, &o, domain.StatusCancelled, actor.UserID, activity.ActionOrderCancelled, desc); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.Publish(ctx, s.StatusEvent(out, from, actor.UserID))
	s.log.Info("order cancelled",
		zap.String("order_id", out.ID),
		zap.String("from", string(from)),
		zap.String("actor_role", string(actor.Role)))
	return out, nil
}

func authorizeCancel(op string, actor domain.Actor, o domain.Order) error {
	switch actor.Role {
	case domain.RoleCustomer:
		if o.CustomerUserID == "" || o.CustomerUserID != actor.UserID {
			return domain.Forbidden(op, "customers can only cancel their own orders")
		}
		if o.Status != domain.StatusPending {
			return domain.Forbidden(op, fmt.Sprintf("customers can only cancel pending orders, order is %s", o.Status))
		}
		return nil
	case domain.RoleVendor:
		if !actor.ManagesStore(o.StoreID) {
			return domain.Forbidden(op, fmt.Sprintf("actor does not manage store %s", o.StoreID))
		}
	case domain.RoleAdmin:
	default:
		return domain.Forbidden(op, fmt.Sprintf("role %q cannot cancel orders", actor.Role))
	}
	if !o.Status.Cancellable() {
		return domain.InvalidTransition(op, o.Status, domain.StatusCancelled)
	}
	return nil
}

// CarrierResult reports what a carrier-forced status did to an order.
type CarrierResult struct {
	Order   domain.Order
	From    domain.Status
	Changed bool
}

// ApplyCarrierStatus forces the order status reported by the carrier inside the
// caller's transaction. Statuses the order already has, or cannot reach from
// where it is, are left alone.
func (s *Service) ApplyCarrierStatus(ctx context.Context, tx store.Tx, orderID string, to domain.Status, note string) (CarrierResult, error) {
	const op = "orders.apply_carrier_status"
	o, err := tx.Orders().GetForUpdate(ctx, orderID)
	if err != nil {
		return CarrierResult{}, err
	}
	res := CarrierResult{Order: o, From: o.Status}
	if o.Status == to || !domain.CanCarrierTransition(o.Status, to) {
		return res, nil
	}
	if to == domain.StatusCancelled {
		now := s.clock()
		o.CancelledAt = &now
		o.CancelReason = note
	}
	desc := fmt.Sprintf("carrier moved order from %s to %s", o.Status, to)
	if note != "" {
		desc += " (" + note + ")"
	}
	if err := s.applyTransition(ctx, op, tx, &o, to, "", activity.ActionStatusChanged, desc); err != nil {
		return CarrierResult{}, err
	}
	res.Order = o
	res.Changed = true
	return res, nil
}

// applyTransition runs the inventory effect of o.Status -> to, persists the new
// status and appends the activity row. o is updated in place.
func (s *Service) applyTransition(ctx context.Context, op string, tx store.Tx, o *domain.Order, to domain.Status, actorID, action, desc string) error {
	ledger := inventory.NewLedger(tx.Inventory())
	lines := stockLines(*o)

	switch domain.EffectFor(o.Status, to) {
	case domain.EffectConfirm:
		if o.AssignedBranchID == "" {
			return domain.New(op, domain.KindNoBranchAssigned, fmt.Sprintf("order %s has no assigned branch", o.OrderNumber))
		}
		if err := ledger.ConfirmAll(ctx, lines); err != nil {
			return err
		}
	case domain.EffectRelease:
		if err := ledger.ReleaseAll(ctx, lines); err != nil {
			return err
		}
	case domain.EffectRestore:
		if err := ledger.RestoreAll(ctx, lines); err != nil {
			return err
		}
	}

	o.Status = to
	o.UpdatedAt = s.clock()
	if err := tx.Orders().Update(ctx, *o); err != nil {
		return err
	}
	return s.recorder(tx).Record(ctx, o.ID, actorID, action, desc)
}

// requireBooking fails unless the carrier accepted a pickup for the order.
func requireBooking(ctx context.Context, op string, tx store.Tx, orderID string) error {
	b, err := tx.Bookings().Active(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.New(op, domain.KindDeliveryNotBooked, "order has no delivery booking")
	}
	if err != nil {
		return err
	}
	if !b.Confirmed() {
		return domain.New(op, domain.KindDeliveryNotBooked, fmt.Sprintf("delivery booking is %s", b.Status))
	}
	return nil
}
