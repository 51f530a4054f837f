package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ariefcatur/marketplace-fulfillment/internal/activity"
	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
	"github.com/ariefcatur/marketplace-fulfillment/internal/events"
	"github.com/ariefcatur/marketplace-fulfillment/internal/inventory"
	"github.com/ariefcatur/marketplace-fulfillment/internal/store"
)

// EditRequest changes a PENDING order. Nil fields are left as they are.
type EditRequest struct {
	// Items replaces every line; all of them ship from the assigned branch.
	Items          []CheckoutItem
	Contact        *domain.Contact
	DeliveryZone   *domain.DeliveryZone
	DeliveryCharge *decimal.Decimal
}

func (r EditRequest) empty() bool {
	return r.Items == nil && r.Contact == nil && r.DeliveryZone == nil && r.DeliveryCharge == nil
}

// EditOrder lets a vendor replace items, address or delivery charge before the
// order is confirmed. Totals are recomputed from the resulting items.
func (s *Service) EditOrder(ctx context.Context, orderID string, actor domain.Actor, req EditRequest) (_ domain.Order, err error) {
	const op = "orders.edit"
	ctx, span := s.startSpan(ctx, op, attribute.String("order.id", orderID))
	defer func() { endSpan(span, err) }()

	if actor.Role != domain.RoleVendor && actor.Role != domain.RoleAdmin {
		return domain.Order{}, domain.Forbidden(op, "only vendors and admins can edit orders")
	}
	if req.empty() {
		return domain.Order{}, domain.InvalidInput(op, "nothing to change")
	}
	if req.Items != nil {
		if err := validateItems(op, req.Items); err != nil {
			return domain.Order{}, err
		}
	}
	if req.Contact != nil {
		if err := validateContact(op, *req.Contact); err != nil {
			return domain.Order{}, err
		}
	}
	if req.DeliveryCharge != nil {
		if err := checkCharge(op, *req.DeliveryCharge); err != nil {
			return domain.Order{}, err
		}
	}

	var (
		out     domain.Order
		changes []string
	)
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		changes = changes[:0]
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.ManagesStore(o.StoreID) {
			return domain.Forbidden(op, fmt.Sprintf("actor does not manage store %s", o.StoreID))
		}
		if o.Status != domain.StatusPending {
			return domain.New(op, domain.KindOrderNotEditable, fmt.Sprintf("order is %s, only PENDING orders can be edited", o.Status))
		}

		if req.Items != nil {
			for _, it := range req.Items {
				if it.StoreID != "" && it.StoreID != o.StoreID {
					return domain.InvalidInput(op, "items must belong to the order's store")
				}
			}
			demand := toDemand(o.StoreID, req.Items)
			snap, err := s.loadCatalog(ctx, op, tx, o.StoreID, demand)
			if err != nil {
				return err
			}
			ledger := inventory.NewLedger(tx.Inventory())
			if err := ledger.ReleaseAll(ctx, stockLines(o)); err != nil {
				return err
			}
			o.Items = snap.buildItems(o.ID, o.AssignedBranchID, demand, s.newID)
			if err := ledger.ReserveAll(ctx, stockLines(o)); err != nil {
				return err
			}
			if err := tx.Orders().ReplaceItems(ctx, o.ID, o.Items); err != nil {
				return err
			}
			changes = append(changes, fmt.Sprintf("%d item(s)", len(o.Items)))
		}
		if req.Contact != nil {
			o.Contact = *req.Contact
			changes = append(changes, "contact")
		}
		if req.DeliveryZone != nil {
			charge, err := s.deliveryCharge(op, *req.DeliveryZone)
			if err != nil {
				return err
			}
			o.DeliveryZone = *req.DeliveryZone
			o.DeliveryCharge = charge
			changes = append(changes, "delivery zone "+string(o.DeliveryZone))
		}
		if req.DeliveryCharge != nil {
			o.DeliveryCharge = *req.DeliveryCharge
			changes = append(changes, "delivery charge "+o.DeliveryCharge.StringFixed(2))
		}

		applyTotals(&o)
		o.UpdatedAt = s.clock()
		if err := tx.Orders().Update(ctx, o); err != nil {
			return err
		}
		desc := fmt.Sprintf("order edited (%s), total %s", strings.Join(changes, ", "), o.TotalAmount.StringFixed(2))
		if err := s.recorder(tx).Record(ctx, o.ID, actor.UserID, activity.ActionOrderEdited, desc); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.Publish(ctx, orderEvent(events.EventOrderEdited, out, s.clock()))
	return out, nil
}
