package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-fulfillment/internal/activity"
	"github.com/ariefcatur/marketplace-fulfillment/internal/assign"
	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
	"github.com/ariefcatur/marketplace-fulfillment/internal/events"
	"github.com/ariefcatur/marketplace-fulfillment/internal/inventory"
	"github.com/ariefcatur/marketplace-fulfillment/internal/store"
)

type CheckoutItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
	// StoreID defaults to the request store; set it for multi-store carts.
	StoreID string `json:"store_id,omitempty"`
}

type CheckoutRequest struct {
	UserID        string // empty for guest checkout
	StoreID       string
	DeliveryZone  domain.DeliveryZone
	Items         []CheckoutItem
	Contact       domain.Contact
	PaymentMethod domain.PaymentMethod
	Note          string
}

type ManualOrderRequest struct {
	StoreID string
	// BranchID pins every line to one branch; empty runs branch assignment.
	BranchID      string
	DeliveryZone  domain.DeliveryZone
	Items         []CheckoutItem
	Contact       domain.Contact
	PaymentMethod domain.PaymentMethod
	Note          string
	// DeliveryCharge overrides the zone charge when set.
	DeliveryCharge *decimal.Decimal
}

// orderDraft carries what differs between checkout and manual orders.
type orderDraft struct {
	storeID        string
	userID         string
	actorID        string
	zone           domain.DeliveryZone
	deliveryCharge decimal.Decimal
	contact        domain.Contact
	payment        domain.PaymentMethod
	note           string
	manual         bool
	// stock applies the ledger operation for the new order's lines.
	stock func(ctx context.Context, lines []inventory.Line) error
}

// CreateOrder turns a cart into one PENDING order per (store, branch) group and
// reserves stock for every variant line. Either every order is created or none.
func (s *Service) CreateOrder(ctx context.Context, req CheckoutRequest) (_ []domain.Order, err error) {
	const op = "orders.create"
	ctx, span := s.startSpan(ctx, op, attribute.String("store.id", req.StoreID), attribute.Int("cart.items", len(req.Items)))
	defer func() { endSpan(span, err) }()

	charge, err := s.deliveryCharge(op, req.DeliveryZone)
	if err != nil {
		return nil, err
	}
	if err := validateItems(op, req.Items); err != nil {
		return nil, err
	}
	if err := validateContact(op, req.Contact); err != nil {
		return nil, err
	}
	payment := req.PaymentMethod
	if payment == "" {
		payment = domain.PaymentCOD
	}

	perStore := groupByStore(req.StoreID, req.Items)
	var created []domain.Order
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		created = created[:0]
		ledger := inventory.NewLedger(tx.Inventory())
		engine := assign.New(ledger, tx.Catalog())
		for _, sg := range perStore {
			snap, err := s.loadCatalog(ctx, op, tx, sg.storeID, sg.items)
			if err != nil {
				return err
			}
			groups, err := engine.Assign(ctx, sg.storeID, sg.items)
			if err != nil {
				return err
			}
			// Stock may have moved since assignment read it; ReserveAll re-checks
			// under lock and fails the whole checkout if so.
			for _, g := range groups {
				o, err := s.insertOrder(ctx, tx, snap, g, orderDraft{
					storeID:        sg.storeID,
					userID:         req.UserID,
					actorID:        req.UserID,
					zone:           req.DeliveryZone,
					deliveryCharge: charge,
					contact:        req.Contact,
					payment:        payment,
					note:           req.Note,
					stock:          ledger.ReserveAll,
				})
				if err != nil {
					return err
				}
				created = append(created, o)
			}
		}
		if req.UserID != "" {
			lines := make([]domain.CartLine, 0, len(req.Items))
			for _, it := range req.Items {
				lines = append(lines, domain.CartLine{ProductID: it.ProductID, VariantID: it.VariantID})
			}
			if err := tx.Carts().RemoveLines(ctx, req.UserID, lines); err != nil {
				return fmt.Errorf("%s: clear cart: %w", op, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, o := range created {
		s.Publish(ctx, orderEvent(events.EventOrderCreated, o, s.clock()))
	}
	s.log.Info("checkout completed",
		zap.String("user_id", req.UserID),
		zap.Int("orders", len(created)))
	return created, nil
}

// CreateManualOrder records a vendor-entered (phone) order. It skips PENDING:
// the order starts CONFIRMED and stock is deducted immediately.
func (s *Service) CreateManualOrder(ctx context.Context, actor domain.Actor, req ManualOrderRequest) (_ []domain.Order, err error) {
	const op = "orders.create_manual"
	ctx, span := s.startSpan(ctx, op, attribute.String("store.id", req.StoreID))
	defer func() { endSpan(span, err) }()

	if actor.Role != domain.RoleVendor && actor.Role != domain.RoleAdmin {
		return nil, domain.Forbidden(op, "only vendors and admins can enter manual orders")
	}
	if !actor.ManagesStore(req.StoreID) {
		return nil, domain.Forbidden(op, fmt.Sprintf("actor does not manage store %s", req.StoreID))
	}
	charge, err := s.deliveryCharge(op, req.DeliveryZone)
	if err != nil {
		return nil, err
	}
	if req.DeliveryCharge != nil {
		if err := checkCharge(op, *req.DeliveryCharge); err != nil {
			return nil, err
		}
		charge = *req.DeliveryCharge
	}
	if err := validateItems(op, req.Items); err != nil {
		return nil, err
	}
	if err := validateContact(op, req.Contact); err != nil {
		return nil, err
	}
	for _, it := range req.Items {
		if it.StoreID != "" && it.StoreID != req.StoreID {
			return nil, domain.InvalidInput(op, "manual orders cover a single store")
		}
	}
	payment := req.PaymentMethod
	if payment == "" {
		payment = domain.PaymentCOD
	}

	var created []domain.Order
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		created = created[:0]
		items := toDemand(req.StoreID, req.Items)
		snap, err := s.loadCatalog(ctx, op, tx, req.StoreID, items)
		if err != nil {
			return err
		}
		ledger := inventory.NewLedger(tx.Inventory())

		var groups []domain.BranchGroup
		if req.BranchID != "" {
			b, err := tx.Catalog().Branch(ctx, req.BranchID)
			if err != nil {
				return err
			}
			if b.StoreID != req.StoreID || !b.Active {
				return domain.InvalidInput(op, fmt.Sprintf("branch %s is not an active branch of store %s", req.BranchID, req.StoreID))
			}
			groups = []domain.BranchGroup{{BranchID: b.ID, Items: items}}
		} else {
			groups, err = assign.New(ledger, tx.Catalog()).Assign(ctx, req.StoreID, items)
			if err != nil {
				return err
			}
		}

		for _, g := range groups {
			o, err := s.insertOrder(ctx, tx, snap, g, orderDraft{
				storeID:        req.StoreID,
				actorID:        actor.UserID,
				zone:           req.DeliveryZone,
				deliveryCharge: charge,
				contact:        req.Contact,
				payment:        payment,
				note:           req.Note,
				manual:         true,
				stock:          ledger.DeductAll,
			})
			if err != nil {
				return err
			}
			created = append(created, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, o := range created {
		s.Publish(ctx, orderEvent(events.EventOrderCreated, o, s.clock()))
	}
	return created, nil
}

// insertOrder prices a branch group, takes the next order number, moves stock
// and persists the order with its items and creation activity.
func (s *Service) insertOrder(ctx context.Context, tx store.Tx, snap catalogSnapshot, g domain.BranchGroup, d orderDraft) (domain.Order, error) {
	number, err := s.sequencer.Next(ctx, tx.Counters())
	if err != nil {
		return domain.Order{}, err
	}
	now := s.clock()
	o := domain.Order{
		ID:               s.newID(),
		OrderNumber:      number,
		Status:           domain.StatusPending,
		StoreID:          d.storeID,
		AssignedBranchID: g.BranchID,
		CustomerUserID:   d.userID,
		Contact:          d.contact,
		DeliveryZone:     d.zone,
		DeliveryCharge:   d.deliveryCharge,
		PaymentMethod:    d.payment,
		Note:             d.note,
		Manual:           d.manual,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	action := activity.ActionOrderCreated
	if d.manual {
		o.Status = domain.StatusConfirmed
		action = activity.ActionManualOrderCreated
	}
	o.Items = snap.buildItems(o.ID, g.BranchID, g.Items, s.newID)
	applyTotals(&o)

	if err := d.stock(ctx, stockLines(o)); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Orders().Insert(ctx, o); err != nil {
		return domain.Order{}, err
	}
	desc := fmt.Sprintf("order %s created with %d item(s) at branch %s, total %s", o.OrderNumber, len(o.Items), g.BranchID, o.TotalAmount.StringFixed(2))
	if err := s.recorder(tx).Record(ctx, o.ID, d.actorID, action, desc); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

// loadCatalog validates the store and every referenced product and variant.
func (s *Service) loadCatalog(ctx context.Context, op string, tx store.Tx, storeID string, items []domain.DemandItem) (catalogSnapshot, error) {
	st, err := tx.Catalog().Store(ctx, storeID)
	if err != nil {
		return catalogSnapshot{}, err
	}
	if st.DeletedAt != nil {
		return catalogSnapshot{}, domain.NotFound(op, "store", storeID)
	}

	var productIDs, variantIDs []string
	for _, it := range items {
		productIDs = append(productIDs, it.ProductID)
		if it.VariantID != "" {
			variantIDs = append(variantIDs, it.VariantID)
		}
	}
	products, err := tx.Catalog().Products(ctx, productIDs)
	if err != nil {
		return catalogSnapshot{}, err
	}
	variants := map[string]domain.Variant{}
	if len(variantIDs) > 0 {
		if variants, err = tx.Catalog().Variants(ctx, variantIDs); err != nil {
			return catalogSnapshot{}, err
		}
	}
	snap := catalogSnapshot{products: products, variants: variants}
	for _, it := range items {
		if err := snap.validate(op, storeID, it.ProductID, it.VariantID); err != nil {
			return catalogSnapshot{}, err
		}
	}
	return snap, nil
}

type storeGroup struct {
	storeID string
	items   []domain.DemandItem
}

// groupByStore splits a cart by store, keeping first-appearance order.
func groupByStore(defaultStore string, items []CheckoutItem) []storeGroup {
	var out []storeGroup
	idx := map[string]int{}
	for _, it := range items {
		sid := it.StoreID
		if sid == "" {
			sid = defaultStore
		}
		i, ok := idx[sid]
		if !ok {
			i = len(out)
			idx[sid] = i
			out = append(out, storeGroup{storeID: sid})
		}
		out[i].items = append(out[i].items, domain.DemandItem{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			StoreID:   sid,
		})
	}
	return out
}

func toDemand(storeID string, items []CheckoutItem) []domain.DemandItem {
	out := make([]domain.DemandItem, 0, len(items))
	for _, it := range items {
		out = append(out, domain.DemandItem{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity, StoreID: storeID})
	}
	return out
}

func validateItems(op string, items []CheckoutItem) error {
	if len(items) == 0 {
		return domain.InvalidInput(op, "at least one item is required")
	}
	for i, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return domain.InvalidInput(op, fmt.Sprintf("item %d: product_id is required", i))
		}
		if it.Quantity <= 0 {
			return domain.InvalidInput(op, fmt.Sprintf("item %d: quantity must be positive", i))
		}
	}
	return nil
}

func validateContact(op string, c domain.Contact) error {
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Phone) == "" || strings.TrimSpace(c.Address) == "" {
		return domain.InvalidInput(op, "customer name, phone and address are required")
	}
	return nil
}
