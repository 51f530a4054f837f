// Package memstore is an in-memory store.Manager. Transactions run one at a
// time against a copy of the state, which replaces the live state on commit.
// It backs tests and STORE_DRIVER=memory.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/marketplace-fulfillment/internal/activity"
	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
	"github.com/ariefcatur/marketplace-fulfillment/internal/inventory"
	"github.com/ariefcatur/marketplace-fulfillment/internal/sequence"
	"github.com/ariefcatur/marketplace-fulfillment/internal/store"
)

type state struct {
	inventory  map[inventory.Key]domain.InventoryRecord
	counters   map[string]int
	activities []domain.Activity
	orders     map[string]domain.Order
	bookings   map[string]domain.DeliveryBooking
	stores     map[string]domain.Store
	branches   map[string]domain.Branch
	branchSeq  []string // branch ids in creation order
	products   map[string]domain.Product
	variants   map[string]domain.Variant
	carts      map[string][]domain.CartLine
}

func newState() *state {
	return &state{
		inventory: map[inventory.Key]domain.InventoryRecord{},
		counters:  map[string]int{},
		orders:    map[string]domain.Order{},
		bookings:  map[string]domain.DeliveryBooking{},
		stores:    map[string]domain.Store{},
		branches:  map[string]domain.Branch{},
		products:  map[string]domain.Product{},
		variants:  map[string]domain.Variant{},
		carts:     map[string][]domain.CartLine{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.inventory {
		c.inventory[k] = v
	}
	for k, v := range s.counters {
		c.counters[k] = v
	}
	c.activities = append([]domain.Activity(nil), s.activities...)
	for k, v := range s.orders {
		c.orders[k] = cloneOrder(v)
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.stores {
		c.stores[k] = v
	}
	for k, v := range s.branches {
		c.branches[k] = v
	}
	c.branchSeq = append([]string(nil), s.branchSeq...)
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.variants {
		c.variants[k] = v
	}
	for k, v := range s.carts {
		c.carts[k] = append([]domain.CartLine(nil), v...)
	}
	return c
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}

type Store struct {
	mu          sync.Mutex
	data        *state
	clock       func() time.Time
	activityErr error
}

var _ store.Manager = (*Store)(nil)

func New() *Store {
	return &Store{data: newState(), clock: time.Now}
}

// InTx runs fn against a private copy of the state. Transactions are
// serialised, so nested calls from inside fn deadlock.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(ctx, &tx{st: work, parent: s}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// FailActivities makes every activity append fail with err; nil restores normal behaviour.
func (s *Store) FailActivities(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activityErr = err
}

type tx struct {
	st     *state
	parent *Store
}

func (t *tx) Inventory() inventory.Store { return inventoryRepo{t} }
func (t *tx) Counters() sequence.Store { return counterRepo{t} }
func (t *tx) Activities() activity.Store { return activityRepo{t} }
func (t *tx) Orders() store.OrderRepository { return orderRepo{t} }
func (t *tx) Bookings() store.BookingRepository { return bookingRepo{t} }
func (t *tx) Catalog() store.CatalogReader { return catalogRepo{t} }
func (t *tx) Carts() store.CartRepository { return cartRepo{t} }

type inventoryRepo struct{ *tx }

func (r inventoryRepo) Get(_ context.Context, key inventory.Key) (domain.InventoryRecord, error) {
	rec, ok := r.st.inventory[key]
	if !ok {
		return domain.InventoryRecord{}, inventory.ErrRecordNotFound
	}
	return rec, nil
}

// Lock is Get: the store-wide transaction lock already serialises writers.
func (r inventoryRepo) Lock(ctx context.Context, key inventory.Key) (domain.InventoryRecord, error) {
	return r.Get(ctx, key)
}

func (r inventoryRepo) SaveCounts(_ context.Context, rec domain.InventoryRecord) error {
	key := inventory.Key{VariantID: rec.VariantID, BranchID: rec.BranchID}
	cur, ok := r.st.inventory[key]
	if !ok {
		return inventory.ErrRecordNotFound
	}
	cur.Quantity = rec.Quantity
	cur.ReservedQty = rec.ReservedQty
	cur.UpdatedAt = r.parent.clock()
	r.st.inventory[key] = cur
	return nil
}

func (r inventoryRepo) Create(_ context.Context, rec domain.InventoryRecord) error {
	key := inventory.Key{VariantID: rec.VariantID, BranchID: rec.BranchID}
	if _, ok := r.st.inventory[key]; ok {
		return nil
	}
	rec.UpdatedAt = r.parent.clock()
	r.st.inventory[key] = rec
	return nil
}

func (r inventoryRepo) EligibleBranches(_ context.Context, storeID, variantID string, qty int) ([]string, error) {
	var out []string
	for _, id := range r.st.activeBranches(storeID) {
		rec, ok := r.st.inventory[inventory.Key{VariantID: variantID, BranchID: id}]
		if ok && rec.Available() >= qty {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r inventoryRepo) LowStock(_ context.Context, storeID string) ([]domain.InventoryRecord, error) {
	var out []domain.InventoryRecord
	for _, rec := range r.st.inventory {
		b, ok := r.st.branches[rec.BranchID]
		if !ok || b.StoreID != storeID {
			continue
		}
		if rec.Available() <= rec.LowStockAlert {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VariantID != out[j].VariantID {
			return out[i].VariantID < out[j].VariantID
		}
		return out[i].BranchID < out[j].BranchID
	})
	return out, nil
}

func (s *state) activeBranches(storeID string) []string {
	var out []string
	for _, id := range s.branchSeq {
		b := s.branches[id]
		if b.StoreID == storeID && b.Active {
			out = append(out, id)
		}
	}
	return out
}

type counterRepo struct{ *tx }

func (r counterRepo) Increment(_ context.Context, day string) (int, error) {
	r.st.counters[day]++
	return r.st.counters[day], nil
}

type activityRepo struct{ *tx }

func (r activityRepo) Append(_ context.Context, a domain.Activity) error {
	if r.parent.activityErr != nil {
		return r.parent.activityErr
	}
	r.st.activities = append(r.st.activities, a)
	return nil
}

type orderRepo struct{ *tx }

func (r orderRepo) Insert(_ context.Context, o domain.Order) error {
	if _, ok := r.st.orders[o.ID]; ok {
		return domain.InvalidInput("memstore.orders.insert", "duplicate order id "+o.ID)
	}
	for _, cur := range r.st.orders {
		if cur.OrderNumber == o.OrderNumber {
			return domain.InvalidInput("memstore.orders.insert", "duplicate order number "+o.OrderNumber)
		}
	}
	r.st.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r orderRepo) Get(_ context.Context, id string) (domain.Order, error) {
	o, ok := r.st.orders[id]
	if !ok {
		return domain.Order{}, domain.NotFound("memstore.orders.get", "order", id)
	}
	return cloneOrder(o), nil
}

func (r orderRepo) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

func (r orderRepo) GetByNumber(_ context.Context, number string) (domain.Order, error) {
	for _, o := range r.st.orders {
		if o.OrderNumber == number {
			return cloneOrder(o), nil
		}
	}
	return domain.Order{}, domain.NotFound("memstore.orders.get_by_number", "order", number)
}

func (r orderRepo) Update(_ context.Context, o domain.Order) error {
	cur, ok := r.st.orders[o.ID]
	if !ok {
		return domain.NotFound("memstore.orders.update", "order", o.ID)
	}
	o.Items = cur.Items
	r.st.orders[o.ID] = o
	return nil
}

func (r orderRepo) ReplaceItems(_ context.Context, orderID string, items []domain.OrderItem) error {
	cur, ok := r.st.orders[orderID]
	if !ok {
		return domain.NotFound("memstore.orders.replace_items", "order", orderID)
	}
	cur.Items = append([]domain.OrderItem(nil), items...)
	r.st.orders[orderID] = cur
	return nil
}

type bookingRepo struct{ *tx }

func (r bookingRepo) Active(_ context.Context, orderID string) (domain.DeliveryBooking, error) {
	for _, b := range r.st.bookings {
		if b.OrderID == orderID && b.DeletedAt == nil {
			return b, nil
		}
	}
	return domain.DeliveryBooking{}, domain.NotFound("memstore.bookings.active", "delivery booking for order", orderID)
}

func (r bookingRepo) ByConsignment(_ context.Context, consignmentID string) (domain.DeliveryBooking, error) {
	for _, b := range r.st.bookings {
		if b.ConsignmentID == consignmentID && b.DeletedAt == nil {
			return b, nil
		}
	}
	return domain.DeliveryBooking{}, domain.NotFound("memstore.bookings.by_consignment", "consignment", consignmentID)
}

func (r bookingRepo) Insert(ctx context.Context, b domain.DeliveryBooking) error {
	if _, err := r.Active(ctx, b.OrderID); err == nil {
		return domain.New("memstore.bookings.insert", domain.KindDeliveryAlreadyBooked, "order "+b.OrderID+" already has a delivery booking")
	}
	r.st.bookings[b.ID] = b
	return nil
}

func (r bookingRepo) Update(_ context.Context, b domain.DeliveryBooking) error {
	if _, ok := r.st.bookings[b.ID]; !ok {
		return domain.NotFound("memstore.bookings.update", "delivery booking", b.ID)
	}
	r.st.bookings[b.ID] = b
	return nil
}

func (r bookingRepo) SoftDelete(_ context.Context, id string, at time.Time) error {
	b, ok := r.st.bookings[id]
	if !ok || b.DeletedAt != nil {
		return domain.NotFound("memstore.bookings.delete", "delivery booking", id)
	}
	b.DeletedAt = &at
	b.UpdatedAt = at
	r.st.bookings[id] = b
	return nil
}

type catalogRepo struct{ *tx }

func (r catalogRepo) Store(_ context.Context, id string) (domain.Store, error) {
	s, ok := r.st.stores[id]
	if !ok {
		return domain.Store{}, domain.NotFound("memstore.catalog.store", "store", id)
	}
	return s, nil
}

func (r catalogRepo) Branch(_ context.Context, id string) (domain.Branch, error) {
	b, ok := r.st.branches[id]
	if !ok {
		return domain.Branch{}, domain.NotFound("memstore.catalog.branch", "branch", id)
	}
	return b, nil
}

func (r catalogRepo) ActiveBranches(_ context.Context, storeID string) ([]string, error) {
	return r.st.activeBranches(storeID), nil
}

func (r catalogRepo) Products(_ context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.st.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (r catalogRepo) Variants(_ context.Context, ids []string) (map[string]domain.Variant, error) {
	out := make(map[string]domain.Variant, len(ids))
	for _, id := range ids {
		if v, ok := r.st.variants[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

type cartRepo struct{ *tx }

func (r cartRepo) RemoveLines(_ context.Context, userID string, lines []domain.CartLine) error {
	drop := make(map[domain.CartLine]bool, len(lines))
	for _, l := range lines {
		drop[l] = true
	}
	kept := r.st.carts[userID][:0]
	for _, l := range r.st.carts[userID] {
		if !drop[l] {
			kept = append(kept, l)
		}
	}
	r.st.carts[userID] = kept
	return nil
}
