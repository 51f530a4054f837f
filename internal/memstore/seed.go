package memstore

import (
	"sort"
	"time"

	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
	"github.com/ariefcatur/marketplace-fulfillment/internal/inventory"
)

// SetClock replaces the clock used for record timestamps.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func (s *Store) AddStore(st domain.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.stores[st.ID] = st
}

// AddBranch registers a branch; branches keep the order they were added in.
func (s *Store) AddBranch(b domain.Branch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.branches[b.ID]; !ok {
		s.data.branchSeq = append(s.data.branchSeq, b.ID)
	}
	s.data.branches[b.ID] = b
}

func (s *Store) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.products[p.ID] = p
}

func (s *Store) AddVariant(v domain.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.variants[v.ID] = v
}

// SetInventory writes a record as is, replacing any existing one.
func (s *Store) SetInventory(rec domain.InventoryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.inventory[inventory.Key{VariantID: rec.VariantID, BranchID: rec.BranchID}] = rec
}

func (s *Store) AddCartLine(userID string, l domain.CartLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.carts[userID] = append(s.data.carts[userID], l)
}

// AddBooking stores a booking as is, bypassing the one-active-booking check.
func (s *Store) AddBooking(b domain.DeliveryBooking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.bookings[b.ID] = b
}

func (s *Store) Inventory(variantID, branchID string) (domain.InventoryRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data.inventory[inventory.Key{VariantID: variantID, BranchID: branchID}]
	return rec, ok
}

func (s *Store) Order(id string) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.data.orders[id]
	return cloneOrder(o), ok
}

// Orders returns every committed order sorted by order number.
func (s *Store) Orders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0, len(s.data.orders))
	for _, o := range s.data.orders {
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber < out[j].OrderNumber })
	return out
}

// Activities returns the activity rows of an order in append order.
func (s *Store) Activities(orderID string) []domain.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Activity
	for _, a := range s.data.activities {
		if a.OrderID == orderID {
			out = append(out, a)
		}
	}
	return out
}

// Bookings returns every booking of an order, deleted ones included.
func (s *Store) Bookings(orderID string) []domain.DeliveryBooking {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DeliveryBooking
	for _, b := range s.data.bookings {
		if b.OrderID == orderID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) Cart(userID string) []domain.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CartLine(nil), s.data.carts[userID]...)
}
