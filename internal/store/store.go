// Package store defines the transactional unit of work the lifecycle and
// delivery services run against. internal/postgres and internal/memstore
// implement it.
package store

import (
	"context"
	"time"

	"github.com/ariefcatur/marketplace-fulfillment/internal/activity"
	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
	"github.com/ariefcatur/marketplace-fulfillment/internal/inventory"
	"github.com/ariefcatur/marketplace-fulfillment/internal/sequence"
)

// Manager runs fn inside one ACID transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type Manager interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the repositories bound to a single transaction.
type Tx interface {
	Inventory() inventory.Store
	Counters() sequence.Store
	Activities() activity.Store
	Orders() OrderRepository
	Bookings() BookingRepository
	Catalog() CatalogReader
	Carts() CartRepository
}

// Repositories return errors matching domain.ErrNotFound for missing rows.
type OrderRepository interface {
	Insert(ctx context.Context, o domain.Order) error
	Get(ctx context.Context, id string) (domain.Order, error)
	// GetForUpdate loads the order with its items and locks the order row.
	GetForUpdate(ctx context.Context, id string) (domain.Order, error)
	GetByNumber(ctx context.Context, number string) (domain.Order, error)
	// Update persists the mutable order columns; items are left untouched.
	Update(ctx context.Context, o domain.Order) error
	ReplaceItems(ctx context.Context, orderID string, items []domain.OrderItem) error
}

type BookingRepository interface {
	// Active returns the non-deleted booking of an order.
	Active(ctx context.Context, orderID string) (domain.DeliveryBooking, error)
	ByConsignment(ctx context.Context, consignmentID string) (domain.DeliveryBooking, error)
	// Insert fails with domain.ErrDeliveryAlreadyBooked when the order already
	// has a non-deleted booking.
	Insert(ctx context.Context, b domain.DeliveryBooking) error
	Update(ctx context.Context, b domain.DeliveryBooking) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

type CatalogReader interface {
	Store(ctx context.Context, id string) (domain.Store, error)
	Branch(ctx context.Context, id string) (domain.Branch, error)
	// ActiveBranches returns branch ids of a store in creation order.
	ActiveBranches(ctx context.Context, storeID string) ([]string, error)
	Products(ctx context.Context, ids []string) (map[string]domain.Product, error)
	Variants(ctx context.Context, ids []string) (map[string]domain.Variant, error)
}

type CartRepository interface {
	RemoveLines(ctx context.Context, userID string, lines []domain.CartLine) error
}
