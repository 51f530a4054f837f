package orders

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
	"github.com/ariefcatur/marketplace-fulfillment/internal/events"
	"github.com/ariefcatur/marketplace-fulfillment/internal/memstore"
	"github.com/ariefcatur/marketplace-fulfillment/internal/store"
)

var (
	fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	vendor   = domain.Actor{UserID: "vendor-1", Role: domain.RoleVendor, StoreID: "S"}
	admin    = domain.Actor{UserID: "admin-1", Role: domain.RoleAdmin}
	buyer    = domain.Actor{UserID: "user-1", Role: domain.RoleCustomer}
	contact  = domain.Contact{Name: "Rina", Phone: "01700000000", Address: "12 Lake Road", City: "Dhaka"}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, ev events.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	db  *memstore.Store
	svc *Service
	pub *recordingPublisher
}

// newFixture seeds store S with branches X and Y, product p1 (variants v1, v2)
// and product p2 without variants.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memstore.New()
	db.SetClock(func() time.Time { return fixedNow })
	db.AddStore(domain.Store{ID: "S", Name: "Shop"})
	db.AddStore(domain.Store{ID: "T", Name: "Other shop"})
	db.AddBranch(domain.Branch{ID: "X", StoreID: "S", Name: "Gulshan", Active: true, CreatedAt: fixedNow})
	db.AddBranch(domain.Branch{ID: "Y", StoreID: "S", Name: "Dhanmondi", Active: true, CreatedAt: fixedNow})
	db.AddBranch(domain.Branch{ID: "TX", StoreID: "T", Name: "Uttara", Active: true, CreatedAt: fixedNow})
	db.AddProduct(domain.Product{ID: "p1", StoreID: "S", Name: "Tee", BasePrice: decimal.NewFromInt(90), Active: true})
	db.AddProduct(domain.Product{ID: "p2", StoreID: "S", Name: "Mug", BasePrice: decimal.NewFromInt(30), Active: true})
	db.AddProduct(domain.Product{ID: "t1", StoreID: "T", Name: "Lamp", BasePrice: decimal.NewFromInt(200), Active: true})
	db.AddVariant(domain.Variant{
		ID: "v1", ProductID: "p1", Name: "Tee / M",
		Price: decimal.NewFromInt(100), CompareAtPrice: decimal.NewFromInt(120), Active: true,
	})
	db.AddVariant(domain.Variant{ID: "v2", ProductID: "p1", Name: "Tee / L", Price: decimal.NewFromInt(110), Active: true})
	db.AddVariant(domain.Variant{ID: "tv1", ProductID: "t1", Name: "Lamp / White", Price: decimal.NewFromInt(200), Active: true})

	pub := &recordingPublisher{}
	return &fixture{db: db, svc: newTestService(t, db, pub), pub: pub}
}

func newTestService(t *testing.T, m store.Manager, pub EventPublisher) *Service {
	t.Helper()
	var (
		mu sync.Mutex
		n  int
	)
	svc, err := NewService(Deps{
		Store:     m,
		Publisher: pub,
		Clock:     func() time.Time { return fixedNow },
		IDGenerator: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("id-%d", n)
		},
	})
	require.NoError(t, err)
	return svc
}

func (f *fixture) stock(variant, branch string, qty, reserved int) {
	f.db.SetInventory(domain.InventoryRecord{VariantID: variant, BranchID: branch, Quantity: qty, ReservedQty: reserved, LowStockAlert: 2})
}

func (f *fixture) requireStock(t *testing.T, variant, branch string, qty, reserved int) {
	t.Helper()
	rec, ok := f.db.Inventory(variant, branch)
	require.True(t, ok)
	require.Equal(t, qty, rec.Quantity, "quantity of %s@%s", variant, branch)
	require.Equal(t, reserved, rec.ReservedQty, "reserved of %s@%s", variant, branch)
}

func (f *fixture) checkout(t *testing.T, userID string, items ...CheckoutItem) []domain.Order {
	t.Helper()
	out, err := f.svc.CreateOrder(context.Background(), CheckoutRequest{
		UserID:       userID,
		StoreID:      "S",
		DeliveryZone: domain.ZoneInsideCity,
		Items:        items,
		Contact:      contact,
	})
	require.NoError(t, err)
	return out
}

// forceStatus rewrites the stored status without side effects.
func (f *fixture) forceStatus(t *testing.T, orderID string, s domain.Status) {
	t.Helper()
	require.NoError(t, f.db.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		o, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		o.Status = s
		return tx.Orders().Update(ctx, o)
	}))
}

func (f *fixture) book(t *testing.T, orderID string, status domain.BookingStatus, consignment string) {
	t.Helper()
	f.db.AddBooking(domain.DeliveryBooking{
		ID:            "bk-" + orderID,
		OrderID:       orderID,
		ConsignmentID: consignment,
		Status:        status,
		CreatedAt:     fixedNow,
		UpdatedAt:     fixedNow,
	})
}

func v(variant string, qty int) CheckoutItem {
	product := "p1"
	if variant == "tv1" {
		product = "t1"
	}
	return CheckoutItem{ProductID: product, VariantID: variant, Quantity: qty}
}

func requireMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}
