package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/marketplace-fulfillment/internal/activity"
	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
	"github.com/ariefcatur/marketplace-fulfillment/internal/events"
	"github.com/ariefcatur/marketplace-fulfillment/internal/inventory"
	"github.com/ariefcatur/marketplace-fulfillment/internal/store"
)

func TestCreateOrderReservesStockAndPrices(t *testing.T) {
	f := newFixture(t)
	f.stock("v1", "X", 10, 0)

	created := f.checkout(t, "", v("v1", 4))
	require.Len(t, created, 1)
	o := created[0]

	require.Equal(t, domain.StatusPending, o.Status)
	require.Equal(t, "ORD-20260301-0001", o.OrderNumber)
	require.Equal(t, "X", o.AssignedBranchID)
	require.Equal(t, domain.PaymentCOD, o.PaymentMethod)
	f.requireStock(t, "v1", "X", 10, 4)

	require.Len(t, o.Items, 1)
	it := o.Items[0]
	require.Equal(t, "X", it.BranchID)
	require.Equal(t, "Tee", it.ProductName)
	require.Equal(t, "Tee / M", it.VariantName)
	requireMoney(t, "100", it.UnitPrice)
	requireMoney(t, "80", it.Discount)
	requireMoney(t, "400", it.LineTotal)

	requireMoney(t, "480", o.Subtotal)
	requireMoney(t, "80", o.TotalDiscount)
	requireMoney(t, "60", o.DeliveryCharge)
	requireMoney(t, "460", o.TotalAmount)

	acts := f.db.Activities(o.ID)
	require.Len(t, acts, 1)
	require.Equal(t, activity.ActionOrderCreated, acts[0].Action)
	require.Equal(t, []string{events.EventOrderCreated}, f.pub.types())
}

func TestCreateOrderSplitsAcrossBranches(t *testing.T) {
	f := newFixture(t)
	f.stock("v1", "X", 5, 0)
	f.stock("v2", "Y", 5, 0)

	created := f.checkout(t, "", v("v1", 1), v("v2", 2))
	require.Len(t, created, 2)

	require.Equal(t, "X", created[0].AssignedBranchID)
	require.Len(t, created[0].Items, 1)
	require.Equal(t, "v1", created[0].Items[0].VariantID)
	requireMoney(t, "160", created[0].TotalAmount) // 100 + 60

	require.Equal(t, "Y", created[1].AssignedBranchID)
	require.Len(t, created[1].Items, 1)
	require.Equal(t, "v2", created[1].Items[0].VariantID)
	requireMoney(t, "280", created[1].TotalAmount) // 2*110 + 60

	require.Equal(t, "ORD-20260301-0001", created[0].OrderNumber)
	require.Equal(t, "ORD-20260301-0002", created[1].OrderNumber)
	require.Len(t, f.db.Orders(), 2)
	f.requireStock(t, "v1", "X", 5, 1)
	f.requireStock(t, "v2", "Y", 5, 2)
}

func TestCreateOrderTotalsMatchLineTotalsPlusDelivery(t *testing.T) {
	f := newFixture(t)
	f.stock("v1", "X", 10, 0)
	f.stock("v2", "X", 10, 0)

	created := f.checkout(t, "", v("v1", 3), v("v2", 1), CheckoutItem{ProductID: "p2", Quantity: 2})
	require.Len(t, created, 1)
	o := created[0]
	sum := o.DeliveryCharge
	for _, it := range o.Items {
		sum = sum.Add(it.LineTotal)
	}
	require.True(t, sum.Equal(o.TotalAmount), "sum %s total %s", sum, o.TotalAmount)
	requireMoney(t, "530", o.TotalAmount) // 300 + 110 + 60 + delivery 60
}

func TestCreateOrderClearsCheckedOutCartLines(t *testing.T) {
	f := newFixture(t)
	f.stock("v1", "X", 10, 0)
	f.db.AddCartLine("user-1", domain.CartLine{ProductID: "p1", VariantID: "v1"})
	f.db.AddCartLine("user-1", domain.CartLine{ProductID: "p2"})

	created := f.checkout(t, "user-1", v("v1", 1))
	require.Equal(t, "user-1", created[0].CustomerUserID)
	require.Equal(t, []domain.CartLine{{ProductID: "p2"}}, f.db.Cart("user-1"))
}

func TestCreateOrderGroupsByStore(t *testing.T) {
	f := newFixture(t)
	f.stock("v1", "X", 10, 0)
	f.stock("tv1", "TX", 10, 0)

	lamp := v("tv1", 1)
	lamp.StoreID = "T"
	created := f.checkout(t, "", v("v1", 1), lamp)
	require.Len(t, created, 2)
	require.Equal(t, "S", created[0].StoreID)
	require.Equal(t, "T", created[1].StoreID)
	require.Equal(t, "TX", created[1].AssignedBranchID)
}

func TestCreateOrderIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.stock("v1", "X", 10, 0)
	// t1 belongs to store T but has no stock anywhere: the whole cart fails.
	lamp := v("tv1", 1)
	lamp.StoreID = "T"

	_, err := f.svc.CreateOrder(context.Background(), CheckoutRequest{
		StoreID:      "S",
		DeliveryZone: domain.ZoneInsideCity,
		Items:        []CheckoutItem{v("v1", 2), lamp},
		Contact:      contact,
	})
	require.ErrorIs(t, err, domain.ErrNoBranchAvailable)
	require.Empty(t, f.db.Orders())
	f.requireStock(t, "v1", "X", 10, 0)
	require.Empty(t, f.pub.types())

	// The counter rolled back with the rest: the next order still gets 0001.
	created := f.checkout(t, "", v("v1", 1))
	require.Equal(t, "ORD-20260301-0001", created[0].OrderNumber)
}

func TestCreateOrderAbortsWhenActivityCannotBeWritten(t *testing.T) {
	f := newFixture(t)
	f.stock("v1", "X", 10, 0)
	f.db.FailActivities(errors.New("disk full"))

	_, err := f.svc.CreateOrder(context.Background(), CheckoutRequest{
		StoreID:      "S",
		DeliveryZone: domain.ZoneInsideCity,
		Items:        []CheckoutItem{v("v1", 2)},
		Contact:      contact,
	})
	require.Error(t, err)
	require.Equal(t, domain.Kind(""), domain.KindOf(err))
	require.Empty(t, f.db.Orders())
	f.requireStock(t, "v1", "X", 10, 0)
}

func TestCreateOrderRejectsUnknownOrDeletedCatalog(t *testing.T) {
	f := newFixture(t)
	f.stock("v1", "X", 10, 0)

	_, err := f.svc.CreateOrder(context.Background(), CheckoutRequest{
		StoreID: "S", DeliveryZone: domain.ZoneInsideCity, Contact: contact,
		Items: []CheckoutItem{{ProductID: "missing", Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.CreateOrder(context.Background(), CheckoutRequest{
		StoreID: "S", DeliveryZone: "MOON", Contact: contact,
		Items: []CheckoutItem{v("v1", 1)},
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.CreateOrder(context.Background(), CheckoutRequest{
		StoreID: "S", DeliveryZone: domain.ZoneInsideCity, Contact: contact,
		Items: []CheckoutItem{{ProductID: "p1", VariantID: "tv1", Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

// staleInventory reports every active branch as eligible, as if stock moved
// between the availability read and the reservation.
type staleInventory struct {
	inventory.Store
	branches func(ctx context.Context, storeID string) ([]string, error)
}

func (s staleInventory) EligibleBranches(ctx context.Context, storeID, _ string, _ int) ([]string, error) {
	return s.branches(ctx, storeID)
}

type staleTx struct{ store.Tx }

func (t staleTx) Inventory() inventory.Store {
	return staleInventory{Store: t.Tx.Inventory(), branches: t.Tx.Catalog().ActiveBranches}
}

type staleManager struct{ store.Manager }

func (m staleManager) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return m.Manager.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, staleTx{tx})
	})
}

func TestCreateOrderRevalidatesStockWhenReserving(t *testing.T) {
	f := newFixture(t)
	f.stock("v1", "X", 3, 0)
	svc := newTestService(t, staleManager{f.db}, nil)

	_, err := svc.CreateOrder(context.Background(), CheckoutRequest{
		StoreID:      "S",
		DeliveryZone: domain.ZoneInsideCity,
		Items:        []CheckoutItem{v("v1", 5)},
		Contact:      contact,
	})
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, domain.KindInsufficientStock, de.Kind)
	require.Equal(t, 5, de.Requested)
	require.Equal(t, 3, de.Available)
	require.Empty(t, f.db.Orders())
	f.requireStock(t, "v1", "X", 3, 0)
}

func TestCreateManualOrderDeductsAndConfirms(t *testing.T) {
	f := newFixture(t)
	f.stock("v1", "X", 10, 0)

	created, err := f.svc.CreateManualOrder(context.Background(), vendor, ManualOrderRequest{
		StoreID:      "S",
		BranchID:     "X",
		DeliveryZone: domain.ZoneSubCity,
		Items:        []CheckoutItem{v("v1", 3)},
		Contact:      contact,
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	o := created[0]
	require.Equal(t, domain.StatusConfirmed, o.Status)
	require.True(t, o.Manual)
	requireMoney(t, "400", o.TotalAmount) // 300 + 100
	f.requireStock(t, "v1", "X", 7, 0)
	require.Equal(t, activity.ActionManualOrderCreated, f.db.Activities(o.ID)[0].Action)

	// Cancelling a manual order restores the deducted stock.
	_, err = f.svc.CancelOrder(context.Background(), o.ID, vendor, "customer changed mind")
	require.NoError(t, err)
	f.requireStock(t, "v1", "X", 10, 0)
}

func TestCreateManualOrderCannotTakeReservedStock(t *testing.T) {
	f := newFixture(t)
	f.stock("v1", "X", 10, 8)

	_, err := f.svc.CreateManualOrder(context.Background(), vendor, ManualOrderRequest{
		StoreID:      "S",
		BranchID:     "X",
		DeliveryZone: domain.ZoneInsideCity,
		Items:        []CheckoutItem{v("v1", 3)},
		Contact:      contact,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	f.requireStock(t, "v1", "X", 10, 8)
}

func TestCreateManualOrderChargeOverride(t *testing.T) {
	f := newFixture(t)
	f.stock("v1", "X", 10, 0)
	req := ManualOrderRequest{StoreID: "S", BranchID: "X", DeliveryZone: domain.ZoneInsideCity, Items: []CheckoutItem{v("v1", 1)}, Contact: contact}

	for _, bad := range []string{"-5", "45.005"} {
		charge := decimal.RequireFromString(bad)
		req.DeliveryCharge = &charge
		_, err := f.svc.CreateManualOrder(context.Background(), vendor, req)
		require.ErrorIs(t, err, domain.ErrInvalidInput, bad)
	}
	f.requireStock(t, "v1", "X", 10, 0)

	charge := decimal.RequireFromString("45.50")
	req.DeliveryCharge = &charge
	created, err := f.svc.CreateManualOrder(context.Background(), vendor, req)
	require.NoError(t, err)
	requireMoney(t, "145.5", created[0].TotalAmount)
}

func TestCreateManualOrderAuthorization(t *testing.T) {
	f := newFixture(t)
	f.stock("v1", "X", 10, 0)
	req := ManualOrderRequest{StoreID: "S", DeliveryZone: domain.ZoneInsideCity, Items: []CheckoutItem{v("v1", 1)}, Contact: contact}

	_, err := f.svc.CreateManualOrder(context.Background(), buyer, req)
	require.ErrorIs(t, err, domain.ErrForbidden)

	other := domain.Actor{UserID: "vendor-2", Role: domain.RoleVendor, StoreID: "T"}
	_, err = f.svc.CreateManualOrder(context.Background(), other, req)
	require.ErrorIs(t, err, domain.ErrForbidden)

	created, err := f.svc.CreateManualOrder(context.Background(), admin, req)
	require.NoError(t, err)
	require.Equal(t, "X", created[0].AssignedBranchID)
}
