package orders

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/marketplace-fulfillment/internal/activity"
	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
)

func TestEditOrderReplacesItemsAndRecomputesTotals(t *testing.T) {
	f := newFixture(t)
	f.stock("v1", "X", 10, 0)
	f.stock("v2", "X", 10, 0)
	o := f.checkout(t, "", v("v1", 4))[0]
	f.requireStock(t, "v1", "X", 10, 4)

	zone := domain.ZoneOutsideCity
	edited, err := f.svc.EditOrder(context.Background(), o.ID, vendor, EditRequest{
		Items:        []CheckoutItem{v("v1", 1), v("v2", 2)},
		DeliveryZone: &zone,
	})
	require.NoError(t, err)
	f.requireStock(t, "v1", "X", 10, 1)
	f.requireStock(t, "v2", "X", 10, 2)

	require.Len(t, edited.Items, 2)
	requireMoney(t, "340", edited.Subtotal) // 120 + 220
	requireMoney(t, "20", edited.TotalDiscount)
	requireMoney(t, "120", edited.DeliveryCharge)
	requireMoney(t, "440", edited.TotalAmount)

	stored, _ := f.db.Order(o.ID)
	require.Len(t, stored.Items, 2)
	requireMoney(t, "440", stored.TotalAmount)
	acts := f.db.Activities(o.ID)
	require.Equal(t, activity.ActionOrderEdited, acts[len(acts)-1].Action)
}

func TestEditOrderKeepsReservationWhenNewItemsDoNotFit(t *testing.T) {
	f := newFixture(t)
	f.stock("v1", "X", 5, 0)
	o := f.checkout(t, "", v("v1", 4))[0]

	_, err := f.svc.EditOrder(context.Background(), o.ID, vendor, EditRequest{Items: []CheckoutItem{v("v1", 6)}})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	f.requireStock(t, "v1", "X", 5, 4)
}

func TestEditOrderContactAndChargeOnly(t *testing.T) {
	f := newFixture(t)
	f.stock("v1", "X", 10, 0)
	o := f.checkout(t, "", v("v1", 1))[0]

	c := contact
	c.Address = "7 New Street"
	charge := decimal.NewFromInt(0)
	edited, err := f.svc.EditOrder(context.Background(), o.ID, admin, EditRequest{Contact: &c, DeliveryCharge: &charge})
	require.NoError(t, err)
	require.Equal(t, "7 New Street", edited.Contact.Address)
	requireMoney(t, "100", edited.TotalAmount)
	f.requireStock(t, "v1", "X", 10, 1)

	fine := decimal.RequireFromString("12.345")
	_, err = f.svc.EditOrder(context.Background(), o.ID, admin, EditRequest{DeliveryCharge: &fine})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEditOrderOnlyWhilePending(t *testing.T) {
	f := newFixture(t)
	f.stock("v1", "X", 10, 0)
	o := f.checkout(t, "", v("v1", 1))[0]
	_, err := f.svc.TransitionStatus(context.Background(), o.ID, vendor, domain.StatusConfirmed)
	require.NoError(t, err)

	_, err = f.svc.EditOrder(context.Background(), o.ID, vendor, EditRequest{Items: []CheckoutItem{v("v1", 2)}})
	require.ErrorIs(t, err, domain.ErrOrderNotEditable)
	f.requireStock(t, "v1", "X", 9, 0)

	_, err = f.svc.EditOrder(context.Background(), o.ID, buyer, EditRequest{Items: []CheckoutItem{v("v1", 2)}})
	require.ErrorIs(t, err, domain.ErrForbidden)
}
