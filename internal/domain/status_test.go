package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManualTransitionTable(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPending:        {StatusConfirmed, StatusCancelled},
		StatusConfirmed:      {StatusProcessing, StatusCancelled},
		StatusProcessing:     {StatusReadyForPickup, StatusCancelled},
		StatusReadyForPickup: {StatusShipped, StatusCancelled},
		StatusShipped:        {StatusReturned},
		StatusOutForDelivery: {StatusReturned},
		StatusDelivered:      {StatusReturned},
	}
	for _, from := range Statuses() {
		for _, to := range Statuses() {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			require.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCancelledAndReturnedHaveNoWayOut(t *testing.T) {
	for _, to := range Statuses() {
		require.False(t, CanTransition(StatusCancelled, to))
		require.False(t, CanTransition(StatusReturned, to))
		require.False(t, CanCarrierTransition(StatusCancelled, to))
		require.False(t, CanCarrierTransition(StatusReturned, to))
	}
	require.True(t, StatusDelivered.Terminal())
	require.False(t, StatusShipped.Terminal())
}

func TestEffectFor(t *testing.T) {
	cases := []struct {
		from, to Status
		want     StockEffect
	}{
		{StatusPending, StatusConfirmed, EffectConfirm},
		{StatusPending, StatusCancelled, EffectRelease},
		{StatusConfirmed, StatusCancelled, EffectRestore},
		{StatusProcessing, StatusCancelled, EffectRestore},
		{StatusReadyForPickup, StatusCancelled, EffectRestore},
		{StatusShipped, StatusReturned, EffectRestore},
		{StatusOutForDelivery, StatusReturned, EffectRestore},
		{StatusDelivered, StatusReturned, EffectRestore},
		{StatusConfirmed, StatusProcessing, EffectNone},
		{StatusProcessing, StatusReadyForPickup, EffectNone},
		{StatusReadyForPickup, StatusShipped, EffectNone},
		{StatusShipped, StatusDelivered, EffectNone},
	}
	for _, c := range cases {
		require.Equal(t, c.want, EffectFor(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestErrorKindsMatchSentinels(t *testing.T) {
	err := fmt.Errorf("checkout: %w", InsufficientStock("inventory.reserve", "v1", "b1", 7, 6))
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.False(t, errors.Is(err, ErrNotFound))
	require.Equal(t, KindInsufficientStock, KindOf(err))

	var de *Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, 7, de.Requested)
	require.Equal(t, 6, de.Available)
	require.Equal(t, "inventory.reserve: variant v1 at branch b1: requested 7, available 6", de.Error())

	require.Equal(t, Kind(""), KindOf(errors.New("connection reset")))
}

func TestActorManagesStore(t *testing.T) {
	require.True(t, Actor{Role: RoleAdmin}.ManagesStore("S"))
	require.True(t, SystemActor.ManagesStore("S"))
	require.True(t, Actor{Role: RoleVendor, StoreID: "S"}.ManagesStore("S"))
	require.False(t, Actor{Role: RoleVendor, StoreID: "T"}.ManagesStore("S"))
	require.False(t, Actor{Role: RoleVendor}.ManagesStore(""))
	require.False(t, Actor{Role: RoleCustomer, StoreID: "S"}.ManagesStore("S"))
}

func TestRoleRequests(t *testing.T) {
	require.True(t, CanRequestRole(RoleCustomer, RoleVendor))
	require.False(t, CanRequestRole(RoleCustomer, RoleAdmin))
	require.False(t, CanRequestRole(RoleVendor, RoleAdmin))

	r, ok := ParseRole(" vendor ")
	require.True(t, ok)
	require.Equal(t, RoleVendor, r)
	_, ok = ParseRole("system")
	require.False(t, ok)
}

func TestBookingStatusOnlyMovesForward(t *testing.T) {
	cases := []struct {
		from, to BookingStatus
		want     bool
	}{
		{BookingPending, BookingPickupRequested, true},
		{BookingPickupRequested, BookingPickedUp, true},
		{BookingPickupFailed, BookingPickupRequested, true},
		{BookingPickedUp, BookingPickupRequested, false},
		{BookingPickedUp, BookingPickupCancelled, false},
		{BookingInTransit, BookingDeliveryFailed, true},
		{BookingDeliveryFailed, BookingAssignedForDelivery, true},
		{BookingOnHold, BookingPickedUp, false},
		{BookingInTransit, BookingCancelled, true},
		{BookingInTransit, BookingReturned, true},
		{BookingDelivered, BookingPickupRequested, false},
		{BookingDelivered, BookingReturned, true},
		{BookingPartialDelivery, BookingReturned, true},
		{BookingCancelled, BookingPickedUp, false},
		{BookingCancelled, BookingReturned, false},
		{BookingPickupCancelled, BookingPickupRequested, false},
		{BookingReturned, BookingDelivered, false},
		{BookingInTransit, BookingInTransit, false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.from.CanAdvanceTo(c.to), "%s -> %s", c.from, c.to)
	}
}
