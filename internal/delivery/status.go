package delivery

import (
	"strings"

	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
)

// carrierStatuses maps the carrier's vocabulary, normalised to upper snake
// case, onto booking statuses.
var carrierStatuses = map[string]domain.BookingStatus{
	"PENDING":                   domain.BookingPickupRequested,
	"PICKUP_REQUESTED":          domain.BookingPickupRequested,
	"ASSIGNED_FOR_PICKUP":       domain.BookingPickupRequested,
	"PICKED":                    domain.BookingPickedUp,
	"PICKED_UP":                 domain.BookingPickedUp,
	"PICKUP_FAILED":             domain.BookingPickupFailed,
	"PICKUP_CANCELLED":          domain.BookingPickupCancelled,
	"PICKUP_CANCELED":           domain.BookingPickupCancelled,
	"AT_THE_SORTING_HUB":        domain.BookingInTransit,
	"IN_TRANSIT":                domain.BookingInTransit,
	"RECEIVED_AT_LAST_MILE_HUB": domain.BookingInTransit,
	"ASSIGNED_FOR_DELIVERY":     domain.BookingAssignedForDelivery,
	"DELIVERED":                 domain.BookingDelivered,
	"PARTIAL_DELIVERY":          domain.BookingPartialDelivery,
	"PARTIAL_DELIVERED":         domain.BookingPartialDelivery,
	"DELIVERY_FAILED":           domain.BookingDeliveryFailed,
	"ON_HOLD":                   domain.BookingOnHold,
	"HOLD":                      domain.BookingOnHold,
	"RETURN":                    domain.BookingReturned,
	"RETURNED":                  domain.BookingReturned,
	"CANCELLED":                 domain.BookingCancelled,
	"CANCELED":                  domain.BookingCancelled,
}

// forcedOrderStatus lists booking statuses that move the order.
var forcedOrderStatus = map[domain.BookingStatus]domain.Status{
	domain.BookingPickedUp:            domain.StatusShipped,
	domain.BookingInTransit:           domain.StatusOutForDelivery,
	domain.BookingAssignedForDelivery: domain.StatusOutForDelivery,
	domain.BookingDelivered:           domain.StatusDelivered,
	domain.BookingReturned:            domain.StatusReturned,
	domain.BookingPartialDelivery:     domain.StatusReturned,
	domain.BookingCancelled:           domain.StatusCancelled,
	domain.BookingPickupCancelled:     domain.StatusCancelled,
}

// MapCarrierStatus translates a raw carrier status. Matching ignores case and
// treats spaces and dashes as underscores.
func MapCarrierStatus(raw string) (domain.BookingStatus, bool) {
	s, ok := carrierStatuses[normalize(raw)]
	return s, ok
}

// OrderStatusFor returns the order status a booking status forces, if any.
func OrderStatusFor(b domain.BookingStatus) (domain.Status, bool) {
	s, ok := forcedOrderStatus[b]
	return s, ok
}

func normalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
