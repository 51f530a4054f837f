package domain

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusProcessing     Status = "PROCESSING"
	StatusReadyForPickup Status = "READY_FOR_PICKUP"
	StatusShipped        Status = "SHIPPED"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
	StatusReturned       Status = "RETURNED"
)

// validNext is the table of transitions a user (vendor/admin) may request.
// SHIPPED and OUT_FOR_DELIVERY only move forward through carrier updates.
var validNext = map[Status]map[Status]bool{
	StatusPending:        {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:      {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing:     {StatusReadyForPickup: true, StatusCancelled: true},
	StatusReadyForPickup: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:        {StatusReturned: true},
	StatusOutForDelivery: {StatusReturned: true},
	StatusDelivered:      {StatusReturned: true},
	StatusCancelled:      {},
	StatusReturned:       {},
}

// carrierNext lists the transitions a carrier status update may force.
var carrierNext = map[Status]map[Status]bool{
	StatusPending: {StatusCancelled: true},
	StatusConfirmed: {
		StatusShipped: true, StatusOutForDelivery: true, StatusDelivered: true, StatusCancelled: true,
	},
	StatusProcessing: {
		StatusShipped: true, StatusOutForDelivery: true, StatusDelivered: true, StatusCancelled: true,
	},
	StatusReadyForPickup: {
		StatusShipped: true, StatusOutForDelivery: true, StatusDelivered: true, StatusCancelled: true,
	},
	StatusShipped: {
		StatusOutForDelivery: true, StatusDelivered: true, StatusReturned: true, StatusCancelled: true,
	},
	StatusOutForDelivery: {
		StatusDelivered: true, StatusReturned: true, StatusCancelled: true,
	},
	StatusDelivered: {StatusReturned: true},
	StatusCancelled: {},
	StatusReturned:  {},
}

var allStatuses = []Status{
	StatusPending, StatusConfirmed, StatusProcessing, StatusReadyForPickup, StatusShipped,
	StatusOutForDelivery, StatusDelivered, StatusCancelled, StatusReturned,
}

// Statuses returns every order status in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal reports whether the order lifecycle is finished. A DELIVERED order
// is terminal for fulfilment but can still be RETURNED.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusReturned
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func CanCarrierTransition(from, to Status) bool {
	return carrierNext[from][to]
}

// Cancellable statuses for vendor/admin cancellation. Customers are further
// restricted to PENDING.
func (s Status) Cancellable() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusReadyForPickup:
		return true
	}
	return false
}

// StockDeducted reports whether on-hand stock has already left the ledger for
// an order in this status.
func (s Status) StockDeducted() bool {
	return s != StatusPending && s != StatusCancelled && s != StatusReturned
}

// StockEffect is the inventory operation bound to a status transition.
type StockEffect int

const (
	EffectNone StockEffect = iota
	EffectConfirm
	EffectRelease
	EffectRestore
)

func (e StockEffect) String() string {
	switch e {
	case EffectConfirm:
		return "confirm"
	case EffectRelease:
		return "release"
	case EffectRestore:
		return "restore"
	}
	return "none"
}

// EffectFor returns the inventory operation a transition requires.
func EffectFor(from, to Status) StockEffect {
	switch {
	case from == StatusPending && to == StatusConfirmed:
		return EffectConfirm
	case from == StatusPending && to == StatusCancelled:
		return EffectRelease
	case to == StatusCancelled && from.StockDeducted():
		return EffectRestore
	case to == StatusReturned && from.StockDeducted():
		return EffectRestore
	}
	return EffectNone
}
