package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DeliveryZone string

const (
	ZoneInsideCity  DeliveryZone = "INSIDE_CITY"
	ZoneSubCity     DeliveryZone = "SUB_CITY"
	ZoneOutsideCity DeliveryZone = "OUTSIDE_CITY"
)

func (z DeliveryZone) Valid() bool {
	switch z {
	case ZoneInsideCity, ZoneSubCity, ZoneOutsideCity:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "COD"
	PaymentOnline PaymentMethod = "ONLINE"
)

type Store struct {
	ID        string
	Name      string
	DeletedAt *time.Time
}

type Branch struct {
	ID             string
	StoreID        string
	Name           string
	CarrierStoreID string // pickup location id registered with the carrier
	Active         bool
	CreatedAt      time.Time
}

type Product struct {
	ID             string
	StoreID        string
	Name           string
	BasePrice      decimal.Decimal
	CompareAtPrice decimal.Decimal // zero when the product is not on sale
	ImageURL       string
	WeightGrams    int
	Active         bool
	DeletedAt      *time.Time
}

type Variant struct {
	ID             string
	ProductID      string
	Name           string
	Price          decimal.Decimal
	CompareAtPrice decimal.Decimal
	ImageURL       string
	WeightGrams    int
	Active         bool
	DeletedAt      *time.Time
}

// InventoryRecord is the stock of one variant at one branch.
type InventoryRecord struct {
	VariantID     string
	BranchID      string
	Quantity      int
	ReservedQty   int
	LowStockAlert int
	UpdatedAt     time.Time
}

func (r InventoryRecord) Available() int {
	return r.Quantity - r.ReservedQty
}

// DemandItem is one requested cart line; it is never persisted.
type DemandItem struct {
	ProductID string
	VariantID string // empty for products without variants
	Quantity  int
	StoreID   string
}

// BranchGroup is the set of demand items fulfilled by a single branch.
type BranchGroup struct {
	BranchID string
	Items    []DemandItem
}

type Contact struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address"`
	City    string `json:"city,omitempty"`
	Area    string `json:"area,omitempty"`
}

type Order struct {
	ID               string
	OrderNumber      string
	Status           Status
	StoreID          string
	AssignedBranchID string // empty until assigned
	CustomerUserID   string // empty for guest and manual orders
	Contact          Contact
	DeliveryZone     DeliveryZone
	Subtotal         decimal.Decimal
	TotalDiscount    decimal.Decimal
	DeliveryCharge   decimal.Decimal
	TotalAmount      decimal.Decimal
	PaymentMethod    PaymentMethod
	Note             string
	Manual           bool
	CancelledAt      *time.Time
	CancelledBy      string
	CancelReason     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Items            []OrderItem
}

// OrderItem snapshots price and catalog details at the time of ordering.
type OrderItem struct {
	ID          string
	OrderID     string
	BranchID    string
	ProductID   string
	VariantID   string
	Quantity    int
	UnitPrice   decimal.Decimal
	Discount    decimal.Decimal
	LineTotal   decimal.Decimal
	ProductName string
	VariantName string
	ImageURL    string
}

type Activity struct {
	ID          string
	OrderID     string
	ActorUserID string // empty for system actions
	Action      string
	Description string
	CreatedAt   time.Time
}

type BookingStatus string

const (
	BookingPending             BookingStatus = "PENDING" // written before the carrier call
	BookingFailed              BookingStatus = "FAILED"
	BookingPickupRequested     BookingStatus = "PICKUP_REQUESTED"
	BookingPickedUp            BookingStatus = "PICKED_UP"
	BookingPickupFailed        BookingStatus = "PICKUP_FAILED"
	BookingPickupCancelled     BookingStatus = "PICKUP_CANCELLED"
	BookingInTransit           BookingStatus = "IN_TRANSIT"
	BookingAssignedForDelivery BookingStatus = "ASSIGNED_FOR_DELIVERY"
	BookingDelivered           BookingStatus = "DELIVERED"
	BookingPartialDelivery     BookingStatus = "PARTIAL_DELIVERY"
	BookingDeliveryFailed      BookingStatus = "DELIVERY_FAILED"
	BookingOnHold              BookingStatus = "ON_HOLD"
	BookingReturned            BookingStatus = "RETURNED"
	BookingCancelled           BookingStatus = "CANCELLED"
)

// bookingStage orders carrier progress. Statuses sharing a stage may follow
// each other (a failed delivery attempt goes back out for delivery).
var bookingStage = map[BookingStatus]int{
	BookingPending:             0,
	BookingFailed:              0,
	BookingPickupRequested:     1,
	BookingPickupFailed:        1,
	BookingPickupCancelled:     1,
	BookingPickedUp:            2,
	BookingInTransit:           3,
	BookingAssignedForDelivery: 3,
	BookingDeliveryFailed:      3,
	BookingOnHold:              3,
	BookingDelivered:           4,
	BookingPartialDelivery:     4,
	BookingCancelled:           4,
	BookingReturned:            5,
}

// Final reports whether the carrier is done with the consignment.
func (s BookingStatus) Final() bool {
	switch s {
	case BookingDelivered, BookingPartialDelivery, BookingReturned, BookingCancelled, BookingPickupCancelled:
		return true
	}
	return false
}

// CanAdvanceTo reports whether a carrier report of next moves a booking at s
// forward. Late reports of an earlier stage are not. A delivered consignment
// can still come back as returned.
func (s BookingStatus) CanAdvanceTo(next BookingStatus) bool {
	if s == next {
		return false
	}
	if s.Final() {
		return next == BookingReturned && (s == BookingDelivered || s == BookingPartialDelivery)
	}
	to, ok := bookingStage[next]
	return ok && to >= bookingStage[s]
}

type DeliveryBooking struct {
	ID            string
	OrderID       string
	ConsignmentID string // empty until the carrier accepted the booking
	Status        BookingStatus
	RetryCount    int
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// Confirmed reports whether the carrier accepted the pickup request and has
// not since cancelled it.
func (b DeliveryBooking) Confirmed() bool {
	if b.ConsignmentID == "" {
		return false
	}
	switch b.Status {
	case BookingFailed, BookingPickupCancelled, BookingCancelled:
		return false
	}
	return true
}

// CartLine identifies a line of a user's persistent cart.
type CartLine struct {
	ProductID string
	VariantID string
}
