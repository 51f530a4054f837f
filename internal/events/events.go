package events

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderEdited        = "OrderEdited"
	EventDeliveryBooked     = "DeliveryBooked"
	EventDeliveryUpdated    = "DeliveryStatusUpdated"

	// EventCarrierStatus carries a carrier webhook relayed through kafka.
	EventCarrierStatus = "CarrierStatusReported"

	EnvelopeVersion = 1
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// OrderEvent is what the lifecycle emits after a commit. Publishers turn it
// into an envelope for their transport.
type OrderEvent struct {
	Type        string
	OrderID     string
	OrderNumber string
	StoreID     string
	BranchID    string
	From        string
	To          string
	ActorID     string
	TotalAmount string
	OccurredAt  time.Time
	Items       []ItemQty
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Qty       int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	StoreID     string    `json:"store_id"`
	BranchID    string    `json:"branch_id"`
	Status      string    `json:"status"`
	Items       []ItemQty `json:"items"`
	TotalAmount string    `json:"total_amount"`
}

type OrderStatusChangedPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	StoreID     string `json:"store_id"`
	From        string `json:"from"`
	To          string `json:"to"`
	ActorID     string `json:"actor_id,omitempty"`
}

type DeliveryPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
}

// Payload returns the wire payload for an event type.
func (e OrderEvent) Payload() any {
	switch e.Type {
	case EventOrderCreated, EventOrderEdited:
		return OrderCreatedPayload{
			OrderID:     e.OrderID,
			OrderNumber: e.OrderNumber,
			StoreID:     e.StoreID,
			BranchID:    e.BranchID,
			Status:      e.To,
			Items:       e.Items,
			TotalAmount: e.TotalAmount,
		}
	case EventDeliveryBooked, EventDeliveryUpdated:
		return DeliveryPayload{OrderID: e.OrderID, OrderNumber: e.OrderNumber, Status: e.To}
	}
	return OrderStatusChangedPayload{
		OrderID:     e.OrderID,
		OrderNumber: e.OrderNumber,
		StoreID:     e.StoreID,
		From:        e.From,
		To:          e.To,
		ActorID:     e.ActorID,
	}
}
