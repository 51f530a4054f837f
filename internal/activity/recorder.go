// Package activity appends the audit trail of order lifecycle actions.
package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
)

const (
	ActionOrderCreated       = "ORDER_CREATED"
	ActionManualOrderCreated = "MANUAL_ORDER_CREATED"
	ActionOrderEdited        = "ORDER_EDITED"
	ActionStatusChanged      = "STATUS_CHANGED"
	ActionOrderCancelled     = "ORDER_CANCELLED"
	ActionDeliveryRequested  = "DELIVERY_REQUESTED"
	ActionDeliveryBooked     = "DELIVERY_BOOKED"
	ActionDeliveryFailed     = "DELIVERY_FAILED"
	ActionDeliveryUpdated    = "DELIVERY_STATUS_UPDATED"
	ActionDeliveryDeleted    = "DELIVERY_DELETED"
)

// Store appends rows; rows are never updated or deleted.
type Store interface {
	Append(ctx context.Context, a domain.Activity) error
}

type Recorder struct {
	store Store
	clock func() time.Time
	newID func() string
}

func NewRecorder(store Store, clock func() time.Time, newID func() string) *Recorder {
	return &Recorder{store: store, clock: clock, newID: newID}
}

// Record appends an activity row. A failure must abort the caller's transaction.
func (r *Recorder) Record(ctx context.Context, orderID, actorID, action, description string) error {
	err := r.store.Append(ctx, domain.Activity{
		ID:          r.newID(),
		OrderID:     orderID,
		ActorUserID: actorID,
		Action:      action,
		Description: description,
		CreatedAt:   r.clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("record activity %s for order %s: %w", action, orderID, err)
	}
	return nil
}
