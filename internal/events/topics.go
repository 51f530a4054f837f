package events

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status.changed"
	TopicDelivery           = "order.delivery"
	TopicCarrierStatus      = "carrier.status"
)

// TopicFor routes an event type to its topic.
func TopicFor(eventType string) string {
	switch eventType {
	case EventOrderCreated:
		return TopicOrderCreated
	case EventDeliveryBooked, EventDeliveryUpdated:
		return TopicDelivery
	}
	return TopicOrderStatusChanged
}

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
