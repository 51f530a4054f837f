package redisx

import "time"

const (
	// Cached order status: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup of consumed events: dedup:{consumer}:{event key}
	KeyDedup = "dedup:%s:%s"

	// Carrier access token: carrier_token:{cache key}
	KeyCarrierToken = "carrier_token:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
