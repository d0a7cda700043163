package redisx

import "time"

const (
	// idem:checkout:{idempotency_key} -> order_id, or "pending" while in flight
	KeyIdemCheckout = "idem:checkout:%s"

	// order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// lock:{name} -> owner token
	KeyLock = "lock:%s"

	// dedup:{consumer}:{event_id} -> "1"
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	// TTLClaim bounds an in-flight checkout claim; it outlives the request timeout.
	TTLClaim       = time.Minute
	TTLStatusCache = 5 * time.Minute
	TTLLock        = 30 * time.Second
	TTLDedup       = 48 * time.Hour
)
