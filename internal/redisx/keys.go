package redisx

import "time"

const (
	// Idempotency checkout: idem:checkout:{tenant}:{idempotency_key} -> session/payment id
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// Cache status transaksi: tx_status:{transaction_id} -> {"status": "...", ...}
	KeyTxStatus = "tx_status:%s"

	// Latest transaction per device: latest_tx:{tenant}:{device}
	KeyLatestTx = "latest_tx:%s:%s"

	// Dedup event processing: dedup:{service}:{provider_event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLLatest      = 24 * time.Hour
	TTLDedup       = 72 * time.Hour
)
