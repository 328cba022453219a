package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated  = "OrderCreated"
	EventOrderSettled  = "OrderSettled"
	EventOrderExpired  = "OrderExpired"
	EventOrderRefunded = "OrderRefunded"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "pos-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // provider event id or request id
	Payload       json.RawMessage `json:"payload"`
}

// TransactionPayload is shared by all lifecycle events.
type TransactionPayload struct {
	OrderID       string    `json:"order_id"`
	TransactionID string    `json:"transaction_id"`
	TenantID      string    `json:"tenant_id"`
	DeviceID      string    `json:"device_id"`
	Status        Status    `json:"status"`
	Channel       Channel   `json:"channel,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	TotalQty      int       `json:"total_qty"`
	TotalCents    int64     `json:"total_cents"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	ReceiptURL    string    `json:"receipt_url,omitempty"`
	At            time.Time `json:"at"`
}

func PayloadOf(o Order, at time.Time) TransactionPayload {
	return TransactionPayload{
		OrderID:       o.ID,
		TransactionID: o.TransactionID(),
		TenantID:      o.TenantID,
		DeviceID:      o.DeviceID,
		Status:        o.Status,
		Channel:       o.Channel,
		Currency:      o.Currency,
		TotalQty:      o.TotalQty,
		TotalCents:    o.TotalCents,
		PaymentMethod: o.PaymentMethod,
		ReceiptURL:    o.ReceiptURL,
		At:            at,
	}
}

// TopicFor maps a lifecycle event type to its topic.
func TopicFor(eventType string) string {
	switch eventType {
	case EventOrderCreated:
		return TopicOrderCreated
	case EventOrderSettled:
		return TopicOrderSettled
	case EventOrderExpired:
		return TopicOrderExpired
	case EventOrderRefunded:
		return TopicOrderRefunded
	}
	return ""
}
