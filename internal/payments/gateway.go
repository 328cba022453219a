// Package payments is the boundary to the payment provider: authenticated
// webhook parsing and account-scoped calls to Stripe Connect.
package payments

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSignatureInvalid   = errors.New("webhook signature invalid")
	ErrMalformedEvent     = errors.New("malformed event payload")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayForbidden   = errors.New("payment gateway denied access to account")
	// ErrGatewayRejected marks a permanent 4xx answer; retrying cannot help.
	ErrGatewayRejected    = errors.New("payment gateway rejected request")
)

// LineItem is a provider-confirmed line of a payment.
type LineItem struct {
	ProductID   string // from product metadata, empty when the line has none
	Name        string
	UnitAmount  int64
	Quantity    int
	AmountTotal int64
}

// PaymentContext is the authoritative view of a payment, read from the provider.
type PaymentContext struct {
	SessionID       string
	PaymentIntentID string
	Paid            bool
	PaymentMethod   string
	ReceiptURL      string
	AmountTotal     int64
	Currency        string
	Created         time.Time
	LineItems       []LineItem
}

type CheckoutLine struct {
	ProductID   string
	Name        string
	Description string
	ImageURL    string
	UnitAmount  int64
	Quantity    int
}

type CheckoutRequest struct {
	Account        string
	Currency       string
	TenantID       string
	DeviceID       string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Lines          []CheckoutLine
}

type PaymentIntentRequest struct {
	Account        string
	Currency       string
	TenantID       string
	DeviceID       string
	Amount         int64
	IdempotencyKey string
}

// Session is what a device needs to continue a payment.
type Session struct {
	ID           string
	URL          string
	ClientSecret string
}

type RefundResult struct {
	ID     string
	Amount int64
	Status string
}

// Gateway is the provider surface used by reconciliation and checkout. Every
// remote call is scoped to the connected account it is given.
type Gateway interface {
	VerifyEvent(payload []byte, sigHeader, secret string) (Event, error)
	CheckoutContext(ctx context.Context, sessionID, account string) (PaymentContext, error)
	PaymentIntentContext(ctx context.Context, paymentIntentID, account string) (PaymentContext, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (Session, error)
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (Session, error)
	Refund(ctx context.Context, paymentIntentID string, amount int64, account string) (RefundResult, error)
	ConnectionToken(ctx context.Context, account string) (string, error)
}
