package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

type EventKind string

const (
	KindUnhandled              EventKind = "unhandled"
	KindCheckoutCompleted      EventKind = "checkout_completed"
	KindCheckoutAsyncSucceeded EventKind = "checkout_async_succeeded"
	KindCheckoutExpired        EventKind = "checkout_expired"
	KindCheckoutAsyncFailed    EventKind = "checkout_async_failed"
	KindPaymentIntentSucceeded EventKind = "payment_intent_succeeded"
	KindPaymentIntentFailed    EventKind = "payment_intent_failed"
	KindChargeRefunded         EventKind = "charge_refunded"
	KindSubscriptionChanged    EventKind = "subscription_changed"
)

var kinds = map[string]EventKind{
	"checkout.session.completed":               KindCheckoutCompleted,
	"checkout.session.async_payment_succeeded": KindCheckoutAsyncSucceeded,
	"checkout.session.expired":                 KindCheckoutExpired,
	"checkout.session.async_payment_failed":    KindCheckoutAsyncFailed,
	"payment_intent.succeeded":                 KindPaymentIntentSucceeded,
	"payment_intent.payment_failed":            KindPaymentIntentFailed,
	"charge.refunded":                          KindChargeRefunded,
	"customer.subscription.created":            KindSubscriptionChanged,
	"customer.subscription.updated":            KindSubscriptionChanged,
	"customer.subscription.deleted":            KindSubscriptionChanged,
}

// KindOf maps a provider event type to its kind; unknown types are unhandled.
func KindOf(eventType string) EventKind {
	if k, ok := kinds[eventType]; ok {
		return k
	}
	return KindUnhandled
}

// Event is a verified provider event. Exactly one payload pointer is set for
// handled kinds; none for KindUnhandled.
type Event struct {
	ID      string
	Type    string
	Kind    EventKind
	Account string // connected account the event originated on
	Created time.Time

	Checkout      *CheckoutEvent
	PaymentIntent *PaymentIntentEvent
	Charge        *ChargeEvent
	Subscription  *SubscriptionEvent
}

type CheckoutEvent struct {
	SessionID       string
	PaymentIntentID string
	PaymentStatus   string
	AmountTotal     int64
	Metadata        map[string]string
}

type PaymentIntentEvent struct {
	ID             string
	AmountReceived int64
	Currency       string
	FailureMessage string
	Metadata       map[string]string
}

type ChargeEvent struct {
	ID              string
	PaymentIntentID string
	Amount          int64
	AmountRefunded  int64
	Refunded        bool // fully refunded
	RefundID        string
}

type SubscriptionEvent struct {
	ID               string
	CustomerID       string
	Status           string
	CurrentPeriodEnd time.Time
	Deleted          bool
	Metadata         map[string]string
}

// Verify authenticates a webhook delivery and decodes it. Signature problems
// yield ErrSignatureInvalid; everything after authentication that fails to
// decode yields ErrMalformedEvent.
func Verify(payload []byte, sigHeader, secret string) (Event, error) {
	if secret == "" {
		return Event{}, fmt.Errorf("%w: no signing secret configured", ErrSignatureInvalid)
	}
	se, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return Parse(se)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrTooOld)
}

// Parse turns a provider event into its typed variant.
func Parse(se stripe.Event) (Event, error) {
	ev := Event{
		ID:      se.ID,
		Type:    string(se.Type),
		Kind:    KindOf(string(se.Type)),
		Account: se.Account,
		Created: time.Unix(se.Created, 0).UTC(),
	}
	if ev.ID == "" {
		return Event{}, fmt.Errorf("%w: event id missing", ErrMalformedEvent)
	}
	if ev.Kind == KindUnhandled {
		return ev, nil
	}
	if se.Data == nil || len(se.Data.Raw) == 0 {
		return Event{}, fmt.Errorf("%w: %s has no data.object", ErrMalformedEvent, ev.Type)
	}
	raw := se.Data.Raw

	switch ev.Kind {
	case KindCheckoutCompleted, KindCheckoutAsyncSucceeded, KindCheckoutExpired, KindCheckoutAsyncFailed:
		var s stripe.CheckoutSession
		if err := decode(raw, &s, ev.Type); err != nil {
			return Event{}, err
		}
		if s.ID == "" {
			return Event{}, fmt.Errorf("%w: %s without session id", ErrMalformedEvent, ev.Type)
		}
		ev.Checkout = &CheckoutEvent{
			SessionID:     s.ID,
			PaymentStatus: string(s.PaymentStatus),
			AmountTotal:   s.AmountTotal,
			Metadata:      s.Metadata,
		}
		if s.PaymentIntent != nil {
			ev.Checkout.PaymentIntentID = s.PaymentIntent.ID
		}

	case KindPaymentIntentSucceeded, KindPaymentIntentFailed:
		var pi stripe.PaymentIntent
		if err := decode(raw, &pi, ev.Type); err != nil {
			return Event{}, err
		}
		if pi.ID == "" {
			return Event{}, fmt.Errorf("%w: %s without payment intent id", ErrMalformedEvent, ev.Type)
		}
		ev.PaymentIntent = &PaymentIntentEvent{
			ID:             pi.ID,
			AmountReceived: pi.AmountReceived,
			Currency:       string(pi.Currency),
			Metadata:       pi.Metadata,
		}
		if pi.LastPaymentError != nil {
			ev.PaymentIntent.FailureMessage = pi.LastPaymentError.Msg
		}

	case KindChargeRefunded:
		var ch stripe.Charge
		if err := decode(raw, &ch, ev.Type); err != nil {
			return Event{}, err
		}
		if ch.ID == "" {
			return Event{}, fmt.Errorf("%w: %s without charge id", ErrMalformedEvent, ev.Type)
		}
		ev.Charge = &ChargeEvent{
			ID:             ch.ID,
			Amount:         ch.Amount,
			AmountRefunded: ch.AmountRefunded,
			Refunded:       ch.Refunded,
		}
		if ch.PaymentIntent != nil {
			ev.Charge.PaymentIntentID = ch.PaymentIntent.ID
		}
		if ch.Refunds != nil && len(ch.Refunds.Data) > 0 {
			ev.Charge.RefundID = ch.Refunds.Data[0].ID
		}

	case KindSubscriptionChanged:
		var sub stripe.Subscription
		if err := decode(raw, &sub, ev.Type); err != nil {
			return Event{}, err
		}
		if sub.ID == "" {
			return Event{}, fmt.Errorf("%w: %s without subscription id", ErrMalformedEvent, ev.Type)
		}
		ev.Subscription = &SubscriptionEvent{
			ID:               sub.ID,
			Status:           string(sub.Status),
			CurrentPeriodEnd: time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
			Deleted:          ev.Type == "customer.subscription.deleted",
			Metadata:         sub.Metadata,
		}
		if sub.Customer != nil {
			ev.Subscription.CustomerID = sub.Customer.ID
		}
	}
	return ev, nil
}

func decode(raw json.RawMessage, v any, eventType string) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, eventType, err)
	}
	return nil
}
