// Package reconcile applies verified provider events to orders and stock.
//
// Every transition is a conditional update on the order's current status, so
// a redelivered or concurrently delivered event finds nothing to do.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-pos-payments/internal/kafka"
	"github.com/ariefcatur/go-pos-payments/internal/metrics"
	"github.com/ariefcatur/go-pos-payments/internal/orders"
	"github.com/ariefcatur/go-pos-payments/internal/payments"
	"github.com/ariefcatur/go-pos-payments/internal/redisx"
)

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeNoop    Outcome = "noop"
	OutcomeIgnored Outcome = "ignored"
	OutcomeFailed  Outcome = "failed"
)

// Store is the part of the order store the engine needs.
type Store interface {
	GetByRef(ctx context.Context, ref orders.Ref) (orders.Order, error)
	Settle(ctx context.Context, ref orders.Ref, s orders.Settlement) (orders.SettleResult, error)
	ExpirePending(ctx context.Context, ref orders.Ref) (orders.Order, bool, error)
	MarkRefunded(ctx context.Context, paymentID string, rf orders.Refund) (orders.Order, bool, error)
}

type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

type handlerFunc func(ctx context.Context, ev payments.Event) (Outcome, error)

type Engine struct {
	store    Store
	gateway  payments.Gateway
	bus      Publisher     // optional
	cache    redis.Cmdable // optional
	log      *zap.Logger
	producer string
	now      func() time.Time
	handlers map[payments.EventKind]handlerFunc
}

type Option func(*Engine)

func WithPublisher(p Publisher, producer string) Option {
	return func(e *Engine) { e.bus, e.producer = p, producer }
}

func WithCache(c redis.Cmdable) Option { return func(e *Engine) { e.cache = c } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(store Store, gw payments.Gateway, zl *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		gateway: gw,
		log:     zl,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	e.handlers = map[payments.EventKind]handlerFunc{
		payments.KindCheckoutCompleted:      e.settleCheckout,
		payments.KindCheckoutAsyncSucceeded: e.settleCheckout,
		payments.KindCheckoutExpired:        e.expireCheckout,
		payments.KindCheckoutAsyncFailed:    e.expireCheckout,
		payments.KindPaymentIntentSucceeded: e.settleIntent,
		payments.KindPaymentIntentFailed:    e.intentFailed,
		payments.KindChargeRefunded:         e.refundCharge,
	}
	return e
}

// Handle runs one event. An error means the provider should redeliver.
func (e *Engine) Handle(ctx context.Context, ev payments.Event) (Outcome, error) {
	h, ok := e.handlers[ev.Kind]
	if !ok {
		e.record(ev, OutcomeIgnored)
		return OutcomeIgnored, nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, "reconcile", ev.ID)
	if e.cache != nil {
		if seen, _ := redisx.Exists(ctx, e.cache, dkey); seen {
			e.record(ev, OutcomeNoop)
			return OutcomeNoop, nil
		}
	}

	out, err := h(ctx, ev)
	if errors.Is(err, payments.ErrGatewayRejected) {
		// a permanent provider answer; redelivery would fail the same way
		e.log.Warn("provider rejected event lookup",
			zap.String("event_id", ev.ID),
			zap.String("type", ev.Type),
			zap.Error(err))
		out, err = OutcomeIgnored, nil
	}
	if err != nil {
		e.record(ev, OutcomeFailed)
		e.log.Error("event handling failed",
			zap.String("event_id", ev.ID),
			zap.String("type", ev.Type),
			zap.Error(err))
		return OutcomeFailed, err
	}

	// marked only after success; a failed attempt must stay retryable
	if e.cache != nil {
		if err := e.cache.Set(ctx, dkey, "1", redisx.TTLDedup).Err(); err != nil {
			e.log.Warn("dedup mark failed", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}
	e.record(ev, out)
	return out, nil
}

func (e *Engine) record(ev payments.Event, out Outcome) {
	metrics.WebhookEvents.WithLabelValues(string(ev.Kind), string(out)).Inc()
}

// lookup loads the order an event refers to and checks that the event came
// from the account the order was opened on.
func (e *Engine) lookup(ctx context.Context, ev payments.Event, ref orders.Ref) (orders.Order, Outcome, error) {
	o, err := e.store.GetByRef(ctx, ref)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			e.log.Warn("event for unknown order",
				zap.String("event_id", ev.ID),
				zap.String("type", ev.Type),
				zap.Stringer("ref", ref))
			return orders.Order{}, OutcomeIgnored, nil
		}
		return orders.Order{}, OutcomeFailed, fmt.Errorf("load order %s: %w", ref, err)
	}
	if ev.Account != o.ConnectedAccount {
		e.log.Warn("event account does not match order",
			zap.String("event_id", ev.ID),
			zap.String("event_account", ev.Account),
			zap.String("order_account", o.ConnectedAccount),
			zap.String("order_id", o.ID))
		return orders.Order{}, OutcomeIgnored, nil
	}
	return o, "", nil
}

func (e *Engine) settleCheckout(ctx context.Context, ev payments.Event) (Outcome, error) {
	ref := orders.BySession(ev.Checkout.SessionID)
	o, out, err := e.lookup(ctx, ev, ref)
	if out != "" {
		return out, err
	}
	if !orders.CanTransition(o.Status, orders.StatusSettled) {
		return OutcomeNoop, nil
	}

	pc, err := e.gateway.CheckoutContext(ctx, ev.Checkout.SessionID, o.ConnectedAccount)
	if err != nil {
		return OutcomeFailed, err
	}
	if !pc.Paid {
		// delayed methods settle on async_payment_succeeded
		e.log.Info("checkout completed without payment",
			zap.String("session_id", pc.SessionID),
			zap.String("order_id", o.ID))
		return OutcomeNoop, nil
	}

	confirmed := make([]orders.LineItem, 0, len(pc.LineItems))
	for _, li := range pc.LineItems {
		confirmed = append(confirmed, orders.LineItem{
			ProductID:      li.ProductID,
			Name:           li.Name,
			UnitPriceCents: li.UnitAmount,
			Qty:            li.Quantity,
		})
	}
	return e.settle(ctx, ev, ref, orders.Settlement{
		PaymentID:     pc.PaymentIntentID,
		PaymentMethod: pc.PaymentMethod,
		ReceiptURL:    pc.ReceiptURL,
		SettledAt:     e.now(),
		Items:         orders.MergeItems(o.Items, confirmed),
	})
}

// settleIntent settles a card-present payment. A payment intent carries no
// line items, so the server-priced lines stored at checkout stand.
func (e *Engine) settleIntent(ctx context.Context, ev payments.Event) (Outcome, error) {
	ref := orders.ByPayment(ev.PaymentIntent.ID)
	o, out, err := e.lookup(ctx, ev, ref)
	if out != "" {
		return out, err
	}
	if !orders.CanTransition(o.Status, orders.StatusSettled) {
		return OutcomeNoop, nil
	}

	pc, err := e.gateway.PaymentIntentContext(ctx, ev.PaymentIntent.ID, o.ConnectedAccount)
	if err != nil {
		return OutcomeFailed, err
	}
	if !pc.Paid {
		return OutcomeNoop, nil
	}
	if _, cents := orders.Totals(o.Items); cents != pc.AmountTotal {
		e.log.Warn("payment amount differs from order total",
			zap.String("order_id", o.ID),
			zap.Int64("order_cents", cents),
			zap.Int64("received_cents", pc.AmountTotal))
	}
	return e.settle(ctx, ev, ref, orders.Settlement{
		PaymentID:     pc.PaymentIntentID,
		PaymentMethod: pc.PaymentMethod,
		ReceiptURL:    pc.ReceiptURL,
		SettledAt:     e.now(),
		Items:         o.Items,
	})
}

func (e *Engine) settle(ctx context.Context, ev payments.Event, ref orders.Ref, s orders.Settlement) (Outcome, error) {
	res, err := e.store.Settle(ctx, ref, s)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("settle %s: %w", ref, err)
	}
	if !res.Applied {
		return OutcomeNoop, nil
	}
	for _, st := range res.Stock {
		switch {
		case st.Missing:
			metrics.StockDecrements.WithLabelValues("missing").Inc()
			e.log.Warn("settled line references unknown product",
				zap.String("order_id", res.Order.ID),
				zap.String("product_id", st.ProductID),
				zap.Int("qty", st.Qty))
		case st.Replayed:
			metrics.StockDecrements.WithLabelValues("replayed").Inc()
		default:
			metrics.StockDecrements.WithLabelValues("applied").Inc()
		}
	}
	e.log.Info("order settled",
		zap.String("event_id", ev.ID),
		zap.String("order_id", res.Order.ID),
		zap.String("transaction_id", res.Order.TransactionID()),
		zap.Int64("total_cents", res.Order.TotalCents))
	e.after(ctx, orders.EventOrderSettled, res.Order, ev.ID)
	return OutcomeApplied, nil
}

func (e *Engine) expireCheckout(ctx context.Context, ev payments.Event) (Outcome, error) {
	ref := orders.BySession(ev.Checkout.SessionID)
	o, out, err := e.lookup(ctx, ev, ref)
	if out != "" {
		return out, err
	}
	if !orders.CanTransition(o.Status, orders.StatusExpired) {
		return OutcomeNoop, nil
	}
	gone, removed, err := e.store.ExpirePending(ctx, ref)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("expire %s: %w", ref, err)
	}
	if !removed {
		return OutcomeNoop, nil
	}
	e.log.Info("pending order expired", zap.String("event_id", ev.ID), zap.String("order_id", gone.ID))
	e.after(ctx, orders.EventOrderExpired, gone, ev.ID)
	return OutcomeApplied, nil
}

func (e *Engine) intentFailed(_ context.Context, ev payments.Event) (Outcome, error) {
	e.log.Info("payment intent failed",
		zap.String("event_id", ev.ID),
		zap.String("payment_id", ev.PaymentIntent.ID),
		zap.String("reason", ev.PaymentIntent.FailureMessage))
	return OutcomeNoop, nil
}

// refundCharge marks a settled order refunded once its charge is fully
// refunded. Stock is not restored.
func (e *Engine) refundCharge(ctx context.Context, ev payments.Event) (Outcome, error) {
	ch := ev.Charge
	if ch.PaymentIntentID == "" {
		return OutcomeIgnored, nil
	}
	if !ch.Refunded {
		e.log.Info("partial refund left order unchanged",
			zap.String("payment_id", ch.PaymentIntentID),
			zap.Int64("amount_refunded", ch.AmountRefunded))
		return OutcomeNoop, nil
	}
	ref := orders.ByPayment(ch.PaymentIntentID)
	o, out, err := e.lookup(ctx, ev, ref)
	if out != "" {
		return out, err
	}
	if !orders.CanTransition(o.Status, orders.StatusRefunded) {
		return OutcomeNoop, nil
	}

	refundID := ch.RefundID
	if refundID == "" {
		refundID = ch.ID
	}
	updated, applied, err := e.store.MarkRefunded(ctx, ch.PaymentIntentID, orders.Refund{
		RefundID:   refundID,
		RefundedAt: e.now(),
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("refund %s: %w", ref, err)
	}
	if !applied {
		return OutcomeNoop, nil
	}
	e.log.Info("order refunded", zap.String("event_id", ev.ID), zap.String("order_id", updated.ID))
	e.after(ctx, orders.EventOrderRefunded, updated, ev.ID)
	return OutcomeApplied, nil
}

// after publishes the lifecycle event and refreshes the status cache. Both
// are best-effort: the transition is already committed.
func (e *Engine) after(ctx context.Context, eventType string, o orders.Order, correlationID string) {
	now := e.now()
	payload := orders.PayloadOf(o, now)

	if e.bus != nil {
		env := orders.Envelope{
			EventID:       uuid.NewString(),
			EventType:     eventType,
			EventVersion:  1,
			OccurredAt:    now,
			Producer:      e.producer,
			CorrelationID: correlationID,
			Payload:       kafkax.MustMarshal(payload),
		}
		e.bus.Publish(orders.TopicFor(eventType), orders.PartitionKey(o.TenantID, o.DeviceID), kafkax.MustMarshal(env),
			kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
			kafkago.Header{Key: "x-event-version", Value: []byte("1")},
		)
	}

	if e.cache != nil {
		b, _ := json.Marshal(payload)
		key := fmt.Sprintf(redisx.KeyTxStatus, o.TransactionID())
		if err := e.cache.Set(ctx, key, b, redisx.TTLStatusCache).Err(); err != nil {
			e.log.Warn("status cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
}
