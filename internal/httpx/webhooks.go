package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-payments/internal/payments"
	"github.com/ariefcatur/go-pos-payments/internal/reconcile"
)

const maxWebhookBody = 1 << 20

type Verifier interface {
	VerifyEvent(payload []byte, sigHeader, secret string) (payments.Event, error)
}

type Reconciler interface {
	Handle(ctx context.Context, ev payments.Event) (reconcile.Outcome, error)
}

type SubscriptionApplier interface {
	Apply(ctx context.Context, ev payments.SubscriptionEvent) error
}

// WebhookHandler authenticates provider deliveries and hands them on. The
// body is read raw: signatures cover the exact bytes sent.
type WebhookHandler struct {
	Verifier           Verifier
	Engine             Reconciler
	Subscriptions      SubscriptionApplier
	TransactionSecret  string
	SubscriptionSecret string
	Log                *zap.Logger
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/transaction", h.transaction)
	r.Post("/webhooks/subscription", h.subscription)
}

func (h *WebhookHandler) verify(w http.ResponseWriter, r *http.Request, secret string) (payments.Event, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return payments.Event{}, false
	}
	ev, err := h.Verifier.VerifyEvent(body, r.Header.Get("Stripe-Signature"), secret)
	if err != nil {
		h.Log.Warn("webhook rejected", zap.String("path", r.URL.Path), zap.Error(err))
		msg := "Webhook Error: invalid signature"
		if errors.Is(err, payments.ErrMalformedEvent) {
			msg = "Webhook Error: malformed event"
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return payments.Event{}, false
	}
	return ev, true
}

func (h *WebhookHandler) transaction(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.verify(w, r, h.TransactionSecret)
	if !ok {
		return
	}
	out, err := h.Engine.Handle(r.Context(), ev)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
		return
	}
	h.Log.Debug("transaction webhook",
		zap.String("event_id", ev.ID),
		zap.String("type", ev.Type),
		zap.String("outcome", string(out)))
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandler) subscription(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.verify(w, r, h.SubscriptionSecret)
	if !ok {
		return
	}
	if ev.Kind == payments.KindSubscriptionChanged {
		if err := h.Subscriptions.Apply(r.Context(), *ev.Subscription); err != nil {
			h.Log.Error("subscription update failed", zap.String("event_id", ev.ID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
