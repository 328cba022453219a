package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-pos-payments/internal/payments"
	"github.com/ariefcatur/go-pos-payments/internal/reconcile"
)

type verifierFunc func(payload []byte, sig, secret string) (payments.Event, error)

func (f verifierFunc) VerifyEvent(payload []byte, sig, secret string) (payments.Event, error) {
	return f(payload, sig, secret)
}

type recordingEngine struct {
	events []payments.Event
	err    error
}

func (e *recordingEngine) Handle(_ context.Context, ev payments.Event) (reconcile.Outcome, error) {
	e.events = append(e.events, ev)
	if e.err != nil {
		return reconcile.OutcomeFailed, e.err
	}
	return reconcile.OutcomeApplied, nil
}

type recordingSubs struct{ got []payments.SubscriptionEvent }

func (s *recordingSubs) Apply(_ context.Context, ev payments.SubscriptionEvent) error {
	s.got = append(s.got, ev)
	return nil
}

const (
	txSecret  = "whsec_tx"
	subSecret = "whsec_sub"
)

func newWebhookServer(t *testing.T, engine *recordingEngine, subs *recordingSubs) http.Handler {
	t.Helper()
	zl := zaptest.NewLogger(t)
	r := NewRouter(zl)
	(&WebhookHandler{
		Verifier:           verifierFunc(payments.Verify),
		Engine:             engine,
		Subscriptions:      subs,
		TransactionSecret:  txSecret,
		SubscriptionSecret: subSecret,
		Log:                zl,
	}).Register(r)
	return r
}

func post(t *testing.T, h http.Handler, path, body, secret string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if secret != "" {
		sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: []byte(body), Secret: secret})
		req.Header.Set("Stripe-Signature", sp.Header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const completedBody = `{"id":"evt_1","type":"checkout.session.completed","account":"acct_1",
	"data":{"object":{"id":"sess_123","object":"checkout.session"}}}`

func TestTransactionWebhookAccepted(t *testing.T) {
	engine := &recordingEngine{}
	h := newWebhookServer(t, engine, &recordingSubs{})

	rec := post(t, h, "/webhooks/transaction", completedBody, txSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	require.Len(t, engine.events, 1)
	assert.Equal(t, "sess_123", engine.events[0].Checkout.SessionID)
}

func TestTransactionWebhookBadSignatureTouchesNothing(t *testing.T) {
	engine := &recordingEngine{}
	h := newWebhookServer(t, engine, &recordingSubs{})

	assert.Equal(t, http.StatusBadRequest, post(t, h, "/webhooks/transaction", completedBody, "").Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/webhooks/transaction", completedBody, subSecret).Code)
	assert.Empty(t, engine.events)
}

func TestTransactionWebhookMalformed(t *testing.T) {
	engine := &recordingEngine{}
	h := newWebhookServer(t, engine, &recordingSubs{})

	body := `{"id":"evt_2","type":"checkout.session.expired","data":{"object":{"object":"checkout.session"}}}`
	rec := post(t, h, "/webhooks/transaction", body, txSecret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "malformed")
	assert.Empty(t, engine.events)
}

func TestTransactionWebhookProcessingFailure(t *testing.T) {
	engine := &recordingEngine{err: errors.New("db down")}
	h := newWebhookServer(t, engine, &recordingSubs{})

	rec := post(t, h, "/webhooks/transaction", completedBody, txSecret)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSubscriptionWebhook(t *testing.T) {
	subs := &recordingSubs{}
	h := newWebhookServer(t, &recordingEngine{}, subs)

	body := `{"id":"evt_s","type":"customer.subscription.updated",
		"data":{"object":{"id":"sub_1","object":"subscription","status":"active","customer":"cus_1",
		"current_period_end":1700000000,"metadata":{"company_id":"t1","plan":"Pro"}}}}`
	rec := post(t, h, "/webhooks/subscription", body, subSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, subs.got, 1)
	assert.Equal(t, "t1", subs.got[0].Metadata["company_id"])

	rec = post(t, h, "/webhooks/subscription", completedBody, subSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, subs.got, 1)
}
