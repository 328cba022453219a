package payments

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testSecret = "whsec_test"

func signed(t *testing.T, body string) (payload []byte, header string) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(body),
		Secret:  testSecret,
	})
	return sp.Payload, sp.Header
}

func TestVerifyCheckoutCompleted(t *testing.T) {
	payload, header := signed(t, `{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"account": "acct_1",
		"created": 1700000000,
		"data": {"object": {"id": "sess_123", "object": "checkout.session",
			"payment_intent": "pi_123", "payment_status": "paid", "amount_total": 1500,
			"metadata": {"companyId": "t1", "deviceId": "dev-1"}}}
	}`)

	ev, err := Verify(payload, header, testSecret)
	require.NoError(t, err)
	require.Equal(t, KindCheckoutCompleted, ev.Kind)
	require.Equal(t, "acct_1", ev.Account)
	require.NotNil(t, ev.Checkout)
	require.Equal(t, "sess_123", ev.Checkout.SessionID)
	require.Equal(t, "pi_123", ev.Checkout.PaymentIntentID)
	require.Equal(t, "dev-1", ev.Checkout.Metadata["deviceId"])
	require.EqualValues(t, 1500, ev.Checkout.AmountTotal)
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	payload, header := signed(t, `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"sess_1"}}}`)

	_, err := Verify(payload, header, "whsec_other")
	require.ErrorIs(t, err, ErrSignatureInvalid)

	_, err = Verify(payload, "", testSecret)
	require.ErrorIs(t, err, ErrSignatureInvalid)

	_, err = Verify(payload, header, "")
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyMalformedObject(t *testing.T) {
	payload, header := signed(t, `{"id":"evt_2","type":"checkout.session.expired","data":{"object":{"object":"checkout.session"}}}`)

	_, err := Verify(payload, header, testSecret)
	require.ErrorIs(t, err, ErrMalformedEvent)
}

func TestVerifyUnhandledType(t *testing.T) {
	payload, header := signed(t, `{"id":"evt_3","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`)

	ev, err := Verify(payload, header, testSecret)
	require.NoError(t, err)
	require.Equal(t, KindUnhandled, ev.Kind)
	require.Nil(t, ev.Checkout)
}

func TestVerifyChargeRefunded(t *testing.T) {
	payload, header := signed(t, `{
		"id": "evt_4", "type": "charge.refunded", "account": "acct_1",
		"data": {"object": {"id": "ch_1", "object": "charge", "payment_intent": "pi_123",
			"amount": 1500, "amount_refunded": 1500, "refunded": true,
			"refunds": {"object": "list", "data": [{"id": "re_1", "object": "refund"}]}}}
	}`)

	ev, err := Verify(payload, header, testSecret)
	require.NoError(t, err)
	require.Equal(t, KindChargeRefunded, ev.Kind)
	require.Equal(t, &ChargeEvent{
		ID:              "ch_1",
		PaymentIntentID: "pi_123",
		Amount:          1500,
		AmountRefunded:  1500,
		Refunded:        true,
		RefundID:        "re_1",
	}, ev.Charge)
}

func TestVerifySubscriptionDeleted(t *testing.T) {
	payload, header := signed(t, `{
		"id": "evt_5", "type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_1", "object": "subscription", "customer": "cus_1",
			"status": "canceled", "current_period_end": 1700000000,
			"metadata": {"companyId": "t1", "plan": "basic"}}}
	}`)

	ev, err := Verify(payload, header, testSecret)
	require.NoError(t, err)
	require.Equal(t, KindSubscriptionChanged, ev.Kind)
	require.True(t, ev.Subscription.Deleted)
	require.Equal(t, "canceled", ev.Subscription.Status)
	require.Equal(t, "cus_1", ev.Subscription.CustomerID)
	require.Equal(t, int64(1700000000), ev.Subscription.CurrentPeriodEnd.Unix())
}

func TestKindOf(t *testing.T) {
	require.Equal(t, KindPaymentIntentSucceeded, KindOf("payment_intent.succeeded"))
	require.Equal(t, KindCheckoutAsyncFailed, KindOf("checkout.session.async_payment_failed"))
	require.Equal(t, KindUnhandled, KindOf("payout.paid"))
}
