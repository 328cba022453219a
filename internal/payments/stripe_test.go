package payments

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

func TestLineItemFromProductMetadata(t *testing.T) {
	got := lineItemFrom(&stripe.LineItem{
		Description: "Cola",
		Quantity:    3,
		AmountTotal: 1500,
		Price: &stripe.Price{
			UnitAmount: 500,
			Product:    &stripe.Product{Name: "Cola", Metadata: map[string]string{"product_id": "prod_A"}},
		},
	})
	require.Equal(t, LineItem{ProductID: "prod_A", Name: "Cola", UnitAmount: 500, Quantity: 3, AmountTotal: 1500}, got)
}

func TestLineItemFromWithoutProduct(t *testing.T) {
	got := lineItemFrom(&stripe.LineItem{Description: "Service fee", Quantity: 2, AmountTotal: 60})
	require.Empty(t, got.ProductID)
	require.EqualValues(t, 30, got.UnitAmount)
}

func TestIntentDetails(t *testing.T) {
	method, receipt := intentDetails(&stripe.PaymentIntent{
		PaymentMethod: &stripe.PaymentMethod{Type: stripe.PaymentMethodTypeCard},
		LatestCharge:  &stripe.Charge{ReceiptURL: "https://pay.example/r/1"},
	})
	require.Equal(t, "card", method)
	require.Equal(t, "https://pay.example/r/1", receipt)

	method, receipt = intentDetails(&stripe.PaymentIntent{PaymentMethodTypes: []string{"card_present"}})
	require.Equal(t, "card_present", method)
	require.Empty(t, receipt)
}

func TestGatewayErrMapping(t *testing.T) {
	err := gatewayErr("retrieve", &stripe.Error{HTTPStatusCode: http.StatusForbidden, Msg: "no access"})
	require.ErrorIs(t, err, ErrGatewayForbidden)
	require.False(t, errors.Is(err, ErrGatewayUnavailable))

	err = gatewayErr("retrieve", &stripe.Error{HTTPStatusCode: http.StatusBadGateway})
	require.ErrorIs(t, err, ErrGatewayUnavailable)

	err = gatewayErr("retrieve", &stripe.Error{HTTPStatusCode: http.StatusNotFound, Code: stripe.ErrorCodeResourceMissing})
	require.ErrorIs(t, err, ErrGatewayRejected)
	require.False(t, errors.Is(err, ErrGatewayUnavailable))

	err = gatewayErr("retrieve", &stripe.Error{HTTPStatusCode: http.StatusBadRequest})
	require.ErrorIs(t, err, ErrGatewayRejected)

	err = gatewayErr("retrieve", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests})
	require.ErrorIs(t, err, ErrGatewayUnavailable)

	err = gatewayErr("retrieve", errors.New("dial tcp: timeout"))
	require.ErrorIs(t, err, ErrGatewayUnavailable)
}
