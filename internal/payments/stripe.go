package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

// StripeGateway talks to Stripe on behalf of connected accounts.
type StripeGateway struct {
	api *client.API
	log *zap.Logger
}

func NewStripeGateway(secretKey string, zl *zap.Logger) *StripeGateway {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeGateway{api: sc, log: zl}
}

func (g *StripeGateway) VerifyEvent(payload []byte, sigHeader, secret string) (Event, error) {
	return Verify(payload, sigHeader, secret)
}

// CheckoutContext reads a checkout session, its payment intent and its line
// items from the connected account.
func (g *StripeGateway) CheckoutContext(ctx context.Context, sessionID, account string) (PaymentContext, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.SetStripeAccount(account)
	params.AddExpand("payment_intent.payment_method")
	params.AddExpand("payment_intent.latest_charge")

	s, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return PaymentContext{}, gatewayErr("retrieve checkout session", err)
	}

	pc := PaymentContext{
		SessionID:   s.ID,
		Paid:        s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal: s.AmountTotal,
		Currency:    string(s.Currency),
		Created:     time.Unix(s.Created, 0).UTC(),
	}
	if s.PaymentIntent != nil {
		pc.PaymentIntentID = s.PaymentIntent.ID
		pc.PaymentMethod, pc.ReceiptURL = intentDetails(s.PaymentIntent)
	}

	lp := &stripe.CheckoutSessionListLineItemsParams{Session: stripe.String(sessionID)}
	lp.Context = ctx
	lp.SetStripeAccount(account)
	lp.AddExpand("data.price.product")
	it := g.api.CheckoutSessions.ListLineItems(lp)
	for it.Next() {
		pc.LineItems = append(pc.LineItems, lineItemFrom(it.LineItem()))
	}
	if err := it.Err(); err != nil {
		return PaymentContext{}, gatewayErr("list checkout line items", err)
	}
	return pc, nil
}

// PaymentIntentContext reads a card-present payment. Line items are not part
// of a payment intent; callers keep the provisional lines.
func (g *StripeGateway) PaymentIntentContext(ctx context.Context, paymentIntentID, account string) (PaymentContext, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.SetStripeAccount(account)
	params.AddExpand("payment_method")
	params.AddExpand("latest_charge")

	pi, err := g.api.PaymentIntents.Get(paymentIntentID, params)
	if err != nil {
		return PaymentContext{}, gatewayErr("retrieve payment intent", err)
	}
	pc := PaymentContext{
		PaymentIntentID: pi.ID,
		Paid:            pi.Status == stripe.PaymentIntentStatusSucceeded,
		AmountTotal:     pi.AmountReceived,
		Currency:        string(pi.Currency),
		Created:         time.Unix(pi.Created, 0).UTC(),
	}
	pc.PaymentMethod, pc.ReceiptURL = intentDetails(pi)
	return pc, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	for _, l := range req.Lines {
		pd := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name:     stripe.String(l.Name),
			Metadata: map[string]string{"product_id": l.ProductID},
		}
		if l.Description != "" {
			pd.Description = stripe.String(l.Description)
		}
		if l.ImageURL != "" {
			pd.Images = stripe.StringSlice([]string{l.ImageURL})
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(req.Currency),
				UnitAmount:  stripe.Int64(l.UnitAmount),
				ProductData: pd,
			},
			Quantity: stripe.Int64(int64(l.Quantity)),
		})
	}
	params.AddMetadata("companyId", req.TenantID)
	params.AddMetadata("deviceId", req.DeviceID)
	params.Context = ctx
	params.SetStripeAccount(req.Account)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, gatewayErr("create checkout session", err)
	}
	return Session{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (Session, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(req.Currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"card_present"}),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodAutomatic)),
	}
	params.AddMetadata("companyId", req.TenantID)
	params.AddMetadata("deviceId", req.DeviceID)
	params.Context = ctx
	params.SetStripeAccount(req.Account)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return Session{}, gatewayErr("create payment intent", err)
	}
	return Session{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (g *StripeGateway) Refund(ctx context.Context, paymentIntentID string, amount int64, account string) (RefundResult, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentID)}
	if amount > 0 {
		params.Amount = stripe.Int64(amount)
	}
	params.Context = ctx
	params.SetStripeAccount(account)

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return RefundResult{}, gatewayErr("create refund", err)
	}
	g.log.Info("refund created",
		zap.String("payment_id", paymentIntentID),
		zap.String("refund_id", r.ID),
		zap.String("account", account))
	return RefundResult{ID: r.ID, Amount: r.Amount, Status: string(r.Status)}, nil
}

// ConnectionToken lets a Terminal reader on a device connect on behalf of the
// connected account before it collects a card-present intent.
func (g *StripeGateway) ConnectionToken(ctx context.Context, account string) (string, error) {
	params := &stripe.TerminalConnectionTokenParams{}
	params.Context = ctx
	params.SetStripeAccount(account)

	t, err := g.api.TerminalConnectionTokens.New(params)
	if err != nil {
		return "", gatewayErr("create terminal connection token", err)
	}
	return t.Secret, nil
}

func intentDetails(pi *stripe.PaymentIntent) (method, receiptURL string) {
	switch {
	case pi.PaymentMethod != nil && pi.PaymentMethod.Type != "":
		method = string(pi.PaymentMethod.Type)
	case len(pi.PaymentMethodTypes) > 0:
		method = pi.PaymentMethodTypes[0]
	}
	if pi.LatestCharge != nil {
		receiptURL = pi.LatestCharge.ReceiptURL
	}
	return method, receiptURL
}

func lineItemFrom(li *stripe.LineItem) LineItem {
	out := LineItem{
		Name:        li.Description,
		Quantity:    int(li.Quantity),
		AmountTotal: li.AmountTotal,
	}
	if p := li.Price; p != nil {
		out.UnitAmount = p.UnitAmount
		if p.Product != nil {
			out.ProductID = p.Product.Metadata["product_id"]
			if out.Name == "" {
				out.Name = p.Product.Name
			}
		}
		if out.ProductID == "" {
			out.ProductID = p.Metadata["product_id"]
		}
	}
	if out.UnitAmount == 0 && out.Quantity > 0 {
		out.UnitAmount = li.AmountTotal / int64(out.Quantity)
	}
	return out
}

func gatewayErr(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch code := se.HTTPStatusCode; {
		case code == http.StatusForbidden:
			return fmt.Errorf("%s: %w: %w", op, ErrGatewayForbidden, err)
		case code >= 400 && code < 500 && code != http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w: %w", op, ErrGatewayRejected, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrGatewayUnavailable, err)
}
