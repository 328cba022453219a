// Package checkout opens QR and NFC payments for devices and serves the
// transaction views they poll.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-payments/internal/inventory"
	kafkax "github.com/ariefcatur/go-pos-payments/internal/kafka"
	"github.com/ariefcatur/go-pos-payments/internal/metrics"
	"github.com/ariefcatur/go-pos-payments/internal/orders"
	"github.com/ariefcatur/go-pos-payments/internal/payments"
	"github.com/ariefcatur/go-pos-payments/internal/redisx"
)

var ErrValidation = errors.New("invalid request")

type Store interface {
	CreatePending(ctx context.Context, o orders.Order) (orders.Order, error)
	ConnectedAccount(ctx context.Context, tenantID string) (orders.ConnectedAccount, error)
	GetByTransactionID(ctx context.Context, tenantID, transactionID string) (orders.Order, error)
	MarkRefunded(ctx context.Context, paymentID string, rf orders.Refund) (orders.Order, bool, error)
	List(ctx context.Context, tenantID string, f orders.ListFilter) ([]orders.Order, error)
	Count(ctx context.Context, tenantID string) (int, error)
	Latest(ctx context.Context, tenantID, deviceID string) (orders.Order, error)
}

type Catalog interface {
	Products(ctx context.Context, tenantID string, ids []string) (map[string]inventory.Product, error)
}

type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Orders     Store
	Catalog    Catalog
	Gateway    payments.Gateway
	Cache      redis.Cmdable // optional
	Bus        Publisher     // optional
	Log        *zap.Logger
	SuccessURL string
	CancelURL  string
	Producer   string
	Now        func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

type CartLine struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"quantity"`
}

type Request struct {
	TenantID       string     `json:"-"`
	DeviceID       string     `json:"device_id"`
	Currency       string     `json:"currency"`
	Lines          []CartLine `json:"items"`
	IdempotencyKey string     `json:"-"`
}

func (r Request) validate() error {
	if r.TenantID == "" || r.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrValidation)
	}
	if len(r.Lines) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrValidation)
	}
	for _, l := range r.Lines {
		if l.ProductID == "" || l.Qty <= 0 {
			return fmt.Errorf("%w: every item needs a product_id and a positive quantity", ErrValidation)
		}
	}
	return nil
}

// Started is returned to the device once a payment is open.
type Started struct {
	TransactionID string          `json:"transactionId"`
	SessionURL    string          `json:"sessionUrl,omitempty"`
	ClientSecret  string          `json:"clientSecret,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Idempotent    bool            `json:"idempotent"`
}

// Money converts minor units to a major-unit decimal.
func Money(cents int64) decimal.Decimal { return decimal.New(cents, -2) }

// price builds line items from the catalog. Client input contributes ids and
// quantities only.
func (s *Service) price(ctx context.Context, tenantID string, lines []CartLine) ([]orders.LineItem, error) {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	catalog, err := s.Catalog.Products(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	items := make([]orders.LineItem, 0, len(lines))
	for _, l := range lines {
		p, ok := catalog[l.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", inventory.ErrProductNotFound, l.ProductID)
		}
		if !p.Selling {
			return nil, fmt.Errorf("%w: product %s is not for sale", ErrValidation, p.ID)
		}
		it := orders.LineItem{
			ProductID:      p.ID,
			SectionID:      p.SectionID,
			Name:           p.Name,
			ImageURL:       p.ImageURL,
			UnitPriceCents: p.SalePrice(),
			WasInBonus:     p.InBonus,
			Qty:            l.Qty,
		}
		if p.InBonus {
			it.BonusPriceCents = it.UnitPriceCents
		}
		items = append(items, it)
	}
	return items, nil
}

func (s *Service) replay(ctx context.Context, req Request) (Started, bool) {
	if s.Cache == nil || req.IdempotencyKey == "" {
		return Started{}, false
	}
	key := fmt.Sprintf(redisx.KeyIdemCheckout, req.TenantID, req.IdempotencyKey)
	raw, ok, err := redisx.GetString(ctx, s.Cache, key)
	if err != nil || !ok {
		return Started{}, false
	}
	var st Started
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return Started{}, false
	}
	st.Idempotent = true
	return st, true
}

func (s *Service) remember(ctx context.Context, req Request, st Started) {
	if s.Cache == nil || req.IdempotencyKey == "" {
		return
	}
	key := fmt.Sprintf(redisx.KeyIdemCheckout, req.TenantID, req.IdempotencyKey)
	if err := s.Cache.Set(ctx, key, kafkax.MustMarshal(st), redisx.TTLIdempotency).Err(); err != nil {
		s.Log.Warn("idempotency write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) prepare(ctx context.Context, req Request) (orders.ConnectedAccount, []orders.LineItem, string, error) {
	if err := req.validate(); err != nil {
		return orders.ConnectedAccount{}, nil, "", err
	}
	acct, err := s.Orders.ConnectedAccount(ctx, req.TenantID)
	if err != nil {
		return orders.ConnectedAccount{}, nil, "", err
	}
	items, err := s.price(ctx, req.TenantID, req.Lines)
	if err != nil {
		return orders.ConnectedAccount{}, nil, "", err
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = acct.Currency
	}
	return acct, items, currency, nil
}

// StartQR opens a hosted checkout session on the tenant's account and stores
// the provisional order under its session id.
func (s *Service) StartQR(ctx context.Context, req Request) (Started, error) {
	if st, ok := s.replay(ctx, req); ok {
		return st, nil
	}
	acct, items, currency, err := s.prepare(ctx, req)
	if err != nil {
		return Started{}, err
	}

	lines := make([]payments.CheckoutLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, payments.CheckoutLine{
			ProductID:  it.ProductID,
			Name:       it.Name,
			ImageURL:   it.ImageURL,
			UnitAmount: it.UnitPriceCents,
			Quantity:   it.Qty,
		})
	}
	sess, err := s.Gateway.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		Account:        acct.AccountID,
		Currency:       currency,
		TenantID:       req.TenantID,
		DeviceID:       req.DeviceID,
		SuccessURL:     s.SuccessURL,
		CancelURL:      s.CancelURL,
		IdempotencyKey: req.IdempotencyKey,
		Lines:          lines,
	})
	if err != nil {
		return Started{}, err
	}

	o, err := s.Orders.CreatePending(ctx, orders.Order{
		TenantID:         req.TenantID,
		DeviceID:         req.DeviceID,
		SessionID:        sess.ID,
		ConnectedAccount: acct.AccountID,
		Channel:          orders.ChannelQR,
		Currency:         currency,
		Items:            items,
	})
	if err != nil {
		return Started{}, fmt.Errorf("store pending order for %s: %w", sess.ID, err)
	}

	st := Started{
		TransactionID: sess.ID,
		SessionURL:    sess.URL,
		Amount:        Money(o.TotalCents),
		Currency:      currency,
	}
	s.opened(ctx, req, o, st)
	return st, nil
}

// StartNFC creates a card-present payment intent for a tap-to-pay reader.
func (s *Service) StartNFC(ctx context.Context, req Request) (Started, error) {
	if st, ok := s.replay(ctx, req); ok {
		return st, nil
	}
	acct, items, currency, err := s.prepare(ctx, req)
	if err != nil {
		return Started{}, err
	}
	_, cents := orders.Totals(items)

	pi, err := s.Gateway.CreatePaymentIntent(ctx, payments.PaymentIntentRequest{
		Account:        acct.AccountID,
		Currency:       currency,
		TenantID:       req.TenantID,
		DeviceID:       req.DeviceID,
		Amount:         cents,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return Started{}, err
	}

	o, err := s.Orders.CreatePending(ctx, orders.Order{
		TenantID:         req.TenantID,
		DeviceID:         req.DeviceID,
		PaymentID:        pi.ID,
		ConnectedAccount: acct.AccountID,
		Channel:          orders.ChannelNFC,
		Currency:         currency,
		Items:            items,
	})
	if err != nil {
		return Started{}, fmt.Errorf("store pending order for %s: %w", pi.ID, err)
	}

	st := Started{
		TransactionID: pi.ID,
		ClientSecret:  pi.ClientSecret,
		Amount:        Money(o.TotalCents),
		Currency:      currency,
	}
	s.opened(ctx, req, o, st)
	return st, nil
}

// ConnectionToken hands a Terminal connection token for the tenant's account
// to the device's reader.
func (s *Service) ConnectionToken(ctx context.Context, tenantID string) (string, error) {
	acct, err := s.Orders.ConnectedAccount(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return s.Gateway.ConnectionToken(ctx, acct.AccountID)
}

func (s *Service) opened(ctx context.Context, req Request, o orders.Order, st Started) {
	metrics.CheckoutSessions.WithLabelValues(string(o.Channel)).Inc()
	s.remember(ctx, req, st)
	s.publish(orders.EventOrderCreated, o, req.IdempotencyKey)
	s.Log.Info("checkout opened",
		zap.String("tenant_id", o.TenantID),
		zap.String("device_id", o.DeviceID),
		zap.String("transaction_id", o.TransactionID()),
		zap.String("channel", string(o.Channel)),
		zap.Int64("total_cents", o.TotalCents))
}

func (s *Service) publish(eventType string, o orders.Order, correlationID string) {
	if s.Bus == nil {
		return
	}
	now := s.now()
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    now,
		Producer:      s.Producer,
		CorrelationID: correlationID,
		Payload:       kafkax.MustMarshal(orders.PayloadOf(o, now)),
	}
	s.Bus.Publish(orders.TopicFor(eventType), orders.PartitionKey(o.TenantID, o.DeviceID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

type RefundView struct {
	Message  string          `json:"message"`
	RefundID string          `json:"refundId"`
	Amount   decimal.Decimal `json:"amount"`
	Status   string          `json:"status"`
}

// Refund returns the full amount of a settled transaction to the customer.
// The order is marked here; the later charge.refunded webhook finds it done.
func (s *Service) Refund(ctx context.Context, tenantID, transactionID string) (RefundView, error) {
	o, err := s.Orders.GetByTransactionID(ctx, tenantID, transactionID)
	if err != nil {
		return RefundView{}, err
	}
	switch {
	case o.Status == orders.StatusRefunded:
		return RefundView{}, orders.ErrAlreadyRefunded
	case o.Status != orders.StatusSettled || o.PaymentID == "":
		return RefundView{}, orders.ErrNotSettled
	}

	rf, err := s.Gateway.Refund(ctx, o.PaymentID, o.TotalCents, o.ConnectedAccount)
	if err != nil {
		return RefundView{}, err
	}
	updated, applied, err := s.Orders.MarkRefunded(ctx, o.PaymentID, orders.Refund{RefundID: rf.ID, RefundedAt: s.now()})
	if err != nil {
		return RefundView{}, fmt.Errorf("mark %s refunded: %w", o.PaymentID, err)
	}
	if applied {
		s.publish(orders.EventOrderRefunded, updated, rf.ID)
	}
	return RefundView{
		Message:  "Refund processed successfully",
		RefundID: rf.ID,
		Amount:   Money(rf.Amount),
		Status:   rf.Status,
	}, nil
}

// Receipt returns the provider receipt of a settled transaction.
func (s *Service) Receipt(ctx context.Context, tenantID, transactionID string) (string, error) {
	o, err := s.Orders.GetByTransactionID(ctx, tenantID, transactionID)
	if err != nil {
		return "", err
	}
	if !o.Status.Terminal() || o.ReceiptURL == "" {
		return "", orders.ErrNotSettled
	}
	return o.ReceiptURL, nil
}

type ItemView struct {
	ProductID  string          `json:"productId"`
	SectionID  string          `json:"sectionId,omitempty"`
	Name       string          `json:"name"`
	ImageURL   string          `json:"imageUrl,omitempty"`
	Price      decimal.Decimal `json:"priceBought"`
	WasInBonus bool            `json:"wasInBonus"`
	Quantity   int             `json:"quantity"`
}

type TransactionView struct {
	TransactionID string          `json:"transactionId"`
	DeviceID      string          `json:"deviceId"`
	Status        orders.Status   `json:"status"`
	Channel       orders.Channel  `json:"channel,omitempty"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
	ReceiptURL    string          `json:"receiptUrl,omitempty"`
	TotalQuantity int             `json:"totalQuantity"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
	Date          time.Time       `json:"date"`
	Items         []ItemView      `json:"productsBought,omitempty"`
}

func viewOf(o orders.Order) TransactionView {
	v := TransactionView{
		TransactionID: o.TransactionID(),
		DeviceID:      o.DeviceID,
		Status:        o.Status,
		Channel:       o.Channel,
		PaymentMethod: o.PaymentMethod,
		ReceiptURL:    o.ReceiptURL,
		TotalQuantity: o.TotalQty,
		Amount:        Money(o.TotalCents),
		Currency:      o.Currency,
		Date:          o.CreatedAt,
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, ItemView{
			ProductID:  it.ProductID,
			SectionID:  it.SectionID,
			Name:       it.Name,
			ImageURL:   it.ImageURL,
			Price:      Money(it.UnitPriceCents),
			WasInBonus: it.WasInBonus,
			Quantity:   it.Qty,
		})
	}
	return v
}

func viewOfPayload(p orders.TransactionPayload) TransactionView {
	return TransactionView{
		TransactionID: p.TransactionID,
		DeviceID:      p.DeviceID,
		Status:        p.Status,
		Channel:       p.Channel,
		PaymentMethod: p.PaymentMethod,
		ReceiptURL:    p.ReceiptURL,
		TotalQuantity: p.TotalQty,
		Amount:        Money(p.TotalCents),
		Currency:      p.Currency,
		Date:          p.At,
	}
}

func (s *Service) Transaction(ctx context.Context, tenantID, transactionID string) (TransactionView, error) {
	o, err := s.Orders.GetByTransactionID(ctx, tenantID, transactionID)
	if err != nil {
		return TransactionView{}, err
	}
	return viewOf(o), nil
}

// Status reports where a transaction stands. The status cache written on every
// transition is read first, so expired checkouts whose rows are gone still
// answer. Entries of another tenant are ignored.
func (s *Service) Status(ctx context.Context, tenantID, transactionID string) (TransactionView, error) {
	if s.Cache != nil {
		key := fmt.Sprintf(redisx.KeyTxStatus, transactionID)
		if raw, ok, err := redisx.GetString(ctx, s.Cache, key); err == nil && ok {
			var p orders.TransactionPayload
			if err := json.Unmarshal([]byte(raw), &p); err == nil && p.TenantID == tenantID {
				return viewOfPayload(p), nil
			}
		}
	}
	return s.Transaction(ctx, tenantID, transactionID)
}

// Latest serves the device's newest transaction from the notifier projection
// when present, otherwise from the database.
func (s *Service) Latest(ctx context.Context, tenantID, deviceID string) (TransactionView, error) {
	if s.Cache != nil && deviceID != "" {
		key := fmt.Sprintf(redisx.KeyLatestTx, tenantID, deviceID)
		if raw, ok, err := redisx.GetString(ctx, s.Cache, key); err == nil && ok {
			var p orders.TransactionPayload
			if err := json.Unmarshal([]byte(raw), &p); err == nil {
				return viewOfPayload(p), nil
			}
		}
	}
	o, err := s.Orders.Latest(ctx, tenantID, deviceID)
	if err != nil {
		return TransactionView{}, err
	}
	return viewOf(o), nil
}

func (s *Service) List(ctx context.Context, tenantID string, page, limit int, todayOnly bool) ([]TransactionView, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	f := orders.ListFilter{Limit: limit, Offset: (page - 1) * limit}
	if todayOnly {
		now := s.now()
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		f.Since = &start
	}
	list, err := s.Orders.List(ctx, tenantID, f)
	if err != nil {
		return nil, err
	}
	out := make([]TransactionView, 0, len(list))
	for _, o := range list {
		out = append(out, viewOf(o))
	}
	return out, nil
}

func (s *Service) Count(ctx context.Context, tenantID string) (int, error) {
	return s.Orders.Count(ctx, tenantID)
}
