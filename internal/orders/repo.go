package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-pos-payments/internal/inventory"
	"github.com/ariefcatur/go-pos-payments/internal/postgres"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrDuplicateOrder   = errors.New("order already exists")
	ErrAlreadyRefunded  = errors.New("transaction has already been refunded")
	ErrNotSettled       = errors.New("transaction is not settled")
	ErrAccountNotFound  = errors.New("no connected account for tenant")
	ErrInvalidReference = errors.New("order reference must name a session or a payment")
)

type Repo struct {
	DB        postgres.DB
	Inventory *inventory.Repo
}

const orderColumns = `id::text, tenant_id, device_id, session_id, payment_id, connected_account, channel,
	currency, status, payment_method, receipt_url, total_qty, total_cents, refund_id,
	refunded_at, settled_at, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var channel, status string
	err := row.Scan(&o.ID, &o.TenantID, &o.DeviceID, &o.SessionID, &o.PaymentID, &o.ConnectedAccount,
		&channel, &o.Currency, &status, &o.PaymentMethod, &o.ReceiptURL, &o.TotalQty, &o.TotalCents,
		&o.RefundID, &o.RefundedAt, &o.SettledAt, &o.CreatedAt, &o.UpdatedAt)
	o.Channel = Channel(channel)
	o.Status = Status(status)
	return o, err
}

func refWhere(ref Ref, arg int) (string, any, error) {
	switch {
	case ref.SessionID != "":
		return fmt.Sprintf("session_id = $%d", arg), ref.SessionID, nil
	case ref.PaymentID != "":
		return fmt.Sprintf("payment_id = $%d", arg), ref.PaymentID, nil
	}
	return "", nil, ErrInvalidReference
}

// CreatePending stores a provisional order and its line items. Totals are
// computed from the items; nothing in them is trusted past settlement.
func (r *Repo) CreatePending(ctx context.Context, o Order) (Order, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Status = StatusPending
	o.TotalQty, o.TotalCents = Totals(o.Items)

	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, tenant_id, device_id, session_id, payment_id, connected_account,
		                   channel, currency, status, total_qty, total_cents)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending',$9,$10)
		RETURNING created_at, updated_at`,
		o.ID, o.TenantID, o.DeviceID, o.SessionID, o.PaymentID, o.ConnectedAccount,
		string(o.Channel), o.Currency, o.TotalQty, o.TotalCents,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return Order{}, ErrDuplicateOrder
		}
		return Order{}, err
	}
	if err := insertItems(ctx, tx, o.ID, o.Items); err != nil {
		return Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return o, nil
}

func insertItems(ctx context.Context, q postgres.Querier, orderID string, items []LineItem) error {
	for i, it := range items {
		if _, err := q.Exec(ctx, `
			INSERT INTO order_items(order_id, position, product_id, section_id, name, image_url,
			                        unit_price_cents, was_in_bonus, bonus_price_cents, qty)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			orderID, i, it.ProductID, it.SectionID, it.Name, it.ImageURL,
			it.UnitPriceCents, it.WasInBonus, it.BonusPriceCents, it.Qty,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) items(ctx context.Context, orderID string) ([]LineItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT product_id, section_id, name, image_url, unit_price_cents, was_in_bonus, bonus_price_cents, qty
		FROM order_items WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LineItem
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ProductID, &it.SectionID, &it.Name, &it.ImageURL,
			&it.UnitPriceCents, &it.WasInBonus, &it.BonusPriceCents, &it.Qty); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repo) GetByRef(ctx context.Context, ref Ref) (Order, error) {
	where, arg, err := refWhere(ref, 1)
	if err != nil {
		return Order{}, err
	}
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg)
}

// GetByTransactionID looks an order up within a tenant by payment or session id.
func (r *Repo) GetByTransactionID(ctx context.Context, tenantID, transactionID string) (Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE tenant_id = $1 AND (payment_id = $2 OR session_id = $2)
		LIMIT 1`, tenantID, transactionID)
}

func (r *Repo) getOne(ctx context.Context, sql string, args ...any) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}
	if o.Items, err = r.items(ctx, o.ID); err != nil {
		return Order{}, err
	}
	return o, nil
}

// Settle moves a pending order to settled and applies its stock effects in one
// transaction. Applied is false when the order was not pending any more, which
// is how duplicate and concurrent deliveries become no-ops.
func (r *Repo) Settle(ctx context.Context, ref Ref, s Settlement) (SettleResult, error) {
	where, arg, err := refWhere(ref, 7)
	if err != nil {
		return SettleResult{}, err
	}
	qty, cents := Totals(s.Items)

	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return SettleResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders SET status = 'settled', payment_id = CASE WHEN $1::text <> '' THEN $1::text ELSE payment_id END,
		       payment_method = $2, receipt_url = $3, settled_at = $4,
		       total_qty = $5, total_cents = $6, updated_at = now()
		WHERE `+where+` AND status = 'pending'
		RETURNING `+orderColumns,
		s.PaymentID, s.PaymentMethod, s.ReceiptURL, s.SettledAt, qty, cents, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return SettleResult{Applied: false}, nil
	}
	if err != nil {
		return SettleResult{}, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, o.ID); err != nil {
		return SettleResult{}, err
	}
	if err := insertItems(ctx, tx, o.ID, s.Items); err != nil {
		return SettleResult{}, err
	}
	o.Items = s.Items

	var effects []StockEffect
	for _, it := range stockLines(s.Items) {
		eff := StockEffect{ProductID: it.ProductID, Qty: it.Qty}
		fresh, err := r.Inventory.Claim(ctx, tx, o.ID, o.TenantID, it.ProductID, it.Qty)
		if err != nil {
			return SettleResult{}, err
		}
		if !fresh {
			eff.Replayed = true
			effects = append(effects, eff)
			continue
		}
		left, err := r.Inventory.Decrement(ctx, tx, o.TenantID, it.ProductID, it.Qty)
		switch {
		case errors.Is(err, inventory.ErrProductNotFound):
			eff.Missing = true
		case err != nil:
			return SettleResult{}, err
		default:
			eff.Remaining = left
		}
		effects = append(effects, eff)
	}

	if err := tx.Commit(ctx); err != nil {
		return SettleResult{}, err
	}
	return SettleResult{Order: o, Applied: true, Stock: effects}, nil
}

// ExpirePending deletes a still-pending order. Line items go with it.
func (r *Repo) ExpirePending(ctx context.Context, ref Ref) (Order, bool, error) {
	where, arg, err := refWhere(ref, 1)
	if err != nil {
		return Order{}, false, err
	}
	o, err := scanOrder(r.DB.QueryRow(ctx,
		`DELETE FROM orders WHERE `+where+` AND status = 'pending' RETURNING `+orderColumns, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, err
	}
	o.Status = StatusExpired
	return o, true, nil
}

// MarkRefunded moves a settled order to refunded. Stock is not restored.
func (r *Repo) MarkRefunded(ctx context.Context, paymentID string, rf Refund) (Order, bool, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders SET status = 'refunded', refund_id = $2, refunded_at = $3, updated_at = now()
		WHERE payment_id = $1 AND status = 'settled'
		RETURNING `+orderColumns, paymentID, rf.RefundID, rf.RefundedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, err
	}
	return o, true, nil
}

type ListFilter struct {
	Limit  int
	Offset int
	Since  *time.Time
}

func (r *Repo) List(ctx context.Context, tenantID string, f ListFilter) ([]Order, error) {
	if f.Limit <= 0 {
		f.Limit = 10
	}
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE tenant_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2)
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`, tenantID, f.Since, f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repo) Count(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}

// CountSettledSince counts transactions that reached settlement at or after since,
// including ones refunded later.
func (r *Repo) CountSettledSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE tenant_id = $1 AND status IN ('settled','refunded') AND settled_at >= $2`,
		tenantID, since).Scan(&n)
	return n, err
}

// Latest returns the newest order of a tenant, optionally narrowed to one device.
func (r *Repo) Latest(ctx context.Context, tenantID, deviceID string) (Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE tenant_id = $1 AND ($2::text = '' OR device_id = $2::text)
		ORDER BY created_at DESC LIMIT 1`, tenantID, deviceID)
}

type ConnectedAccount struct {
	TenantID  string
	AccountID string
	Country   string
	Currency  string
}

func (r *Repo) ConnectedAccount(ctx context.Context, tenantID string) (ConnectedAccount, error) {
	a := ConnectedAccount{TenantID: tenantID}
	err := r.DB.QueryRow(ctx, `
		SELECT account_id, country, currency FROM connected_accounts WHERE tenant_id = $1`,
		tenantID).Scan(&a.AccountID, &a.Country, &a.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConnectedAccount{}, ErrAccountNotFound
	}
	return a, err
}
