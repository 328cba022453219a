package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-pos-payments/internal/postgres"
)

var ErrProductNotFound = errors.New("product not found")

type Product struct {
	TenantID        string `json:"-"`
	ID              string `json:"product_id"`
	SectionID       string `json:"section_id"`
	Name            string `json:"name"`
	ImageURL        string `json:"image_url"`
	PriceCents      int64  `json:"price_cents"`
	Stock           int    `json:"stock"`
	InBonus         bool   `json:"is_in_bonus"`
	BonusPercentage int    `json:"bonus_percentage"`
	Selling         bool   `json:"is_selling"`
}

// SalePrice is the unit price charged for the product, with the promotion applied.
func (p Product) SalePrice() int64 {
	if !p.InBonus || p.BonusPercentage <= 0 {
		return p.PriceCents
	}
	pct := int64(min(p.BonusPercentage, 100))
	// round half up in minor units
	return (p.PriceCents*(100-pct) + 50) / 100
}

type Repo struct{ DB postgres.DB }

// Claim records that orderID consumes qty of productID. It returns false when
// the movement was already recorded, in which case the caller must not decrement.
func (r *Repo) Claim(ctx context.Context, q postgres.Querier, orderID, tenantID, productID string, qty int) (bool, error) {
	ct, err := q.Exec(ctx, `
		INSERT INTO stock_movements(order_id, product_id, tenant_id, qty)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (order_id, product_id) DO NOTHING
	`, orderID, productID, tenantID, qty)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// Decrement atomically lowers the stock counter and returns the new quantity.
// Stock may go negative: the sale has already been captured by the provider.
func (r *Repo) Decrement(ctx context.Context, q postgres.Querier, tenantID, productID string, qty int) (int, error) {
	if q == nil {
		q = r.DB
	}
	var stock int
	err := q.QueryRow(ctx, `
		UPDATE products SET stock = stock - $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING stock`, tenantID, productID, qty).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return 0, err
	}
	return stock, nil
}

// Products loads the given products of a tenant keyed by id. Unknown ids are
// simply absent from the result.
func (r *Repo) Products(ctx context.Context, tenantID string, ids []string) (map[string]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, section_id, name, image_url, price_cents, stock, is_in_bonus, bonus_percentage, is_selling
		FROM products WHERE tenant_id = $1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Product, len(ids))
	for rows.Next() {
		p := Product{TenantID: tenantID}
		if err := rows.Scan(&p.ID, &p.SectionID, &p.Name, &p.ImageURL, &p.PriceCents, &p.Stock,
			&p.InBonus, &p.BonusPercentage, &p.Selling); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}
