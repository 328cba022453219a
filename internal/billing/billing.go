// Package billing keeps tenant subscription state and gates checkout on it.
package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-pos-payments/internal/postgres"
)

var ErrNoSubscription = errors.New("no subscription for tenant")

const (
	PlanBasic      = "Basic"
	PlanPro        = "Pro"
	PlanEnterprise = "Enterprise"
)

type Subscription struct {
	TenantID         string
	CustomerID       string
	SubscriptionID   string
	Plan             string
	BillingCycle     string
	Status           string
	CurrentPeriodEnd time.Time
	UpdatedAt        time.Time
}

// Inactive reports whether the subscription no longer entitles the tenant to
// take payments.
func (s Subscription) Inactive() bool {
	switch s.Status {
	case "canceled", "unpaid", "inactive":
		return true
	}
	return false
}

func (s Subscription) IsBasic() bool { return strings.EqualFold(s.Plan, PlanBasic) }

type Repo struct{ DB postgres.Querier }

func (r *Repo) Upsert(ctx context.Context, s Subscription) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO subscriptions(tenant_id, customer_id, subscription_id, plan, billing_cycle, status, current_period_end, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7, now())
		ON CONFLICT (tenant_id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			subscription_id = EXCLUDED.subscription_id,
			plan = EXCLUDED.plan,
			billing_cycle = EXCLUDED.billing_cycle,
			status = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = now()`,
		s.TenantID, s.CustomerID, s.SubscriptionID, s.Plan, s.BillingCycle, s.Status, s.CurrentPeriodEnd)
	return err
}

func (r *Repo) Get(ctx context.Context, tenantID string) (Subscription, error) {
	s := Subscription{TenantID: tenantID}
	err := r.DB.QueryRow(ctx, `
		SELECT customer_id, subscription_id, plan, billing_cycle, status, current_period_end, updated_at
		FROM subscriptions WHERE tenant_id = $1`, tenantID).
		Scan(&s.CustomerID, &s.SubscriptionID, &s.Plan, &s.BillingCycle, &s.Status, &s.CurrentPeriodEnd, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, ErrNoSubscription
	}
	return s, err
}
