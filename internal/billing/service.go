package billing

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-payments/internal/auth"
	"github.com/ariefcatur/go-pos-payments/internal/payments"
)

type Store interface {
	Upsert(ctx context.Context, s Subscription) error
	Get(ctx context.Context, tenantID string) (Subscription, error)
}

// Counter counts a tenant's settled transactions; orders.Repo satisfies it.
type Counter interface {
	CountSettledSince(ctx context.Context, tenantID string, since time.Time) (int, error)
}

type Service struct {
	Store        Store
	Counter      Counter
	MonthlyLimit int
	Log          *zap.Logger
	Now          func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Apply stores the state carried by a subscription event. Events without a
// tenant in their metadata are logged and dropped.
func (s *Service) Apply(ctx context.Context, ev payments.SubscriptionEvent) error {
	tenantID := ev.Metadata["company_id"]
	if tenantID == "" {
		s.Log.Warn("subscription event without company_id", zap.String("subscription_id", ev.ID))
		return nil
	}
	status := ev.Status
	if ev.Deleted && status == "" {
		status = "canceled"
	}
	cycle := ev.Metadata["billingCycle"]
	if cycle == "" {
		cycle = "monthly"
	}
	sub := Subscription{
		TenantID:         tenantID,
		CustomerID:       ev.CustomerID,
		SubscriptionID:   ev.ID,
		Plan:             ev.Metadata["plan"],
		BillingCycle:     cycle,
		Status:           status,
		CurrentPeriodEnd: ev.CurrentPeriodEnd,
	}
	if err := s.Store.Upsert(ctx, sub); err != nil {
		return err
	}
	s.Log.Info("subscription updated",
		zap.String("tenant_id", tenantID),
		zap.String("plan", sub.Plan),
		zap.String("status", sub.Status))
	return nil
}

type LimitExceeded struct {
	Error          string    `json:"error"`
	Message        string    `json:"message"`
	Code           string    `json:"code"`
	CurrentCount   int       `json:"currentCount"`
	Limit          int       `json:"limit"`
	NextResetDate  time.Time `json:"nextResetDate"`
	DaysUntilReset int       `json:"daysUntilReset"`
}

// monthWindow returns the start of now's calendar month and the last instant of it.
func monthWindow(now time.Time) (start, end time.Time) {
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	end = start.AddDate(0, 1, 0).Add(-time.Millisecond)
	return start, end
}

// Gate lets checkout through unless the tenant's subscription is inactive or
// a Basic tenant has used up this month's transactions. Tenants without any
// subscription record are let through.
func (s *Service) Gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID := auth.TenantFrom(ctx)

		sub, err := s.Store.Get(ctx, tenantID)
		switch {
		case errors.Is(err, ErrNoSubscription):
			next.ServeHTTP(w, r)
			return
		case err != nil:
			s.Log.Error("load subscription", zap.String("tenant_id", tenantID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}

		if sub.Inactive() {
			writeJSON(w, http.StatusPaymentRequired, map[string]string{
				"error":   "Subscription required",
				"message": "Your subscription has expired. Please renew your subscription to continue.",
				"code":    "SUBSCRIPTION_INACTIVE",
			})
			return
		}

		if sub.IsBasic() && s.MonthlyLimit > 0 {
			now := s.now()
			start, end := monthWindow(now)
			n, err := s.Counter.CountSettledSince(ctx, tenantID, start)
			if err != nil {
				s.Log.Error("count transactions", zap.String("tenant_id", tenantID), zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
				return
			}
			if n >= s.MonthlyLimit {
				days := int(math.Ceil(end.Sub(now).Hours() / 24))
				writeJSON(w, http.StatusForbidden, LimitExceeded{
					Error:          "Transaction limit exceeded",
					Message:        "You have reached your monthly transaction limit. Please upgrade to Pro plan for unlimited transactions.",
					Code:           "TRANSACTION_LIMIT_EXCEEDED",
					CurrentCount:   n,
					Limit:          s.MonthlyLimit,
					NextResetDate:  end,
					DaysUntilReset: days,
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
