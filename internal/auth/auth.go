// Package auth resolves the tenant of an API request from a bearer token.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrNoToken      = errors.New("no token provided")
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("signing secret is not configured")
)

type ctxKey struct{}

// Claims are issued by the account service; only companyId is used here.
type Claims struct {
	UserID    string `json:"userId"`
	CompanyID string `json:"companyId"`
	jwt.RegisteredClaims
}

type Auth struct {
	secret []byte
}

func New(secret string) *Auth { return &Auth{secret: []byte(secret)} }

// Issue signs a token for a tenant. Used by tests and local tooling.
func (a *Auth) Issue(userID, companyID string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrNoSecret
	}
	claims := Claims{
		UserID:    userID,
		CompanyID: companyID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse rejects every token while the secret is empty.
func (a *Auth) Parse(raw string) (Claims, error) {
	if len(a.secret) == 0 {
		return Claims{}, ErrInvalidToken
	}
	var c Claims
	tok, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	})
	if err != nil || !tok.Valid || c.CompanyID == "" {
		return Claims{}, ErrInvalidToken
	}
	return c, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// tenant id in the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			http.Error(w, ErrNoToken.Error(), http.StatusUnauthorized)
			return
		}
		c, err := a.Parse(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), c.CompanyID)))
	})
}

func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, tenantID)
}

func TenantFrom(ctx context.Context) string {
	s, _ := ctx.Value(ctxKey{}).(string)
	return s
}
