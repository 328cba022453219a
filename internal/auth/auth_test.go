package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	a := New("s3cret")
	var seen string
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TenantFrom(r.Context())
	}))

	tok, err := a.Issue("u1", "t1", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + tok, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, "t1", seen)
}

func TestParseRejectsOtherSecretAndExpired(t *testing.T) {
	other, err := New("other").Issue("u1", "t1", time.Hour)
	require.NoError(t, err)
	_, err = New("s3cret").Parse(other)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := New("s3cret").Issue("u1", "t1", -time.Minute)
	require.NoError(t, err)
	_, err = New("s3cret").Parse(expired)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestEmptySecretRejectsEverything(t *testing.T) {
	a := New("")
	_, err := a.Issue("u1", "t1", time.Hour)
	require.ErrorIs(t, err, ErrNoSecret)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		CompanyID: "victim",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(""))
	require.NoError(t, err)

	_, err = a.Parse(forged)
	require.ErrorIs(t, err, ErrInvalidToken)

	called := false
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, called)
}
