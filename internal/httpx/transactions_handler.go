package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-payments/internal/auth"
	"github.com/ariefcatur/go-pos-payments/internal/checkout"
	"github.com/ariefcatur/go-pos-payments/internal/inventory"
	"github.com/ariefcatur/go-pos-payments/internal/orders"
	"github.com/ariefcatur/go-pos-payments/internal/payments"
)

type TransactionsHandler struct {
	Checkout *checkout.Service
	Log      *zap.Logger
}

// Register mounts the device API. authn resolves the tenant; gate guards the
// routes that open new payments.
func (h *TransactionsHandler) Register(r chi.Router, authn, gate func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Use(authn)
		r.With(gate).Post("/checkout/qr", h.startQR)
		r.With(gate).Post("/checkout/nfc", h.startNFC)
		r.Post("/checkout/nfc/connection-token", h.connectionToken)

		r.Get("/transactions", h.list)
		r.Get("/transactions/count", h.count)
		r.Get("/transactions/latest", h.latest)
		r.Get("/transactions/{id}", h.get)
		r.Get("/transactions/{id}/status", h.status)
		r.Get("/transactions/{id}/receipt", h.receipt)
		r.Post("/transactions/{id}/refund", h.refund)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *TransactionsHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, checkout.ErrValidation), errors.Is(err, inventory.ErrProductNotFound):
		code, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, orders.ErrAccountNotFound):
		code, msg = http.StatusBadRequest, "no payment account connected"
	case errors.Is(err, orders.ErrOrderNotFound):
		code, msg = http.StatusNotFound, "Transaction not found in our records"
	case errors.Is(err, orders.ErrAlreadyRefunded):
		code, msg = http.StatusBadRequest, "This transaction has already been refunded"
	case errors.Is(err, orders.ErrNotSettled):
		code, msg = http.StatusConflict, "Transaction is not settled"
	case errors.Is(err, payments.ErrGatewayForbidden):
		code, msg = http.StatusForbidden, "Permission denied on the connected payment account"
	case errors.Is(err, payments.ErrGatewayRejected):
		code, msg = http.StatusBadRequest, "payment provider rejected the request"
	case errors.Is(err, payments.ErrGatewayUnavailable):
		code, msg = http.StatusBadGateway, "payment provider unavailable"
	}
	if code >= http.StatusInternalServerError {
		h.Log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func (h *TransactionsHandler) decodeStart(w http.ResponseWriter, r *http.Request) (checkout.Request, bool) {
	var req checkout.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return req, false
	}
	req.TenantID = auth.TenantFrom(r.Context())
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	return req, true
}

func (h *TransactionsHandler) startQR(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeStart(w, r)
	if !ok {
		return
	}
	st, err := h.Checkout.StartQR(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *TransactionsHandler) startNFC(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeStart(w, r)
	if !ok {
		return
	}
	st, err := h.Checkout.StartNFC(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *TransactionsHandler) connectionToken(w http.ResponseWriter, r *http.Request) {
	secret, err := h.Checkout.ConnectionToken(r.Context(), auth.TenantFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

func (h *TransactionsHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	today := q.Get("today") == "true"

	list, err := h.Checkout.List(r.Context(), auth.TenantFrom(r.Context()), page, limit, today)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *TransactionsHandler) count(w http.ResponseWriter, r *http.Request) {
	n, err := h.Checkout.Count(r.Context(), auth.TenantFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *TransactionsHandler) latest(w http.ResponseWriter, r *http.Request) {
	v, err := h.Checkout.Latest(r.Context(), auth.TenantFrom(r.Context()), r.URL.Query().Get("device_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *TransactionsHandler) get(w http.ResponseWriter, r *http.Request) {
	v, err := h.Checkout.Transaction(r.Context(), auth.TenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *TransactionsHandler) status(w http.ResponseWriter, r *http.Request) {
	v, err := h.Checkout.Status(r.Context(), auth.TenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *TransactionsHandler) receipt(w http.ResponseWriter, r *http.Request) {
	url, err := h.Checkout.Receipt(r.Context(), auth.TenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"receiptUrl": url})
}

func (h *TransactionsHandler) refund(w http.ResponseWriter, r *http.Request) {
	rv, err := h.Checkout.Refund(r.Context(), auth.TenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}
