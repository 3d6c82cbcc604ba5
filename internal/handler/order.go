package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/cardapiopro/cardapio-api/internal/domain/order"
	"github.com/cardapiopro/cardapio-api/internal/storage/redisx"
)

const (
	// HeaderIdempotencyKey lets clients retry POST /orders safely.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay marks a response served from an earlier request.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	maxIdempotencyKey = 128
)

// createOrder places an order. A bearer token links the order to the
// customer's loyalty account. Only staff may name another customer in the
// body.
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decode(w, r, &req) {
		return
	}
	customerID := customerFromContext(r.Context())
	if req.CustomerID != "" && req.CustomerID != customerID {
		if err := h.authorizeCustomer(r, req.CustomerID); err != nil {
			fail(w, r, err)
			return
		}
		customerID = req.CustomerID
	}

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" || h.idem == nil {
		h.placeOrder(w, r, req, customerID)
		return
	}
	if len(key) > maxIdempotencyKey {
		writeError(w, http.StatusBadRequest, "Idempotency-Key is too long")
		return
	}
	key = idempotencyScope(customerID) + ":" + key
	fp, err := requestFingerprint(req, customerID)
	if err != nil {
		fail(w, r, err)
		return
	}

	ctx := r.Context()
	lg := zctx.From(ctx).With(zap.String("idempotency_key", key))
	state, orderID, err := h.idem.Claim(ctx, key, fp)
	switch {
	case err != nil:
		lg.Warn("Idempotency store unavailable, placing order without deduplication", zap.Error(err))
		h.placeOrder(w, r, req, customerID)
		return
	case state == redisx.IdemMismatch:
		writeError(w, http.StatusUnprocessableEntity, "Idempotency-Key was already used with a different request")
		return
	case state == redisx.IdemInFlight:
		writeError(w, http.StatusConflict, "a request with this Idempotency-Key is still in progress")
		return
	case state == redisx.IdemDone:
		o, err := h.orders.Get(ctx, orderID)
		if err != nil {
			fail(w, r, err)
			return
		}
		w.Header().Set(HeaderIdempotentReplay, "true")
		writeJSON(w, http.StatusOK, orderDTO(o))
		return
	}

	o, ok := h.placeOrder(w, r, req, customerID)
	// The request context may already be done when the client hangs up.
	bg := context.WithoutCancel(ctx)
	if !ok {
		if err := h.idem.Release(bg, key); err != nil {
			lg.Warn("Release idempotency key", zap.Error(err))
		}
		return
	}
	if err := h.idem.Complete(bg, key, fp, o.ID); err != nil {
		lg.Warn("Complete idempotency key", zap.Error(err))
	}
}

// idempotencyScope keeps keys of different customers apart.
func idempotencyScope(customerID string) string {
	if customerID == "" {
		return "anon"
	}
	return "customer:" + customerID
}

// requestFingerprint hashes the decoded request together with the customer
// it is placed for.
func requestFingerprint(req createOrderRequest, customerID string) (string, error) {
	req.CustomerID = customerID
	b, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "encode order request")
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request, req createOrderRequest, customerID string) (*order.Order, bool) {
	o, err := h.orders.Create(r.Context(), req.domain(customerID))
	if err != nil {
		fail(w, r, err)
		return nil, false
	}
	w.Header().Set("Location", "/api/v1/orders/"+o.ID)
	writeJSON(w, http.StatusCreated, orderDTO(o))
	return o, true
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderDTO(o))
}

func (h *Handler) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "order number must be a positive integer")
		return
	}
	o, err := h.orders.GetByNumber(r.Context(), n)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderDTO(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	var (
		orders []order.Order
		err    error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		s := order.Status(strings.ToUpper(status))
		if !s.Valid() {
			writeError(w, http.StatusBadRequest, "unknown order status "+status)
			return
		}
		orders, err = h.orders.ListByStatus(r.Context(), s)
	} else {
		orders, err = h.orders.List(r.Context())
	}
	h.writeOrders(w, r, orders, err)
}

func (h *Handler) listActiveOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListActive(r.Context())
	h.writeOrders(w, r, orders, err)
}

func (h *Handler) listTodayOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListToday(r.Context())
	h.writeOrders(w, r, orders, err)
}

func (h *Handler) listCustomerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByCustomerPhone(r.Context(), chi.URLParam(r, "phone"))
	h.writeOrders(w, r, orders, err)
}

func (h *Handler) writeOrders(w http.ResponseWriter, r *http.Request, orders []order.Order, err error) {
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ordersDTO(orders))
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), order.Status(strings.ToUpper(req.Status)))
	h.writeOrder(w, r, o, err)
}

// moveOrder serves the shortcut endpoints that target a fixed status.
func (h *Handler) moveOrder(status order.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status)
		h.writeOrder(w, r, o, err)
	}
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.orders.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	h.writeOrder(w, r, o, err)
}

func (h *Handler) payOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.MarkPaid(r.Context(), chi.URLParam(r, "id"))
	h.writeOrder(w, r, o, err)
}

type paymentStatusRequest struct {
	PaymentStatus string `json:"paymentStatus"`
}

func (h *Handler) setPaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req paymentStatusRequest
	if !decode(w, r, &req) {
		return
	}
	ps := order.PaymentStatus(strings.ToUpper(req.PaymentStatus))
	o, err := h.orders.SetPaymentStatus(r.Context(), chi.URLParam(r, "id"), ps)
	h.writeOrder(w, r, o, err)
}

func (h *Handler) writeOrder(w http.ResponseWriter, r *http.Request, o *order.Order, err error) {
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderDTO(o))
}
