package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cardapiopro/cardapio-api/internal/domain/coupon"
)

// validateCoupon previews a coupon for a cart without consuming it.
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusUnprocessableEntity, "coupon code is required")
		return
	}
	customerID := req.CustomerID
	if subject := customerFromContext(r.Context()); subject != "" {
		customerID = subject
	}

	res, err := h.validator.Validate(r.Context(), req.Code, req.Subtotal, customerID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validateCouponResponse{
		Valid:          res.Valid,
		Code:           res.Code,
		Type:           res.Type,
		DiscountAmount: money(res.DiscountAmount),
		Message:        res.Message,
	})
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]couponResponse, len(coupons))
	for i := range coupons {
		out[i] = couponDTO(&coupons[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Get(r.Context(), chi.URLParam(r, "id"))
	h.writeCoupon(w, r, http.StatusOK, c, err)
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.coupons.Create(r.Context(), req.domain())
	h.writeCoupon(w, r, http.StatusCreated, c, err)
}

func (h *Handler) updateCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponPatchRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.coupons.Update(r.Context(), chi.URLParam(r, "id"), req.domain())
	h.writeCoupon(w, r, http.StatusOK, c, err)
}

// deactivateCoupon soft-deletes a coupon; its usage history stays intact.
func (h *Handler) deactivateCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.coupons.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeCoupon(w http.ResponseWriter, r *http.Request, status int, c *coupon.Coupon, err error) {
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, status, couponDTO(c))
}
