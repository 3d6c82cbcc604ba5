package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/cardapiopro/cardapio-api/internal/domain/loyalty"
)

// registerCustomer opens a loyalty account and returns a bearer token for it.
func (h *Handler) registerCustomer(w http.ResponseWriter, r *http.Request) {
	var req registerCustomerRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.loyalty.Register(r.Context(), loyalty.NewCustomer(req))
	if err != nil {
		fail(w, r, err)
		return
	}
	token, err := h.tokens.Issue(c.ID, c.Name)
	if err != nil {
		fail(w, r, errors.Wrap(err, "issue customer token"))
		return
	}
	writeJSON(w, http.StatusCreated, registerCustomerResponse{
		Customer: customerResponse{
			ID:             c.ID,
			Name:           c.Name,
			Email:          c.Email,
			Phone:          c.Phone,
			LoyaltyPoints:  c.LoyaltyPoints,
			LifetimePoints: c.LifetimePoints,
			Tier:           c.Tier,
			CreatedAt:      c.CreatedAt,
		},
		Token: token,
	})
}

func (h *Handler) loyaltyBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.loyalty.Balance(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		CustomerID:     b.CustomerID,
		Name:           b.Name,
		LoyaltyPoints:  b.LoyaltyPoints,
		LifetimePoints: b.LifetimePoints,
		Tier:           b.Tier,
	})
}

func (h *Handler) loyaltyHistory(w http.ResponseWriter, r *http.Request) {
	txs, err := h.loyalty.History(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]transactionResponse, len(txs))
	for i := range txs {
		out[i] = transactionDTO(&txs[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// redeemPoints spends points. Only the account owner or staff may redeem.
func (h *Handler) redeemPoints(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	if err := h.authorizeCustomer(r, customerID); err != nil {
		fail(w, r, err)
		return
	}
	var req redeemRequest
	if !decode(w, r, &req) {
		return
	}
	tx, err := h.loyalty.RedeemPoints(r.Context(), customerID, req.Points, req.Description)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionDTO(tx))
}

func (h *Handler) adjustPoints(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !decode(w, r, &req) {
		return
	}
	tx, err := h.loyalty.AdjustPoints(r.Context(), chi.URLParam(r, "customerID"), req.Points, req.Reason)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionDTO(tx))
}
