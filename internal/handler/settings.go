package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/cardapiopro/cardapio-api/internal/apperr"
	"github.com/cardapiopro/cardapio-api/internal/domain/settings"
)

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Get(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsDTO(s))
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsPatchRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := h.settings.Update(r.Context(), req.domain())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsDTO(s))
}

type quoteResponse struct {
	OrderTotal string `json:"orderTotal"`
	Amount     string `json:"amount"`
}

// quote answers "what would the store charge or grant for this order total"
// using the current settings.
func (h *Handler) quote(calc func(settings.Store, decimal.Decimal) decimal.Decimal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		total, err := decimal.NewFromString(r.URL.Query().Get("orderTotal"))
		if err != nil || total.IsNegative() {
			fail(w, r, apperr.Validation("orderTotal must be a non-negative decimal"))
			return
		}
		s, err := h.settings.Get(r.Context())
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, quoteResponse{OrderTotal: money(total), Amount: money(calc(*s, total))})
	}
}
