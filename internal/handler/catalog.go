package handler

import (
	"net/http"

	"github.com/go-faster/errors"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		fail(w, r, errors.Wrap(err, "list products"))
		return
	}
	out := make([]productResponse, len(products))
	for i, p := range products {
		out[i] = h.productDTO(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listAddons(w http.ResponseWriter, r *http.Request) {
	addons, err := h.catalog.ListAddons(r.Context())
	if err != nil {
		fail(w, r, errors.Wrap(err, "list addons"))
		return
	}
	out := make([]addonResponse, len(addons))
	for i, a := range addons {
		out[i] = addonResponse{ID: a.ID, Name: a.Name, Price: money(a.Price)}
	}
	writeJSON(w, http.StatusOK, out)
}
