package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"verano.shop/internal/cart"
	"verano.shop/internal/catalog"
	"verano.shop/internal/i18n"
	"verano.shop/internal/stream"
)

type checkoutRequest struct {
	CartID string `json:"cart_id"`
	Email  string `json:"email"`
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type wishlistRequest struct {
	ProductID string `json:"product_id"`
}

func (a *API) handleProductsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := a.products.List(r.Context(), catalog.Filter{
		Category:   q.Get("category"),
		Query:      q.Get("q"),
		ActiveOnly: true,
		Limit:      limit,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": list,
		"as_of": time.Now().UTC(),
	})
}

func (a *API) handleProductResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/products/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	p, err := a.products.Get(r.Context(), id)
	if err != nil {
		handleCatalogError(w, r, err)
		return
	}
	if !p.Active {
		writeError(w, r, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleCartCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	c, err := a.carts.Create(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// handleCartResource routes /v1/cart/{id}, /v1/cart/{id}/items,
// /v1/cart/{id}/items/{productID} and /v1/cart/{id}/wishlist.
func (a *API) handleCartResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/cart/")
	parts := strings.Split(rest, "/")
	if parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		c, err := a.carts.Get(r.Context(), id)
		if err != nil {
			handleCartError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)

	case len(parts) == 2 && parts[1] == "items":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req addItemRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		c, err := a.carts.AddItem(r.Context(), id, req.ProductID, req.Quantity)
		if err != nil {
			handleCartError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)

	case len(parts) == 3 && parts[1] == "items":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		c, err := a.carts.RemoveItem(r.Context(), id, parts[2])
		if err != nil {
			handleCartError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)

	case len(parts) == 2 && parts[1] == "wishlist":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req wishlistRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		on, err := a.carts.ToggleWishlist(r.Context(), id, req.ProductID)
		if err != nil {
			handleCartError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product_id": req.ProductID, "wishlisted": on})

	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	placed, err := a.carts.Checkout(r.Context(), req.CartID, req.Email)
	if err != nil {
		handleCartError(w, r, err)
		return
	}
	if a.activity != nil {
		a.activity.Publish(stream.Event{
			Kind:       stream.KindOrderPlaced,
			OrderID:    placed.ID,
			Status:     string(placed.Status),
			TotalCents: placed.TotalCents,
			Currency:   placed.Currency,
		})
	}
	writeJSON(w, http.StatusCreated, placed)
}

func (a *API) handleStrings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	locale := r.URL.Query().Get("locale")
	if locale == "" {
		locale = "en"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"locale":    locale,
		"supported": i18n.Locales(),
		"strings":   i18n.Table(locale),
	})
}

func handleCatalogError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func handleCartError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, cart.ErrInvalidInput), errors.Is(err, cart.ErrEmptyCart):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, cart.ErrOutOfStock):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, cart.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
