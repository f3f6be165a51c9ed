package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"verano.shop/internal/admingate"
	"verano.shop/internal/catalog"
	"verano.shop/internal/obs"
	"verano.shop/internal/orders"
	"verano.shop/internal/stream"
)

// obsLogExportError records a mid-stream export failure; headers are
// already sent at that point so there is nothing useful to tell the client.
func obsLogExportError(r *http.Request, err error) {
	obs.LogRequest(map[string]any{
		"level":      "error",
		"msg":        "report_export_failed",
		"path":       r.URL.Path,
		"error":      err.Error(),
		"request_id": RequestIDFromContext(r.Context()),
	})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type productRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
	Currency    string `json:"currency"`
	Category    string `json:"category"`
	ImageURL    string `json:"image_url"`
	Stock       int    `json:"stock"`
	Active      bool   `json:"active"`
}

type productPatchRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	PriceCents  *int64  `json:"price_cents"`
	Category    *string `json:"category"`
	ImageURL    *string `json:"image_url"`
	Stock       *int    `json:"stock"`
	Active      *bool   `json:"active"`
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	stats, err := a.orders.Summary(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	products, err := a.products.List(r.Context(), catalog.Filter{})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	lowStock := 0
	for _, p := range products {
		if p.Active && p.Stock <= 5 {
			lowStock++
		}
	}
	payload := map[string]any{
		"orders":           stats,
		"product_count":    len(products),
		"low_stock":        lowStock,
		"generated_at":     time.Now().UTC(),
		"recent_customers": nil,
	}
	if customers, err := a.orders.Customers(r.Context()); err == nil {
		if len(customers) > 5 {
			customers = customers[:5]
		}
		payload["recent_customers"] = customers
	}
	if a.events != nil {
		recent := a.events.Events()
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		payload["recent_events"] = recent
	}
	if a.gate != nil {
		state, _, retries := a.gate.Snapshot()
		payload["gate"] = map[string]any{"state": string(state), "retries": retries}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (a *API) handleOrdersCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	f, err := orderFilterFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	list, err := a.orders.List(r.Context(), f)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": list,
		"as_of": time.Now().UTC(),
	})
}

func (a *API) handleOrderResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/admin/orders/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		o, err := a.orders.Get(r.Context(), id)
		if err != nil {
			handleOrderError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	case http.MethodPatch:
		var req updateStatusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		st, err := orders.ParseStatus(req.Status)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "unknown status")
			return
		}
		o, err := a.orders.UpdateStatus(r.Context(), id, st)
		if err != nil {
			handleOrderError(w, r, err)
			return
		}
		if a.activity != nil {
			a.activity.Publish(stream.Event{
				Kind:       stream.KindOrderUpdated,
				OrderID:    o.ID,
				Status:     string(o.Status),
				TotalCents: o.TotalCents,
				Currency:   o.Currency,
			})
		}
		writeJSON(w, http.StatusOK, o)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) handleAdminProductsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := a.products.List(r.Context(), catalog.Filter{})
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list})
	case http.MethodPost:
		var req productRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		p, err := a.products.Create(r.Context(), catalog.Product{
			Name:        req.Name,
			Description: req.Description,
			PriceCents:  req.PriceCents,
			Currency:    strings.ToUpper(req.Currency),
			Category:    req.Category,
			ImageURL:    req.ImageURL,
			Stock:       req.Stock,
			Active:      req.Active,
		})
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAdminProductResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/admin/products/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		p, err := a.products.Get(r.Context(), id)
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPatch:
		var req productPatchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		p, err := a.products.Update(r.Context(), id, catalog.Update{
			Name:        req.Name,
			Description: req.Description,
			PriceCents:  req.PriceCents,
			Category:    req.Category,
			ImageURL:    req.ImageURL,
			Stock:       req.Stock,
			Active:      req.Active,
		})
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		if req.Stock != nil && a.activity != nil {
			a.activity.Publish(stream.Event{
				Kind:      stream.KindStockAdjusted,
				ProductID: p.ID,
			})
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodDelete:
		if err := a.products.Delete(r.Context(), id); err != nil {
			handleCatalogError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	customers, err := a.orders.Customers(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": customers})
}

func (a *API) handleOrdersCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	list, err := a.exportList(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="orders-%s.csv"`, time.Now().UTC().Format("2006-01-02")))
	if err := orders.WriteCSV(w, list); err != nil {
		obsLogExportError(r, err)
	}
}

func (a *API) handleOrdersJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	list, err := a.exportList(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="orders-%s.json"`, time.Now().UTC().Format("2006-01-02")))
	if err := orders.WriteJSON(w, list); err != nil {
		obsLogExportError(r, err)
	}
}

func (a *API) exportList(r *http.Request) ([]orders.Order, error) {
	f, err := orderFilterFromQuery(r)
	if err != nil {
		return nil, err
	}
	return a.orders.List(r.Context(), f)
}

func (a *API) handleSecurityEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"items": a.events.Events()})
	case http.MethodDelete:
		a.events.Clear()
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) handleGateRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.gate == nil {
		writeError(w, r, http.StatusServiceUnavailable, "admin gate disabled")
		return
	}
	res, err := a.gate.Retry(r.Context())
	if err != nil {
		if errors.Is(err, admingate.ErrRetryExhausted) {
			writeError(w, r, http.StatusTooManyRequests, "retry limit reached")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	state, _, retries := a.gate.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":     string(state),
		"is_admin":  res.IsAdmin,
		"reason":    res.Reason,
		"retries":   retries,
		"retry_max": admingate.MaxRetries,
	})
}

func (a *API) handleGateSignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.gate == nil {
		writeError(w, r, http.StatusServiceUnavailable, "admin gate disabled")
		return
	}
	if err := a.gate.SignOut(r.Context()); err != nil {
		writeError(w, r, http.StatusInternalServerError, "sign out failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "signed_out"})
}

func orderFilterFromQuery(r *http.Request) (orders.Filter, error) {
	q := r.URL.Query()
	f := orders.Filter{
		CustomerEmail: q.Get("customer"),
		SortBy:        orders.SortByCreatedAt,
	}
	if raw := q.Get("status"); raw != "" {
		st, err := orders.ParseStatus(raw)
		if err != nil {
			return orders.Filter{}, errors.New("unknown status")
		}
		f.Status = st
	}
	switch q.Get("sort") {
	case "", orders.SortByCreatedAt:
	case orders.SortByTotal:
		f.SortBy = orders.SortByTotal
	default:
		return orders.Filter{}, errors.New("unknown sort key")
	}
	if q.Get("dir") == "asc" {
		f.Ascending = true
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return orders.Filter{}, errors.New("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

func handleOrderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orders.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
