package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"verano.shop/internal/admingate"
	"verano.shop/internal/cart"
	"verano.shop/internal/catalog"
	"verano.shop/internal/obs"
	"verano.shop/internal/orders"
	"verano.shop/internal/seclog"
	"verano.shop/internal/session"
	"verano.shop/internal/stream"
)

const serviceName = "verano-api"

// ReadyProbe is a simple readiness check (for example a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps carries the services the HTTP layer exposes.
type Deps struct {
	Parser   *session.Parser
	Gate     *admingate.Gate
	Events   *seclog.Logger
	Products catalog.Service
	Orders   orders.Service
	Carts    *cart.Service
	Activity *stream.Stream

	// Zero values fall back to the built-in limits.
	RateBurst    int
	RatePerSec   int
	MaxBodyBytes int64
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	parser   *session.Parser
	gate     *admingate.Gate
	events   *seclog.Logger
	products catalog.Service
	orders   orders.Service
	carts    *cart.Service
	activity *stream.Stream

	rateBurst  int
	ratePerSec int
	maxBody    int64
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		parser:     deps.Parser,
		gate:       deps.Gate,
		events:     deps.Events,
		products:   deps.Products,
		orders:     deps.Orders,
		carts:      deps.Carts,
		activity:   deps.Activity,
		rateBurst:  20,
		ratePerSec: 10,
		maxBody:    1 << 20,
	}
	if deps.RateBurst > 0 {
		a.rateBurst = deps.RateBurst
	}
	if deps.RatePerSec > 0 {
		a.ratePerSec = deps.RatePerSec
	}
	if deps.MaxBodyBytes > 0 {
		a.maxBody = deps.MaxBodyBytes
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// storefront
	a.mux.HandleFunc("/v1/products", a.handleProductsCollection)
	a.mux.HandleFunc("/v1/products/", a.handleProductResource)
	a.mux.HandleFunc("/v1/cart", a.handleCartCollection)
	a.mux.HandleFunc("/v1/cart/", a.handleCartResource)
	a.mux.HandleFunc("/v1/checkout", a.handleCheckout)
	a.mux.HandleFunc("/v1/strings", a.handleStrings)
	a.mux.HandleFunc("/signin", a.handleSignIn)

	// admin gate escape hatches, reachable while the gate denies
	a.mux.HandleFunc("/admin/gate/retry", a.handleGateRetry)
	a.mux.HandleFunc("/admin/gate/signout", a.handleGateSignOut)

	// everything else under /admin/ sits behind the gate
	admin := http.NewServeMux()
	admin.HandleFunc("/admin/dashboard", a.handleDashboard)
	admin.HandleFunc("/admin/orders", a.handleOrdersCollection)
	admin.HandleFunc("/admin/orders/", a.handleOrderResource)
	admin.HandleFunc("/admin/products", a.handleAdminProductsCollection)
	admin.HandleFunc("/admin/products/", a.handleAdminProductResource)
	admin.HandleFunc("/admin/customers", a.handleCustomers)
	admin.HandleFunc("/admin/reports/orders.csv", a.handleOrdersCSV)
	admin.HandleFunc("/admin/reports/orders.json", a.handleOrdersJSON)
	admin.HandleFunc("/admin/security-events", a.handleSecurityEvents)
	admin.HandleFunc("/admin/stream", a.Stream)
	admin.HandleFunc("/admin/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	if a.gate != nil {
		a.mux.Handle("/admin/", a.gate.Middleware(admin))
	} else {
		a.mux.Handle("/admin/", admin)
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withSession(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// handleSignIn is the target of gate redirects. Authentication happens
// against the identity provider; this endpoint just tells the client
// where to come back to afterwards.
func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "sign_in_required",
		"redirect": r.URL.Query().Get("redirect"),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
