package admingate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"verano.shop/internal/seclog"
	"verano.shop/internal/session"
)

// State is the gate's rendered condition.
type State string

const (
	StateLoading      State = "loading"
	StateGranted      State = "granted"
	StateDeniedError  State = "denied_error"
	StateDeniedAccess State = "denied_access"
	StateRedirect     State = "redirect_unauthenticated"
)

// MaxRetries is the hard cap on manual retries out of the error state.
const MaxRetries = 3

// ErrRetryExhausted is returned once the retry budget is spent.
var ErrRetryExhausted = errors.New("admingate: retry attempts exhausted")

// Gate is the stateful boundary in front of the admin surface. It runs
// the validation policy, caches the most recent result as a rendering
// hint, revalidates on a timer, and exposes a bounded manual retry.
//
// The cached result is never the security boundary: a request whose
// session identity differs from the cached one forces a fresh run, and
// real enforcement lives in the data store's access rules.
type Gate struct {
	policy     *Policy
	events     *seclog.Logger
	signInPath string
	revalidate time.Duration
	now        func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	state     State
	last      Result
	identity  string // user id the cached result was computed for
	validated time.Time
	retries   int
	seq       uint64 // issued validation runs
	applied   uint64 // last run whose result was accepted
}

// GateOption configures Gate.
type GateOption func(*Gate)

// WithSignInPath overrides the unauthenticated redirect target.
func WithSignInPath(path string) GateOption {
	return func(g *Gate) {
		if path != "" {
			g.signInPath = path
		}
	}
}

// WithRevalidateEvery overrides the automatic revalidation cadence.
func WithRevalidateEvery(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.revalidate = d
		}
	}
}

// WithGateClock overrides the time source (tests).
func WithGateClock(fn func() time.Time) GateOption {
	return func(g *Gate) {
		if fn != nil {
			g.now = fn
		}
	}
}

// NewGate constructs a Gate around policy.
func NewGate(policy *Policy, events *seclog.Logger, opts ...GateOption) *Gate {
	g := &Gate{
		policy:     policy,
		events:     events,
		signInPath: "/signin",
		revalidate: 5 * time.Minute,
		now:        time.Now,
		state:      StateLoading,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Snapshot returns the current state, last result and retry count.
func (g *Gate) Snapshot() (State, Result, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, g.last, g.retries
}

// Validate runs the policy and applies the result unless a newer run has
// already completed. Concurrent callers with the same identity share one
// run.
func (g *Gate) Validate(ctx context.Context) Result {
	key := "ambient"
	if sess, ok := session.FromContext(ctx); ok {
		key = sess.UserID
	}
	v, _, _ := g.group.Do(key, func() (any, error) {
		g.mu.Lock()
		g.seq++
		seq := g.seq
		g.mu.Unlock()

		res := g.policy.ValidateAdminAccess(ctx)
		g.apply(ctx, seq, res)
		return res, nil
	})
	return v.(Result)
}

// apply installs the result of run seq; results from runs older than the
// newest accepted one are discarded so the most recent validation wins.
func (g *Gate) apply(ctx context.Context, seq uint64, res Result) {
	identity := ""
	if sess, ok := session.FromContext(ctx); ok {
		identity = sess.UserID
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if seq < g.applied {
		return
	}
	g.applied = seq
	g.last = res
	g.identity = identity
	g.validated = g.now()
	g.state = stateFor(res)
	if res.IsAdmin {
		g.retries = 0
	}
}

func stateFor(res Result) State {
	switch {
	case res.IsAdmin:
		return StateGranted
	case res.ShouldRetry:
		return StateDeniedError
	case res.HasValidSession:
		return StateDeniedAccess
	default:
		return StateRedirect
	}
}

// Retry re-enters validation from the error state. At most MaxRetries
// consecutive transient failures are allowed; afterwards the control
// stays disabled until a run succeeds. Plain denials (no session, not
// an admin) do not consume the budget, so unauthenticated callers
// cannot burn a real admin's retries during an outage.
func (g *Gate) Retry(ctx context.Context) (Result, error) {
	g.mu.Lock()
	if g.retries >= MaxRetries {
		g.mu.Unlock()
		return Result{}, ErrRetryExhausted
	}
	g.mu.Unlock()

	res := g.Validate(ctx)
	if res.ShouldRetry {
		g.mu.Lock()
		g.retries++
		g.mu.Unlock()
	}
	return res, nil
}

// SignOut destroys the ambient session and resets the gate.
func (g *Gate) SignOut(ctx context.Context) error {
	err := g.policy.SignOut(ctx)

	g.mu.Lock()
	g.state = StateRedirect
	g.last = Result{Reason: ReasonNoUser}
	g.identity = ""
	g.retries = 0
	g.mu.Unlock()

	g.events.Log(ctx, "admin_sign_out", nil)
	return err
}

// Start launches the periodic revalidation loop and returns a stop
// function. The loop is advisory: it catches server-side revocation
// between requests, it does not replace per-request checks.
func (g *Gate) Start(ctx context.Context) func() {
	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(g.revalidate)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				g.revalidateTick(runCtx)
			}
		}
	}()
	return cancel
}

// revalidateTick re-runs validation only while the gate currently holds
// a grant and the ambient store can still produce a session. Anything
// else would emit a spurious anonymous denial on every tick and push
// real entries out of the security event buffer; per-request validation
// keeps protecting every admin request regardless.
func (g *Gate) revalidateTick(ctx context.Context) {
	g.mu.Lock()
	granted := g.state == StateGranted
	g.mu.Unlock()
	if !granted {
		return
	}
	if _, err := g.policy.currentSession(ctx); err != nil {
		return
	}
	g.Validate(ctx)
}

// fresh reports whether the cached result may serve the given identity.
func (g *Gate) fresh(identity string) (Result, State, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateLoading {
		return Result{}, g.state, false
	}
	if g.identity != identity {
		return Result{}, g.state, false
	}
	if g.now().Sub(g.validated) >= g.revalidate {
		return Result{}, g.state, false
	}
	return g.last, g.state, true
}

// Middleware guards the wrapped handler. Every attempt is logged
// regardless of outcome; the response is one of exactly four shapes:
// pass-through, 403 denied, 302 to sign-in, or 503 with retry state.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := seclog.WithUserAgent(r.Context(), r.UserAgent())

		_, _, retries := g.Snapshot()
		g.events.Log(ctx, "admin_route_access_attempt", map[string]any{
			"path":        r.URL.Path,
			"retry_count": retries,
		})

		identity := ""
		if sess, ok := session.FromContext(ctx); ok {
			identity = sess.UserID
		}

		res, state, ok := g.fresh(identity)
		if !ok {
			res = g.Validate(ctx)
			state = stateFor(res)
		}

		switch state {
		case StateGranted:
			next.ServeHTTP(w, r.WithContext(ctx))
		case StateDeniedError:
			g.writeError(w, res)
		case StateDeniedAccess:
			writeGateJSON(w, http.StatusForbidden, map[string]any{
				"error":    "access denied",
				"reason":   res.Reason,
				"sign_out": "/admin/gate/signout",
			})
		default:
			g.redirectToSignIn(w, r)
		}
	})
}

func (g *Gate) writeError(w http.ResponseWriter, res Result) {
	_, _, retries := g.Snapshot()
	writeGateJSON(w, http.StatusServiceUnavailable, map[string]any{
		"error":       "admin validation failed",
		"reason":      res.Reason,
		"retry":       "/admin/gate/retry",
		"retry_count": retries,
		"retry_max":   MaxRetries,
	})
}

func (g *Gate) redirectToSignIn(w http.ResponseWriter, r *http.Request) {
	target := g.signInPath + "?redirect=" + url.QueryEscape(r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusFound)
}

func writeGateJSON(w http.ResponseWriter, code int, v map[string]any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
