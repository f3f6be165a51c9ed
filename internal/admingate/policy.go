package admingate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"verano.shop/internal/obs"
	"verano.shop/internal/seclog"
	"verano.shop/internal/session"
)

// RoleAdmin is the role claim value required for elevated access.
const RoleAdmin = "admin"

// Denial reasons. Policy denials are expected outcomes, not bugs;
// the two *_error reasons mark transient infrastructure failure.
const (
	ReasonNoUser              = "no_user"
	ReasonEmailNotWhitelisted = "email_not_whitelisted"
	ReasonInvalidRole         = "invalid_role"
	ReasonSessionInvalid      = "session_invalid"
	ReasonValidationError     = "validation_error"
)

// Result is the transient outcome of one validation run. It is
// recomputed on every run and never persisted.
type Result struct {
	IsAdmin         bool   `json:"is_admin"`
	HasValidSession bool   `json:"has_valid_session"`
	Reason          string `json:"reason,omitempty"`
	ShouldRetry     bool   `json:"should_retry,omitempty"`
	Err             string `json:"error,omitempty"`
}

// Prober is the minimal read used to confirm the session can actually
// reach the data store. Not a business read.
type Prober interface {
	Probe(ctx context.Context) error
}

// Policy decides, given the ambient session, whether admin content may be
// reached. All failures are normalized into a Result; nothing propagates
// past this boundary.
type Policy struct {
	sessions     session.Store
	allow        Allowlist
	prober       Prober
	events       *seclog.Logger
	probeTimeout time.Duration
}

// NewPolicy constructs a Policy.
func NewPolicy(sessions session.Store, allow Allowlist, prober Prober, events *seclog.Logger, probeTimeout time.Duration) *Policy {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Policy{
		sessions:     sessions,
		allow:        allow,
		prober:       prober,
		events:       events,
		probeTimeout: probeTimeout,
	}
}

// ValidateAdminAccess runs the decision procedure. Check order is
// significant: purely local checks (session presence, allowlist, role
// claim) run before the data store round-trip, so a locally-deniable
// request never incurs network cost. Every branch emits exactly one
// security event.
func (p *Policy) ValidateAdminAccess(ctx context.Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Reason:      ReasonValidationError,
				ShouldRetry: true,
				Err:         fmt.Sprintf("validation panic: %v", r),
			}
			p.events.Log(ctx, "admin_access_exception", map[string]any{
				"error": res.Err,
			})
			obs.ObserveGateDecision("denied", res.Reason)
		}
	}()

	sess, err := p.currentSession(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) || errors.Is(err, session.ErrInvalidToken) {
			res = Result{Reason: ReasonNoUser}
			p.events.Log(ctx, "admin_access_denied", map[string]any{
				"reason": ReasonNoUser,
			})
			obs.ObserveGateDecision("denied", res.Reason)
			return res
		}
		res = Result{Reason: ReasonSessionInvalid, ShouldRetry: true, Err: err.Error()}
		p.events.Log(ctx, "admin_access_denied", map[string]any{
			"reason": ReasonSessionInvalid,
			"error":  err.Error(),
		})
		obs.ObserveGateDecision("denied", res.Reason)
		return res
	}
	if sess.UserID == "" {
		res = Result{Reason: ReasonNoUser}
		p.events.Log(ctx, "admin_access_denied", map[string]any{
			"reason": ReasonNoUser,
		})
		obs.ObserveGateDecision("denied", res.Reason)
		return res
	}

	// Subsequent events carry the actor.
	ctx = session.ContextWith(ctx, sess)

	if !p.allow.Contains(sess.Email) {
		res = Result{HasValidSession: true, Reason: ReasonEmailNotWhitelisted}
		p.events.Log(ctx, "admin_access_denied", map[string]any{
			"reason": ReasonEmailNotWhitelisted,
			"email":  sess.Email,
		})
		obs.ObserveGateDecision("denied", res.Reason)
		return res
	}

	if sess.Role != RoleAdmin {
		res = Result{HasValidSession: true, Reason: ReasonInvalidRole}
		p.events.Log(ctx, "admin_access_denied", map[string]any{
			"reason": ReasonInvalidRole,
			"role":   sess.Role,
		})
		obs.ObserveGateDecision("denied", res.Reason)
		return res
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()
	if err := p.prober.Probe(probeCtx); err != nil {
		res = Result{HasValidSession: true, Reason: ReasonValidationError, ShouldRetry: true, Err: err.Error()}
		p.events.Log(ctx, "admin_access_denied", map[string]any{
			"reason": ReasonValidationError,
			"error":  err.Error(),
		})
		obs.ObserveGateDecision("denied", res.Reason)
		return res
	}

	res = Result{IsAdmin: true, HasValidSession: true}
	p.events.Log(ctx, "admin_access_granted", map[string]any{
		"email": sess.Email,
		"role":  sess.Role,
	})
	obs.ObserveGateDecision("granted", "")
	return res
}

// currentSession prefers the request-scoped session over the ambient
// store, so the network fetch only happens for timer-driven runs.
func (p *Policy) currentSession(ctx context.Context) (session.Session, error) {
	if sess, ok := session.FromContext(ctx); ok {
		if sess.Expired(time.Now()) {
			return session.Session{}, session.ErrNoSession
		}
		return sess, nil
	}
	return p.sessions.Current(ctx)
}

// SignOut forwards to the session store.
func (p *Policy) SignOut(ctx context.Context) error {
	return p.sessions.SignOut(ctx)
}
