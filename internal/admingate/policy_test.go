package admingate

import (
	"context"
	"errors"
	"testing"
	"time"

	"verano.shop/internal/seclog"
	"verano.shop/internal/session"
)

type fakeSessions struct {
	sess session.Session
	err  error
}

func (f *fakeSessions) Current(ctx context.Context) (session.Session, error) {
	return f.sess, f.err
}

func (f *fakeSessions) SignOut(ctx context.Context) error { return nil }

type fakeProber struct {
	err   error
	calls int
}

func (f *fakeProber) Probe(ctx context.Context) error {
	f.calls++
	return f.err
}

func adminSession() session.Session {
	return session.Session{
		UserID:    "user-42",
		Email:     "pamacomkb@gmail.com",
		Role:      "admin",
		SessionID: "sess-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func newTestPolicy(sessions session.Store, prober Prober) (*Policy, *seclog.Logger) {
	events := seclog.New()
	policy := NewPolicy(sessions, DefaultAllowlist(), prober, events, time.Second)
	return policy, events
}

func requireEvents(t *testing.T, events *seclog.Logger, names ...string) {
	t.Helper()
	got := events.Events()
	if len(got) != len(names) {
		t.Fatalf("expected %d events, got %d: %+v", len(names), len(got), got)
	}
	for i, name := range names {
		if got[i].Event != name {
			t.Fatalf("event %d: expected %s, got %s", i, name, got[i].Event)
		}
	}
}

func TestValidateDeniesWithoutSession(t *testing.T) {
	policy, events := newTestPolicy(&fakeSessions{err: session.ErrNoSession}, &fakeProber{})

	res := policy.ValidateAdminAccess(context.Background())

	if res.IsAdmin || res.HasValidSession {
		t.Fatalf("expected denial, got %+v", res)
	}
	if res.Reason != ReasonNoUser {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
	if res.ShouldRetry {
		t.Fatal("policy denial must not be retryable")
	}
	requireEvents(t, events, "admin_access_denied")
}

func TestValidateDeniesEmailNotWhitelisted(t *testing.T) {
	sess := adminSession()
	sess.Email = "shopper@example.com"
	prober := &fakeProber{}
	policy, events := newTestPolicy(&fakeSessions{sess: sess}, prober)

	res := policy.ValidateAdminAccess(context.Background())

	if res.IsAdmin {
		t.Fatal("expected denial")
	}
	if !res.HasValidSession {
		t.Fatal("session was valid")
	}
	if res.Reason != ReasonEmailNotWhitelisted {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
	if prober.calls != 0 {
		t.Fatal("locally-deniable request must not hit the data store")
	}
	requireEvents(t, events, "admin_access_denied")
	if events.Events()[0].Details["email"] != "shopper@example.com" {
		t.Fatalf("denial event must carry the email: %+v", events.Events()[0].Details)
	}
}

func TestValidateAllowlistIgnoresCaseAndWhitespace(t *testing.T) {
	sess := adminSession()
	sess.Email = "  PAMACOMKB@GMAIL.COM  "
	policy, _ := newTestPolicy(&fakeSessions{sess: sess}, &fakeProber{})

	res := policy.ValidateAdminAccess(context.Background())
	if !res.IsAdmin {
		t.Fatalf("expected grant, got %+v", res)
	}
}

func TestValidateDeniesInvalidRole(t *testing.T) {
	sess := adminSession()
	sess.Role = "viewer"
	prober := &fakeProber{}
	policy, events := newTestPolicy(&fakeSessions{sess: sess}, prober)

	res := policy.ValidateAdminAccess(context.Background())

	if res.IsAdmin {
		t.Fatal("expected denial")
	}
	if res.Reason != ReasonInvalidRole {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
	if prober.calls != 0 {
		t.Fatal("role check precedes the data store probe")
	}
	requireEvents(t, events, "admin_access_denied")
	if events.Events()[0].Details["role"] != "viewer" {
		t.Fatalf("denial event must carry the observed role: %+v", events.Events()[0].Details)
	}
}

func TestValidateAllowlistPrecedesRoleCheck(t *testing.T) {
	sess := adminSession()
	sess.Email = "shopper@example.com"
	sess.Role = "viewer"
	policy, _ := newTestPolicy(&fakeSessions{sess: sess}, &fakeProber{})

	res := policy.ValidateAdminAccess(context.Background())
	if res.Reason != ReasonEmailNotWhitelisted {
		t.Fatalf("allowlist must be checked first, got %s", res.Reason)
	}
}

func TestValidateSessionFetchErrorIsRetryable(t *testing.T) {
	policy, events := newTestPolicy(&fakeSessions{err: errors.New("provider down")}, &fakeProber{})

	res := policy.ValidateAdminAccess(context.Background())

	if res.Reason != ReasonSessionInvalid {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
	if !res.ShouldRetry {
		t.Fatal("infrastructure failure must be retryable")
	}
	if res.Err == "" {
		t.Fatal("error message must be carried")
	}
	requireEvents(t, events, "admin_access_denied")
}

func TestValidateProbeFailureIsRetryable(t *testing.T) {
	policy, events := newTestPolicy(&fakeSessions{sess: adminSession()}, &fakeProber{err: errors.New("connection refused")})

	res := policy.ValidateAdminAccess(context.Background())

	if res.IsAdmin {
		t.Fatal("expected denial")
	}
	if res.Reason != ReasonValidationError || !res.ShouldRetry {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !res.HasValidSession {
		t.Fatal("session itself was valid")
	}
	requireEvents(t, events, "admin_access_denied")
}

func TestValidateGrantsAdmin(t *testing.T) {
	prober := &fakeProber{}
	policy, events := newTestPolicy(&fakeSessions{sess: adminSession()}, prober)

	res := policy.ValidateAdminAccess(context.Background())

	if !res.IsAdmin || !res.HasValidSession {
		t.Fatalf("expected grant, got %+v", res)
	}
	if prober.calls != 1 {
		t.Fatalf("expected exactly one probe, got %d", prober.calls)
	}
	requireEvents(t, events, "admin_access_granted")
	details := events.Events()[0].Details
	if details["email"] != "pamacomkb@gmail.com" || details["role"] != "admin" {
		t.Fatalf("grant event incomplete: %+v", details)
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	policy, _ := newTestPolicy(&fakeSessions{sess: adminSession()}, &fakeProber{})

	first := policy.ValidateAdminAccess(context.Background())
	second := policy.ValidateAdminAccess(context.Background())
	if first != second {
		t.Fatalf("results differ: %+v vs %+v", first, second)
	}
}

func TestValidatePrefersContextSession(t *testing.T) {
	store := &fakeSessions{err: errors.New("must not be called")}
	policy, _ := newTestPolicy(store, &fakeProber{})

	ctx := session.ContextWith(context.Background(), adminSession())
	res := policy.ValidateAdminAccess(ctx)
	if !res.IsAdmin {
		t.Fatalf("expected grant from context session, got %+v", res)
	}
}

type panickyProber struct{}

func (panickyProber) Probe(ctx context.Context) error { panic("boom") }

func TestValidateConvertsPanicToRetryableDenial(t *testing.T) {
	policy, events := newTestPolicy(&fakeSessions{sess: adminSession()}, panickyProber{})

	res := policy.ValidateAdminAccess(context.Background())

	if res.IsAdmin {
		t.Fatal("expected denial")
	}
	if res.Reason != ReasonValidationError || !res.ShouldRetry {
		t.Fatalf("unexpected result: %+v", res)
	}
	requireEvents(t, events, "admin_access_exception")
}
