package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func validClaims() Claims {
	now := time.Now().UTC()
	return Claims{
		Email:       "ops@verano.shop",
		AppMetadata: AppMetadata{Role: "Admin"},
		SessionID:   "sess-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "verano-auth",
			Subject:   "user-42",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestParserRoundTrip(t *testing.T) {
	parser, err := NewParser(testSecret, "verano-auth")
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}

	sess, err := parser.Parse(signToken(t, validClaims()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if sess.UserID != "user-42" {
		t.Fatalf("unexpected user id: %s", sess.UserID)
	}
	if sess.Email != "ops@verano.shop" {
		t.Fatalf("unexpected email: %s", sess.Email)
	}
	if sess.Role != "admin" {
		t.Fatalf("role not normalized: %s", sess.Role)
	}
	if sess.SessionID != "sess-1" {
		t.Fatalf("unexpected session id: %s", sess.SessionID)
	}
}

func TestParserRejectsEmptyToken(t *testing.T) {
	parser, _ := NewParser(testSecret, "verano-auth")
	if _, err := parser.Parse("  "); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestParserRejectsWrongIssuer(t *testing.T) {
	parser, _ := NewParser(testSecret, "verano-auth")
	claims := validClaims()
	claims.Issuer = "someone-else"
	if _, err := parser.Parse(signToken(t, claims)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParserRejectsExpiredToken(t *testing.T) {
	parser, _ := NewParser(testSecret, "verano-auth")
	claims := validClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	if _, err := parser.Parse(signToken(t, claims)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

type fakeStore struct {
	sess  Session
	err   error
	calls int
}

func (f *fakeStore) Current(ctx context.Context) (Session, error) {
	f.calls++
	return f.sess, f.err
}

func (f *fakeStore) SignOut(ctx context.Context) error { return nil }

func TestCachedStoreServesFromCacheWithinTTL(t *testing.T) {
	inner := &fakeStore{sess: Session{
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	store := NewCachedStore(inner, 5*time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := store.Current(context.Background()); err != nil {
			t.Fatalf("Current: %v", err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected single upstream read, got %d", inner.calls)
	}
}

func TestCachedStoreRefreshesAfterTTL(t *testing.T) {
	inner := &fakeStore{sess: Session{
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	store := NewCachedStore(inner, 5*time.Minute)

	base := time.Now()
	store.now = func() time.Time { return base }
	if _, err := store.Current(context.Background()); err != nil {
		t.Fatalf("Current: %v", err)
	}
	store.now = func() time.Time { return base.Add(6 * time.Minute) }
	if _, err := store.Current(context.Background()); err != nil {
		t.Fatalf("Current: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected refresh after ttl, got %d calls", inner.calls)
	}
}

func TestCachedStoreDropsCacheOnSignOut(t *testing.T) {
	inner := &fakeStore{sess: Session{
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	store := NewCachedStore(inner, 5*time.Minute)

	if _, err := store.Current(context.Background()); err != nil {
		t.Fatalf("Current: %v", err)
	}
	if err := store.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, err := store.Current(context.Background()); err != nil {
		t.Fatalf("Current: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected upstream read after sign out, got %d", inner.calls)
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWith(context.Background(), Session{UserID: "user-9"})
	sess, ok := FromContext(ctx)
	if !ok || sess.UserID != "user-9" {
		t.Fatalf("session not round-tripped: %v %v", sess, ok)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("expected no session in empty context")
	}

	ctx = ContextWithToken(context.Background(), "tok")
	if tok, ok := TokenFromContext(ctx); !ok || tok != "tok" {
		t.Fatalf("token not round-tripped: %q %v", tok, ok)
	}
}
