package seclog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"verano.shop/internal/session"
)

func TestLogBuffersAndEnrichesFromContext(t *testing.T) {
	logger := New()

	ctx := session.ContextWith(context.Background(), session.Session{
		UserID:    "user-42",
		Email:     "ops@verano.shop",
		SessionID: "sess-1",
	})
	ctx = WithUserAgent(ctx, "seclog-test")

	logger.Log(ctx, "admin_access_granted", map[string]any{"role": "admin"})

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	evt := events[0]
	if evt.Event != "admin_access_granted" {
		t.Fatalf("unexpected event: %s", evt.Event)
	}
	if evt.UserID != "user-42" || evt.UserEmail != "ops@verano.shop" || evt.SessionID != "sess-1" {
		t.Fatalf("actor not enriched: %+v", evt)
	}
	if evt.UserAgent != "seclog-test" {
		t.Fatalf("user agent not enriched: %+v", evt)
	}
	if evt.Details["role"] != "admin" {
		t.Fatalf("details missing: %+v", evt.Details)
	}
}

func TestLogIgnoresEmptyEventName(t *testing.T) {
	logger := New()
	logger.Log(context.Background(), "   ", nil)
	if got := len(logger.Events()); got != 0 {
		t.Fatalf("expected no events, got %d", got)
	}
}

func TestRingBufferEvictsOldest(t *testing.T) {
	logger := New()
	ctx := context.Background()

	for i := 0; i < bufferCap+5; i++ {
		// Distinct actors keep the rate limiter out of the way.
		actorCtx := session.ContextWith(ctx, session.Session{UserID: fmt.Sprintf("user-%d", i)})
		logger.Log(actorCtx, "admin_route_access_attempt", map[string]any{"n": i})
	}

	events := logger.Events()
	if len(events) != bufferCap {
		t.Fatalf("expected %d events, got %d", bufferCap, len(events))
	}
	if events[0].Details["n"] != 5 {
		t.Fatalf("oldest entries not evicted, first is %v", events[0].Details["n"])
	}
	if events[len(events)-1].Details["n"] != bufferCap+4 {
		t.Fatalf("newest entry missing, last is %v", events[len(events)-1].Details["n"])
	}
}

func TestRateLimitDropsExcessSilently(t *testing.T) {
	logger := New()
	ctx := session.ContextWith(context.Background(), session.Session{UserID: "user-1"})

	for i := 0; i < 15; i++ {
		logger.Log(ctx, "admin_access_denied", nil)
	}

	if got := len(logger.Events()); got != limitBurst {
		t.Fatalf("expected %d recorded events, got %d", limitBurst, got)
	}
}

func TestRateLimitCapsSpacedEmissionsWithinWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	logger := New(WithClock(func() time.Time { return now }))
	ctx := session.ContextWith(context.Background(), session.Session{UserID: "user-1"})

	// 15 emissions at 4s intervals all land inside one 60s window.
	for i := 0; i < 15; i++ {
		logger.Log(ctx, "admin_access_denied", nil)
		now = now.Add(4 * time.Second)
	}

	if got := len(logger.Events()); got != limitBurst {
		t.Fatalf("expected %d recorded events, got %d", limitBurst, got)
	}

	// Once the oldest emission ages past the window the key recovers.
	now = now.Add(limitWindow)
	logger.Log(ctx, "admin_access_denied", nil)
	if got := len(logger.Events()); got != limitBurst+1 {
		t.Fatalf("expected recovery after the window, got %d events", got)
	}
}

func TestRateLimitKeysAreIndependent(t *testing.T) {
	logger := New()
	ctx := session.ContextWith(context.Background(), session.Session{UserID: "user-1"})

	for i := 0; i < 12; i++ {
		logger.Log(ctx, "admin_access_denied", nil)
	}
	logger.Log(ctx, "admin_access_granted", nil)

	events := logger.Events()
	if len(events) != limitBurst+1 {
		t.Fatalf("expected %d events, got %d", limitBurst+1, len(events))
	}
	if events[len(events)-1].Event != "admin_access_granted" {
		t.Fatalf("independent key was limited: %s", events[len(events)-1].Event)
	}
}

func TestProductionShipsToRemoteCollector(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt Event
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			t.Errorf("decode shipped event: %v", err)
		}
		received <- evt
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	logger := New(WithRemote(srv.URL), WithProduction(true))
	logger.Log(context.Background(), "admin_access_denied", map[string]any{"reason": "no_user"})

	select {
	case evt := <-received:
		if evt.Event != "admin_access_denied" {
			t.Fatalf("unexpected shipped event: %s", evt.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event was not shipped to the collector")
	}
}

func TestRemoteFailureIsSwallowed(t *testing.T) {
	logger := New(WithRemote("http://127.0.0.1:1"), WithProduction(true))
	logger.Log(context.Background(), "admin_access_denied", nil)

	if got := len(logger.Events()); got != 1 {
		t.Fatalf("local record must survive remote failure, got %d", got)
	}
}

func TestClear(t *testing.T) {
	logger := New()
	logger.Log(context.Background(), "admin_access_denied", nil)
	logger.Clear()
	if got := len(logger.Events()); got != 0 {
		t.Fatalf("expected empty buffer, got %d", got)
	}
}
