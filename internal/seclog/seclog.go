// Package seclog records access-control decisions. Logging is best-effort:
// a failure to record or ship an event never fails the caller's operation.
package seclog

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"verano.shop/internal/obs"
	"verano.shop/internal/session"
)

const (
	// Ring buffer keeps the newest entries for the admin security page.
	bufferCap = 100

	// Per (actor, event) key: at most limitBurst emissions per limitWindow.
	limitWindow = 60 * time.Second
	limitBurst  = 10

	maxLimiterKeys = 1024
)

// Event is an append-only record of an access-control-relevant occurrence.
type Event struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id,omitempty"`
	UserEmail string         `json:"user_email,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// keyWindow tracks the emission times of one (actor, event) key inside
// the sliding window, oldest first.
type keyWindow struct {
	times []time.Time
	seen  time.Time
}

// Logger buffers events locally and, in production mode, ships them to a
// remote collector.
type Logger struct {
	remoteURL  string
	production bool
	client     *http.Client
	now        func() time.Time

	mu      sync.Mutex
	buf     []Event
	windows map[string]*keyWindow
}

// Option configures Logger.
type Option func(*Logger)

// WithRemote enables the remote collector endpoint.
func WithRemote(url string) Option {
	return func(l *Logger) { l.remoteURL = strings.TrimSpace(url) }
}

// WithProduction toggles shipping to the remote collector.
func WithProduction(on bool) Option {
	return func(l *Logger) { l.production = on }
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Logger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New constructs a Logger.
func New(opts ...Option) *Logger {
	l := &Logger{
		client:  &http.Client{Timeout: 3 * time.Second},
		now:     time.Now,
		buf:     make([]Event, 0, bufferCap),
		windows: make(map[string]*keyWindow),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type ctxKey string

const userAgentKey ctxKey = "seclog_user_agent"

// WithUserAgent attaches the caller's user agent for subsequent Log calls.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return ctx
	}
	return context.WithValue(ctx, userAgentKey, ua)
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(userAgentKey).(string); ok {
		return v
	}
	return ""
}

// Log records a security event, enriched with the session and user agent
// found in ctx. Fire-and-forget: it never returns an error and never
// panics past its own boundary.
func (l *Logger) Log(ctx context.Context, event string, details map[string]any) {
	defer func() {
		_ = recover()
	}()

	event = strings.TrimSpace(event)
	if event == "" {
		return
	}

	evt := Event{
		Event:     event,
		Timestamp: l.now().UTC(),
		UserAgent: userAgentFromContext(ctx),
	}
	if sess, ok := session.FromContext(ctx); ok {
		evt.UserID = sess.UserID
		evt.UserEmail = sess.Email
		evt.SessionID = sess.SessionID
	}
	if len(details) > 0 {
		copied := make(map[string]any, len(details))
		for k, v := range details {
			copied[k] = v
		}
		evt.Details = copied
	}

	if !l.allow(evt.UserID, event) {
		obs.ObserveSecurityEventDropped()
		obs.Logger().Println(`{"type":"security","level":"warn","msg":"event rate limited","event":"` + event + `"}`)
		return
	}

	l.append(evt)
	l.emitLocal(evt)

	if l.production && l.remoteURL != "" {
		go l.ship(evt)
	}
}

// Events returns a snapshot of the buffered events, oldest first.
func (l *Logger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.buf))
	copy(out, l.buf)
	return out
}

// Clear drops all buffered events.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = l.buf[:0]
}

func (l *Logger) append(evt Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) >= bufferCap {
		copy(l.buf, l.buf[1:])
		l.buf = l.buf[:len(l.buf)-1]
	}
	l.buf = append(l.buf, evt)
}

// allow applies a sliding window per key: an emission passes only while
// fewer than limitBurst emissions happened during the past limitWindow.
func (l *Logger) allow(actorID, event string) bool {
	if actorID == "" {
		actorID = "anonymous"
	}
	key := actorID + ":" + event

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok {
		if len(l.windows) >= maxLimiterKeys {
			l.pruneLocked()
		}
		w = &keyWindow{}
		l.windows[key] = w
	}
	w.seen = now

	cutoff := now.Add(-limitWindow)
	expired := 0
	for expired < len(w.times) && !w.times[expired].After(cutoff) {
		expired++
	}
	if expired > 0 {
		w.times = append(w.times[:0], w.times[expired:]...)
	}

	if len(w.times) >= limitBurst {
		return false
	}
	w.times = append(w.times, now)
	return true
}

// pruneLocked evicts keys idle longer than the window.
func (l *Logger) pruneLocked() {
	cutoff := l.now().Add(-limitWindow)
	for k, w := range l.windows {
		if w.seen.Before(cutoff) {
			delete(l.windows, k)
		}
	}
}

func (l *Logger) emitLocal(evt Event) {
	entry := map[string]any{
		"ts":    evt.Timestamp.Format(time.RFC3339Nano),
		"type":  "security",
		"event": evt.Event,
	}
	if evt.UserID != "" {
		entry["user_id"] = evt.UserID
	}
	if evt.UserEmail != "" {
		entry["user_email"] = evt.UserEmail
	}
	if evt.SessionID != "" {
		entry["session_id"] = evt.SessionID
	}
	if evt.UserAgent != "" {
		entry["user_agent"] = evt.UserAgent
	}
	if len(evt.Details) > 0 {
		entry["details"] = evt.Details
	} else {
		entry["details"] = map[string]any{}
	}
	obs.LogRequest(entry)
}

func (l *Logger) ship(evt Event) {
	defer func() {
		_ = recover()
	}()
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	req, err := http.NewRequest(http.MethodPost, l.remoteURL, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := l.client.Do(req)
	if err != nil {
		return
	}
	// Response body is not consumed beyond draining the connection.
	_ = resp.Body.Close()
}
