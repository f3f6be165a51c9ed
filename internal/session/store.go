package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Store gives access to the ambient session held by the external auth
// provider. "Get current session" and "sign out" are the only operations
// this service consumes.
type Store interface {
	Current(ctx context.Context) (Session, error)
	SignOut(ctx context.Context) error
}

// TokenStore resolves the ambient session by parsing the access token it
// was constructed with. It never performs network I/O.
type TokenStore struct {
	parser *Parser
	token  string
}

// NewTokenStore wraps a raw bearer token as a Store.
func NewTokenStore(parser *Parser, token string) *TokenStore {
	return &TokenStore{parser: parser, token: token}
}

func (s *TokenStore) Current(ctx context.Context) (Session, error) {
	return s.parser.Parse(s.token)
}

func (s *TokenStore) SignOut(ctx context.Context) error {
	s.token = ""
	return nil
}

// Client talks to the external auth provider over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient constructs a provider client for the given base URL and
// bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) Current(ctx context.Context) (Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("session: fetch current: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return Session{}, ErrNoSession
	default:
		return Session{}, fmt.Errorf("session: provider returned %d", resp.StatusCode)
	}

	var sess Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return Session{}, fmt.Errorf("session: decode response: %w", err)
	}
	if sess.UserID == "" {
		return Session{}, ErrNoSession
	}
	return sess, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/v1/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("session: sign out: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("session: provider returned %d", resp.StatusCode)
	}
	return nil
}

// CachedStore wraps a Store with a time-bounded cache. The cached value
// is a read optimization only and is overwritten by every refresh.
type CachedStore struct {
	inner Store
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	cached  Session
	fetched time.Time
	valid   bool
}

// NewCachedStore caches reads of inner for ttl.
func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{inner: inner, ttl: ttl, now: time.Now}
}

func (s *CachedStore) Current(ctx context.Context) (Session, error) {
	s.mu.Lock()
	if s.valid && s.now().Sub(s.fetched) < s.ttl && !s.cached.Expired(s.now()) {
		sess := s.cached
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	sess, err := s.inner.Current(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.valid = false
		return Session{}, err
	}
	s.cached = sess
	s.fetched = s.now()
	s.valid = true
	return sess, nil
}

func (s *CachedStore) SignOut(ctx context.Context) error {
	s.mu.Lock()
	s.valid = false
	s.cached = Session{}
	s.mu.Unlock()
	return s.inner.SignOut(ctx)
}
