package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSession indicates that no credential bundle is present at all.
	ErrNoSession = errors.New("session: no session")
	// ErrInvalidToken indicates the access token failed validation.
	ErrInvalidToken = errors.New("session: invalid token")
)

// Session is a cached read of the external auth provider's credential
// bundle. Ownership stays with the provider; this value is never written
// back.
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at time now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// AppMetadata mirrors the provider-managed metadata object on the token.
type AppMetadata struct {
	Role string `json:"role"`
}

// Claims are the provider token claims this service consumes.
type Claims struct {
	Email       string      `json:"email"`
	AppMetadata AppMetadata `json:"app_metadata"`
	SessionID   string      `json:"session_id"`
	jwt.RegisteredClaims
}

// Parser validates provider access tokens signed with HS256.
type Parser struct {
	secret []byte
	issuer string
}

// NewParser constructs a Parser for the given shared secret and issuer.
func NewParser(secret, issuer string) (*Parser, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("session: auth secret is required")
	}
	return &Parser{secret: []byte(secret), issuer: strings.TrimSpace(issuer)}, nil
}

// Parse verifies the token signature and required claims and returns the
// session it describes.
func (p *Parser) Parse(token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrNoSession
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return p.secret, nil
	})
	if err != nil {
		return Session{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Session{}, ErrInvalidToken
	}
	if err := p.validateClaims(claims); err != nil {
		return Session{}, ErrInvalidToken
	}

	sess := Session{
		UserID:    claims.Subject,
		Email:     strings.TrimSpace(claims.Email),
		Role:      strings.TrimSpace(strings.ToLower(claims.AppMetadata.Role)),
		SessionID: claims.SessionID,
	}
	if claims.IssuedAt != nil {
		sess.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time
	}
	return sess, nil
}

func (p *Parser) validateClaims(claims *Claims) error {
	if p.issuer != "" && claims.Issuer != p.issuer {
		return errors.New("unexpected issuer")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := time.Now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	return nil
}
