package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"verano.shop/internal/session"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withSession attaches the caller's session to the request context when
// a valid bearer token is present. It never rejects on its own: public
// endpoints do not need a session and the admin gate makes its own
// decision, logging a security event for anything suspicious.
func (a *API) withSession(next http.Handler) http.Handler {
	if a == nil || a.parser == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		sess, err := a.parser.Parse(token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := session.ContextWith(r.Context(), sess)
		ctx = session.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
