package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sakif/nearby/internal/session"
)

// CookieName is the cookie that carries the session token.
const CookieName = "session"

// contextKey is unexported so no other package can read or overwrite the
// values stored under it.
type contextKey string

const (
	sessionKey contextKey = "session"
	tokenKey   contextKey = "sessionToken"
)

// Resolver is the part of *session.Resolver the middleware needs.
type Resolver interface {
	Require(token string) (*session.Session, error)
}

// Session attaches the caller's session to the request context when a valid
// token is presented, and otherwise lets the request through anonymously.
// Handlers that need a login check SessionFromContext, or sit behind
// RequireSession.
//
// The token is read from the "session" HttpOnly cookie, or from an
// "Authorization: Bearer" header for non-browser clients.
func Session(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token != "" {
				ctx := context.WithValue(r.Context(), tokenKey, token)
				if sess, err := resolver.Require(token); err == nil {
					ctx = context.WithValue(ctx, sessionKey, sess)
				}
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession rejects anonymous requests with 401. It must run after
// Session.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SessionFromContext(r.Context()); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized","message":"authentication required"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionFromContext returns the caller's session, if any.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(*session.Session)
	return sess, ok && sess != nil
}

// TokenFromContext returns the raw token the caller presented, valid or not.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

// TokenFromRequest extracts the session token from the cookie or the
// Authorization header. The cookie wins when both are present.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// WithSession returns a copy of ctx carrying sess. Tests use it to call
// handlers without going through Session.
func WithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}
