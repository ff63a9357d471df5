package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"retouch-complete/core"
)

type contextKey string

// SessionContextKey holds the validated *core.Session for the request.
const SessionContextKey = contextKey("session")

// TokenValidator turns a raw token into a session, or reports it invalid.
type TokenValidator interface {
	Validate(token string) (*core.Session, bool)
}

// TokenSource extracts the raw session token from a request.
type TokenSource interface {
	Get(r *http.Request) (string, bool)
}

// SessionAuth validates the session token on every request and places the
// resulting session in the context. The token is read from the session
// cookie, with an Authorization bearer header as fallback for non-browser
// clients. An invalid token is treated as no session, never as a server
// error.
func SessionAuth(tokens TokenSource, validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := tokens.Get(r)
			if !ok {
				token, ok = bearerToken(r)
			}
			if !ok {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Authentication required"})
				return
			}

			session, valid := validator.Validate(token)
			if !valid {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Authentication required"})
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext returns the session the middleware stored, if any.
func SessionFromContext(ctx context.Context) (*core.Session, bool) {
	session, ok := ctx.Value(SessionContextKey).(*core.Session)
	return session, ok
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}
