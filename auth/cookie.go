package auth

import (
	"net/http"
	"time"
)

const sessionCookieName = "session_token"

// CookieStore carries the session token between requests. It is the only
// place that knows the session rides in a cookie; everything past the
// boundary works with the token string or the validated Session.
type CookieStore struct {
	secure bool
}

// NewCookieStore returns a store. secure should be true behind TLS so the
// cookie is never sent over plain HTTP.
func NewCookieStore(secure bool) *CookieStore {
	return &CookieStore{secure: secure}
}

// Get reads the session token from the request, if present.
func (s *CookieStore) Get(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// Set attaches the session token to the response.
func (s *CookieStore) Set(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Clear removes the session token from the client.
func (s *CookieStore) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteStrictMode,
	})
}
