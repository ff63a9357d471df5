package auth

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	authgw "retouch-complete/auth"
	"retouch-complete/core"
	"retouch-complete/editor"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// uniformLoginError is the only failure message login ever returns, so the
// response cannot reveal whether an email is registered.
const uniformLoginError = "Authentication failed"

// HandleSignup registers a new account and starts its first session.
func HandleSignup(gateway *authgw.Gateway, cookies *authgw.CookieStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var creds credentials
		if err := render.DecodeJSON(r.Body, &creds); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid JSON in request body"})
			return
		}

		session, token, err := gateway.Signup(r.Context(), creds.Email, creds.Password)
		if err != nil {
			switch {
			case errors.Is(err, authgw.ErrConflict):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, map[string]string{"error": "Email already exists"})
			case errors.Is(err, authgw.ErrValidation):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, map[string]string{"error": "Email and password are required"})
			default:
				logrus.WithError(err).Error("Signup failed")
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, map[string]string{"error": "Internal server error"})
			}
			return
		}

		cookies.Set(w, token, authgw.TokenLifetime)
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]any{"session": session})
	}
}

// HandleLogin verifies credentials and sets the session cookie. Unknown
// email and wrong password produce the identical response.
func HandleLogin(gateway *authgw.Gateway, cookies *authgw.CookieStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var creds credentials
		if err := render.DecodeJSON(r.Body, &creds); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid JSON in request body"})
			return
		}

		session, token, err := gateway.Login(r.Context(), creds.Email, creds.Password)
		if err != nil {
			if errors.Is(err, authgw.ErrNotFound) || errors.Is(err, authgw.ErrInvalidCredentials) {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": uniformLoginError})
				return
			}
			logrus.WithError(err).Error("Login failed")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Internal server error"})
			return
		}

		cookies.Set(w, token, authgw.TokenLifetime)
		render.JSON(w, r, map[string]any{
			"user": map[string]string{"id": session.UserID, "email": session.Email},
		})
	}
}

// HandleSession is the session check behind GET /auth: it validates the
// cookie and returns the account it belongs to.
func HandleSession(gateway *authgw.Gateway, cookies *authgw.CookieStore, users core.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := cookies.Get(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Not authenticated"})
			return
		}
		session, valid := gateway.Validate(token)
		if !valid {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Not authenticated"})
			return
		}

		user, err := users.GetUserByID(r.Context(), session.UserID)
		if err != nil {
			if errors.Is(err, core.ErrUserNotFound) {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Not authenticated"})
				return
			}
			logrus.WithError(err).WithField("user_id", session.UserID).Error("Failed to load user for session check")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Internal server error"})
			return
		}
		render.JSON(w, r, user)
	}
}

// HandleLogout clears the session cookie and drops the user's editor
// workflow. It succeeds even when there is no valid session.
func HandleLogout(gateway *authgw.Gateway, cookies *authgw.CookieStore, workflows *editor.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, _ := cookies.Get(r)
		if session, ok := gateway.Validate(token); ok {
			workflows.Drop(session.UserID)
		}
		gateway.Logout(token)
		cookies.Clear(w)
		render.JSON(w, r, map[string]string{"message": "Logged out successfully"})
	}
}

// HandleExists answers PUT /auth: whether an email is already registered.
func HandleExists(gateway *authgw.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email string `json:"email"`
		}
		if err := render.DecodeJSON(r.Body, &body); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid JSON in request body"})
			return
		}
		exists, err := gateway.Exists(r.Context(), body.Email)
		if err != nil {
			logrus.WithError(err).Error("User existence check failed")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "User check failed"})
			return
		}
		render.JSON(w, r, map[string]bool{"exists": exists})
	}
}
