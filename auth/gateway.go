// Package auth implements the credential gateway: signup, login, and the
// issuing and validation of the signed session tokens that gate the editor.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"retouch-complete/core"
)

var (
	// ErrConflict rejects a signup for an already registered email.
	ErrConflict = errors.New("email already registered")
	// ErrNotFound means no account matches the login email. Boundary code
	// must present it with the same message as ErrInvalidCredentials so the
	// response never reveals whether an email exists.
	ErrNotFound = errors.New("unknown email")
	// ErrInvalidCredentials means the password did not match the digest.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrValidation rejects empty email or password.
	ErrValidation = errors.New("email and password are required")
)

// TokenLifetime is how long a session token stays valid. Expiry is enforced
// by the verifier, not by client-side bookkeeping.
const TokenLifetime = time.Hour

const bcryptCost = 10

// Claims is the session token payload: the registered claims carry the user
// ID as subject plus issue/expiry times, and the email rides along so a
// session can be rebuilt without a store lookup.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Gateway performs signup, login, and token validation against a user
// store. Password digests never leave this package.
type Gateway struct {
	users    core.UserStore
	secret   []byte
	tokenTTL time.Duration
}

// NewGateway returns a gateway backed by users, signing tokens with secret.
func NewGateway(users core.UserStore, secret []byte) *Gateway {
	if len(secret) == 0 {
		logrus.Warn("JWT_SECRET is not set. Session tokens cannot be issued or validated.")
	}
	return &Gateway{
		users:    users,
		secret:   secret,
		tokenTTL: TokenLifetime,
	}
}

// Signup registers a new account and returns its first session with the
// signed token. A duplicate email fails with ErrConflict; the store's
// unique constraint is the authority, not a read-then-write check here.
func (g *Gateway) Signup(ctx context.Context, email, password string) (*core.Session, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, "", ErrValidation
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("hashing password: %w", err)
	}

	user := &core.User{
		ID:             ulid.Make().String(),
		Email:          email,
		PasswordDigest: digest,
		CreatedAt:      time.Now(),
	}
	if err := g.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, core.ErrEmailTaken) {
			return nil, "", ErrConflict
		}
		return nil, "", fmt.Errorf("creating user: %w", err)
	}

	logrus.WithFields(logrus.Fields{"user_id": user.ID, "email": email}).Info("User signed up")
	return g.issueSession(user)
}

// Login verifies the credentials and returns a fresh session with its
// token. ErrNotFound and ErrInvalidCredentials are distinguished for logs
// only; callers render one uniform failure.
func (g *Gateway) Login(ctx context.Context, email, password string) (*core.Session, string, error) {
	email = normalizeEmail(email)
	user, err := g.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			logrus.WithField("email", email).Info("Login attempt for unknown email")
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("looking up user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordDigest, []byte(password)); err != nil {
		logrus.WithField("user_id", user.ID).Info("Login attempt with wrong password")
		return nil, "", ErrInvalidCredentials
	}

	logrus.WithField("user_id", user.ID).Info("User logged in")
	return g.issueSession(user)
}

// Validate checks a token's signature and expiry. Invalid is a value, not
// an error: any verification failure simply means "no session".
func (g *Gateway) Validate(token string) (*core.Session, bool) {
	if token == "" {
		return nil, false
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, false
	}
	if claims.Subject == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, false
	}
	return &core.Session{
		UserID:    claims.Subject,
		Email:     claims.Email,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, true
}

// Logout ends a session. Tokens are stateless, so this only records the
// event; it succeeds even for tokens that were never valid.
func (g *Gateway) Logout(token string) {
	if session, ok := g.Validate(token); ok {
		logrus.WithField("user_id", session.UserID).Info("User logged out")
		return
	}
	logrus.Debug("Logout with absent or invalid token")
}

// Exists reports whether an email is registered. Unlike login this endpoint
// is allowed to reveal existence.
func (g *Gateway) Exists(ctx context.Context, email string) (bool, error) {
	_, err := g.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (g *Gateway) issueSession(user *core.User) (*core.Session, string, error) {
	now := time.Now()
	session := &core.Session{
		UserID:    user.ID,
		Email:     user.Email,
		IssuedAt:  now,
		ExpiresAt: now.Add(g.tokenTTL),
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
		Email: user.Email,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return nil, "", fmt.Errorf("signing session token: %w", err)
	}
	return session, token, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
