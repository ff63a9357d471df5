package core

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserNotFound is returned by stores when no account matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken is returned by stores when the unique-email constraint
	// rejects a new account.
	ErrEmailTaken = errors.New("email already registered")
)

type (
	// User is a registered account. PasswordDigest never leaves the auth
	// package and is never serialized into responses.
	User struct {
		ID             string    `json:"id"`
		Email          string    `json:"email"`
		PasswordDigest []byte    `json:"-"`
		CreatedAt      time.Time `json:"createdAt"`
	}

	// Session is the authenticated identity carried by a signed token.
	// It is either fully populated or absent, never partial.
	Session struct {
		UserID    string    `json:"userId"`
		Email     string    `json:"email"`
		IssuedAt  time.Time `json:"issuedAt"`
		ExpiresAt time.Time `json:"expiresAt"`
	}

	// UserStore defines the persistence layer for accounts. Email uniqueness
	// is enforced by the store itself (unique constraint), not by callers
	// doing a read-then-write.
	UserStore interface {
		// CreateUser persists a new account. Returns ErrEmailTaken if the
		// email is already registered.
		CreateUser(ctx context.Context, user *User) error

		// GetUserByEmail returns the account for an email, or ErrUserNotFound.
		GetUserByEmail(ctx context.Context, email string) (*User, error)

		// GetUserByID returns the account for an ID, or ErrUserNotFound.
		GetUserByID(ctx context.Context, id string) (*User, error)
	}
)
