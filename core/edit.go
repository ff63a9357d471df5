package core

import (
	"context"
	"errors"
	"time"
)

// ErrEditNotFound is returned by stores when no saved result matches.
var ErrEditNotFound = errors.New("edit result not found")

type (
	// EditResult is a generated image a user chose to keep, together with
	// the prompt history that produced it.
	EditResult struct {
		ID        string    `json:"id"`
		UserID    string    `json:"-"` // Not exposed in JSON responses, used internally.
		Prompt    string    `json:"prompt"`
		History   []string  `json:"history,omitempty"`
		Image     []byte    `json:"image,omitempty"` // PNG bytes, not included in list views.
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// EditStore defines the persistence layer for saved results.
	// All operations are scoped to a specific user.
	EditStore interface {
		// List returns metadata for all saved results owned by a user.
		// The returned results should not contain the Image blob to keep
		// the response light.
		List(ctx context.Context, userID string) ([]*EditResult, error)

		// Get returns a single saved result, ensuring it belongs to the user.
		Get(ctx context.Context, userID, id string) (*EditResult, error)

		// Save creates or updates a saved result for a user.
		Save(ctx context.Context, result *EditResult) error

		// Delete removes a saved result, ensuring it belongs to the user.
		Delete(ctx context.Context, userID, id string) error
	}
)
