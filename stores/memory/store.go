package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"retouch-complete/core"
)

// memStore implements both UserStore and EditStore in memory. It is the
// default backend for development and tests.
type memStore struct {
	mu sync.RWMutex

	usersByEmail map[string]*core.User
	usersByID    map[string]*core.User

	// edits is keyed by userID, then by result ID.
	edits map[string]map[string]*core.EditResult
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		usersByEmail: make(map[string]*core.User),
		usersByID:    make(map[string]*core.User),
		edits:        make(map[string]map[string]*core.EditResult),
	}
}

// CreateUser persists a new account. The uniqueness check and the insert
// happen under one lock, so there is no read-then-write race.
func (s *memStore) CreateUser(ctx context.Context, user *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByEmail[user.Email]; exists {
		return core.ErrEmailTaken
	}
	stored := *user
	s.usersByEmail[user.Email] = &stored
	s.usersByID[user.ID] = &stored
	logrus.WithField("user_id", user.ID).Info("User created")
	return nil
}

func (s *memStore) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByEmail[email]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *memStore) GetUserByID(ctx context.Context, id string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByID[id]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

// List returns metadata for all saved results owned by a user.
func (s *memStore) List(ctx context.Context, userID string) ([]*core.EditResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userEdits, ok := s.edits[userID]
	if !ok {
		return []*core.EditResult{}, nil
	}

	results := make([]*core.EditResult, 0, len(userEdits))
	for _, result := range userEdits {
		// Copy without the image blob for the list view.
		listResult := &core.EditResult{
			ID:        result.ID,
			UserID:    result.UserID,
			Prompt:    result.Prompt,
			History:   result.History,
			CreatedAt: result.CreatedAt,
			UpdatedAt: result.UpdatedAt,
		}
		results = append(results, listResult)
	}

	logrus.WithField("user_id", userID).Infof("Listed %d edit results", len(results))
	return results, nil
}

func (s *memStore) Get(ctx context.Context, userID, id string) (*core.EditResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userEdits, ok := s.edits[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s for user %s", core.ErrEditNotFound, id, userID)
	}
	result, ok := userEdits[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s for user %s", core.ErrEditNotFound, id, userID)
	}
	copied := *result
	return &copied, nil
}

func (s *memStore) Save(ctx context.Context, result *core.EditResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result.UserID == "" {
		return fmt.Errorf("UserID cannot be empty")
	}
	if result.ID == "" {
		return fmt.Errorf("result ID cannot be empty for save operation")
	}

	userEdits, ok := s.edits[result.UserID]
	if !ok {
		userEdits = make(map[string]*core.EditResult)
		s.edits[result.UserID] = userEdits
	}

	now := time.Now()
	if existing, exists := userEdits[result.ID]; exists {
		result.CreatedAt = existing.CreatedAt
	} else if result.CreatedAt.IsZero() {
		result.CreatedAt = now
	}
	result.UpdatedAt = now

	userEdits[result.ID] = result
	logrus.WithFields(logrus.Fields{"user_id": result.UserID, "edit_id": result.ID}).Info("Edit result saved")
	return nil
}

func (s *memStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userEdits, ok := s.edits[userID]
	if !ok {
		return fmt.Errorf("%w: %s for user %s", core.ErrEditNotFound, id, userID)
	}
	if _, ok := userEdits[id]; !ok {
		return fmt.Errorf("%w: %s for user %s", core.ErrEditNotFound, id, userID)
	}
	delete(userEdits, id)
	logrus.WithFields(logrus.Fields{"user_id": userID, "edit_id": id}).Info("Edit result deleted")
	return nil
}
