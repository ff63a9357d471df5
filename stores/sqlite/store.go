package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"retouch-complete/core"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store holding both user records and
// saved edit results.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	// The UNIQUE constraint on email is what makes signup race-free; the
	// application never checks-then-inserts.
	userTableStmt := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_digest BLOB NOT NULL,
		created_at DATETIME
	);`
	if _, err = db.Exec(userTableStmt); err != nil {
		log.Fatalf("failed to create users table: %v", err)
	}

	editTableStmt := `
	CREATE TABLE IF NOT EXISTS edit_results (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		prompt TEXT,
		history TEXT,
		image BLOB,
		created_at DATETIME,
		updated_at DATETIME,
		PRIMARY KEY (user_id, id)
	);`
	if _, err = db.Exec(editTableStmt); err != nil {
		log.Fatalf("failed to create edit_results table: %v", err)
	}

	return &sqliteStore{db}
}

// UserStore implementation

func (s *sqliteStore) CreateUser(ctx context.Context, user *core.User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, password_digest, created_at) VALUES (?, ?, ?, ?)",
		user.ID, user.Email, user.PasswordDigest, user.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return core.ErrEmailTaken
		}
		logrus.WithError(err).Error("Failed to create user")
		return err
	}
	logrus.WithField("user_id", user.ID).Info("User created")
	return nil
}

func (s *sqliteStore) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	var user core.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password_digest, created_at FROM users WHERE email = ?", email).
		Scan(&user.ID, &user.Email, &user.PasswordDigest, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *sqliteStore) GetUserByID(ctx context.Context, id string) (*core.User, error) {
	var user core.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password_digest, created_at FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.Email, &user.PasswordDigest, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// EditStore implementation

func (s *sqliteStore) List(ctx context.Context, userID string) ([]*core.EditResult, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, prompt, history, created_at, updated_at FROM edit_results WHERE user_id = ?", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*core.EditResult
	for rows.Next() {
		var result core.EditResult
		var history sql.NullString
		result.UserID = userID
		if err := rows.Scan(&result.ID, &result.Prompt, &history, &result.CreatedAt, &result.UpdatedAt); err != nil {
			return nil, err
		}
		if history.Valid && history.String != "" {
			if err := json.Unmarshal([]byte(history.String), &result.History); err != nil {
				logrus.WithError(err).WithField("edit_id", result.ID).Warn("Failed to decode history, skipping field")
			}
		}
		results = append(results, &result)
	}
	return results, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, userID, id string) (*core.EditResult, error) {
	var result core.EditResult
	var history sql.NullString
	result.UserID = userID
	result.ID = id
	err := s.db.QueryRowContext(ctx,
		"SELECT prompt, history, image, created_at, updated_at FROM edit_results WHERE user_id = ? AND id = ?",
		userID, id).
		Scan(&result.Prompt, &history, &result.Image, &result.CreatedAt, &result.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", core.ErrEditNotFound, id)
		}
		return nil, err
	}
	if history.Valid && history.String != "" {
		if err := json.Unmarshal([]byte(history.String), &result.History); err != nil {
			logrus.WithError(err).WithField("edit_id", id).Warn("Failed to decode history, skipping field")
		}
	}
	return &result, nil
}

func (s *sqliteStore) Save(ctx context.Context, result *core.EditResult) error {
	history, err := json.Marshal(result.History)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // Rollback on any error

	var exists bool
	err = tx.QueryRowContext(ctx,
		"SELECT 1 FROM edit_results WHERE user_id = ? AND id = ?", result.UserID, result.ID).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	now := time.Now()
	if exists {
		_, err = tx.ExecContext(ctx,
			"UPDATE edit_results SET prompt = ?, history = ?, image = ?, updated_at = ? WHERE user_id = ? AND id = ?",
			result.Prompt, string(history), result.Image, now, result.UserID, result.ID)
	} else {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO edit_results (id, user_id, prompt, history, image, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			result.ID, result.UserID, result.Prompt, string(history), result.Image, now, now)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *sqliteStore) Delete(ctx context.Context, userID, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM edit_results WHERE user_id = ? AND id = ?", userID, id)
	return err
}
