package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"retouch-complete/core"
)

// fsStore implements EditStore on the local filesystem: one JSON file per
// saved result under a per-user directory. User records need a unique
// constraint and live in sqlite or memory instead.
type fsStore struct {
	basePath string
}

// NewStore creates a new filesystem-based store.
func NewStore(basePath string) *fsStore {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Fatalf("failed to create base directory: %v", err)
	}
	return &fsStore{basePath: basePath}
}

func (s *fsStore) userPath(userID string) string {
	return filepath.Join(s.basePath, userID)
}

// resultPath validates that the joined path stays inside the user's
// directory before it is used for any filesystem access.
func (s *fsStore) resultPath(userID, id string) (string, error) {
	userPath, err := filepath.Abs(s.userPath(userID))
	if err != nil {
		return "", err
	}
	filePath, err := filepath.Abs(filepath.Join(userPath, id))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(filePath, userPath+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid path: access denied")
	}
	return filePath, nil
}

func (s *fsStore) List(ctx context.Context, userID string) ([]*core.EditResult, error) {
	userPath := s.userPath(userID)
	log := logrus.WithField("user_id", userID).WithField("path", userPath)

	files, err := os.ReadDir(userPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info("User directory does not exist, returning empty list.")
			return []*core.EditResult{}, nil
		}
		log.WithError(err).Error("Failed to read user directory")
		return nil, err
	}

	results := make([]*core.EditResult, 0, len(files))
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(userPath, file.Name()))
		if err != nil {
			log.WithError(err).Warnf("Failed to read result file %s, skipping", file.Name())
			continue
		}

		var result core.EditResult
		if err := json.Unmarshal(data, &result); err != nil {
			log.WithError(err).Warnf("Failed to unmarshal result file %s, skipping", file.Name())
			continue
		}

		// List views carry no image blob.
		result.Image = nil
		results = append(results, &result)
	}

	log.Infof("Listed %d edit results", len(results))
	return results, nil
}

func (s *fsStore) Get(ctx context.Context, userID, id string) (*core.EditResult, error) {
	filePath, err := s.resultPath(userID, id)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "edit_id": id, "path": filePath})

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Edit result file not found")
			return nil, fmt.Errorf("%w: %s", core.ErrEditNotFound, id)
		}
		log.WithError(err).Error("Failed to read edit result file")
		return nil, err
	}

	var result core.EditResult
	if err := json.Unmarshal(data, &result); err != nil {
		log.WithError(err).Error("Failed to unmarshal edit result")
		return nil, err
	}
	// The owner is encoded in the path, not the file.
	result.UserID = userID
	return &result, nil
}

func (s *fsStore) Save(ctx context.Context, result *core.EditResult) error {
	filePath, err := s.resultPath(result.UserID, result.ID)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"user_id": result.UserID, "edit_id": result.ID, "path": filePath})

	if err := os.MkdirAll(s.userPath(result.UserID), 0755); err != nil {
		log.WithError(err).Error("Failed to create user directory")
		return err
	}

	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}
	result.UpdatedAt = time.Now()

	data, err := json.Marshal(result)
	if err != nil {
		log.WithError(err).Error("Failed to marshal edit result for saving")
		return err
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		log.WithError(err).Error("Failed to write edit result file")
		return err
	}

	log.Info("Edit result saved")
	return nil
}

func (s *fsStore) Delete(ctx context.Context, userID, id string) error {
	filePath, err := s.resultPath(userID, id)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "edit_id": id, "path": filePath})

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			log.Warn("Edit result not found for deletion, considered successful.")
			return nil
		}
		log.WithError(err).Error("Failed to delete edit result file")
		return err
	}

	log.Info("Edit result deleted")
	return nil
}
