package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"retouch-complete/core"
)

// s3Store implements EditStore on an S3 bucket: one JSON object per saved
// result under a per-user prefix.
type s3Store struct {
	s3Client *s3.Client
	bucket   string
}

// NewStore creates a new S3-based store.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return &s3Store{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
	}
}

// resultKey sanitizes the result ID so a crafted ID cannot escape the
// user's prefix.
func (s *s3Store) resultKey(userID, id string) (string, error) {
	if path.Base(id) != id {
		return "", fmt.Errorf("invalid result id: must not be a path")
	}
	if id == "" || id == "." || id == ".." {
		return "", fmt.Errorf("invalid result id: must not be empty or a dot directory")
	}
	return path.Join(userID, id), nil
}

func (s *s3Store) List(ctx context.Context, userID string) ([]*core.EditResult, error) {
	prefix := userID + "/"
	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list edit results for user %s: %v", userID, err)
	}

	results := make([]*core.EditResult, 0, len(output.Contents))
	for _, object := range output.Contents {
		resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    object.Key,
		})
		if err != nil {
			logrus.WithError(err).Warnf("Failed to get object %s", *object.Key)
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			logrus.WithError(err).Warnf("Failed to read object body %s", *object.Key)
			continue
		}

		var result core.EditResult
		if err := json.Unmarshal(data, &result); err != nil {
			logrus.WithError(err).Warnf("Failed to unmarshal edit result %s", *object.Key)
			continue
		}

		// List views carry no image blob.
		result.Image = nil
		results = append(results, &result)
	}

	return results, nil
}

func (s *s3Store) Get(ctx context.Context, userID, id string) (*core.EditResult, error) {
	key, err := s.resultKey(userID, id)
	if err != nil {
		return nil, err
	}
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", core.ErrEditNotFound, id)
		}
		return nil, fmt.Errorf("failed to get edit result %s: %v", id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read edit result data: %v", err)
	}

	var result core.EditResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edit result data: %v", err)
	}
	// The owner is encoded in the key, not the object.
	result.UserID = userID
	return &result, nil
}

func (s *s3Store) Save(ctx context.Context, result *core.EditResult) error {
	key, err := s.resultKey(result.UserID, result.ID)
	if err != nil {
		return err
	}

	// Preserve CreatedAt on update
	if result.CreatedAt.IsZero() {
		existing, err := s.Get(ctx, result.UserID, result.ID)
		if err == nil && existing != nil {
			result.CreatedAt = existing.CreatedAt
		} else {
			result.CreatedAt = time.Now()
		}
	}
	result.UpdatedAt = time.Now()

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal edit result: %v", err)
	}

	if _, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}); err != nil {
		return fmt.Errorf("failed to save edit result %s: %v", result.ID, err)
	}
	return nil
}

func (s *s3Store) Delete(ctx context.Context, userID, id string) error {
	key, err := s.resultKey(userID, id)
	if err != nil {
		return err
	}
	if _, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete edit result %s: %v", id, err)
	}
	return nil
}
