package stores

import (
	"os"

	"github.com/sirupsen/logrus"

	"retouch-complete/core"
	"retouch-complete/stores/aws"
	"retouch-complete/stores/filesystem"
	"retouch-complete/stores/memory"
	"retouch-complete/stores/sqlite"
)

// Store bundles the two persistence concerns. User records always need an
// atomic unique-email constraint, so they live in sqlite (or memory for the
// default dev setup) even when edit results go to a blob backend.
type Store struct {
	Users core.UserStore
	Edits core.EditStore
}

// GetStore selects backends from the STORAGE_TYPE environment variable.
func GetStore() Store {
	storageType := os.Getenv("STORAGE_TYPE")

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	var store Store
	switch storageType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_STORAGE_PATH")
		if basePath == "" {
			basePath = "./data" // Default path
		}
		storageField["basePath"] = basePath
		db := sqlite.NewStore(dataSourceName())
		store = Store{Users: db, Edits: filesystem.NewStore(basePath)}
	case "sqlite":
		dsn := dataSourceName()
		storageField["dataSourceName"] = dsn
		db := sqlite.NewStore(dsn)
		store = Store{Users: db, Edits: db}
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = bucketName
		db := sqlite.NewStore(dataSourceName())
		store = Store{Users: db, Edits: aws.NewStore(bucketName)}
	default:
		mem := memory.NewStore()
		store = Store{Users: mem, Edits: mem}
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}

func dataSourceName() string {
	dsn := os.Getenv("DATA_SOURCE_NAME")
	if dsn == "" {
		dsn = "retouch.db" // Default filename
	}
	return dsn
}
