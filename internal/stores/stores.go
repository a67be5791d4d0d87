// Package stores builds the plant and image stores selected by the environment.
package stores

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lehigh-university-libraries/herbarium/internal/storage"
	"github.com/lehigh-university-libraries/herbarium/internal/storage/blob"
	"github.com/lehigh-university-libraries/herbarium/internal/storage/memory"
	"github.com/lehigh-university-libraries/herbarium/internal/storage/sqlstore"
)

// Stores holds the collaborators shared by every session
type Stores struct {
	Plants storage.PlantStore
	Images storage.ImageStore

	closers []func() error
}

// Open reads STORAGE_TYPE, DATA_SOURCE_NAME, IMAGE_STORAGE, LOCAL_STORAGE_PATH,
// S3_BUCKET_NAME and IMAGE_CACHE_TTL.
func Open(ctx context.Context) (*Stores, error) {
	s := &Stores{}

	plants, err := s.openPlants()
	if err != nil {
		return nil, err
	}
	s.Plants = plants

	images, err := openImages(ctx)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	ttl := storage.DefaultImageCacheTTL
	if v := os.Getenv("IMAGE_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("invalid IMAGE_CACHE_TTL %q: %w", v, err)
		}
		ttl = d
	}
	s.Images = storage.NewCachedImageStore(images, ttl)

	return s, nil
}

func (s *Stores) openPlants() (storage.PlantStore, error) {
	storageType := getEnv("STORAGE_TYPE", "sqlite")

	switch storageType {
	case "memory":
		slog.Info("Use plant storage", "storageType", "in-memory")
		return memory.NewPlantStore(), nil
	case "sqlite":
		dsn := getEnv("DATA_SOURCE_NAME", "herbarium.db")
		store, err := sqlstore.OpenSQLite(dsn)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		slog.Info("Use plant storage", "storageType", storageType, "dataSourceName", dsn)
		return store, nil
	case "mysql":
		dsn := os.Getenv("DATA_SOURCE_NAME")
		if dsn == "" {
			return nil, fmt.Errorf("DATA_SOURCE_NAME must be set for mysql storage")
		}
		store, err := sqlstore.OpenMySQL(dsn)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		slog.Info("Use plant storage", "storageType", storageType)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_TYPE %q", storageType)
	}
}

func openImages(ctx context.Context) (storage.ImageStore, error) {
	imageStorage := getEnv("IMAGE_STORAGE", "filesystem")

	switch imageStorage {
	case "memory":
		slog.Info("Use image storage", "imageStorage", "in-memory")
		return memory.NewImageStore(), nil
	case "filesystem":
		basePath := getEnv("LOCAL_STORAGE_PATH", "./data/images")
		slog.Info("Use image storage", "imageStorage", imageStorage, "basePath", basePath)
		return blob.NewFSStore(basePath)
	case "s3":
		bucket := os.Getenv("S3_BUCKET_NAME")
		if bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET_NAME must be set for s3 image storage")
		}
		slog.Info("Use image storage", "imageStorage", imageStorage, "bucketName", bucket)
		return blob.NewS3Store(ctx, bucket)
	default:
		return nil, fmt.Errorf("unknown IMAGE_STORAGE %q", imageStorage)
	}
}

// Close releases database connections
func (s *Stores) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
