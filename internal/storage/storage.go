package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/lehigh-university-libraries/herbarium/internal/models"
)

var (
	ErrNotFound      = errors.New("plant not found")
	ErrImageNotFound = errors.New("image not found")
	ErrForbidden     = errors.New("operation not permitted for this user")
)

// PlantStore persists and queries plant records.
// Implementations must be safe for concurrent use.
type PlantStore interface {
	// AddPlant stores a new record. The store assigns ID and CreatedAt when empty.
	AddPlant(ctx context.Context, plant *models.PlantRecord) error

	// GetUserPlants returns up to limit records owned by username, oldest first, after skipping skip.
	GetUserPlants(ctx context.Context, username string, skip, limit int) ([]models.PlantRecord, error)
	CountUserPlants(ctx context.Context, username string) (int, error)

	// GetPublicPlants pages over every record with IsPublic set, oldest first.
	GetPublicPlants(ctx context.Context, skip, limit int) ([]models.PlantRecord, error)
	CountPublicPlants(ctx context.Context) (int, error)

	GetPlant(ctx context.Context, id string) (*models.PlantRecord, error)

	// UpdatePlant changes notes and visibility. Only the owner may do this.
	UpdatePlant(ctx context.Context, id, owner, notes string, isPublic bool) error

	// LikePlant records a like from username. Liking twice is a no-op.
	LikePlant(ctx context.Context, id, username string) error
}

// ImageStore stores raw image bytes
type ImageStore interface {
	// AddImage copies the file at localPath into the store and returns its reference.
	AddImage(ctx context.Context, localPath string) (string, error)

	// GetImage returns ErrImageNotFound when ref does not exist.
	GetImage(ctx context.Context, ref string) ([]byte, error)
}

// UserContext reports the active user
type UserContext interface {
	CurrentUsername() string
}

// StaticUser is a UserContext for a fixed username
type StaticUser string

func (u StaticUser) CurrentUsername() string {
	return string(u)
}

// StoreError wraps a collaborator failure surfaced by the core
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Wrap returns err as a *StoreError tagged with op. Existing store errors are kept as is.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err came from a collaborator
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
