// Package blob implements storage.ImageStore on the local filesystem and on S3.
package blob

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/lehigh-university-libraries/herbarium/internal/storage"
	"github.com/oklog/ulid/v2"
)

// FSStore keeps images as files under basePath
type FSStore struct {
	basePath string
}

// NewFSStore creates the base directory if needed
func NewFSStore(basePath string) (*FSStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	return &FSStore{basePath: basePath}, nil
}

func (s *FSStore) AddImage(ctx context.Context, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	ref := newRef(localPath)
	filePath := filepath.Join(s.basePath, ref)
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}

	slog.Debug("Image stored", "ref", ref, "path", filePath, "bytes", len(data))
	return ref, nil
}

func (s *FSStore) GetImage(ctx context.Context, ref string) ([]byte, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.basePath, ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrImageNotFound, ref)
		}
		return nil, fmt.Errorf("failed to read image %s: %w", ref, err)
	}
	return data, nil
}

// newRef builds a sortable unique reference that keeps the source extension
func newRef(localPath string) string {
	return ulid.Make().String() + strings.ToLower(filepath.Ext(localPath))
}

// validateRef rejects anything that is not a plain file name
func validateRef(ref string) error {
	if ref == "" || ref == "." || ref == ".." || path.Base(ref) != ref || strings.ContainsAny(ref, `/\`) {
		return fmt.Errorf("%w: invalid reference %q", storage.ErrImageNotFound, ref)
	}
	return nil
}
