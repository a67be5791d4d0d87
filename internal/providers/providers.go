package providers

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/lehigh-university-libraries/herbarium/internal/models"
)

// Image is the raw photograph handed to an identification provider
type Image struct {
	Name string
	Data []byte
}

// Format returns the short image format derived from the file name ("jpeg", "png", ...)
func (i Image) Format() string {
	switch strings.ToLower(filepath.Ext(i.Name)) {
	case ".png":
		return "png"
	case ".webp":
		return "webp"
	case ".gif":
		return "gif"
	default:
		return "jpeg"
	}
}

// Identifier defines the interface for a species identification provider.
// Failures are reported as *Failure so callers can tell the kinds apart.
type Identifier interface {
	Identify(ctx context.Context, img Image) (*models.IdentificationResult, error)
}
