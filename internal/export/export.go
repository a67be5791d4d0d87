// Package export dumps gallery records to parquet or yaml.
package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"

	"github.com/lehigh-university-libraries/herbarium/internal/gallery"
	"github.com/lehigh-university-libraries/herbarium/internal/models"
	"github.com/lehigh-university-libraries/herbarium/internal/storage"
)

// Row is the flat export form of a plant record
type Row struct {
	ID             string `parquet:"id" yaml:"id"`
	ImageRef       string `parquet:"image_ref" yaml:"image_ref"`
	CommonName     string `parquet:"common_name" yaml:"common_name"`
	Family         string `parquet:"family" yaml:"family"`
	ScientificName string `parquet:"scientific_name" yaml:"scientific_name"`
	OwnerUsername  string `parquet:"owner_username" yaml:"owner_username"`
	UserNotes      string `parquet:"user_notes" yaml:"user_notes,omitempty"`
	IsPublic       bool   `parquet:"is_public" yaml:"is_public"`
	Likes          int64  `parquet:"likes" yaml:"likes"`
	CreatedAt      string `parquet:"created_at" yaml:"created_at"`
}

func NewRow(p models.PlantRecord) Row {
	return Row{
		ID:             p.ID,
		ImageRef:       p.ImageRef,
		CommonName:     p.CommonName,
		Family:         p.Family,
		ScientificName: p.ScientificName,
		OwnerUsername:  p.OwnerUsername,
		UserNotes:      p.UserNotes,
		IsPublic:       p.IsPublic,
		Likes:          int64(len(p.Likes)),
		CreatedAt:      p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Collect reads every record in scope, one gallery page at a time
func Collect(ctx context.Context, plants storage.PlantStore, scope gallery.Scope) ([]Row, error) {
	var rows []Row
	for skip := 0; ; skip += gallery.PageSize {
		records, err := scope.Records(ctx, plants, skip, gallery.PageSize)
		if err != nil {
			return nil, storage.Wrap("get plants", err)
		}
		for _, r := range records {
			rows = append(rows, NewRow(r))
		}
		if len(records) < gallery.PageSize {
			break
		}
	}

	slog.Debug("Collected records for export", "scope", scope, "rows", len(rows))
	return rows, nil
}

// Format of an export file
type Format string

const (
	FormatParquet Format = "parquet"
	FormatYAML    Format = "yaml"
)

// ParseFormat accepts "parquet", "yaml" or "yml"
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "parquet":
		return FormatParquet, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// Write encodes rows in format
func Write(w io.Writer, format Format, rows []Row) error {
	switch format {
	case FormatParquet:
		return WriteParquet(w, rows)
	case FormatYAML:
		return WriteYAML(w, rows)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

func WriteParquet(w io.Writer, rows []Row) error {
	writer := parquet.NewGenericWriter[Row](w)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

// ReadParquet loads rows written by WriteParquet
func ReadParquet(r io.ReaderAt, size int64) ([]Row, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()

	rows := make([]Row, 0, pf.NumRows())
	batch := make([]Row, 128)
	for {
		n, err := reader.Read(batch)
		rows = append(rows, batch[:n]...)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
	return rows, nil
}

func WriteYAML(w io.Writer, rows []Row) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(struct {
		Plants []Row `yaml:"plants"`
	}{Plants: rows}); err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return enc.Close()
}
