// Package gallery pages through saved plant records and hydrates them with their images.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/lehigh-university-libraries/herbarium/internal/models"
	"github.com/lehigh-university-libraries/herbarium/internal/storage"
)

// PageSize is the number of records on every page
const PageSize = 15

// ErrEmptyResult means the requested page lies past the last record. It is a
// paging error, not a data error.
var ErrEmptyResult = errors.New("no records on requested page")

// Scope selects whose records a paginator walks
type Scope struct {
	username string
	public   bool
}

// User scopes a paginator to the records owned by username
func User(username string) Scope {
	return Scope{username: username}
}

// Public scopes a paginator to every public record
func Public() Scope {
	return Scope{public: true}
}

func (s Scope) String() string {
	if s.public {
		return "public"
	}
	return "user:" + s.username
}

func (s Scope) Count(ctx context.Context, plants storage.PlantStore) (int, error) {
	if s.public {
		return plants.CountPublicPlants(ctx)
	}
	return plants.CountUserPlants(ctx, s.username)
}

func (s Scope) Records(ctx context.Context, plants storage.PlantStore, skip, limit int) ([]models.PlantRecord, error) {
	if s.public {
		return plants.GetPublicPlants(ctx, skip, limit)
	}
	return plants.GetUserPlants(ctx, s.username, skip, limit)
}

// PageCount is ceil(n / PageSize), and 0 when there are no records
func PageCount(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + PageSize - 1) / PageSize
}

// TotalPages counts the pages available in the paginator's scope
func (p *Paginator) TotalPages(ctx context.Context) (int, error) {
	n, err := p.scope.Count(ctx, p.plants)
	if err != nil {
		return 0, storage.Wrap("count plants", err)
	}
	return PageCount(n), nil
}

// FetchPage loads one page and its images. It does not move the cursor.
//
// A page index past the last record returns ErrEmptyResult; store failures are
// returned as *storage.StoreError. A scope with no records at all yields page 0
// with TotalPages 0. Records whose image cannot be loaded are left off the page.
func (p *Paginator) FetchPage(ctx context.Context, pageIndex int) (*models.GalleryPage, error) {
	if pageIndex < 0 {
		return nil, fmt.Errorf("%w: page %d", ErrEmptyResult, pageIndex)
	}

	total, err := p.TotalPages(ctx)
	if err != nil {
		return nil, err
	}

	skip := pageIndex * PageSize
	records, err := p.scope.Records(ctx, p.plants, skip, PageSize)
	if err != nil {
		return nil, storage.Wrap("get plants", err)
	}

	if len(records) == 0 {
		if skip > 0 {
			return nil, fmt.Errorf("%w: page %d of %d", ErrEmptyResult, pageIndex, total)
		}
		return &models.GalleryPage{Items: []models.GalleryItem{}, PageIndex: 0, TotalPages: total}, nil
	}
	if len(records) > PageSize {
		records = records[:PageSize]
	}

	items, err := p.hydrate(ctx, records)
	if err != nil {
		return nil, err
	}

	slog.Debug("Fetched gallery page", "scope", p.scope, "page", pageIndex, "records", len(records), "items", len(items))
	return &models.GalleryPage{
		Items:      items,
		PageIndex:  pageIndex,
		TotalPages: total,
	}, nil
}

// hydrate fetches images concurrently and keeps record order
func (p *Paginator) hydrate(ctx context.Context, records []models.PlantRecord) ([]models.GalleryItem, error) {
	images := make([][]byte, len(records))
	loaded := make([]bool, len(records))

	var g errgroup.Group
	g.SetLimit(p.hydrateLimit)
	for i := range records {
		g.Go(func() error {
			data, err := p.images.GetImage(ctx, records[i].ImageRef)
			if err != nil {
				slog.Warn("Dropping record with unreadable image", "plant_id", records[i].ID, "imageRef", records[i].ImageRef, "error", err)
				return nil
			}
			images[i] = data
			loaded[i] = true
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := make([]models.GalleryItem, 0, len(records))
	for i, rec := range records {
		if !loaded[i] {
			continue
		}
		items = append(items, models.GalleryItem{Record: rec, Image: images[i]})
	}
	return items, nil
}

// UserMessage maps a fetch error to the text shown to the user
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyResult):
		return "There are no plants on this page."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Loading the gallery was interrupted. Please try again."
	case storage.IsStoreError(err):
		return "Could not load plants from storage. Please try again later."
	default:
		return "Something went wrong while loading the gallery."
	}
}
