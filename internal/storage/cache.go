package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
)

const DefaultImageCacheTTL = 10 * time.Minute

// CachedImageStore keeps recently read images in memory so paging back and
// forth through a gallery does not refetch every image.
type CachedImageStore struct {
	next  ImageStore
	cache *cache.Cache
}

// NewCachedImageStore wraps next with a TTL cache
func NewCachedImageStore(next ImageStore, ttl time.Duration) *CachedImageStore {
	if ttl <= 0 {
		ttl = DefaultImageCacheTTL
	}
	return &CachedImageStore{
		next:  next,
		cache: cache.New(ttl, ttl*2),
	}
}

func (c *CachedImageStore) AddImage(ctx context.Context, localPath string) (string, error) {
	return c.next.AddImage(ctx, localPath)
}

// GetImage serves from cache when possible. Misses and errors are not cached.
// Every caller gets its own copy of the bytes.
func (c *CachedImageStore) GetImage(ctx context.Context, ref string) ([]byte, error) {
	if cached, found := c.cache.Get(ref); found {
		if data, ok := cached.([]byte); ok {
			return append([]byte(nil), data...), nil
		}
	}

	data, err := c.next.GetImage(ctx, ref)
	if err != nil {
		return nil, err
	}

	c.cache.Set(ref, append([]byte(nil), data...), cache.DefaultExpiration)
	slog.Debug("Cached image", "ref", ref, "bytes", len(data))
	return data, nil
}

// ItemCount returns the number of cached images
func (c *CachedImageStore) ItemCount() int {
	return c.cache.ItemCount()
}
