package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lehigh-university-libraries/herbarium/internal/models"
	"github.com/lehigh-university-libraries/herbarium/internal/storage"
	"github.com/oklog/ulid/v2"
)

// PlantStore keeps plant records in insertion order
type PlantStore struct {
	plants []*models.PlantRecord
	byID   map[string]*models.PlantRecord
	mu     sync.RWMutex
}

// NewPlantStore creates an empty in-memory plant store
func NewPlantStore() *PlantStore {
	return &PlantStore{
		byID: make(map[string]*models.PlantRecord),
	}
}

func (s *PlantStore) AddPlant(ctx context.Context, plant *models.PlantRecord) error {
	if plant.OwnerUsername == "" {
		return fmt.Errorf("owner username cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if plant.ID == "" {
		plant.ID = ulid.Make().String()
	}
	if _, exists := s.byID[plant.ID]; exists {
		return fmt.Errorf("plant with id %s already exists", plant.ID)
	}
	if plant.CreatedAt.IsZero() {
		plant.CreatedAt = time.Now()
	}

	stored := clone(plant)
	s.plants = append(s.plants, stored)
	s.byID[stored.ID] = stored

	slog.Debug("Plant stored", "plant_id", stored.ID, "owner", stored.OwnerUsername)
	return nil
}

func (s *PlantStore) GetUserPlants(ctx context.Context, username string, skip, limit int) ([]models.PlantRecord, error) {
	return s.page(skip, limit, func(p *models.PlantRecord) bool { return p.OwnerUsername == username }), nil
}

func (s *PlantStore) CountUserPlants(ctx context.Context, username string) (int, error) {
	return s.count(func(p *models.PlantRecord) bool { return p.OwnerUsername == username }), nil
}

func (s *PlantStore) GetPublicPlants(ctx context.Context, skip, limit int) ([]models.PlantRecord, error) {
	return s.page(skip, limit, func(p *models.PlantRecord) bool { return p.IsPublic }), nil
}

func (s *PlantStore) CountPublicPlants(ctx context.Context) (int, error) {
	return s.count(func(p *models.PlantRecord) bool { return p.IsPublic }), nil
}

func (s *PlantStore) GetPlant(ctx context.Context, id string) (*models.PlantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plant, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return clone(plant), nil
}

func (s *PlantStore) UpdatePlant(ctx context.Context, id, owner, notes string, isPublic bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plant, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if plant.OwnerUsername != owner {
		return storage.ErrForbidden
	}
	plant.UserNotes = notes
	plant.IsPublic = isPublic
	return nil
}

func (s *PlantStore) LikePlant(ctx context.Context, id, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plant, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if !plant.IsPublic && plant.OwnerUsername != username {
		return storage.ErrForbidden
	}
	if plant.LikedBy(username) {
		return nil
	}
	plant.Likes = append(plant.Likes, username)
	return nil
}

func (s *PlantStore) page(skip, limit int, match func(*models.PlantRecord) bool) []models.PlantRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []models.PlantRecord{}
	if skip < 0 || limit <= 0 {
		return result
	}
	seen := 0
	for _, p := range s.plants {
		if !match(p) {
			continue
		}
		if seen >= skip {
			result = append(result, *clone(p))
			if len(result) == limit {
				break
			}
		}
		seen++
	}
	return result
}

func (s *PlantStore) count(match func(*models.PlantRecord) bool) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.plants {
		if match(p) {
			n++
		}
	}
	return n
}

func clone(p *models.PlantRecord) *models.PlantRecord {
	c := *p
	if p.Likes != nil {
		c.Likes = append([]string(nil), p.Likes...)
	}
	return &c
}

// ImageStore keeps image bytes in a map keyed by ULID
type ImageStore struct {
	images map[string][]byte
	mu     sync.RWMutex
}

// NewImageStore creates an empty in-memory image store
func NewImageStore() *ImageStore {
	return &ImageStore{
		images: make(map[string][]byte),
	}
}

func (s *ImageStore) AddImage(ctx context.Context, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	return s.Put(data), nil
}

// Put stores data directly and returns its reference
func (s *ImageStore) Put(data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ulid.Make().String()
	s.images[id] = append([]byte(nil), data...)
	return id
}

func (s *ImageStore) GetImage(ctx context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.images[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrImageNotFound, ref)
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of stored images
func (s *ImageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images)
}
