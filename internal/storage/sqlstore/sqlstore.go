// Package sqlstore implements storage.PlantStore on top of gorm with sqlite or mysql.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lehigh-university-libraries/herbarium/internal/models"
	"github.com/lehigh-university-libraries/herbarium/internal/storage"
	"github.com/oklog/ulid/v2"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type plantRow struct {
	ID             string `gorm:"primaryKey;size:26"`
	ImageRef       string `gorm:"size:255;not null"`
	CommonName     string `gorm:"size:255"`
	Family         string `gorm:"size:255"`
	ScientificName string `gorm:"size:255"`
	OwnerUsername  string `gorm:"size:255;not null;index:idx_plants_owner"`
	UserNotes      string `gorm:"type:text"`
	IsPublic       bool   `gorm:"not null;default:false;index:idx_plants_public"`
	CreatedAt      time.Time
	Likes          []likeRow `gorm:"foreignKey:PlantID;constraint:OnDelete:CASCADE"`
}

func (plantRow) TableName() string { return "plants" }

type likeRow struct {
	PlantID   string `gorm:"primaryKey;size:26"`
	Username  string `gorm:"primaryKey;size:255"`
	CreatedAt time.Time
}

func (likeRow) TableName() string { return "plant_likes" }

// Store is a gorm backed plant store
type Store struct {
	db *gorm.DB
}

// OpenSQLite opens (and migrates) a sqlite database at dsn
func OpenSQLite(dsn string) (*Store, error) {
	return Open(sqlite.Open(dsn))
}

// OpenMySQL opens (and migrates) a mysql database
func OpenMySQL(dsn string) (*Store, error) {
	return Open(mysql.Open(dsn))
}

// Open connects with the given dialector and migrates the schema
func Open(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&plantRow{}, &likeRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) AddPlant(ctx context.Context, plant *models.PlantRecord) error {
	if plant.OwnerUsername == "" {
		return fmt.Errorf("owner username cannot be empty")
	}
	if plant.ID == "" {
		plant.ID = ulid.Make().String()
	}
	if plant.CreatedAt.IsZero() {
		plant.CreatedAt = time.Now()
	}

	row := toRow(plant)
	if err := s.db.WithContext(ctx).Omit("Likes").Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert plant: %w", err)
	}

	slog.Debug("Plant stored", "plant_id", plant.ID, "owner", plant.OwnerUsername)
	return nil
}

func (s *Store) GetUserPlants(ctx context.Context, username string, skip, limit int) ([]models.PlantRecord, error) {
	return s.page(ctx, s.db.Where("owner_username = ?", username), skip, limit)
}

func (s *Store) CountUserPlants(ctx context.Context, username string) (int, error) {
	return s.count(ctx, s.db.Where("owner_username = ?", username))
}

func (s *Store) GetPublicPlants(ctx context.Context, skip, limit int) ([]models.PlantRecord, error) {
	return s.page(ctx, s.db.Where("is_public = ?", true), skip, limit)
}

func (s *Store) CountPublicPlants(ctx context.Context) (int, error) {
	return s.count(ctx, s.db.Where("is_public = ?", true))
}

func (s *Store) GetPlant(ctx context.Context, id string) (*models.PlantRecord, error) {
	var row plantRow
	err := s.db.WithContext(ctx).Preload("Likes").First(&row, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get plant %s: %w", id, err)
	}
	p := fromRow(&row)
	return &p, nil
}

func (s *Store) UpdatePlant(ctx context.Context, id, owner, notes string, isPublic bool) error {
	plant, err := s.GetPlant(ctx, id)
	if err != nil {
		return err
	}
	if plant.OwnerUsername != owner {
		return storage.ErrForbidden
	}

	err = s.db.WithContext(ctx).Model(&plantRow{}).Where("id = ?", id).
		Updates(map[string]any{"user_notes": notes, "is_public": isPublic}).Error
	if err != nil {
		return fmt.Errorf("failed to update plant %s: %w", id, err)
	}
	return nil
}

func (s *Store) LikePlant(ctx context.Context, id, username string) error {
	plant, err := s.GetPlant(ctx, id)
	if err != nil {
		return err
	}
	if !plant.IsPublic && plant.OwnerUsername != username {
		return storage.ErrForbidden
	}

	like := likeRow{PlantID: id, Username: username, CreatedAt: time.Now()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&like).Error
	if err != nil {
		return fmt.Errorf("failed to like plant %s: %w", id, err)
	}
	return nil
}

func (s *Store) page(ctx context.Context, query *gorm.DB, skip, limit int) ([]models.PlantRecord, error) {
	result := []models.PlantRecord{}
	if skip < 0 || limit <= 0 {
		return result, nil
	}

	var rows []plantRow
	err := query.WithContext(ctx).Preload("Likes").Order("id ASC").Limit(limit).Offset(skip).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query plants: %w", err)
	}

	for i := range rows {
		result = append(result, fromRow(&rows[i]))
	}
	return result, nil
}

func (s *Store) count(ctx context.Context, query *gorm.DB) (int, error) {
	var n int64
	if err := query.WithContext(ctx).Model(&plantRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count plants: %w", err)
	}
	return int(n), nil
}

func toRow(p *models.PlantRecord) plantRow {
	return plantRow{
		ID:             p.ID,
		ImageRef:       p.ImageRef,
		CommonName:     p.CommonName,
		Family:         p.Family,
		ScientificName: p.ScientificName,
		OwnerUsername:  p.OwnerUsername,
		UserNotes:      p.UserNotes,
		IsPublic:       p.IsPublic,
		CreatedAt:      p.CreatedAt,
	}
}

func fromRow(r *plantRow) models.PlantRecord {
	p := models.PlantRecord{
		ID:             r.ID,
		ImageRef:       r.ImageRef,
		CommonName:     r.CommonName,
		Family:         r.Family,
		ScientificName: r.ScientificName,
		OwnerUsername:  r.OwnerUsername,
		UserNotes:      r.UserNotes,
		IsPublic:       r.IsPublic,
		CreatedAt:      r.CreatedAt,
	}
	for _, l := range r.Likes {
		p.Likes = append(p.Likes, l.Username)
	}
	return p
}
