package models

import "time"

// PlantRecord is one saved identification owned by a single user
type PlantRecord struct {
	ID             string    `json:"id"`
	ImageRef       string    `json:"image_ref"`
	CommonName     string    `json:"common_name"`
	Family         string    `json:"family"`
	ScientificName string    `json:"scientific_name"`
	OwnerUsername  string    `json:"owner_username"`
	UserNotes      string    `json:"user_notes"`
	IsPublic       bool      `json:"is_public"`
	Likes          []string  `json:"likes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// LikedBy reports whether username has liked the record
func (p *PlantRecord) LikedBy(username string) bool {
	for _, u := range p.Likes {
		if u == username {
			return true
		}
	}
	return false
}

// IdentificationResult is the top-ranked match returned by an identification provider.
// It is never persisted directly; it seeds a PlantRecord when the user saves.
type IdentificationResult struct {
	CommonName     string  `json:"common_name" yaml:"common_name"`
	ScientificName string  `json:"scientific_name" yaml:"scientific_name"`
	Family         string  `json:"family" yaml:"family"`
	Score          float64 `json:"score" yaml:"score"`
}

// GalleryItem pairs a record with its hydrated image bytes
type GalleryItem struct {
	Record PlantRecord `json:"record"`
	Image  []byte      `json:"image,omitempty"`
}

// GalleryPage is one window over a gallery.
// TotalPages == 0 means there are no records at all.
type GalleryPage struct {
	Items      []GalleryItem `json:"items"`
	PageIndex  int           `json:"page_index"`
	TotalPages int           `json:"total_pages"`
}
