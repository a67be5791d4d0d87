package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lehigh-university-libraries/herbarium/internal/auth"
	"github.com/lehigh-university-libraries/herbarium/internal/storage"
)

// HandleImage streams a stored image
func (h *Handler) HandleImage(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	data, err := h.images.GetImage(r.Context(), ref)
	if err != nil {
		if errors.Is(err, storage.ErrImageNotFound) {
			h.writeError(w, "Image not found", http.StatusNotFound)
			return
		}
		h.writeError(w, "Failed to load image: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(data)
}

type updatePlantRequest struct {
	UserNotes string `json:"user_notes"`
	IsPublic  bool   `json:"is_public"`
}

// HandleUpdatePlant lets the owner change notes and visibility
func (h *Handler) HandleUpdatePlant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updatePlantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.plants.UpdatePlant(r.Context(), id, auth.Username(r.Context()), req.UserNotes, req.IsPublic); err != nil {
		h.writePlantError(w, err)
		return
	}
	h.writePlant(w, r, id)
}

// HandleLikePlant records a like from the caller
func (h *Handler) HandleLikePlant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.plants.LikePlant(r.Context(), id, auth.Username(r.Context())); err != nil {
		h.writePlantError(w, err)
		return
	}
	h.writePlant(w, r, id)
}

func (h *Handler) writePlant(w http.ResponseWriter, r *http.Request, id string) {
	plant, err := h.plants.GetPlant(r.Context(), id)
	if err != nil {
		h.writePlantError(w, err)
		return
	}
	h.writeJSON(w, plant)
}

func (h *Handler) writePlantError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.writeError(w, "Plant not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrForbidden):
		h.writeError(w, "Not allowed to change this plant", http.StatusForbidden)
	default:
		h.writeError(w, "Failed to update plant: "+err.Error(), http.StatusInternalServerError)
	}
}
