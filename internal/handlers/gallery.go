package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/lehigh-university-libraries/herbarium/internal/auth"
	"github.com/lehigh-university-libraries/herbarium/internal/gallery"
)

// HandleUserGallery serves one page of the caller's own plants
func (h *Handler) HandleUserGallery(w http.ResponseWriter, r *http.Request) {
	h.serveGalleryPage(w, r, gallery.User(auth.Username(r.Context())))
}

// HandlePublicGallery serves one page of every public plant
func (h *Handler) HandlePublicGallery(w http.ResponseWriter, r *http.Request) {
	h.serveGalleryPage(w, r, gallery.Public())
}

func (h *Handler) serveGalleryPage(w http.ResponseWriter, r *http.Request, scope gallery.Scope) {
	pageIndex := 0
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, "page must be a non-negative integer", http.StatusBadRequest)
			return
		}
		pageIndex = n
	}

	page, err := gallery.New(h.plants, h.images, scope).FetchPage(r.Context(), pageIndex)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, gallery.ErrEmptyResult) {
			code = http.StatusNotFound
		}
		h.writeError(w, gallery.UserMessage(err), code)
		return
	}

	h.writeJSON(w, page)
}
