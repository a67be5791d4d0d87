package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/lehigh-university-libraries/herbarium/internal/auth"
)

// Routes builds the API router. Everything under /api needs a bearer token.
func (h *Handler) Routes(authn *auth.Authenticator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(authn.Middleware)

		r.Route("/uploads", func(r chi.Router) {
			r.Get("/", h.HandleListSessions)
			r.Post("/", h.HandleUpload)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.HandleSessionDetail)
				r.Post("/identify", h.HandleIdentify)
				r.Post("/save", h.HandleSave)
				r.Delete("/", h.HandleCancel)
			})
		})

		r.Get("/gallery", h.HandleUserGallery)
		r.Get("/gallery/public", h.HandlePublicGallery)
		r.Get("/images/{ref}", h.HandleImage)

		r.Route("/plants/{id}", func(r chi.Router) {
			r.Put("/", h.HandleUpdatePlant)
			r.Post("/like", h.HandleLikePlant)
		})
	})

	return r
}
