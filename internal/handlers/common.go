package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lehigh-university-libraries/herbarium/internal/providers"
	"github.com/lehigh-university-libraries/herbarium/internal/storage"
)

const maxUploadSize = 10 * 1024 * 1024

// Config wires the handler to its collaborators
type Config struct {
	Identifier      providers.Identifier
	Plants          storage.PlantStore
	Images          storage.ImageStore
	UploadsDir      string
	IdentifyTimeout time.Duration
}

type Handler struct {
	sessionStore    *SessionStore
	identifier      providers.Identifier
	plants          storage.PlantStore
	images          storage.ImageStore
	uploadsDir      string
	identifyTimeout time.Duration
}

func New(cfg Config) *Handler {
	uploadsDir := cfg.UploadsDir
	if uploadsDir == "" {
		uploadsDir = "uploads"
	}
	return &Handler{
		sessionStore:    NewSessionStore(),
		identifier:      cfg.Identifier,
		plants:          cfg.Plants,
		images:          cfg.Images,
		uploadsDir:      uploadsDir,
		identifyTimeout: cfg.IdentifyTimeout,
	}
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	h.writeJSONStatus(w, http.StatusOK, data)
}

func (h *Handler) writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	if code >= http.StatusInternalServerError {
		slog.Error(message, "status", code)
	} else {
		slog.Debug(message, "status", code)
	}
	h.writeJSONStatus(w, code, map[string]string{"error": message})
}

func (h *Handler) ensureUploadsDir() error {
	return os.MkdirAll(h.uploadsDir, 0755)
}
