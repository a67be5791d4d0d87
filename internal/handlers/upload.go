package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lehigh-university-libraries/herbarium/internal/auth"
	"github.com/lehigh-university-libraries/herbarium/internal/models"
	"github.com/lehigh-university-libraries/herbarium/internal/providers"
	"github.com/lehigh-university-libraries/herbarium/internal/storage"
	"github.com/lehigh-university-libraries/herbarium/internal/upload"
)

// HandleUpload stores the posted photo and opens a workflow for it in the Confirming state
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("files")
		if err != nil {
			h.writeError(w, "Failed to read file: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	defer file.Close()

	if err := h.ensureUploadsDir(); err != nil {
		h.writeError(w, "Failed to create uploads directory: "+err.Error(), http.StatusInternalServerError)
		return
	}

	fileData, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		h.writeError(w, "Failed to read file contents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(fileData) >= maxUploadSize {
		h.writeError(w, "File too large (max 10MB)", http.StatusBadRequest)
		return
	}
	if len(fileData) == 0 {
		h.writeError(w, "File is empty", http.StatusBadRequest)
		return
	}

	username := auth.Username(r.Context())
	var opts []upload.Option
	if h.identifyTimeout > 0 {
		opts = append(opts, upload.WithIdentifyTimeout(h.identifyTimeout))
	}
	wf := upload.New(h.identifier, h.plants, h.images, auth.User(r.Context()), opts...)

	imagePath, err := h.saveUpload(fileData, header.Filename, wf.ID)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	session := &Session{
		ID:        wf.ID,
		Owner:     username,
		ImageName: header.Filename,
		Workflow:  wf,
		CreatedAt: time.Now(),
	}

	// the workflow closes itself on save or cancel; drop the session and its upload with it
	wf.SetEscapeCallback(func() {
		h.sessionStore.Delete(session.ID)
		if err := os.Remove(imagePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to remove upload", "path", imagePath, "error", err)
		}
	})
	wf.SetCompletionCallback(func(record *models.PlantRecord) {
		slog.Info("Upload completed", "session_id", session.ID, "plant_id", record.ID)
	})

	if err := wf.BeginConfirm(imagePath); err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.sessionStore.Set(session.ID, session)

	slog.Info("Upload session created", "session_id", session.ID, "owner", username, "filename", header.Filename, "bytes", len(fileData))
	h.writeJSONStatus(w, http.StatusCreated, newSessionResponse(session))
}

// HandleIdentify runs identification and waits for its outcome
func (h *Handler) HandleIdentify(w http.ResponseWriter, r *http.Request) {
	session, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	wf := session.Workflow

	if err := wf.Identify(r.Context()); err != nil {
		h.writeError(w, err.Error(), statusFor(err))
		return
	}
	wf.Wait()

	resp := newSessionResponse(session)
	if err := wf.LastFailure(); err != nil && wf.State() == upload.Confirming {
		h.writeJSONStatus(w, statusFor(err), resp)
		return
	}
	h.writeJSON(w, resp)
}

type saveRequest struct {
	UserNotes string `json:"user_notes"`
	IsPublic  bool   `json:"is_public"`
}

// HandleSave persists the identified plant and waits for the store writes
func (h *Handler) HandleSave(w http.ResponseWriter, r *http.Request) {
	session, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	wf := session.Workflow

	var req saveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	if err := wf.Save(r.Context(), req.UserNotes, req.IsPublic); err != nil {
		h.writeError(w, err.Error(), statusFor(err))
		return
	}
	wf.Wait()

	resp := newSessionResponse(session)
	if wf.State() != upload.Saved {
		h.writeJSONStatus(w, statusFor(wf.LastFailure()), resp)
		return
	}
	h.writeJSONStatus(w, http.StatusCreated, resp)
}

// HandleCancel abandons the workflow without persisting anything
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	session, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	if err := session.Workflow.Cancel(); err != nil {
		h.writeError(w, err.Error(), statusFor(err))
		return
	}
	session.Workflow.Wait()
	w.WriteHeader(http.StatusNoContent)
}

// describeFailure returns the user message and a machine readable kind
func describeFailure(err error) (string, string) {
	var failure *providers.Failure
	if errors.As(err, &failure) {
		return failure.UserMessage(), failure.Kind.String()
	}
	if storage.IsStoreError(err) {
		return "The plant could not be saved. Please try again.", "store_error"
	}
	return err.Error(), "error"
}

func statusFor(err error) int {
	var failure *providers.Failure
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, upload.ErrIllegalStateTransition):
		return http.StatusConflict
	case errors.As(err, &failure):
		if failure.Kind == providers.NetworkError {
			return http.StatusBadGateway
		}
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrImageNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
