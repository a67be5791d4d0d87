package handlers

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lehigh-university-libraries/herbarium/internal/auth"
	"github.com/lehigh-university-libraries/herbarium/internal/models"
	"github.com/lehigh-university-libraries/herbarium/internal/upload"
)

// Session is one upload workflow owned by an API user
type Session struct {
	ID        string
	Owner     string
	ImageName string
	Workflow  *upload.Workflow
	CreatedAt time.Time
}

// SessionStore keeps the active upload sessions in memory
type SessionStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
	}
}

func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, exists := s.sessions[id]
	return session, exists
}

func (s *SessionStore) Set(id string, session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = session
}

func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// ForOwner lists owner's sessions, oldest first
func (s *SessionStore) ForOwner(owner string) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Session, 0)
	for _, session := range s.sessions {
		if session.Owner == owner {
			result = append(result, session)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

type sessionResponse struct {
	SessionID string                       `json:"session_id"`
	State     upload.State                 `json:"state"`
	ImageName string                       `json:"image_name"`
	Result    *models.IdentificationResult `json:"result,omitempty"`
	Record    *models.PlantRecord          `json:"record,omitempty"`
	Error     string                       `json:"error,omitempty"`
	ErrorKind string                       `json:"error_kind,omitempty"`
	CreatedAt time.Time                    `json:"created_at"`
}

func newSessionResponse(session *Session) sessionResponse {
	wf := session.Workflow
	resp := sessionResponse{
		SessionID: session.ID,
		State:     wf.State(),
		ImageName: session.ImageName,
		Result:    wf.Result(),
		Record:    wf.Record(),
		CreatedAt: session.CreatedAt,
	}
	if err := wf.LastFailure(); err != nil {
		resp.Error, resp.ErrorKind = describeFailure(err)
	}
	return resp
}

// getSessionOrError only finds sessions owned by the authenticated user
func (h *Handler) getSessionOrError(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sessionID := chi.URLParam(r, "id")
	session, exists := h.sessionStore.Get(sessionID)
	if !exists || session.Owner != auth.Username(r.Context()) {
		h.writeError(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return session, true
}

func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessionStore.ForOwner(auth.Username(r.Context()))
	list := make([]sessionResponse, 0, len(sessions))
	for _, session := range sessions {
		list = append(list, newSessionResponse(session))
	}
	h.writeJSON(w, list)
}

func (h *Handler) HandleSessionDetail(w http.ResponseWriter, r *http.Request) {
	session, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, newSessionResponse(session))
}
