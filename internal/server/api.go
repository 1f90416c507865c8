package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vvou01/interview-pilot/internal/coach"
	"github.com/vvou01/interview-pilot/internal/storage"
	"github.com/vvou01/interview-pilot/internal/transcript"
)

type createSessionRequest struct {
	JobTitle       string `json:"job_title"`
	Company        string `json:"company"`
	InterviewType  string `json:"interview_type"`
	JobDescription string `json:"job_description"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	warnings := s.warnings
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"warnings": warnings})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess := storage.Session{
		ID:             uuid.NewString(),
		UserID:         userFrom(r).ID,
		JobTitle:       req.JobTitle,
		Company:        req.Company,
		InterviewType:  req.InterviewType,
		JobDescription: req.JobDescription,
		Status:         storage.StatusSetup,
		StartedAt:      s.now().UTC(),
	}
	if err := s.store.CreateSession(r.Context(), sess); err != nil {
		s.apiError(w, err, "create session")
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetOwnedSession(r.Context(), chi.URLParam(r, "id"), userFrom(r).ID)
	if err != nil {
		s.apiError(w, err, "get session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleStartSession promotes setup to active. A repeated start on an
// already-active session is accepted, so at-least-once delivery from the
// capture side is safe.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	sess, err := s.store.GetOwnedSession(r.Context(), sessionID, userFrom(r).ID)
	if err != nil {
		s.apiError(w, err, "start session")
		return
	}

	err = s.store.TransitionSession(r.Context(), sessionID, storage.StatusSetup, storage.StatusActive)
	switch {
	case err == nil:
		s.hub.BroadcastSessionStarted(sessionID)
	case errors.Is(err, storage.ErrConflict) && sess.Status == storage.StatusActive:
	default:
		s.apiError(w, err, "start session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	var req coach.UtteranceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.SessionID = chi.URLParam(r, "id")

	result, err := s.coach.HandleUtterance(r.Context(), userFrom(r), req)
	if err != nil {
		s.apiError(w, err, "handle utterance")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleEndSession completes the session and kicks off the debrief. The
// response never waits for the report; its absence on the report route is
// what "still pending" looks like.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	sess, err := s.store.GetOwnedSession(r.Context(), sessionID, userFrom(r).ID)
	if err != nil {
		s.apiError(w, err, "end session")
		return
	}

	endedAt := s.now().UTC()
	err = s.store.CompleteSession(r.Context(), sessionID, endedAt)
	switch {
	case err == nil:
		s.hub.BroadcastSessionEnded(sessionID, endedAt.Sub(sess.StartedAt))
		s.debrief.Trigger(sessionID)
	case errors.Is(err, storage.ErrConflict) && sess.Status == storage.StatusCompleted:
	default:
		s.apiError(w, err, "end session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, err := s.store.GetOwnedSession(r.Context(), sessionID, userFrom(r).ID); err != nil {
		s.apiError(w, err, "get transcript")
		return
	}

	entries, err := s.store.GetEntries(r.Context(), sessionID)
	if err != nil {
		s.apiError(w, err, "get transcript")
		return
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleLatestSuggestion(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, err := s.store.GetOwnedSession(r.Context(), sessionID, userFrom(r).ID); err != nil {
		s.apiError(w, err, "get latest suggestion")
		return
	}

	sug, err := s.store.GetLatestSuggestion(r.Context(), sessionID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// The session exists but has no suggestion yet. A 404 here would be
		// indistinguishable from an unknown session.
		w.WriteHeader(http.StatusNoContent)
	case err != nil:
		s.apiError(w, err, "get latest suggestion")
	default:
		writeJSON(w, http.StatusOK, sug)
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, err := s.store.GetOwnedSession(r.Context(), sessionID, userFrom(r).ID); err != nil {
		s.apiError(w, err, "get report")
		return
	}

	report, err := s.store.GetDebriefReport(r.Context(), sessionID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Still pending (or the debrief failed); the row shows up when the
		// pipeline finishes.
		w.WriteHeader(http.StatusNoContent)
	case err != nil:
		s.apiError(w, err, "get report")
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) apiError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, coach.ErrUnauthorized):
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, storage.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, storage.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrConflict):
		writeJSONError(w, http.StatusConflict, "conflict")
	default:
		s.log.WithError(err).Errorf("%s failed", op)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
