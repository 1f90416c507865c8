// Package server exposes the coaching backend over HTTP: bearer-token
// authenticated session routes plus a websocket event stream for panels.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/vvou01/interview-pilot/internal/coach"
	"github.com/vvou01/interview-pilot/internal/storage"
	"github.com/vvou01/interview-pilot/internal/transcript"
)

// Store is the persistence surface the HTTP layer needs.
type Store interface {
	GetUserByToken(ctx context.Context, token string) (storage.User, error)
	CreateSession(ctx context.Context, sess storage.Session) error
	GetOwnedSession(ctx context.Context, id, userID string) (storage.Session, error)
	TransitionSession(ctx context.Context, id, from, to string) error
	CompleteSession(ctx context.Context, id string, endedAt time.Time) error
	GetEntries(ctx context.Context, sessionID string) ([]transcript.Entry, error)
	GetLatestSuggestion(ctx context.Context, sessionID string) (storage.Suggestion, error)
	GetDebriefReport(ctx context.Context, sessionID string) (storage.DebriefReport, error)
}

// CoachPipeline handles live utterances.
type CoachPipeline interface {
	HandleUtterance(ctx context.Context, caller storage.User, req coach.UtteranceRequest) (coach.Result, error)
}

// DebriefPipeline kicks off post-session report generation.
type DebriefPipeline interface {
	Trigger(sessionID string)
}

type Server struct {
	store    Store
	coach    CoachPipeline
	debrief  DebriefPipeline
	hub      *Hub
	log      *logrus.Entry
	warnings []string
	now      func() time.Time
	router   chi.Router
}

func New(store Store, coachPipe CoachPipeline, debriefPipe DebriefPipeline, hub *Hub, log *logrus.Entry, warnings []string) *Server {
	s := &Server{
		store:    store,
		coach:    coachPipe,
		debrief:  debriefPipe,
		hub:      hub,
		log:      log,
		warnings: warnings,
		now:      time.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	s.registerWSRoute(r)
	r.Get("/api/status", s.handleStatus)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Post("/", s.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/start", s.handleStartSession)
			r.Post("/utterances", s.handleUtterance)
			r.Post("/end", s.handleEndSession)
			r.Get("/transcript", s.handleTranscript)
			r.Get("/suggestions/latest", s.handleLatestSuggestion)
			r.Get("/report", s.handleReport)
		})
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Serve(addr string) error {
	s.log.WithField("addr", addr).Info("http server listening")
	return http.ListenAndServe(addr, s.router)
}

type contextKey string

const userKey contextKey = "user"

// requireUser resolves the bearer token to a user and stashes it on the
// request context. Missing or unknown tokens are a 401, never a 404.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		user, err := s.store.GetUserByToken(r.Context(), token)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, prefix))
}

func userFrom(r *http.Request) storage.User {
	user, _ := r.Context().Value(userKey).(storage.User)
	return user
}
