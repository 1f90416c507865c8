package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvou01/interview-pilot/internal/coach"
	"github.com/vvou01/interview-pilot/internal/debrief"
	"github.com/vvou01/interview-pilot/internal/llm"
	"github.com/vvou01/interview-pilot/internal/speaker"
	"github.com/vvou01/interview-pilot/internal/storage"
	"github.com/vvou01/interview-pilot/internal/transcript"
)

type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	block   chan struct{}
}

func (s *scriptedLLM) Complete(ctx context.Context, msgs []llm.Message) (string, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return "{}", nil
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

const coachReply = `{"headline":"Use STAR","guidance":["Name the situation"],"keywords":["impact"],"target_seconds":90}`

const debriefReply = `{"overall_score":7.5,"summary":"solid","strengths":["clear"],"missed_opportunities":[],"question_analyses":[],"action_items":["follow up"],"followup_email":"Thanks!"}`

type testEnv struct {
	store  *storage.SQLiteStore
	server *Server
	llm    *scriptedLLM
}

func newTestEnv(t *testing.T, warnings []string) *testEnv {
	t.Helper()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	log := logrus.NewEntry(logger)

	model := &scriptedLLM{}
	hub := NewHub(log)
	coachPipe := coach.NewPipeline(store, model, hub, log)
	debriefPipe := debrief.NewPipeline(store, model, hub, log)

	return &testEnv{
		store:  store,
		server: New(store, coachPipe, debriefPipe, hub, log, warnings),
		llm:    model,
	}
}

func (e *testEnv) seedUser(t *testing.T, token, plan string) storage.User {
	t.Helper()
	u := storage.User{
		ID:        "user-" + token,
		Email:     token + "@example.com",
		Token:     token,
		Plan:      plan,
		CVText:    "Senior engineer, ten years of Go.",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, e.store.CreateUser(context.Background(), u))
	return u
}

func (e *testEnv) seedSession(t *testing.T, userID, status string) storage.Session {
	t.Helper()
	sess := storage.Session{
		ID:        "sess-" + userID + "-" + status,
		UserID:    userID,
		JobTitle:  "Backend Engineer",
		Company:   "Acme",
		Status:    status,
		StartedAt: time.Now().UTC().Add(-time.Minute),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, e.store.CreateSession(context.Background(), sess))
	return sess
}

func doRequest(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestMissingOrInvalidTokenIs401(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := doRequest(t, env.server, http.MethodGet, "/api/sessions/whatever", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, env.server, http.MethodGet, "/api/sessions/whatever", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNotFoundVersusForbidden(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := env.seedUser(t, "owner", storage.PlanPro)
	env.seedUser(t, "intruder", storage.PlanPro)
	sess := env.seedSession(t, owner.ID, storage.StatusActive)

	rec := doRequest(t, env.server, http.MethodGet, "/api/sessions/no-such-session", "owner", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, env.server, http.MethodGet, "/api/sessions/"+sess.ID, "intruder", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateThenStartSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "owner", storage.PlanPro)

	rec := doRequest(t, env.server, http.MethodPost, "/api/sessions", "owner", createSessionRequest{
		JobTitle: "Backend Engineer",
		Company:  "Acme",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var sess storage.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, storage.StatusSetup, sess.Status)

	rec = doRequest(t, env.server, http.MethodPost, "/api/sessions/"+sess.ID+"/start", "owner", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, env.server, http.MethodGet, "/api/sessions/"+sess.ID, "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, storage.StatusActive, sess.Status)

	// at-least-once delivery from the capture side
	rec = doRequest(t, env.server, http.MethodPost, "/api/sessions/"+sess.ID+"/start", "owner", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestUtteranceProducesSuggestionAndTranscript(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := env.seedUser(t, "owner", storage.PlanPro)
	sess := env.seedSession(t, owner.ID, storage.StatusActive)
	env.llm.replies = []string{coachReply}

	rec := doRequest(t, env.server, http.MethodPost, "/api/sessions/"+sess.ID+"/utterances", "owner", coach.UtteranceRequest{
		Role:             speaker.RoleInterviewer,
		Text:             "Tell me about a hard bug you fixed.",
		TimestampSeconds: 12.5,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result coach.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotNil(t, result.Suggestion)

	var payload coach.SuggestionPayload
	require.NoError(t, json.Unmarshal(result.Suggestion.Payload, &payload))
	assert.Equal(t, "Use STAR", payload.Headline)

	rec = doRequest(t, env.server, http.MethodGet, "/api/sessions/"+sess.ID+"/transcript", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []transcript.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Tell me about a hard bug you fixed.", entries[0].Text)

	rec = doRequest(t, env.server, http.MethodGet, "/api/sessions/"+sess.ID+"/suggestions/latest", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var latest storage.Suggestion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, result.Suggestion.ID, latest.ID)
}

// An existing session with no suggestion yet answers 204; 404 stays reserved
// for sessions that do not exist, so pollers can tell the two apart.
func TestLatestSuggestionAbsentVersusUnknownSession(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := env.seedUser(t, "owner", storage.PlanPro)
	sess := env.seedSession(t, owner.ID, storage.StatusActive)

	rec := doRequest(t, env.server, http.MethodGet, "/api/sessions/"+sess.ID+"/suggestions/latest", "owner", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, env.server, http.MethodGet, "/api/sessions/no-such-session/suggestions/latest", "owner", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEndSessionReturnsBeforeDebriefAndReportAppearsLater(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := env.seedUser(t, "owner", storage.PlanPro)
	sess := env.seedSession(t, owner.ID, storage.StatusActive)

	release := make(chan struct{})
	env.llm.block = release
	env.llm.replies = []string{debriefReply}

	rec := doRequest(t, env.server, http.MethodGet, "/api/sessions/"+sess.ID+"/report", "owner", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code, "report must be absent before the session ends")

	rec = doRequest(t, env.server, http.MethodPost, "/api/sessions/"+sess.ID+"/end", "owner", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, "end must not wait for the debrief")

	rec = doRequest(t, env.server, http.MethodGet, "/api/sessions/"+sess.ID+"/report", "owner", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code, "report is still pending while the model call is in flight")

	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = doRequest(t, env.server, http.MethodGet, "/api/sessions/"+sess.ID+"/report", "owner", nil)
		if rec.Code == http.StatusOK || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, http.StatusOK, rec.Code)

	var report storage.DebriefReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.InDelta(t, 7.5, report.OverallScore, 0.001)

	// repeated end is accepted
	rec = doRequest(t, env.server, http.MethodPost, "/api/sessions/"+sess.ID+"/end", "owner", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestStatusReportsWarningsWithoutAuth(t *testing.T) {
	env := newTestEnv(t, []string{"deepgram api key not set"})

	rec := doRequest(t, env.server, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Warnings []string `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"deepgram api key not set"}, body.Warnings)
}
