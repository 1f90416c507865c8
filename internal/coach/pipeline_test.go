package coach

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvou01/interview-pilot/internal/llm"
	"github.com/vvou01/interview-pilot/internal/speaker"
	"github.com/vvou01/interview-pilot/internal/storage"
	"github.com/vvou01/interview-pilot/internal/transcript"
)

type storeMock struct {
	mu          sync.Mutex
	sessions    map[string]storage.Session
	entries     map[string][]transcript.Entry
	suggestions []storage.Suggestion
	usage       map[string]int

	transitionErr error
	recentErr     error
	suggestionErr error
}

func newStoreMock() *storeMock {
	return &storeMock{
		sessions: map[string]storage.Session{},
		entries:  map[string][]transcript.Entry{},
		usage:    map[string]int{},
	}
}

func (s *storeMock) GetSession(_ context.Context, id string) (storage.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return storage.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func (s *storeMock) TransitionSession(_ context.Context, id, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionErr != nil {
		return s.transitionErr
	}
	sess := s.sessions[id]
	if sess.Status != from {
		return storage.ErrConflict
	}
	sess.Status = to
	s.sessions[id] = sess
	return nil
}

func (s *storeMock) AppendEntry(_ context.Context, e transcript.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.SessionID] = append(s.entries[e.SessionID], e)
	return nil
}

func (s *storeMock) GetRecentEntries(_ context.Context, sessionID string, limit int) ([]transcript.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	all := s.entries[sessionID]
	// Newest first, as the real store returns them.
	out := make([]transcript.Entry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *storeMock) CreateSuggestion(_ context.Context, sug storage.Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suggestionErr != nil {
		return s.suggestionErr
	}
	s.suggestions = append(s.suggestions, sug)
	return nil
}

func (s *storeMock) IncrementSuggestionsUsed(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[userID]++
	return nil
}

type llmMock struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	prompts []string
}

func (c *llmMock) Complete(_ context.Context, messages []llm.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	for _, m := range messages {
		c.prompts = append(c.prompts, m.Content)
	}
	return c.reply, c.err
}

func proUser() storage.User {
	return storage.User{ID: "u1", Plan: storage.PlanPro, CVText: "Led platform team."}
}

func seedPipeline(status string) (*Pipeline, *storeMock, *llmMock) {
	store := newStoreMock()
	store.sessions["s1"] = storage.Session{
		ID: "s1", UserID: "u1", JobTitle: "SRE", Company: "Acme", Status: status,
		StartedAt: time.Now().UTC(),
	}
	client := &llmMock{reply: `{"headline": "Use STAR", "guidance": ["state the result first"], "keywords": ["latency"], "target_seconds": 90}`}
	return NewPipeline(store, client, nil, nil), store, client
}

func interviewerReq(text string) UtteranceRequest {
	return UtteranceRequest{SessionID: "s1", Role: speaker.RoleInterviewer, Text: text, TimestampSeconds: 12}
}

func TestUnauthenticatedCaller(t *testing.T) {
	p, _, _ := seedPipeline(storage.StatusActive)

	_, err := p.HandleUtterance(context.Background(), storage.User{}, interviewerReq("hi"))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestMissingSessionDistinctFromForeign(t *testing.T) {
	p, store, _ := seedPipeline(storage.StatusActive)

	_, err := p.HandleUtterance(context.Background(), proUser(), UtteranceRequest{SessionID: "nope", Role: speaker.RoleInterviewer, Text: "q"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	other := storage.User{ID: "intruder", Plan: storage.PlanPro}
	_, err = p.HandleUtterance(context.Background(), other, interviewerReq("q"))
	assert.ErrorIs(t, err, storage.ErrForbidden)

	// Neither failure may leave a transcript entry behind.
	assert.Empty(t, store.entries["s1"])
}

func TestCandidateTurnPersistsButNeverCallsLLM(t *testing.T) {
	p, store, client := seedPipeline(storage.StatusActive)

	res, err := p.HandleUtterance(context.Background(), proUser(), UtteranceRequest{
		SessionID: "s1", Role: speaker.RoleCandidate, Text: "I led the migration.", TimestampSeconds: 30,
	})
	require.NoError(t, err)

	assert.Nil(t, res.Suggestion)
	assert.Equal(t, ReasonNotInterviewer, res.Reason)
	assert.Len(t, store.entries["s1"], 1)
	assert.Zero(t, client.calls)
}

func TestFreeTierGetsTranscriptButNoSuggestion(t *testing.T) {
	p, store, client := seedPipeline(storage.StatusActive)
	free := storage.User{ID: "u1", Plan: storage.PlanFree}

	res, err := p.HandleUtterance(context.Background(), free, interviewerReq("Tell me about yourself"))
	require.NoError(t, err)

	assert.Equal(t, ReasonUpgradeRequired, res.Reason)
	assert.Len(t, store.entries["s1"], 1)
	assert.Empty(t, store.suggestions)
	assert.Zero(t, client.calls)
}

func TestLLMFailureRetainsTranscriptEntry(t *testing.T) {
	p, store, client := seedPipeline(storage.StatusActive)
	client.err = errors.New("upstream timeout")

	res, err := p.HandleUtterance(context.Background(), proUser(), interviewerReq("What is your biggest weakness?"))
	require.NoError(t, err)

	assert.Equal(t, ReasonLLMError, res.Reason)
	assert.Len(t, store.entries["s1"], 1)
	assert.Empty(t, store.suggestions)
}

func TestMalformedReplyIsLLMError(t *testing.T) {
	p, store, client := seedPipeline(storage.StatusActive)
	client.reply = "I'd rather not answer in JSON today."

	res, err := p.HandleUtterance(context.Background(), proUser(), interviewerReq("Why us?"))
	require.NoError(t, err)

	assert.Equal(t, ReasonLLMError, res.Reason)
	assert.Len(t, store.entries["s1"], 1)
	assert.Empty(t, store.suggestions)
}

func TestContextWindowReadFailureIsAnError(t *testing.T) {
	p, store, client := seedPipeline(storage.StatusActive)
	store.recentErr = errors.New("disk i/o error")

	res, err := p.HandleUtterance(context.Background(), proUser(), interviewerReq("Walk me through your resume"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "load context window")

	// Not an upstream failure, so no reason code.
	assert.Empty(t, res.Reason)
	assert.Len(t, store.entries["s1"], 1)
	assert.Zero(t, client.calls)
}

func TestSuggestionPersistFailureIsAnError(t *testing.T) {
	p, store, _ := seedPipeline(storage.StatusActive)
	store.suggestionErr = errors.New("disk i/o error")

	res, err := p.HandleUtterance(context.Background(), proUser(), interviewerReq("Why this role?"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "persist suggestion")
	assert.Empty(t, res.Reason)
}

func TestFirstUtterancePromotesSetupSession(t *testing.T) {
	p, store, _ := seedPipeline(storage.StatusSetup)

	res, err := p.HandleUtterance(context.Background(), proUser(), interviewerReq("Tell me about a time you led a project"))
	require.NoError(t, err)

	sess := store.sessions["s1"]
	assert.Equal(t, storage.StatusActive, sess.Status)
	require.NotNil(t, res.Suggestion)

	var payload SuggestionPayload
	require.NoError(t, json.Unmarshal(res.Suggestion.Payload, &payload))
	assert.Equal(t, "Use STAR", payload.Headline)
	assert.Equal(t, int64(1), int64(store.usage["u1"]))
}

func TestSuggestionPersistedWithTriggerAndLatency(t *testing.T) {
	p, store, _ := seedPipeline(storage.StatusActive)

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	step := 0
	p.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * 300 * time.Millisecond)
	}

	res, err := p.HandleUtterance(context.Background(), proUser(), interviewerReq("How do you handle conflict?"))
	require.NoError(t, err)
	require.NotNil(t, res.Suggestion)

	require.Len(t, store.suggestions, 1)
	sug := store.suggestions[0]
	assert.Equal(t, "How do you handle conflict?", sug.TriggerText)
	assert.Equal(t, int64(300), sug.LatencyMS)
	assert.NotEmpty(t, sug.ID)
}

func TestContextWindowIsChronological(t *testing.T) {
	p, store, client := seedPipeline(storage.StatusActive)
	ctx := context.Background()
	caller := proUser()

	// Ten prior entries; only the last eight make the window.
	for i := 0; i < 10; i++ {
		require.NoError(t, store.AppendEntry(ctx, transcript.Entry{
			SessionID: "s1", Role: speaker.RoleCandidate,
			Text: "answer " + string(rune('a'+i)), TimestampSeconds: float64(i),
		}))
	}

	_, err := p.HandleUtterance(ctx, caller, interviewerReq("Final question?"))
	require.NoError(t, err)

	require.NotEmpty(t, client.prompts)
	prompt := client.prompts[len(client.prompts)-1]
	assert.NotContains(t, prompt, "answer a")
	assert.NotContains(t, prompt, "answer b")
	// Chronological order preserved inside the rendered block.
	assert.Less(t, strings.Index(prompt, "answer d"), strings.Index(prompt, "answer j"))
}
