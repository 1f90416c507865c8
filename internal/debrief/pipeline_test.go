package debrief

import (
	"context"
	"errors"
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
	mu      sync.Mutex
	session storage.Session
	user    storage.User
	entries []transcript.Entry
	report  *storage.DebriefReport
	score   *float64

	userErr  error
	scoreErr error
}

func (s *storeMock) GetSession(_ context.Context, id string) (storage.Session, error) {
	if s.session.ID != id {
		return storage.Session{}, storage.ErrNotFound
	}
	return s.session, nil
}

func (s *storeMock) GetUser(_ context.Context, _ string) (storage.User, error) {
	if s.userErr != nil {
		return storage.User{}, s.userErr
	}
	return s.user, nil
}

func (s *storeMock) GetEntries(_ context.Context, _ string) ([]transcript.Entry, error) {
	return append([]transcript.Entry(nil), s.entries...), nil
}

func (s *storeMock) CreateDebriefReport(_ context.Context, r storage.DebriefReport) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report != nil {
		return false, nil
	}
	s.report = &r
	return true, nil
}

func (s *storeMock) UpdateOverallScore(_ context.Context, _ string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scoreErr != nil {
		return s.scoreErr
	}
	s.score = &score
	return nil
}

type llmMock struct {
	mu     sync.Mutex
	reply  string
	err    error
	prompt string
}

func (c *llmMock) Complete(_ context.Context, messages []llm.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range messages {
		if m.Role == "user" {
			c.prompt = m.Content
		}
	}
	return c.reply, c.err
}

const goodReply = `{"overall_score": 8, "summary": "Strong showing.", "strengths": ["clear answers"], "missed_opportunities": ["no questions asked"], "question_analyses": [{"question": "Tell me about yourself", "quality": "strong", "comment": "concise"}], "action_items": ["send thank-you"], "followup_email": "Thanks for your time."}`

func seed() (*storeMock, *llmMock) {
	store := &storeMock{
		session: storage.Session{ID: "s1", UserID: "u1", JobTitle: "SRE", Company: "Acme", Status: storage.StatusCompleted},
		user:    storage.User{ID: "u1", CVText: "Ten years of infrastructure work."},
		entries: []transcript.Entry{
			{SessionID: "s1", Role: speaker.RoleInterviewer, Text: "Tell me about yourself.", TimestampSeconds: 1},
			{SessionID: "s1", Role: speaker.RoleCandidate, Text: "I run the platform team.", TimestampSeconds: 5},
		},
	}
	return store, &llmMock{reply: goodReply}
}

func TestGenerateThenPersistsReportAndScore(t *testing.T) {
	store, client := seed()
	p := NewPipeline(store, client, nil, nil)

	p.Generate(context.Background(), "s1")

	require.NotNil(t, store.report)
	assert.Equal(t, "Strong showing.", store.report.Summary)
	assert.InDelta(t, 8, store.report.OverallScore, 0.001)
	require.NotNil(t, store.score)
	assert.InDelta(t, 8, *store.score, 0.001)

	assert.Contains(t, client.prompt, "Interviewer: Tell me about yourself.")
	assert.Contains(t, client.prompt, "Ten years of infrastructure work.")
}

func TestLLMFailureLeavesNoReport(t *testing.T) {
	store, client := seed()
	client.err = errors.New("model unavailable")
	p := NewPipeline(store, client, nil, nil)

	p.Generate(context.Background(), "s1")

	assert.Nil(t, store.report)
	assert.Nil(t, store.score)
}

func TestMalformedReplyLeavesNoReport(t *testing.T) {
	store, client := seed()
	client.reply = "the interview went fine, no JSON though"
	p := NewPipeline(store, client, nil, nil)

	p.Generate(context.Background(), "s1")

	assert.Nil(t, store.report)
}

func TestEmptyTranscriptStillGenerates(t *testing.T) {
	store, client := seed()
	store.entries = nil
	p := NewPipeline(store, client, nil, nil)

	p.Generate(context.Background(), "s1")

	require.NotNil(t, store.report)
	assert.Contains(t, client.prompt, "(no transcript was captured)")
}

func TestUnresolvedProfileDegradesToEmptyCV(t *testing.T) {
	store, client := seed()
	store.userErr = storage.ErrNotFound
	p := NewPipeline(store, client, nil, nil)

	p.Generate(context.Background(), "s1")

	require.NotNil(t, store.report)
	assert.NotContains(t, client.prompt, "Candidate CV")
}

func TestExistingReportIsNotOverwritten(t *testing.T) {
	store, client := seed()
	existing := storage.DebriefReport{SessionID: "s1", Summary: "original"}
	store.report = &existing
	p := NewPipeline(store, client, nil, nil)

	p.Generate(context.Background(), "s1")

	assert.Equal(t, "original", store.report.Summary)
	assert.Nil(t, store.score)
}

func TestScoreClampedToRange(t *testing.T) {
	store, client := seed()
	client.reply = `{"overall_score": 42, "summary": "off the chart"}`
	p := NewPipeline(store, client, nil, nil)

	p.Generate(context.Background(), "s1")

	require.NotNil(t, store.report)
	assert.InDelta(t, 10, store.report.OverallScore, 0.001)
}

func TestTriggerDoesNotBlockCaller(t *testing.T) {
	store, client := seed()
	release := make(chan struct{})
	blocking := &blockingLLM{inner: client, release: release}
	p := NewPipeline(store, blocking, nil, nil)

	done := make(chan struct{})
	go func() {
		p.Trigger("s1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Trigger blocked on report generation")
	}

	close(release)
	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.report != nil
	})
}

type blockingLLM struct {
	inner   llm.Client
	release chan struct{}
}

func (b *blockingLLM) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	<-b.release
	return b.inner.Complete(ctx, messages)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
