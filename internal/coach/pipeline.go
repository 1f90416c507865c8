package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vvou01/interview-pilot/internal/llm"
	"github.com/vvou01/interview-pilot/internal/speaker"
	"github.com/vvou01/interview-pilot/internal/storage"
	"github.com/vvou01/interview-pilot/internal/transcript"
)

// contextWindow is how many recent transcript entries are rendered into the
// coaching prompt.
const contextWindow = 8

type Store interface {
	GetSession(ctx context.Context, id string) (storage.Session, error)
	TransitionSession(ctx context.Context, id, from, to string) error
	AppendEntry(ctx context.Context, e transcript.Entry) error
	GetRecentEntries(ctx context.Context, sessionID string, limit int) ([]transcript.Entry, error)
	CreateSuggestion(ctx context.Context, sug storage.Suggestion) error
	IncrementSuggestionsUsed(ctx context.Context, userID string) error
}

type Broadcaster interface {
	BroadcastSuggestionCreated(sug storage.Suggestion)
}

// Pipeline handles finalized utterances: it persists the transcript entry,
// promotes a setup session on its first activity, and generates a coaching
// suggestion for paid interviewer turns.
type Pipeline struct {
	store  Store
	client llm.Client
	events Broadcaster
	log    *logrus.Entry
	now    func() time.Time
}

func NewPipeline(store Store, client llm.Client, events Broadcaster, log *logrus.Entry) *Pipeline {
	return &Pipeline{
		store:  store,
		client: client,
		events: events,
		log:    log,
		now:    time.Now,
	}
}

// HandleUtterance runs the coaching request contract for one utterance.
// Transcript persistence happens before any gating: candidate turns and
// free-tier callers still get their transcript captured. A language-model
// failure returns ReasonLLMError with the already-persisted entry retained;
// storage failures come back as errors instead of reason codes.
func (p *Pipeline) HandleUtterance(ctx context.Context, caller storage.User, req UtteranceRequest) (Result, error) {
	if caller.ID == "" {
		return Result{}, ErrUnauthorized
	}

	sess, err := p.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return Result{}, err
	}
	if sess.UserID != caller.ID {
		return Result{}, storage.ErrForbidden
	}

	entry := transcript.Entry{
		SessionID:        sess.ID,
		Role:             req.Role,
		Text:             strings.TrimSpace(req.Text),
		TimestampSeconds: req.TimestampSeconds,
		CreatedAt:        p.now().UTC(),
	}
	if err := p.store.AppendEntry(ctx, entry); err != nil {
		return Result{}, fmt.Errorf("persist transcript entry: %w", err)
	}

	// First real transcript activity activates a setup session. A lost race
	// just means another utterance got there first.
	if sess.Status == storage.StatusSetup {
		err := p.store.TransitionSession(ctx, sess.ID, storage.StatusSetup, storage.StatusActive)
		if err != nil && !errors.Is(err, storage.ErrConflict) {
			return Result{}, fmt.Errorf("promote session to active: %w", err)
		}
	}

	if req.Role != speaker.RoleInterviewer {
		return Result{Reason: ReasonNotInterviewer}, nil
	}

	if caller.Plan != storage.PlanPro {
		return Result{Reason: ReasonUpgradeRequired}, nil
	}

	sug, reason, err := p.generate(ctx, caller, sess, entry)
	if err != nil {
		return Result{}, err
	}
	if reason != "" {
		return Result{Reason: reason}, nil
	}
	return Result{Suggestion: sug}, nil
}

// generate returns either a persisted suggestion, a reason code for LLM
// failures, or an error for storage failures.
func (p *Pipeline) generate(ctx context.Context, caller storage.User, sess storage.Session, entry transcript.Entry) (*storage.Suggestion, string, error) {
	recent, err := p.store.GetRecentEntries(ctx, sess.ID, contextWindow)
	if err != nil {
		return nil, "", fmt.Errorf("load context window: %w", err)
	}
	// Recent entries come back newest first; prompts read chronologically.
	reverse(recent)

	messages := []llm.Message{
		{Role: "system", Content: coachSystemPrompt},
		{Role: "user", Content: renderCoachPrompt(caller, sess, recent, entry.Text)},
	}

	start := p.now()
	reply, err := p.client.Complete(ctx, messages)
	latency := p.now().Sub(start)
	if err != nil {
		p.logErr(err, sess.ID, "llm completion")
		return nil, ReasonLLMError, nil
	}

	var payload SuggestionPayload
	if err := llm.ExtractJSON(reply, &payload); err != nil {
		p.logErr(err, sess.ID, "parse coaching reply")
		return nil, ReasonLLMError, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		p.logErr(err, sess.ID, "encode coaching payload")
		return nil, ReasonLLMError, nil
	}

	sug := storage.Suggestion{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		TriggerText: entry.Text,
		Payload:     raw,
		LatencyMS:   latency.Milliseconds(),
		CreatedAt:   p.now().UTC(),
	}
	if err := p.store.CreateSuggestion(ctx, sug); err != nil {
		return nil, "", fmt.Errorf("persist suggestion: %w", err)
	}

	if err := p.store.IncrementSuggestionsUsed(ctx, caller.ID); err != nil {
		// Usage accounting must not cost the caller a generated suggestion.
		p.logErr(err, sess.ID, "increment usage counter")
	}

	if p.events != nil {
		p.events.BroadcastSuggestionCreated(sug)
	}

	return &sug, "", nil
}

func (p *Pipeline) logErr(err error, sessionID, op string) {
	if p.log != nil {
		p.log.WithError(err).WithField("session", sessionID).Warnf("coach: %s failed", op)
	}
}

func reverse(entries []transcript.Entry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
