package debrief

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vvou01/interview-pilot/internal/llm"
	"github.com/vvou01/interview-pilot/internal/storage"
	"github.com/vvou01/interview-pilot/internal/transcript"
)

// Report is the structured post-interview debrief expected from the
// language model.
type Report struct {
	OverallScore        float64            `json:"overall_score"`
	Summary             string             `json:"summary"`
	Strengths           []string           `json:"strengths"`
	MissedOpportunities []string           `json:"missed_opportunities"`
	QuestionAnalyses    []QuestionAnalysis `json:"question_analyses"`
	ActionItems         []string           `json:"action_items"`
	FollowupEmail       string             `json:"followup_email"`
}

type QuestionAnalysis struct {
	Question string `json:"question"`
	Quality  string `json:"quality"`
	Comment  string `json:"comment"`
}

type Store interface {
	GetSession(ctx context.Context, id string) (storage.Session, error)
	GetUser(ctx context.Context, id string) (storage.User, error)
	GetEntries(ctx context.Context, sessionID string) ([]transcript.Entry, error)
	CreateDebriefReport(ctx context.Context, r storage.DebriefReport) (bool, error)
	UpdateOverallScore(ctx context.Context, id string, score float64) error
}

type Broadcaster interface {
	BroadcastReportReady(sessionID string, score float64)
}

// Pipeline generates the post-session debrief. It is triggered
// fire-and-forget when a session completes: the triggering call has already
// returned success, so every failure here is logged and swallowed. A poller
// sees the absent report as "pending" whether generation is still running
// or permanently failed; that indistinguishability is the documented
// contract.
type Pipeline struct {
	store  Store
	client llm.Client
	events Broadcaster
	log    *logrus.Entry
}

func NewPipeline(store Store, client llm.Client, events Broadcaster, log *logrus.Entry) *Pipeline {
	return &Pipeline{store: store, client: client, events: events, log: log}
}

// Trigger spawns report generation in the background with its own error
// boundary. It never blocks and never reports the task's outcome.
func (p *Pipeline) Trigger(sessionID string) {
	go func() {
		defer func() {
			if r := recover(); r != nil && p.log != nil {
				p.log.WithField("session", sessionID).Errorf("debrief: panic recovered: %v", r)
			}
		}()
		p.Generate(context.Background(), sessionID)
	}()
}

// Generate builds and persists the debrief for a completed session. An
// empty transcript is valid input and yields a degraded but non-erroring
// report.
func (p *Pipeline) Generate(ctx context.Context, sessionID string) {
	if err := p.generate(ctx, sessionID); err != nil && p.log != nil {
		p.log.WithError(err).WithField("session", sessionID).Warn("debrief: generation failed")
	}
}

func (p *Pipeline) generate(ctx context.Context, sessionID string) error {
	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	entries, err := p.store.GetEntries(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}

	// An unresolved profile degrades to an empty CV, not a failure.
	cv := ""
	if user, err := p.store.GetUser(ctx, sess.UserID); err == nil {
		cv = user.CVText
	}

	messages := []llm.Message{
		{Role: "system", Content: debriefSystemPrompt},
		{Role: "user", Content: renderDebriefPrompt(sess, cv, entries)},
	}

	reply, err := p.client.Complete(ctx, messages)
	if err != nil {
		return fmt.Errorf("llm completion: %w", err)
	}

	var report Report
	if err := llm.ExtractJSON(reply, &report); err != nil {
		return fmt.Errorf("parse debrief reply: %w", err)
	}
	report.OverallScore = clampScore(report.OverallScore)

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode debrief body: %w", err)
	}

	created, err := p.store.CreateDebriefReport(ctx, storage.DebriefReport{
		SessionID:    sessionID,
		OverallScore: report.OverallScore,
		Summary:      report.Summary,
		Body:         body,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("persist debrief report: %w", err)
	}
	if !created {
		// A report already exists; leave it and its score alone.
		return nil
	}

	// The two writes are not atomic with each other: a report without a
	// session score is the detectable partial state.
	if err := p.store.UpdateOverallScore(ctx, sessionID, report.OverallScore); err != nil {
		return fmt.Errorf("update session score: %w", err)
	}

	if p.events != nil {
		p.events.BroadcastReportReady(sessionID, report.OverallScore)
	}
	return nil
}

func clampScore(score float64) float64 {
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}

const debriefSystemPrompt = `You are an interview performance analyst. Given a full interview transcript, produce exactly one JSON object:
{
  "overall_score": 7,
  "summary": "2-3 sentence assessment",
  "strengths": ["..."],
  "missed_opportunities": ["..."],
  "question_analyses": [{"question": "...", "quality": "strong|adequate|weak", "comment": "..."}],
  "action_items": ["..."],
  "followup_email": "short thank-you email draft"
}
overall_score is 1-10. If the transcript is empty or thin, still return the object with conservative content. No prose outside the JSON.`

func renderDebriefPrompt(sess storage.Session, cv string, entries []transcript.Entry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Role: %s at %s (%s interview)\n", sess.JobTitle, sess.Company, sess.InterviewType)
	if desc := strings.TrimSpace(sess.JobDescription); desc != "" {
		fmt.Fprintf(&b, "\nJob description:\n%s\n", desc)
	}
	if cv = strings.TrimSpace(cv); cv != "" {
		fmt.Fprintf(&b, "\nCandidate CV:\n%s\n", cv)
	}

	block := transcript.FormatContext(entries)
	if block == "" {
		block = "(no transcript was captured)"
	}
	fmt.Fprintf(&b, "\nFull transcript:\n%s\n", block)

	return b.String()
}
