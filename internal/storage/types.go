package storage

import (
	"encoding/json"
	"time"
)

// Session statuses. Transitions are setup -> active -> completed; abandoned
// is terminal from any non-completed status.
const (
	StatusSetup     = "setup"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
)

// Plan tiers. Free-tier callers get transcript capture but no live coaching.
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

type User struct {
	ID              string    `db:"id" json:"id"`
	Email           string    `db:"email" json:"email"`
	Token           string    `db:"token" json:"-"`
	Plan            string    `db:"plan" json:"plan"`
	SuggestionsUsed int       `db:"suggestions_used" json:"suggestions_used"`
	CVText          string    `db:"cv_text" json:"-"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

type Session struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"user_id"`
	JobTitle       string     `db:"job_title" json:"job_title"`
	Company        string     `db:"company" json:"company"`
	InterviewType  string     `db:"interview_type" json:"interview_type"`
	JobDescription string     `db:"job_description" json:"job_description"`
	Status         string     `db:"status" json:"status"`
	StartedAt      time.Time  `db:"started_at" json:"started_at"`
	EndedAt        *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	OverallScore   *float64   `db:"overall_score" json:"overall_score,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Suggestion history is append-only; only the newest row per session is
// meaningful to the live panel.
type Suggestion struct {
	ID          string          `db:"id" json:"id"`
	SessionID   string          `db:"session_id" json:"session_id"`
	TriggerText string          `db:"trigger_text" json:"trigger_text"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	LatencyMS   int64           `db:"latency_ms" json:"latency_ms"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

type DebriefReport struct {
	SessionID    string          `db:"session_id" json:"session_id"`
	OverallScore float64         `db:"overall_score" json:"overall_score"`
	Summary      string          `db:"summary" json:"summary"`
	Body         json.RawMessage `db:"body" json:"body"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}
