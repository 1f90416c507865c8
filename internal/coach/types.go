package coach

import (
	"errors"

	"github.com/vvou01/interview-pilot/internal/speaker"
	"github.com/vvou01/interview-pilot/internal/storage"
)

// ErrUnauthorized means the caller presented no credential or an invalid
// one. Ownership mismatch and missing sessions surface as
// storage.ErrForbidden and storage.ErrNotFound so consumers can branch on
// all three independently.
var ErrUnauthorized = errors.New("unauthorized")

// Reasons a handled utterance produced no suggestion. Only upgrade_required
// and llm_error are part of the consumer contract; not_interviewer is
// informational.
const (
	ReasonNotInterviewer  = "not_interviewer"
	ReasonUpgradeRequired = "upgrade_required"
	ReasonLLMError        = "llm_error"
)

// UtteranceRequest is one finalized utterance arriving from the capture
// side.
type UtteranceRequest struct {
	SessionID        string       `json:"session_id"`
	Role             speaker.Role `json:"role"`
	Text             string       `json:"text"`
	TimestampSeconds float64      `json:"timestamp_seconds"`
}

// SuggestionPayload is the structured coaching object expected from the
// language model.
type SuggestionPayload struct {
	Headline      string   `json:"headline"`
	Guidance      []string `json:"guidance"`
	Keywords      []string `json:"keywords"`
	TargetSeconds int      `json:"target_seconds"`
	Alert         string   `json:"alert,omitempty"`
}

// Result is the outcome of handling one utterance. Exactly one of
// Suggestion or Reason is meaningful: Suggestion set means coaching was
// generated; otherwise Reason says why not. The transcript entry is
// persisted in every non-error case regardless.
type Result struct {
	Suggestion *storage.Suggestion `json:"suggestion,omitempty"`
	Reason     string              `json:"reason,omitempty"`
}
