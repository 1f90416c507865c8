package transcript

import (
	"time"

	"github.com/vvou01/interview-pilot/internal/speaker"
)

// Entry is one finalized utterance persisted against a session. Entries are
// immutable once written; canonical playback order is timestamp_seconds,
// then insertion order.
type Entry struct {
	ID               int64        `db:"id" json:"id"`
	SessionID        string       `db:"session_id" json:"session_id"`
	Role             speaker.Role `db:"role" json:"role"`
	Text             string       `db:"text" json:"text"`
	TimestampSeconds float64      `db:"timestamp_seconds" json:"timestamp_seconds"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
}

// Fragment is a single partial or final result from the transcription
// stream. Tags carries the word-level diarization tags in word order; it is
// empty when diarization produced nothing for the fragment.
type Fragment struct {
	Text    string
	IsFinal bool
	Tags    []int
}

// Utterance is a finalized utterance emitted by the Assembler, ready to be
// sent to the coaching backend.
type Utterance struct {
	Role             speaker.Role
	Text             string
	TimestampSeconds float64
}
