package capture

import "github.com/vvou01/interview-pilot/internal/transcript"

// State of the capture session.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateActive       State = "active"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

type EventType string

const (
	EventStateChanged EventType = "state_changed"
	EventUtterance    EventType = "utterance"
	EventError        EventType = "error"
)

// Event is the typed message the capture session publishes to the
// presentation layer instead of ambient broadcast events.
type Event struct {
	Type      EventType
	State     State
	Utterance *transcript.Utterance
	Message   string
}
