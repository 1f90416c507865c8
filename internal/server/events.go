package server

import (
	"encoding/json"
	"time"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type SuggestionCreatedEvent struct {
	Event
	SessionID    string          `json:"session_id"`
	SuggestionID string          `json:"suggestion_id"`
	Payload      json.RawMessage `json:"payload"`
	LatencyMS    int64           `json:"latency_ms"`
}

type SessionStartedEvent struct {
	Event
	SessionID string `json:"session_id"`
}

type SessionEndedEvent struct {
	Event
	SessionID string  `json:"session_id"`
	Duration  float64 `json:"duration"`
}

type ReportReadyEvent struct {
	Event
	SessionID    string  `json:"session_id"`
	OverallScore float64 `json:"overall_score"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
