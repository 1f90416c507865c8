package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vvou01/interview-pilot/internal/storage"
)

// Hub fans coaching events out to attached panels. Slow subscribers drop
// messages rather than stalling the pipelines.
type Hub struct {
	log     *logrus.Entry
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub(log *logrus.Entry) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[chan []byte]struct{}),
	}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastSuggestionCreated(sug storage.Suggestion) {
	h.broadcastEvent(SuggestionCreatedEvent{
		Event:        newEvent("suggestion_created", sug.CreatedAt),
		SessionID:    sug.SessionID,
		SuggestionID: sug.ID,
		Payload:      sug.Payload,
		LatencyMS:    sug.LatencyMS,
	})
}

func (h *Hub) BroadcastSessionStarted(sessionID string) {
	h.broadcastEvent(SessionStartedEvent{
		Event:     newEvent("session_started", time.Now().UTC()),
		SessionID: sessionID,
	})
}

func (h *Hub) BroadcastSessionEnded(sessionID string, duration time.Duration) {
	h.broadcastEvent(SessionEndedEvent{
		Event:     newEvent("session_ended", time.Now().UTC()),
		SessionID: sessionID,
		Duration:  duration.Seconds(),
	})
}

func (h *Hub) BroadcastReportReady(sessionID string, score float64) {
	h.broadcastEvent(ReportReadyEvent{
		Event:        newEvent("report_ready", time.Now().UTC()),
		SessionID:    sessionID,
		OverallScore: score,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).Warn("event marshal failed")
		return
	}
	h.Broadcast(payload)
}
