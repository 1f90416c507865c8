// Package coordinator owns the client-side view of a running session: three
// polling loops kept consistent with a single authoritative session status,
// gated by tab visibility.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vvou01/interview-pilot/internal/storage"
	"github.com/vvou01/interview-pilot/internal/transcript"
)

const (
	defaultTranscriptInterval = 3 * time.Second
	defaultSuggestionInterval = 2 * time.Second
	defaultStatusInterval     = 5 * time.Second
)

// Backend is the read surface the poll loops hit.
type Backend interface {
	GetSession(ctx context.Context, sessionID string) (storage.Session, error)
	GetTranscript(ctx context.Context, sessionID string) ([]transcript.Entry, error)
	GetLatestSuggestion(ctx context.Context, sessionID string) (*storage.Suggestion, error)
}

// Coordinator runs the transcript, suggestion, and status poll loops while
// the local status is active and the tab is visible. Hiding the tab
// suspends the loops outright; completion tears all three down for good.
// Elapsed time derives purely from the session clock, independent of
// polling.
type Coordinator struct {
	backend Backend
	log     *logrus.Entry
	now     func() time.Time

	transcriptInterval time.Duration
	suggestionInterval time.Duration
	statusInterval     time.Duration

	mu         sync.Mutex
	sessionID  string
	status     string
	startedAt  time.Time
	endedAt    *time.Time
	visible    bool
	entries    []transcript.Entry
	suggestion *storage.Suggestion
	stop       chan struct{}
}

type Option func(*Coordinator)

// WithIntervals overrides the poll cadences; zero keeps the default.
func WithIntervals(transcriptEvery, suggestionEvery, statusEvery time.Duration) Option {
	return func(c *Coordinator) {
		if transcriptEvery > 0 {
			c.transcriptInterval = transcriptEvery
		}
		if suggestionEvery > 0 {
			c.suggestionInterval = suggestionEvery
		}
		if statusEvery > 0 {
			c.statusInterval = statusEvery
		}
	}
}

func New(backend Backend, log *logrus.Entry, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend:            backend,
		log:                log,
		now:                time.Now,
		transcriptInterval: defaultTranscriptInterval,
		suggestionInterval: defaultSuggestionInterval,
		statusInterval:     defaultStatusInterval,
		visible:            true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Track adopts a session as the authoritative local view and starts the
// loops if it is active and the tab is visible.
func (c *Coordinator) Track(sess storage.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionID = sess.ID
	c.status = sess.Status
	c.startedAt = sess.StartedAt
	c.endedAt = sess.EndedAt
	c.entries = nil
	c.suggestion = nil

	c.reconcileLoopsLocked()
}

// SetVisible gates the loops on tab visibility. Hidden suspends them
// without losing fetched state; visible resumes them.
func (c *Coordinator) SetVisible(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.visible == visible {
		return
	}
	c.visible = visible
	c.reconcileLoopsLocked()
}

// Complete marks the session finished locally and tears the loops down.
// After it returns no loop will fire again.
func (c *Coordinator) Complete(endedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyCompletionLocked(storage.StatusCompleted, endedAt)
}

// Status returns the local authoritative status.
func (c *Coordinator) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Entries returns the last fetched transcript.
func (c *Coordinator) Entries() []transcript.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transcript.Entry(nil), c.entries...)
}

// LatestSuggestion returns the last fetched suggestion, nil when none.
func (c *Coordinator) LatestSuggestion() *storage.Suggestion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suggestion
}

// Elapsed derives from the session clock: now minus started_at while
// active, frozen at ended_at minus started_at once finished.
func (c *Coordinator) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.startedAt.IsZero() {
		return 0
	}
	if c.endedAt != nil {
		return c.endedAt.Sub(c.startedAt)
	}
	if c.status != storage.StatusActive {
		return 0
	}
	return c.now().Sub(c.startedAt)
}

// --- loop management; callers hold c.mu ---

func (c *Coordinator) reconcileLoopsLocked() {
	shouldRun := c.status == storage.StatusActive && c.visible && c.sessionID != ""
	running := c.stop != nil

	switch {
	case shouldRun && !running:
		stop := make(chan struct{})
		c.stop = stop
		go c.loop(stop, c.transcriptInterval, c.pollTranscript)
		go c.loop(stop, c.suggestionInterval, c.pollSuggestion)
		go c.loop(stop, c.statusInterval, c.pollStatus)
	case !shouldRun && running:
		close(c.stop)
		c.stop = nil
	}
}

func (c *Coordinator) applyCompletionLocked(status string, endedAt time.Time) {
	if c.status == storage.StatusCompleted || c.status == storage.StatusAbandoned {
		return
	}
	c.status = status
	ended := endedAt
	if ended.IsZero() {
		ended = c.now()
	}
	c.endedAt = &ended
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

// loop is an independently cancellable scheduled task, not a blocking
// sleep loop: the stop channel wins every race with the ticker.
func (c *Coordinator) loop(stop chan struct{}, every time.Duration, poll func(ctx context.Context, sessionID string, stop chan struct{})) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}

			c.mu.Lock()
			sessionID := c.sessionID
			c.mu.Unlock()

			poll(context.Background(), sessionID, stop)
		}
	}
}

// currentLocked reports whether stop is still the live loop generation;
// results from a superseded generation are discarded.
func (c *Coordinator) currentLocked(stop chan struct{}) bool {
	return c.stop == stop
}

func (c *Coordinator) pollTranscript(ctx context.Context, sessionID string, stop chan struct{}) {
	entries, err := c.backend.GetTranscript(ctx, sessionID)
	if err != nil {
		c.logErr(err, "transcript poll")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(stop) {
		return
	}
	c.entries = entries
}

func (c *Coordinator) pollSuggestion(ctx context.Context, sessionID string, stop chan struct{}) {
	sug, err := c.backend.GetLatestSuggestion(ctx, sessionID)
	if err != nil {
		c.logErr(err, "suggestion poll")
		return
	}
	if sug == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(stop) {
		return
	}
	c.suggestion = sug
}

// pollStatus detects externally-driven completion, e.g. a session ended
// from another tab or device.
func (c *Coordinator) pollStatus(ctx context.Context, sessionID string, stop chan struct{}) {
	sess, err := c.backend.GetSession(ctx, sessionID)
	if err != nil {
		c.logErr(err, "status poll")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(stop) {
		return
	}
	if sess.Status == storage.StatusCompleted || sess.Status == storage.StatusAbandoned {
		ended := c.now()
		if sess.EndedAt != nil {
			ended = *sess.EndedAt
		}
		c.applyCompletionLocked(sess.Status, ended)
	}
}

func (c *Coordinator) logErr(err error, op string) {
	if c.log != nil {
		c.log.WithError(err).Debugf("coordinator: %s failed", op)
	}
}
