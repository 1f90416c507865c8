package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vvou01/interview-pilot/internal/speaker"
	"github.com/vvou01/interview-pilot/internal/transcript"
)

// ErrPermissionDenied means the audio device could not be acquired because
// the user denied access. It is terminal: no retry, user remediation only.
var ErrPermissionDenied = errors.New("microphone permission denied")

const (
	defaultChunkInterval    = 250 * time.Millisecond
	defaultChunkSize        = 8192
	defaultBackoffUnit      = 2 * time.Second
	defaultMaxReconnects    = 3
	defaultNotifyTimeout    = 5 * time.Second
	defaultNotifyRetryDelay = 2 * time.Second
)

// Transport is the live transcription socket. Connect delivers stream
// events to the handler until the socket closes; Send pushes one raw audio
// chunk.
type Transport interface {
	Connect(ctx context.Context, h StreamHandler) error
	Send(chunk []byte) error
	Close() error
}

// StreamHandler receives transcription stream events. Session implements
// it.
type StreamHandler interface {
	Opened()
	Fragment(f transcript.Fragment)
	Boundary()
	Closed()
}

// Microphone is the exclusively-owned audio device. Start acquires it,
// Read returns the next buffered chunk (empty slice when nothing is
// pending), Stop releases it.
type Microphone interface {
	Start() error
	Read(max int) ([]byte, error)
	Stop() error
}

// Notifier announces session start to the backend.
type Notifier interface {
	NotifySessionStart(ctx context.Context, sessionID string) error
}

// Session drives one live capture: it owns the microphone and the
// transcription socket, assembles utterances, and reconnects with linear
// backoff when the socket drops.
//
// States: idle -> connecting -> active, reconnecting on socket loss while
// running, error when reconnects are exhausted or the device is denied,
// back to idle on Stop.
type Session struct {
	transport   Transport
	mic         Microphone
	notifier    Notifier
	onUtterance func(transcript.Utterance)
	log         *logrus.Entry

	chunkInterval    time.Duration
	chunkSize        int
	backoffUnit      time.Duration
	maxReconnects    int
	notifyTimeout    time.Duration
	notifyRetryDelay time.Duration
	afterFunc        func(d time.Duration, f func()) *time.Timer

	mu             sync.Mutex
	state          State
	running        bool
	attempts       int
	sessionID      string
	reconnectTimer *time.Timer
	pumpStop       chan struct{}
	done           chan struct{}
	assembler      *transcript.Assembler

	events chan Event
}

type Config struct {
	Transport   Transport
	Microphone  Microphone
	Notifier    Notifier
	OnUtterance func(transcript.Utterance)
	Log         *logrus.Entry

	// Zero values fall back to the defaults above.
	ChunkInterval    time.Duration
	ChunkSize        int
	BackoffUnit      time.Duration
	MaxReconnects    int
	NotifyTimeout    time.Duration
	NotifyRetryDelay time.Duration
}

func NewSession(cfg Config) *Session {
	s := &Session{
		transport:        cfg.Transport,
		mic:              cfg.Microphone,
		notifier:         cfg.Notifier,
		onUtterance:      cfg.OnUtterance,
		log:              cfg.Log,
		chunkInterval:    cfg.ChunkInterval,
		chunkSize:        cfg.ChunkSize,
		backoffUnit:      cfg.BackoffUnit,
		maxReconnects:    cfg.MaxReconnects,
		notifyTimeout:    cfg.NotifyTimeout,
		notifyRetryDelay: cfg.NotifyRetryDelay,
		afterFunc:        time.AfterFunc,
		state:            StateIdle,
		events:           make(chan Event, 64),
	}
	if s.chunkInterval <= 0 {
		s.chunkInterval = defaultChunkInterval
	}
	if s.chunkSize <= 0 {
		s.chunkSize = defaultChunkSize
	}
	if s.backoffUnit <= 0 {
		s.backoffUnit = defaultBackoffUnit
	}
	if s.maxReconnects <= 0 {
		s.maxReconnects = defaultMaxReconnects
	}
	if s.notifyTimeout <= 0 {
		s.notifyTimeout = defaultNotifyTimeout
	}
	if s.notifyRetryDelay <= 0 {
		s.notifyRetryDelay = defaultNotifyRetryDelay
	}

	s.assembler = transcript.NewAssembler(speaker.NewAttributor(), s.emitUtterance, cfg.Log)
	return s
}

// Events is the typed channel the presentation layer consumes. Publishes
// never block; a slow consumer drops events.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current capture state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start acquires the microphone and opens the transcription socket. The
// device is acquired synchronously before anything asynchronous happens, so
// a user-gesture permission grant is never consumed by an unrelated await.
// A second Start while running is a no-op.
func (s *Session) Start(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.sessionID = sessionID
	s.attempts = 0
	s.done = make(chan struct{})
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	// Device first, before any network round trip.
	if err := s.mic.Start(); err != nil {
		s.mu.Lock()
		s.running = false
		s.setStateLocked(StateError)
		s.mu.Unlock()
		if errors.Is(err, ErrPermissionDenied) {
			s.publishError("Microphone access was denied. Allow microphone use for this tab and try again.")
			return err
		}
		s.publishError("Could not open the microphone.")
		return fmt.Errorf("acquire microphone: %w", err)
	}

	s.assembler.Start()

	// Backend notification is bounded and retried once; its failure is
	// surfaced but never blocks the stream.
	go s.notifyStart(sessionID)

	s.connect(ctx)
	return nil
}

// Stop tears the capture down from any state, including mid-backoff: a
// pending reconnect timer is cancelled, not merely ignored. Stop on a
// stopped session is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running && s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.stopPumpLocked()
	s.setStateLocked(StateIdle)
	s.mu.Unlock()

	_ = s.transport.Close()
	_ = s.mic.Stop()
}

// --- StreamHandler ---

func (s *Session) Opened() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.attempts = 0
	s.setStateLocked(StateActive)
	s.startPumpLocked()
	s.mu.Unlock()
}

func (s *Session) Fragment(f transcript.Fragment) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}
	s.assembler.Fragment(f)
}

func (s *Session) Boundary() {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}
	s.assembler.Boundary()
}

func (s *Session) Closed() {
	s.mu.Lock()
	s.stopPumpLocked()
	if !s.running {
		s.mu.Unlock()
		return
	}

	s.attempts++
	if s.attempts >= s.maxReconnects {
		s.setStateLocked(StateError)
		s.mu.Unlock()
		s.publishError("Lost the transcription connection and could not recover.")
		return
	}

	delay := time.Duration(s.attempts) * s.backoffUnit
	s.setStateLocked(StateReconnecting)
	s.reconnectTimer = s.afterFunc(delay, s.reconnect)
	s.mu.Unlock()

	if s.log != nil {
		s.log.WithField("attempt", s.attempts).Infof("capture: reconnecting in %s", delay)
	}
}

// --- internals ---

func (s *Session) reconnect() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.reconnectTimer = nil
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	s.connect(context.Background())
}

func (s *Session) connect(ctx context.Context) {
	if err := s.transport.Connect(ctx, s); err != nil {
		if s.log != nil {
			s.log.WithError(err).Warn("capture: connect failed")
		}
		// A failed dial counts the same as a drop.
		s.Closed()
	}
}

func (s *Session) startPumpLocked() {
	if s.pumpStop != nil {
		return
	}
	stop := make(chan struct{})
	s.pumpStop = stop
	go s.pump(stop)
}

func (s *Session) stopPumpLocked() {
	if s.pumpStop != nil {
		close(s.pumpStop)
		s.pumpStop = nil
	}
}

// pump publishes one audio chunk per tick for as long as the socket stays
// open.
func (s *Session) pump(stop chan struct{}) {
	ticker := time.NewTicker(s.chunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			chunk, err := s.mic.Read(s.chunkSize)
			if err != nil {
				if s.log != nil {
					s.log.WithError(err).Warn("capture: mic read failed")
				}
				continue
			}
			if len(chunk) == 0 {
				continue
			}
			if err := s.transport.Send(chunk); err != nil && s.log != nil {
				s.log.WithError(err).Warn("capture: audio send failed")
			}
		}
	}
}

func (s *Session) notifyStart(sessionID string) {
	if s.notifier == nil {
		return
	}

	if err := s.notifyOnce(sessionID); err == nil {
		return
	}

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return
	}

	timer := time.NewTimer(s.notifyRetryDelay)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
	}

	if err := s.notifyOnce(sessionID); err != nil {
		if s.log != nil {
			s.log.WithError(err).Warn("capture: session start notification failed")
		}
		s.publishError("Could not notify the server that the interview started. Coaching may be delayed.")
	}
}

func (s *Session) notifyOnce(sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
	defer cancel()
	return s.notifier.NotifySessionStart(ctx, sessionID)
}

// emitUtterance runs on the transport callback goroutine after the
// assembler has already cleared its buffer.
func (s *Session) emitUtterance(u transcript.Utterance) {
	if s.onUtterance != nil {
		s.onUtterance(u)
	}
	s.publish(Event{Type: EventUtterance, State: s.State(), Utterance: &u})
}

func (s *Session) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	s.publish(Event{Type: EventStateChanged, State: state})
}

func (s *Session) publishError(msg string) {
	s.publish(Event{Type: EventError, State: s.State(), Message: msg})
}

func (s *Session) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}
