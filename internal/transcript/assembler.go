package transcript

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vvou01/interview-pilot/internal/speaker"
)

// minFinalLen is the trimmed length a single final fragment must reach to
// finalize the buffered utterance on its own, without waiting for an
// utterance-end signal.
const minFinalLen = 5

// Assembler turns the stream of partial/final transcription fragments into
// finalized utterances. An utterance finalizes on whichever comes first: a
// final fragment whose trimmed text crosses minFinalLen, or an explicit
// utterance-end signal while the buffer holds text.
//
// The buffer is cleared synchronously before the emit callback runs, so two
// overlapping finalize triggers can never both fire for the same text.
//
// Assembler is driven from the capture session's callback goroutine and is
// not safe for concurrent use.
type Assembler struct {
	attributor *speaker.Attributor
	emit       func(Utterance)
	now        func() time.Time
	log        *logrus.Entry

	startedAt time.Time
	parts     []string
	lastTag   int
}

func NewAssembler(attributor *speaker.Attributor, emit func(Utterance), log *logrus.Entry) *Assembler {
	if attributor == nil {
		attributor = speaker.NewAttributor()
	}
	a := &Assembler{
		attributor: attributor,
		emit:       emit,
		now:        time.Now,
		log:        log,
	}
	a.startedAt = a.now()
	return a
}

// Start resets the session clock and drops any buffered text.
func (a *Assembler) Start() {
	a.startedAt = a.now()
	a.parts = nil
	a.attributor.Reset()
	a.lastTag = 0
}

// Fragment consumes one transcription result. Whitespace-only fragments are
// dropped without touching speaker state. Diarization tags advance the
// attributor even on interim fragments, so speaker state runs ahead of text
// finalization.
func (a *Assembler) Fragment(f Fragment) {
	text := strings.TrimSpace(f.Text)
	if text == "" {
		return
	}

	for _, tag := range f.Tags {
		a.attributor.Track(tag)
		a.lastTag = tag
	}

	if !f.IsFinal {
		return
	}

	a.parts = append(a.parts, text)

	if len(text) > minFinalLen {
		a.flush()
	}
}

// Boundary handles the explicit utterance-end signal from the transcription
// service: any buffered text is finalized even if no single fragment crossed
// the length threshold.
func (a *Assembler) Boundary() {
	a.flush()
}

// Buffered reports whether un-flushed text is pending.
func (a *Assembler) Buffered() bool {
	return len(a.parts) > 0
}

func (a *Assembler) flush() {
	text := strings.TrimSpace(strings.Join(a.parts, " "))
	a.parts = nil
	if text == "" {
		return
	}

	role := a.attributor.Resolve(a.lastTag)
	elapsed := a.now().Sub(a.startedAt).Seconds()

	if a.log != nil {
		a.log.WithField("role", role).Debugf("utterance finalized (%d chars)", len(text))
	}

	if a.emit != nil {
		a.emit(Utterance{Role: role, Text: text, TimestampSeconds: elapsed})
	}
}
