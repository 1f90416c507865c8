package transcript

import (
	"fmt"
	"strings"

	"github.com/vvou01/interview-pilot/internal/speaker"
)

// Label returns the display label used in prompt context blocks.
func Label(role speaker.Role) string {
	switch role {
	case speaker.RoleInterviewer:
		return "Interviewer"
	case speaker.RoleCandidate:
		return "Candidate"
	default:
		return "Speaker"
	}
}

// FormatContext renders entries as a speaker-labeled block in the order
// given, one line per utterance. Entries must already be chronological.
func FormatContext(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", Label(e.Role), text)
	}
	return strings.TrimRight(b.String(), "\n")
}
