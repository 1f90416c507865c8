package coach

import (
	"fmt"
	"strings"

	"github.com/vvou01/interview-pilot/internal/storage"
	"github.com/vvou01/interview-pilot/internal/transcript"
)

const coachSystemPrompt = `You are a real-time interview coach. The candidate is mid-interview and has seconds to read your advice. Respond with exactly one JSON object:
{
  "headline": "one-line framing for the answer",
  "guidance": ["2-4 short bullet points"],
  "keywords": ["terms worth working in"],
  "target_seconds": 90,
  "alert": "optional warning, e.g. a trap in the question"
}
Keep every string terse. Do not add prose outside the JSON object.`

func renderCoachPrompt(caller storage.User, sess storage.Session, recent []transcript.Entry, question string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Role: %s at %s (%s interview)\n", orUnknown(sess.JobTitle), orUnknown(sess.Company), orUnknown(sess.InterviewType))

	if desc := strings.TrimSpace(sess.JobDescription); desc != "" {
		fmt.Fprintf(&b, "\nJob description:\n%s\n", desc)
	}
	if cv := strings.TrimSpace(caller.CVText); cv != "" {
		fmt.Fprintf(&b, "\nCandidate CV:\n%s\n", cv)
	}
	if block := transcript.FormatContext(recent); block != "" {
		fmt.Fprintf(&b, "\nRecent conversation:\n%s\n", block)
	}

	fmt.Fprintf(&b, "\nThe interviewer just asked:\n%s\n", question)
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
