package speaker

// Role identifies which side of the interview an utterance belongs to.
type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleCandidate   Role = "candidate"
	RoleUnknown     Role = "unknown"
)

// Attributor maps diarization tags to interview roles. Tags are arbitrary
// integers assigned by the transcription service; the first distinct tag
// observed in a session is treated as the interviewer, every later tag as
// the candidate. Interviews open with the interviewer speaking often enough
// that this holds in practice.
//
// Attributor is not safe for concurrent use; the capture session owns one
// instance and drives it from a single goroutine.
type Attributor struct {
	order []int
	seen  map[int]struct{}
}

func NewAttributor() *Attributor {
	return &Attributor{seen: make(map[int]struct{})}
}

// Track records a diarization tag in first-seen order. Repeat tags are
// ignored.
func (a *Attributor) Track(tag int) {
	if _, ok := a.seen[tag]; ok {
		return
	}
	a.seen[tag] = struct{}{}
	a.order = append(a.order, tag)
}

// Resolve returns the role for a tag. Before any tag has been seen it
// returns RoleInterviewer: silence ahead of the first speech is treated as
// interviewer context.
func (a *Attributor) Resolve(tag int) Role {
	if len(a.order) == 0 {
		return RoleInterviewer
	}
	if a.order[0] == tag {
		return RoleInterviewer
	}
	return RoleCandidate
}

// TagCount returns how many distinct tags have been seen.
func (a *Attributor) TagCount() int {
	return len(a.order)
}

// Reset clears all tracked tags, for reuse across sessions.
func (a *Attributor) Reset() {
	a.order = nil
	a.seen = make(map[int]struct{})
}
