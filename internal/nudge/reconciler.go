package nudge

import (
	"fmt"
	"sync"
	"time"

	"repday/internal/models"
)

// Cooldown is the backend's per-pair nudge window.
const Cooldown = time.Hour

// Status is why a nudge button is enabled or not.
type Status int

const (
	Ready Status = iota
	CoolingDown
	CompletedToday
)

// Eligibility is the derived state of one participant's nudge button.
type Eligibility struct {
	Status      Status
	MinutesLeft int // set only while CoolingDown
}

func (e Eligibility) CanNudge() bool {
	return e.Status == Ready
}

// Label is the button caption.
func (e Eligibility) Label() string {
	switch e.Status {
	case CompletedToday:
		return "Завтра"
	case CoolingDown:
		return fmt.Sprintf("Через %dм", e.MinutesLeft)
	default:
		return "Пнуть"
	}
}

// Reconciler tracks when the viewer last nudged each participant of one challenge.
//
// Server-reported timestamps and optimistic local writes are merged with max,
// so an entry never moves backwards.
type Reconciler struct {
	mu   sync.Mutex
	last map[int64]time.Time
	now  func() time.Time
}

func NewReconciler(now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{last: make(map[int64]time.Time), now: now}
}

// Seed loads previously persisted entries.
func (r *Reconciler) Seed(entries map[int64]time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, at := range entries {
		r.raise(id, at)
	}
}

// Observe merges the last_nudge_at values of a freshly fetched detail.
// The viewer's own entry and empty or unparseable values are skipped.
func (r *Reconciler) Observe(detail *models.ChallengeDetail, viewerID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range detail.Participants {
		if p.ID == viewerID || p.LastNudgeAt == nil {
			continue
		}
		at, ok := ParseTimestamp(*p.LastNudgeAt)
		if !ok {
			continue
		}
		r.raise(p.ID, at)
	}
}

// MarkNudged records an optimistic nudge at the current time and returns it.
func (r *Reconciler) MarkNudged(participantID int64) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.raise(participantID, now)
	return r.last[participantID]
}

// Last returns the known last-nudge instant of a participant.
func (r *Reconciler) Last(participantID int64) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.last[participantID]
	return at, ok
}

// Eligibility derives the button state of p at the current time.
func (r *Reconciler) Eligibility(p models.Participant) Eligibility {
	if p.TodayCompleted {
		return Eligibility{Status: CompletedToday}
	}
	last, ok := r.Last(p.ID)
	if !ok {
		return Eligibility{Status: Ready}
	}
	elapsed := r.now().Sub(last)
	if elapsed >= Cooldown {
		return Eligibility{Status: Ready}
	}
	return Eligibility{Status: CoolingDown, MinutesLeft: MinutesLeft(elapsed)}
}

func (r *Reconciler) raise(id int64, at time.Time) {
	if cur, ok := r.last[id]; ok && !at.After(cur) {
		return
	}
	r.last[id] = at
}

// MinutesLeft is the whole minutes remaining in the cooldown after elapsed, at least 1.
func MinutesLeft(elapsed time.Duration) int {
	remaining := Cooldown - elapsed
	if remaining <= 0 {
		return 0
	}
	minutes := int((remaining + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts the ISO forms the backend emits; naive timestamps are UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Unix() <= 0 {
				return time.Time{}, false
			}
			return t, true
		}
	}
	return time.Time{}, false
}
