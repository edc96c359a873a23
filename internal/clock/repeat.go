package clock

import (
	"log"
	"sync"
)

// RepeatTracker watches how many consecutive frames a stream has
// re-presented (§4.5: "this is explicitly allowed ... counted as a
// repeat, not a drop") and logs once a streak crosses a threshold. It
// never feeds back into decode pacing — §4.5 forbids adjusting decode
// rate from render timing, so this is purely an observability signal,
// the mirror image of the teacher's FrameSkipper hysteresis which *did*
// feed back into decode cadence.
type RepeatTracker struct {
	mu sync.Mutex

	streak    int
	alertedAt int

	// alertAfter is the consecutive-repeat count that triggers a WARN log.
	alertAfter int
}

// NewRepeatTracker creates a tracker that warns after alertAfter
// consecutive repeats (e.g. 30 — half a second at 60Hz).
func NewRepeatTracker(alertAfter int) *RepeatTracker {
	if alertAfter < 1 {
		alertAfter = 1
	}
	return &RepeatTracker{alertAfter: alertAfter}
}

// RecordRepeat registers one more repeated frame for the stream this
// tracker belongs to.
func (t *RepeatTracker) RecordRepeat(streamLabel string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.streak++
	if t.streak >= t.alertAfter && t.alertedAt == 0 {
		t.alertedAt = t.streak
		log.Printf("clock: stream %s has repeated %d consecutive frames", streamLabel, t.streak)
	}
}

// RecordFresh resets the streak once a genuinely new frame is presented.
func (t *RepeatTracker) RecordFresh() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streak = 0
	t.alertedAt = 0
}

// Streak returns the current consecutive-repeat count.
func (t *RepeatTracker) Streak() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streak
}
