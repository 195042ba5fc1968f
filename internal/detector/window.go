package detector

import (
	"container/ring"
	"time"
)

// windowCapacity bounds the sliding window to a fixed number of slots per
// wallet, per §9's "fixed-capacity ring rather than an unbounded list".
// A wallet placing bets faster than this overwrites its oldest entries,
// so countSince never reports more than windowCapacity; that cap is well
// above the default HighFrequencyCount, so the flag it backs still fires.
const windowCapacity = 64

// slidingWindow tracks a bounded history of recent bet timestamps for one
// wallet, used to evaluate HighFrequency.
type slidingWindow struct {
	r *ring.Ring
}

func newSlidingWindow() *slidingWindow {
	return &slidingWindow{r: ring.New(windowCapacity)}
}

// record inserts now into the window, advancing past the oldest slot.
func (w *slidingWindow) record(now time.Time) {
	w.r.Value = now
	w.r = w.r.Next()
}

// countSince returns how many recorded timestamps fall within [since, ∞).
func (w *slidingWindow) countSince(since time.Time) int {
	count := 0
	w.r.Do(func(v any) {
		t, ok := v.(time.Time)
		if ok && !t.Before(since) {
			count++
		}
	})
	return count
}

// prune drops entries older than cutoff by zeroing their slots, for the
// hourly fallback sweep named in §4.4/§4.6.
func (w *slidingWindow) prune(cutoff time.Time) {
	r := w.r
	for i := 0; i < windowCapacity; i++ {
		if t, ok := r.Value.(time.Time); ok && t.Before(cutoff) {
			r.Value = nil
		}
		r = r.Next()
	}
}
