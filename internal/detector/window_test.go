package detector

import (
	"testing"
	"time"
)

func TestSlidingWindowCountSince(t *testing.T) {
	w := newSlidingWindow()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		w.record(base.Add(time.Duration(i) * time.Second))
	}

	tests := []struct {
		name  string
		since time.Time
		want  int
	}{
		{"all recent", base.Add(-time.Minute), 5},
		{"half window", base.Add(2 * time.Second), 3},
		{"none qualify", base.Add(time.Minute), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.countSince(tt.since); got != tt.want {
				t.Errorf("countSince(%v) = %d, want %d", tt.since, got, tt.want)
			}
		})
	}
}

func TestSlidingWindowPrune(t *testing.T) {
	w := newSlidingWindow()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w.record(base)
	w.record(base.Add(time.Hour))

	w.prune(base.Add(30 * time.Minute))

	if got := w.countSince(base.Add(-time.Hour)); got != 1 {
		t.Errorf("after prune, countSince = %d, want 1", got)
	}
}

func TestSlidingWindowCapacityBound(t *testing.T) {
	w := newSlidingWindow()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < windowCapacity*2; i++ {
		w.record(base.Add(time.Duration(i) * time.Millisecond))
	}
	if got := w.countSince(base.Add(-time.Hour)); got > windowCapacity {
		t.Errorf("window held %d entries, want at most %d", got, windowCapacity)
	}
}
