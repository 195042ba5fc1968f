// Package timeutil implements the engine's canonical time service (C1):
// Asia/Taipei, "YYYY-MM-DD HH:MM:SS", no fractional seconds, no zone
// suffix. Every timestamp the engine persists or broadcasts passes
// through here.
package timeutil

import (
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/rawblock/predmarket-engine/pkg/models"
)

const (
	// CanonicalLayout has no zone suffix by design; the zone is fixed by
	// Location() and never printed.
	CanonicalLayout = "2006-01-02 15:04:05"

	// unixMillisThreshold is the magnitude above which an integer input
	// is treated as milliseconds rather than seconds (≥ 10^10, per §4.1).
	unixMillisThreshold = 10_000_000_000
)

var canonicalPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)

var (
	locOnce sync.Once
	loc     *time.Location
	locErr  error
)

// Location returns the canonical display zone, Asia/Taipei unless
// overridden by TIMEZONE. Resolved once and cached.
func Location() (*time.Location, error) {
	locOnce.Do(func() {
		name := os.Getenv("TIMEZONE")
		if name == "" {
			name = "Asia/Taipei"
		}
		loc, locErr = time.LoadLocation(name)
	})
	return loc, locErr
}

// Format renders t in the canonical zone and layout.
func Format(t time.Time) (string, error) {
	l, err := Location()
	if err != nil {
		return "", fmt.Errorf("timeutil: resolve location: %w", err)
	}
	return t.In(l).Format(CanonicalLayout), nil
}

// FromUnix auto-detects seconds vs. milliseconds by magnitude and returns
// the canonical string.
func FromUnix(v int64) (string, error) {
	if v == 0 {
		return "", fmt.Errorf("%w: zero timestamp", models.ErrInvalidTimeInput)
	}
	var t time.Time
	if abs(v) >= unixMillisThreshold {
		t = time.UnixMilli(v)
	} else {
		t = time.Unix(v, 0)
	}
	return Format(t)
}

// Parse validates s against the canonical regex, rejects calendrically
// impossible dates, and returns the instant in the canonical zone.
func Parse(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty input", models.ErrInvalidTimeInput)
	}
	if !canonicalPattern.MatchString(s) {
		return time.Time{}, fmt.Errorf("%w: %q does not match canonical form", models.ErrInvalidTimeInput, s)
	}
	l, err := Location()
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: resolve location: %w", err)
	}
	t, err := time.ParseInLocation(CanonicalLayout, s, l)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", models.ErrInvalidTimeInput, s, err)
	}
	// time.ParseInLocation itself rejects out-of-range fields such as
	// "2024-02-30". Re-rendering and comparing additionally rejects a
	// wall-clock time the zone shifts because a clock change skipped it.
	if rendered := t.Format(CanonicalLayout); rendered != s {
		return time.Time{}, fmt.Errorf("%w: %q is not a real calendar instant", models.ErrInvalidTimeInput, s)
	}
	return t, nil
}

// IsCanonical reports whether s satisfies the canonical regex and parses
// to a real calendar instant — the validator used by Testable Properties
// §8 "canonical time format".
func IsCanonical(s string) bool {
	_, err := Parse(s)
	return err == nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
