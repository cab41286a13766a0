// Package interval implements an algebra over disjoint time-of-day windows.
package interval

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MinutesPerDay is the number of minutes in one calendar day.
const MinutesPerDay = 24 * 60

// Window is a half-open [Start, End) range in minutes since midnight.
// Windows never cross midnight: 0 <= Start < End <= 1440.
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Duration returns the window length in minutes.
func (w Window) Duration() int {
	return w.End - w.Start
}

// Contains reports whether [start, end) fits entirely inside the window.
func (w Window) Contains(start, end int) bool {
	return start >= w.Start && end <= w.End && start < end
}

// Overlaps reports whether the window intersects [start, end).
func (w Window) Overlaps(start, end int) bool {
	return w.Start < end && start < w.End
}

// String formats the window as "HH:MM-HH:MM".
func (w Window) String() string {
	return FormatClock(w.Start) + "-" + FormatClock(w.End)
}

// Set is a sorted sequence of non-overlapping windows.
type Set []Window

// Merge sorts windows by start and collapses adjacent or overlapping ones.
// Merging an already-merged set returns an equal set.
func Merge(windows []Window) Set {
	if len(windows) == 0 {
		return nil
	}

	sorted := make([]Window, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	merged := Set{sorted[0]}
	for _, w := range sorted[1:] {
		last := &merged[len(merged)-1]
		if w.Start <= last.End {
			if w.End > last.End {
				last.End = w.End
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

// Subtract removes [cutStart, cutEnd) from every window. Each window yields
// zero, one or two windows depending on how the cut lands. A cut that touches
// nothing is a no-op.
func (s Set) Subtract(cutStart, cutEnd int) Set {
	if cutStart >= cutEnd {
		return s
	}

	var out Set
	for _, w := range s {
		if !w.Overlaps(cutStart, cutEnd) {
			out = append(out, w)
			continue
		}
		if cutStart > w.Start {
			out = append(out, Window{Start: w.Start, End: cutStart})
		}
		if cutEnd < w.End {
			out = append(out, Window{Start: cutEnd, End: w.End})
		}
	}
	return out
}

// Contains reports whether [start, end) fits inside a single window of the set.
func (s Set) Contains(start, end int) bool {
	for _, w := range s {
		if w.Contains(start, end) {
			return true
		}
	}
	return false
}

// TotalMinutes returns the summed duration of all windows.
func (s Set) TotalMinutes() int {
	total := 0
	for _, w := range s {
		total += w.Duration()
	}
	return total
}

// IsEmpty reports whether the set has no open time.
func (s Set) IsEmpty() bool {
	return len(s) == 0
}

// Slots enumerates start times (minutes since midnight) at the given step where
// an appointment of the given duration fits entirely inside one window.
func (s Set) Slots(duration, step int) []int {
	if duration <= 0 || step <= 0 {
		return nil
	}

	var starts []int
	for _, w := range s {
		// Align the first candidate to the step grid.
		first := w.Start
		if rem := first % step; rem != 0 {
			first += step - rem
		}
		for t := first; t+duration <= w.End; t += step {
			starts = append(starts, t)
		}
	}
	return starts
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time format: %s", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time out of range: %s", s)
	}
	return hour*60 + minute, nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
