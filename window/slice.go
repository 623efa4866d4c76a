// Package window implements the slice assignment algebra, slice store,
// window manager, and watermark merge spec §4.4 describes: the shared
// bookkeeping every tumbling, sliding, and gap-window aggregation sits on
// top of.
package window

import "time"

// Policy names which of the three slicing regimes a (size, slide) pair
// falls into.
type Policy int

const (
	Tumbling Policy = iota // slide == size
	Sliding                // slide < size
	Gapped                 // slide > size
)

// Assigner computes slice and window boundaries for one (size, slide)
// configuration. It holds no mutable state — every method is a pure
// function of a timestamp, so one Assigner is safely shared by every
// grouping key's slices.
type Assigner struct {
	size  int64 // window size, nanoseconds
	slide int64 // window slide, nanoseconds
}

// NewAssigner builds an Assigner for a window of the given size and slide.
// Both must be positive; slide == size yields Tumbling, slide < size
// yields Sliding, slide > size yields Gapped.
func NewAssigner(size, slide time.Duration) *Assigner {
	return &Assigner{size: int64(size), slide: int64(slide)}
}

// Policy reports which slicing regime this Assigner implements.
func (a *Assigner) Policy() Policy {
	switch {
	case a.slide == a.size:
		return Tumbling
	case a.slide < a.size:
		return Sliding
	default:
		return Gapped
	}
}

// floorMultiple returns the largest multiple of m that is <= t (t, m >= 0).
func floorMultiple(t, m int64) int64 {
	return (t / m) * m
}

// SliceStart is the largest boundary <= t, where a boundary is either a
// multiple of size or a multiple of slide (spec §4.4: "the multiset of
// window starts and window ends at or before t").
func (a *Assigner) SliceStart(t int64) int64 {
	bySize := floorMultiple(t, a.size)
	bySlide := floorMultiple(t, a.slide)
	if bySize > bySlide {
		return bySize
	}
	return bySlide
}

// SliceEnd is the smallest boundary strictly greater than t.
func (a *Assigner) SliceEnd(t int64) int64 {
	nextBySize := floorMultiple(t, a.size) + a.size
	nextBySlide := floorMultiple(t, a.slide) + a.slide
	if nextBySize < nextBySlide {
		return nextBySize
	}
	return nextBySlide
}

// Slice is a half-open time range [Start, End) that is the finest unit of
// aggregation bookkeeping; one or more Slices compose a Window. A tuple
// with timestamp equal to End belongs to the next slice, never this one
// (spec §4.4 tie-break).
type Slice struct {
	Start int64 // nanoseconds since epoch
	End   int64
}

// SliceFor returns the half-open slice containing timestamp t.
func (a *Assigner) SliceFor(t int64) Slice {
	return Slice{Start: a.SliceStart(t), End: a.SliceEnd(t)}
}

// Window is one assignment window, identified by its own half-open
// [Start, End) range.
type Window struct {
	Start int64
	End   int64
}

// AllWindowsForSlice enumerates every Window W with W.Start <= slice.Start
// and slice.End <= W.End (spec §4.4). Tumbling yields exactly one window;
// sliding yields up to ceil(size/slide); gapped yields none for slices
// that fall entirely in an inter-window gap.
func (a *Assigner) AllWindowsForSlice(s Slice) []Window {
	var windows []Window
	// Every window containing s must start at a multiple of slide no
	// earlier than size before s.Start, and no later than s.Start itself.
	firstStart := floorMultiple(maxInt64(s.Start-a.size, 0), a.slide)
	for start := firstStart; start <= s.Start; start += a.slide {
		end := start + a.size
		if start <= s.Start && s.End <= end {
			windows = append(windows, Window{Start: start, End: end})
		}
	}
	return windows
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
