package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTumblingSliceIsSingleWindow(t *testing.T) {
	a := NewAssigner(1000*time.Millisecond, 1000*time.Millisecond)
	assert.Equal(t, Tumbling, a.Policy())

	s := a.SliceFor(1) // ts in nanoseconds, the unit the Assigner stores size and slide in
	assert.Equal(t, Slice{Start: 0, End: int64(time.Second)}, s)

	windows := a.AllWindowsForSlice(s)
	assert.Equal(t, []Window{{Start: 0, End: int64(time.Second)}}, windows)
}

func TestSlidingWindowEnumeratesOverlappingWindows(t *testing.T) {
	a := NewAssigner(1000, 500)
	assert.Equal(t, Sliding, a.Policy())

	s := a.SliceFor(700)
	assert.Equal(t, Slice{Start: 500, End: 1000}, s)

	windows := a.AllWindowsForSlice(s)
	assert.ElementsMatch(t, []Window{{Start: 0, End: 1000}, {Start: 500, End: 1500}}, windows)
}

func TestGappedWindowProducesNoWindowsInGap(t *testing.T) {
	a := NewAssigner(10, 20)
	assert.Equal(t, Gapped, a.Policy())

	assert.Equal(t, Slice{Start: 0, End: 10}, a.SliceFor(9))
	assert.ElementsMatch(t, []Window{{Start: 0, End: 10}}, a.AllWindowsForSlice(a.SliceFor(9)))

	assert.Equal(t, Slice{Start: 10, End: 20}, a.SliceFor(10))
	assert.Empty(t, a.AllWindowsForSlice(a.SliceFor(10)), "slice [10,20) falls in the inter-window gap")

	assert.Equal(t, Slice{Start: 20, End: 30}, a.SliceFor(20))
	assert.ElementsMatch(t, []Window{{Start: 20, End: 30}}, a.AllWindowsForSlice(a.SliceFor(20)))
}

func TestNonDividerSlideEnumeratesAllOverlappingWindows(t *testing.T) {
	a := NewAssigner(20, 3)
	s := a.SliceFor(17)
	assert.Equal(t, Slice{Start: 15, End: 18}, s)

	windows := a.AllWindowsForSlice(s)
	assert.ElementsMatch(t, []Window{
		{Start: 0, End: 20}, {Start: 3, End: 23}, {Start: 6, End: 26},
		{Start: 9, End: 29}, {Start: 12, End: 32}, {Start: 15, End: 35},
	}, windows)
}

func TestSliceBoundaryTieBreakIsHalfOpen(t *testing.T) {
	a := NewAssigner(1000, 1000)
	// A timestamp equal to a window end belongs to the next slice.
	s := a.SliceFor(1000)
	assert.Equal(t, Slice{Start: 1000, End: 2000}, s)
}

func TestSliceAssignmentInvariant(t *testing.T) {
	a := NewAssigner(17, 5)
	for ts := int64(0); ts < 500; ts++ {
		start := a.SliceStart(ts)
		end := a.SliceEnd(ts)
		assert.LessOrEqual(t, start, ts)
		assert.Greater(t, end, ts)
		assert.LessOrEqual(t, end-start, int64(17))
	}
}
