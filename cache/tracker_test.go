package cache

import (
	"testing"

	"github.com/hostgpu/surfcache/memutils"
	"github.com/stretchr/testify/require"
)

func TestPageTrackerTransitions(t *testing.T) {
	mem := newFakeMemory(0, 1<<20)
	tracker := NewPageTracker(mem)

	// Two pages' worth of bytes, straddling a page boundary.
	tracker.UpdatePagesCachedCount(PageSize-16, 32, 1)
	require.Equal(t, 2, tracker.CachedPageCount())
	require.Len(t, mem.marks, 1)
	require.Equal(t, markCall{addr: 0, size: 2 * PageSize, cached: true}, mem.marks[0])

	// A second overlapping surface changes no page state.
	tracker.UpdatePagesCachedCount(PageSize-16, 32, 1)
	require.Len(t, mem.marks, 1)

	// Dropping one reference still keeps both pages cached.
	tracker.UpdatePagesCachedCount(PageSize-16, 32, -1)
	require.Len(t, mem.marks, 1)
	require.Equal(t, 2, tracker.CachedPageCount())

	tracker.UpdatePagesCachedCount(PageSize-16, 32, -1)
	require.Equal(t, 0, tracker.CachedPageCount())
	require.Len(t, mem.marks, 2)
	require.Equal(t, markCall{addr: 0, size: 2 * PageSize, cached: false}, mem.marks[1])
}

func TestPageTrackerSplitRuns(t *testing.T) {
	mem := newFakeMemory(0, 1<<20)
	tracker := NewPageTracker(mem)

	// Pre-cache the middle page, then add a surface spanning three pages.
	// Only the outer two transition, producing two separate reports.
	tracker.UpdatePagesCachedCount(PageSize, PageSize, 1)
	mem.marks = nil

	tracker.UpdatePagesCachedCount(0, 3*PageSize, 1)
	require.Len(t, mem.marks, 2)
	require.Equal(t, markCall{addr: 0, size: PageSize, cached: true}, mem.marks[0])
	require.Equal(t, markCall{addr: 2 * PageSize, size: PageSize, cached: true}, mem.marks[1])
}

func TestCachedInterval(t *testing.T) {
	iv := CachedInterval(memutils.Interval{Start: PageSize - 16, End: PageSize + 16})
	require.Equal(t, memutils.Interval{Start: 0, End: 2 * PageSize}, iv)

	iv = CachedInterval(memutils.Interval{Start: PageSize, End: 2 * PageSize})
	require.Equal(t, memutils.Interval{Start: PageSize, End: 2 * PageSize}, iv)
}

func TestPageTrackerRejectsBadDeltas(t *testing.T) {
	tracker := NewPageTracker(newFakeMemory(0, 1<<20))

	require.Panics(t, func() {
		tracker.UpdatePagesCachedCount(0, PageSize, 0)
	})
	require.Panics(t, func() {
		tracker.UpdatePagesCachedCount(0, PageSize, 2)
	})
	require.Panics(t, func() {
		// Underflow: nothing cached yet.
		tracker.UpdatePagesCachedCount(0, PageSize, -1)
	})
}

func TestPageTrackerClearAll(t *testing.T) {
	mem := newFakeMemory(0, 1<<20)
	tracker := NewPageTracker(mem)

	flushed := false
	tracker.Flusher = func() { flushed = true }

	tracker.UpdatePagesCachedCount(0, PageSize, 1)
	tracker.UpdatePagesCachedCount(4*PageSize, 2*PageSize, 1)
	mem.marks = nil

	tracker.ClearAll(true)
	require.True(t, flushed)
	require.Equal(t, 0, tracker.CachedPageCount())
	require.Len(t, mem.marks, 2)
	require.Equal(t, markCall{addr: 0, size: PageSize, cached: false}, mem.marks[0])
	require.Equal(t, markCall{addr: 4 * PageSize, size: 2 * PageSize, cached: false}, mem.marks[1])
}
