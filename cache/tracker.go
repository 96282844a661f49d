package cache

import "github.com/hostgpu/surfcache/memutils"

const (
	// PageBits is the log2 of the tracking granularity for cached guest
	// memory.
	PageBits = 12
	PageSize = 1 << PageBits

	pageCount = 1 << (32 - PageBits)
)

// Memory is the guest memory system the cache reads from, writes to and
// reports cached regions to.
type Memory interface {
	// PhysicalRef returns a writable view of guest memory starting at addr
	// and running to the end of the containing region, or nil when addr is
	// unmapped.
	PhysicalRef(addr uint32) []byte

	// MarkRegionCached toggles write protection bookkeeping for a region so
	// CPU writes into it reach the cache as invalidations.
	MarkRegionCached(addr, size uint32, cached bool)
}

// PageTracker counts, per page of guest physical memory, how many cached
// surfaces overlap it, and tells the memory system whenever a page moves
// between zero and nonzero.
type PageTracker struct {
	mem    Memory
	counts []uint16

	// Flusher, when set, is invoked by ClearAll before the counts are
	// dropped so dirty cached data can reach guest memory first.
	Flusher func()
}

func NewPageTracker(mem Memory) *PageTracker {
	return &PageTracker{
		mem:    mem,
		counts: make([]uint16, pageCount),
	}
}

// UpdatePagesCachedCount applies delta to every page the region touches.
// delta must be +1 or -1; transitions between zero and nonzero are reported
// to the memory system in maximal contiguous runs.
func (t *PageTracker) UpdatePagesCachedCount(addr, size uint32, delta int) {
	if delta != 1 && delta != -1 {
		panic("page cached count delta must be +1 or -1")
	}
	if size == 0 {
		return
	}

	pages := CachedInterval(memutils.IntervalFromSize(addr, size))
	pageStart := pages.Start >> PageBits
	pageEnd := pages.End >> PageBits

	runStart := pageStart
	runActive := false
	flushRun := func(end uint32) {
		if !runActive {
			return
		}
		runActive = false
		startAddr := runStart << PageBits
		t.mem.MarkRegionCached(startAddr, (end-runStart)<<PageBits, delta > 0)
	}

	for page := pageStart; page < pageEnd; page++ {
		count := t.counts[page]
		if delta > 0 {
			if count == 0xFFFF {
				panic("page cached count overflow")
			}
			t.counts[page] = count + 1
			// 0 -> 1 means the page just became cached.
			if count == 0 {
				if !runActive {
					runActive = true
					runStart = page
				}
				continue
			}
		} else {
			if count == 0 {
				panic("page cached count underflow")
			}
			t.counts[page] = count - 1
			// 1 -> 0 means the page is no longer cached by anyone.
			if count == 1 {
				if !runActive {
					runActive = true
					runStart = page
				}
				continue
			}
		}
		flushRun(page)
	}
	flushRun(pageEnd)
}

// PageIsCached reports whether any surface overlaps the page containing
// addr.
func (t *PageTracker) PageIsCached(addr uint32) bool {
	return t.counts[addr>>PageBits] != 0
}

// CachedPageCount returns the number of pages with a nonzero count.
func (t *PageTracker) CachedPageCount() int {
	total := 0
	for _, c := range t.counts {
		if c != 0 {
			total++
		}
	}
	return total
}

// CachedInterval widens iv to whole tracking pages.
func CachedInterval(iv memutils.Interval) memutils.Interval {
	return memutils.Interval{
		Start: memutils.AlignDown(iv.Start, PageSize),
		End:   memutils.AlignUp(iv.End, PageSize),
	}
}

// ClearAll drops every page count and reports all previously cached runs as
// uncached. When flush is true and a Flusher is installed it runs first, so
// GPU-authored data is written back before the counts disappear.
func (t *PageTracker) ClearAll(flush bool) {
	if flush && t.Flusher != nil {
		t.Flusher()
	}

	runStart := uint32(0)
	runActive := false
	flushRun := func(end uint32) {
		if !runActive {
			return
		}
		runActive = false
		t.mem.MarkRegionCached(runStart<<PageBits, (end-runStart)<<PageBits, false)
	}

	for page := uint32(0); page < pageCount; page++ {
		if t.counts[page] != 0 {
			t.counts[page] = 0
			if !runActive {
				runActive = true
				runStart = page
			}
			continue
		}
		flushRun(page)
	}
	flushRun(pageCount)
}
