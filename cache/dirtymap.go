package cache

import (
	"github.com/cockroachdb/errors"
	"github.com/hostgpu/surfcache/memutils"
)

// dirtyEntry records that a surface is the authoritative owner of a guest
// byte span: the GPU wrote it and guest memory has not been updated yet.
type dirtyEntry struct {
	interval memutils.Interval
	owner    *Surface
}

// surfaceMap is an interval map from guest byte spans to their owning
// surface. Entries are sorted by start address and disjoint; neighbors with
// the same owner are coalesced.
type surfaceMap struct {
	entries []dirtyEntry
}

func (m *surfaceMap) empty() bool {
	return len(m.entries) == 0
}

// len returns the total number of owned bytes.
func (m *surfaceMap) len() uint32 {
	var total uint32
	for _, e := range m.entries {
		total += e.interval.Len()
	}
	return total
}

// set makes owner the sole owner of iv, displacing any previous owners of
// overlapping spans.
func (m *surfaceMap) set(iv memutils.Interval, owner *Surface) {
	if iv.Empty() {
		return
	}
	m.erase(iv)

	idx := 0
	for idx < len(m.entries) && m.entries[idx].interval.Start < iv.Start {
		idx++
	}

	// Coalesce with same-owner neighbors.
	if idx > 0 && m.entries[idx-1].owner == owner && m.entries[idx-1].interval.End == iv.Start {
		iv.Start = m.entries[idx-1].interval.Start
		idx--
		m.entries = append(m.entries[:idx], m.entries[idx+1:]...)
	}
	if idx < len(m.entries) && m.entries[idx].owner == owner && m.entries[idx].interval.Start == iv.End {
		iv.End = m.entries[idx].interval.End
		m.entries = append(m.entries[:idx], m.entries[idx+1:]...)
	}

	m.entries = append(m.entries, dirtyEntry{})
	copy(m.entries[idx+1:], m.entries[idx:])
	m.entries[idx] = dirtyEntry{interval: iv, owner: owner}
}

// erase removes ownership of iv, splitting entries that straddle its edges.
func (m *surfaceMap) erase(iv memutils.Interval) {
	if iv.Empty() {
		return
	}
	out := m.entries[:0:0]
	for _, e := range m.entries {
		if !e.interval.Overlaps(iv) {
			out = append(out, e)
			continue
		}
		if e.interval.Start < iv.Start {
			out = append(out, dirtyEntry{
				interval: memutils.Interval{Start: e.interval.Start, End: iv.Start},
				owner:    e.owner,
			})
		}
		if e.interval.End > iv.End {
			out = append(out, dirtyEntry{
				interval: memutils.Interval{Start: iv.End, End: e.interval.End},
				owner:    e.owner,
			})
		}
	}
	m.entries = out
}

// eraseSet removes ownership of every span in the set.
func (m *surfaceMap) eraseSet(set memutils.IntervalSet) {
	for _, iv := range set.Spans() {
		m.erase(iv)
	}
}

// overlapping returns the entries that intersect iv, whole. Callers that
// need the clipped span intersect the entry interval themselves.
func (m *surfaceMap) overlapping(iv memutils.Interval) []dirtyEntry {
	var out []dirtyEntry
	for _, e := range m.entries {
		if e.interval.Overlaps(iv) {
			out = append(out, e)
		}
	}
	return out
}

// covers reports whether every byte of iv has an owner.
func (m *surfaceMap) covers(iv memutils.Interval) bool {
	if iv.Empty() {
		return true
	}
	pos := iv.Start
	for _, e := range m.entries {
		if e.interval.End <= pos {
			continue
		}
		if e.interval.Start > pos {
			return false
		}
		pos = e.interval.End
		if pos >= iv.End {
			return true
		}
	}
	return false
}

// ownerAt returns the owner of the span containing addr, or nil.
func (m *surfaceMap) ownerAt(addr uint32) *Surface {
	for _, e := range m.entries {
		if e.interval.ContainsAddr(addr) {
			return e.owner
		}
	}
	return nil
}

// rehome transfers ownership of from's spans within iv to the surface to.
func (m *surfaceMap) rehome(from, to *Surface, iv memutils.Interval) {
	var moved []memutils.Interval
	for _, e := range m.entries {
		if e.owner == from {
			if clipped := e.interval.Intersect(iv); !clipped.Empty() {
				moved = append(moved, clipped)
			}
		}
	}
	for _, span := range moved {
		m.set(span, to)
	}
}

// validate checks the sorted/disjoint representation invariant. Runs in
// debug builds only.
func (m *surfaceMap) validate() error {
	for n, e := range m.entries {
		if e.interval.Empty() {
			return errors.Newf("dirty map entry %d is empty", n)
		}
		if e.owner == nil {
			return errors.Newf("dirty map entry %d has no owner", n)
		}
		if n > 0 && m.entries[n-1].interval.End > e.interval.Start {
			return errors.Newf("dirty map entries %d and %d overlap", n-1, n)
		}
	}
	return nil
}
