package memutils

import (
	"fmt"
	"sort"

	cerrors "github.com/cockroachdb/errors"
)

// Interval is a half-open byte range [Start, End) in guest physical-address
// space. An interval with End <= Start is empty.
type Interval struct {
	Start uint32
	End   uint32
}

// IntervalFromSize builds the interval [start, start+size).
func IntervalFromSize(start, size uint32) Interval {
	return Interval{Start: start, End: start + size}
}

func (i Interval) Empty() bool {
	return i.End <= i.Start
}

// Len returns the number of bytes covered by the interval.
func (i Interval) Len() uint32 {
	if i.Empty() {
		return 0
	}
	return i.End - i.Start
}

func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End && !i.Empty() && !o.Empty()
}

// Intersect returns the common sub-range of two intervals. The result is
// empty when they do not overlap.
func (i Interval) Intersect(o Interval) Interval {
	r := Interval{Start: max32(i.Start, o.Start), End: min32(i.End, o.End)}
	if r.Empty() {
		return Interval{}
	}
	return r
}

// Covers reports whether o is entirely inside i. Empty intervals are
// covered by everything.
func (i Interval) Covers(o Interval) bool {
	return o.Empty() || (o.Start >= i.Start && o.End <= i.End)
}

func (i Interval) ContainsAddr(addr uint32) bool {
	return addr >= i.Start && addr < i.End
}

func (i Interval) String() string {
	return fmt.Sprintf("[%#x, %#x)", i.Start, i.End)
}

// IntervalSet is a set of disjoint, sorted intervals. Adjacent intervals are
// merged on insertion, so the spans held by the set are always maximal.
// The zero value is an empty set.
type IntervalSet struct {
	spans []Interval
}

// NewIntervalSet builds a set from the provided intervals.
func NewIntervalSet(intervals ...Interval) IntervalSet {
	var set IntervalSet
	for _, iv := range intervals {
		set.Add(iv)
	}
	return set
}

func (s *IntervalSet) Empty() bool {
	return len(s.spans) == 0
}

// Spans returns the maximal disjoint intervals of the set in ascending
// order. The returned slice is owned by the set and must not be mutated.
func (s *IntervalSet) Spans() []Interval {
	return s.spans
}

// Len returns the total number of bytes covered by the set.
func (s *IntervalSet) Len() uint32 {
	var total uint32
	for _, iv := range s.spans {
		total += iv.Len()
	}
	return total
}

func (s *IntervalSet) Clear() {
	s.spans = s.spans[:0]
}

func (s *IntervalSet) Clone() IntervalSet {
	out := make([]Interval, len(s.spans))
	copy(out, s.spans)
	return IntervalSet{spans: out}
}

// Add unions iv into the set, merging any spans it overlaps or touches.
func (s *IntervalSet) Add(iv Interval) {
	if iv.Empty() {
		return
	}

	// First span that could merge with iv: spans are sorted by Start, so
	// anything ending before iv.Start is unaffected.
	lo := sort.Search(len(s.spans), func(n int) bool {
		return s.spans[n].End >= iv.Start
	})
	hi := lo
	for hi < len(s.spans) && s.spans[hi].Start <= iv.End {
		iv.Start = min32(iv.Start, s.spans[hi].Start)
		iv.End = max32(iv.End, s.spans[hi].End)
		hi++
	}

	s.spans = append(s.spans[:lo], append([]Interval{iv}, s.spans[hi:]...)...)
}

// AddSet unions every span of o into the set.
func (s *IntervalSet) AddSet(o IntervalSet) {
	for _, iv := range o.spans {
		s.Add(iv)
	}
}

// Erase subtracts iv from the set, splitting spans where needed.
func (s *IntervalSet) Erase(iv Interval) {
	if iv.Empty() {
		return
	}

	out := s.spans[:0:0]
	for _, span := range s.spans {
		if !span.Overlaps(iv) {
			out = append(out, span)
			continue
		}
		if span.Start < iv.Start {
			out = append(out, Interval{Start: span.Start, End: iv.Start})
		}
		if span.End > iv.End {
			out = append(out, Interval{Start: iv.End, End: span.End})
		}
	}
	s.spans = out
}

// EraseSet subtracts every span of o from the set.
func (s *IntervalSet) EraseSet(o IntervalSet) {
	for _, iv := range o.spans {
		s.Erase(iv)
	}
}

// Intersection returns the parts of the set inside iv as a new set.
func (s *IntervalSet) Intersection(iv Interval) IntervalSet {
	var out IntervalSet
	for _, span := range s.spans {
		if isect := span.Intersect(iv); !isect.Empty() {
			out.spans = append(out.spans, isect)
		}
	}
	return out
}

// Disjoint reports whether no byte of iv is in the set.
func (s *IntervalSet) Disjoint(iv Interval) bool {
	for _, span := range s.spans {
		if span.Overlaps(iv) {
			return false
		}
	}
	return true
}

// Covers reports whether every byte of iv is in the set. Merged spans make
// this a single containment test against the overlapping span.
func (s *IntervalSet) Covers(iv Interval) bool {
	if iv.Empty() {
		return true
	}
	for _, span := range s.spans {
		if span.Covers(iv) {
			return true
		}
	}
	return false
}

// Validate checks the sorted/disjoint/maximal representation invariant.
func (s *IntervalSet) Validate() error {
	for n, span := range s.spans {
		if span.Empty() {
			return cerrors.Newf("interval set contains the empty span %s", span)
		}
		if n > 0 && s.spans[n-1].End >= span.Start {
			return cerrors.Newf("interval set spans %s and %s are not disjoint and sorted", s.spans[n-1], span)
		}
	}
	return nil
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
