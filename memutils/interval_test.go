package memutils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntervalIntersect(t *testing.T) {
	a := Interval{Start: 0x1000, End: 0x2000}

	require.Equal(t, Interval{Start: 0x1800, End: 0x2000}, a.Intersect(Interval{Start: 0x1800, End: 0x3000}))
	require.True(t, a.Intersect(Interval{Start: 0x2000, End: 0x3000}).Empty())
	require.True(t, a.Intersect(Interval{}).Empty())
	require.Equal(t, a, a.Intersect(a))
}

var addCases = map[string]struct {
	Add      []Interval
	Expected []Interval
}{
	"Disjoint Spans Stay Split": {
		Add:      []Interval{{0x0, 0x100}, {0x200, 0x300}},
		Expected: []Interval{{0x0, 0x100}, {0x200, 0x300}},
	},
	"Adjacent Spans Merge": {
		Add:      []Interval{{0x0, 0x100}, {0x100, 0x200}},
		Expected: []Interval{{0x0, 0x200}},
	},
	"Overlapping Spans Merge": {
		Add:      []Interval{{0x0, 0x180}, {0x100, 0x200}},
		Expected: []Interval{{0x0, 0x200}},
	},
	"Bridging Span Collapses Neighbors": {
		Add:      []Interval{{0x0, 0x100}, {0x200, 0x300}, {0x80, 0x280}},
		Expected: []Interval{{0x0, 0x300}},
	},
	"Empty Span Ignored": {
		Add:      []Interval{{0x100, 0x100}},
		Expected: nil,
	},
	"Out Of Order Insert": {
		Add:      []Interval{{0x200, 0x300}, {0x0, 0x100}},
		Expected: []Interval{{0x0, 0x100}, {0x200, 0x300}},
	},
}

func TestIntervalSetAdd(t *testing.T) {
	for name, testCase := range addCases {
		t.Run(name, func(t *testing.T) {
			var set IntervalSet
			for _, iv := range testCase.Add {
				set.Add(iv)
			}

			require.NoError(t, set.Validate())
			if testCase.Expected == nil {
				require.Empty(t, set.Spans())
			} else {
				require.Equal(t, testCase.Expected, set.Spans())
			}
		})
	}
}

func TestIntervalSetErase(t *testing.T) {
	set := NewIntervalSet(Interval{0x0, 0x1000})

	set.Erase(Interval{0x400, 0x800})
	require.NoError(t, set.Validate())
	require.Equal(t, []Interval{{0x0, 0x400}, {0x800, 0x1000}}, set.Spans())

	set.Erase(Interval{0x0, 0x400})
	require.Equal(t, []Interval{{0x800, 0x1000}}, set.Spans())

	set.Erase(Interval{0x700, 0x1100})
	require.True(t, set.Empty())
}

// For any intervals A and B, (A intersect B) union (A minus B) must
// reassemble A exactly.
func TestIntervalAlgebraClosure(t *testing.T) {
	intervals := []Interval{
		{0x0, 0x100},
		{0x80, 0x180},
		{0x100, 0x200},
		{0x0, 0x1000},
		{0x3f8, 0x400},
	}

	for _, a := range intervals {
		for _, b := range intervals {
			whole := NewIntervalSet(a)
			difference := whole.Clone()
			difference.Erase(b)

			reassembled := NewIntervalSet(a.Intersect(b))
			reassembled.AddSet(difference)

			require.NoError(t, reassembled.Validate())
			require.Equal(t, []Interval{a}, reassembled.Spans(), "A=%s B=%s", a, b)
		}
	}
}

func TestIntervalSetQueries(t *testing.T) {
	set := NewIntervalSet(Interval{0x100, 0x200}, Interval{0x300, 0x400})

	require.True(t, set.Disjoint(Interval{0x200, 0x300}))
	require.False(t, set.Disjoint(Interval{0x1ff, 0x201}))
	require.True(t, set.Covers(Interval{0x120, 0x180}))
	require.False(t, set.Covers(Interval{0x120, 0x320}))
	require.EqualValues(t, 0x200, set.Len())

	isect := set.Intersection(Interval{0x180, 0x380})
	require.Equal(t, []Interval{{0x180, 0x200}, {0x300, 0x380}}, isect.Spans())
}

func TestIntervalSetEraseSet(t *testing.T) {
	set := NewIntervalSet(Interval{0x0, 0x1000})
	holes := NewIntervalSet(Interval{0x100, 0x200}, Interval{0x800, 0x900})

	set.EraseSet(holes)
	require.NoError(t, set.Validate())
	require.Equal(t, []Interval{{0x0, 0x100}, {0x200, 0x800}, {0x900, 0x1000}}, set.Spans())
}

func TestAlignNonPow2(t *testing.T) {
	require.EqualValues(t, 0x180, AlignUp[uint32](0x101, 0x180))
	require.EqualValues(t, 0x300, AlignUp[uint32](0x181, 0x180))
	require.EqualValues(t, 0x180, AlignDown[uint32](0x2ff, 0x180))
	require.EqualValues(t, 0, AlignDown[uint32](0x17f, 0x180))
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, CheckPow2[uint32](0x1000, "page size"))
	err := CheckPow2[uint32](0x180, "stride")
	require.ErrorIs(t, err, PowerOfTwoError)
}
