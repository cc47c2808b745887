package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDSetNormalization(t *testing.T) {
	s := NewIDSet(
		Interval{Lo: 10, Hi: 20},
		Interval{Lo: 15, Hi: 25},
		Interval{Lo: 30, Hi: 30}, // empty, dropped
		Interval{Lo: 5, Hi: 10},  // adjacent, coalesced
	)
	require.Equal(t, []Interval{{Lo: 5, Hi: 25}}, s.Intervals())
	assert.Equal(t, uint64(20), s.Cardinality())
}

func TestIDSetMembership(t *testing.T) {
	s := NewIDSet(Interval{Lo: 0, Hi: 10}, Interval{Lo: 100, Hi: 110})

	assert.True(t, s.Contains(0))
	assert.True(t, s.Contains(9))
	assert.False(t, s.Contains(10))
	assert.False(t, s.Contains(99))
	assert.True(t, s.Contains(100))
	assert.False(t, s.Contains(110))
}

func TestIDSetUnionIntersectDifference(t *testing.T) {
	a := NewIDSet(Interval{Lo: 0, Hi: 10}, Interval{Lo: 20, Hi: 30})
	b := NewIDSet(Interval{Lo: 5, Hi: 25})

	union := a.Union(b)
	assert.Equal(t, []Interval{{Lo: 0, Hi: 30}}, union.Intervals())

	inter := a.Intersect(b)
	assert.Equal(t, []Interval{{Lo: 5, Hi: 10}, {Lo: 20, Hi: 25}}, inter.Intervals())

	diff := a.Difference(b)
	assert.Equal(t, []Interval{{Lo: 0, Hi: 5}, {Lo: 25, Hi: 30}}, diff.Intervals())
}

func TestIDSetDifferenceEdges(t *testing.T) {
	tests := []struct {
		name string
		a    IDSet
		b    IDSet
		want []Interval
	}{
		{
			name: "disjoint",
			a:    MakeInterval(0, 10),
			b:    MakeInterval(20, 30),
			want: []Interval{{Lo: 0, Hi: 10}},
		},
		{
			name: "full overlap",
			a:    MakeInterval(5, 10),
			b:    MakeInterval(0, 20),
			want: nil,
		},
		{
			name: "punch hole",
			a:    MakeInterval(0, 30),
			b:    MakeInterval(10, 20),
			want: []Interval{{Lo: 0, Hi: 10}, {Lo: 20, Hi: 30}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Difference(tt.b).Intervals())
		})
	}
}

func TestIDSetOverlaps(t *testing.T) {
	a := NewIDSet(Interval{Lo: 0, Hi: 10})
	assert.True(t, a.Overlaps(MakeInterval(9, 15)))
	assert.False(t, a.Overlaps(MakeInterval(10, 15)))
	assert.False(t, a.Overlaps(IDSet{}))
}

// TestProperty_IDSetAlgebra validates the set operations against direct
// membership evaluation on random interval sets.
func TestProperty_IDSetAlgebra(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genSet := gen.SliceOfN(4, gen.UInt64Range(0, 64)).Map(func(xs []uint64) IDSet {
		var s IDSet
		for i := 0; i+1 < len(xs); i += 2 {
			lo, hi := xs[i], xs[i+1]
			if lo > hi {
				lo, hi = hi, lo
			}
			s = s.Union(MakeInterval(lo, hi))
		}
		return s
	})

	properties.Property("union matches pointwise or", prop.ForAll(
		func(a, b IDSet) bool {
			u := a.Union(b)
			for id := ID(0); id < 70; id++ {
				if u.Contains(id) != (a.Contains(id) || b.Contains(id)) {
					return false
				}
			}
			return true
		},
		genSet, genSet,
	))

	properties.Property("intersection matches pointwise and", prop.ForAll(
		func(a, b IDSet) bool {
			i := a.Intersect(b)
			for id := ID(0); id < 70; id++ {
				if i.Contains(id) != (a.Contains(id) && b.Contains(id)) {
					return false
				}
			}
			return true
		},
		genSet, genSet,
	))

	properties.Property("difference matches pointwise and-not", prop.ForAll(
		func(a, b IDSet) bool {
			d := a.Difference(b)
			for id := ID(0); id < 70; id++ {
				if d.Contains(id) != (a.Contains(id) && !b.Contains(id)) {
					return false
				}
			}
			return true
		},
		genSet, genSet,
	))

	properties.Property("intervals stay sorted and disjoint", prop.ForAll(
		func(a, b IDSet) bool {
			for _, s := range []IDSet{a.Union(b), a.Intersect(b), a.Difference(b)} {
				intervals := s.Intervals()
				for i := range intervals {
					if intervals[i].Empty() {
						return false
					}
					if i > 0 && intervals[i-1].Hi >= intervals[i].Lo {
						return false
					}
				}
			}
			return true
		},
		genSet, genSet,
	))

	properties.TestingRun(t)
}
