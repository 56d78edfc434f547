package segments

import (
	"iter"
	"sort"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/missinggo/v2/panicif"
)

// NewIndex builds an Index over consecutive segments with the given lengths.
func NewIndex(lengths []Length) (ret Index) {
	var start Length
	for _, l := range lengths {
		ret.segments = append(ret.segments, Extent{start, l})
		start += l
	}
	return
}

type Index struct {
	segments []Extent
}

// Segments must be sorted by Start and non-overlapping.
func NewIndexFromSegments(segments []Extent) Index {
	return Index{segments}
}

func (me Index) NumSegments() int {
	return len(me.segments)
}

func (me Index) Index(i int) Extent {
	return me.segments[i]
}

// LocateIter yields, in order, each segment overlapping e together with the
// extent of the overlap within that segment. Zero-length segments are
// skipped.
func (me Index) LocateIter(e Extent) iter.Seq2[int, Extent] {
	return func(yield func(int, Extent) bool) {
		first := sort.Search(len(me.segments), func(i int) bool {
			return me.segments[i].End() > e.Start
		})
		for i := first; i < len(me.segments); i++ {
			seg := me.segments[i]
			if e.Length <= 0 || seg.Start >= e.End() {
				return
			}
			if seg.Length == 0 {
				continue
			}
			intra := Extent{Start: max(e.Start-seg.Start, 0)}
			intra.Length = min(seg.End(), e.End()) - (seg.Start + intra.Start)
			panicif.LessThanOrEqual(intra.Length, 0)
			if !yield(i, intra) {
				return
			}
		}
	}
}

// Locate calls output for each segment overlapping e. Returns false if the
// callback stopped the scan early.
func (me Index) Locate(e Extent, output Callback) bool {
	for i, intra := range me.LocateIter(e) {
		if !output(i, intra) {
			return false
		}
	}
	return true
}

type IndexAndOffset struct {
	Index  int
	Offset int64
}

// The segment containing the given offset, if any.
func (me Index) LocateOffset(off int64) (ret g.Option[IndexAndOffset]) {
	for i, e := range me.LocateIter(Extent{off, 1}) {
		panicif.True(ret.Ok)
		panicif.NotEq(e.Length, 1)
		ret.Set(IndexAndOffset{
			Index:  i,
			Offset: e.Start,
		})
	}
	return
}
