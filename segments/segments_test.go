package segments

import (
	"testing"

	"github.com/go-quicktest/qt"
)

type indexed struct {
	Index  int
	Extent Extent
}

func collect(index Index, e Extent) (ret []indexed) {
	for i, intra := range index.LocateIter(e) {
		ret = append(ret, indexed{i, intra})
	}
	return
}

func TestLocateIter(t *testing.T) {
	index := NewIndex([]Length{2, 3, 4})
	check := func(off, n Length, expected ...indexed) {
		t.Helper()
		qt.Check(t, qt.DeepEquals(collect(index, Extent{off, n}), expected))
	}
	check(0, 0)
	check(0, 1, indexed{0, Extent{0, 1}})
	check(0, 2, indexed{0, Extent{0, 2}})
	check(0, 3, indexed{0, Extent{0, 2}}, indexed{1, Extent{0, 1}})
	check(2, 2, indexed{1, Extent{0, 2}})
	check(4, 1, indexed{1, Extent{2, 1}})
	check(4, 2, indexed{1, Extent{2, 1}}, indexed{2, Extent{0, 1}})
	check(5, 4, indexed{2, Extent{0, 4}})
	check(5, 9, indexed{2, Extent{0, 4}})
	check(9, 1)
	check(5, 0)
}

func TestLocateStopsEarly(t *testing.T) {
	index := NewIndex([]Length{2, 3, 4})
	var seen int
	qt.Assert(t, qt.IsFalse(index.Locate(Extent{0, 9}, func(i int, e Extent) bool {
		seen++
		return i < 1
	})))
	qt.Check(t, qt.Equals(seen, 2))
	qt.Assert(t, qt.IsTrue(index.Locate(Extent{0, 9}, func(i int, e Extent) bool {
		return true
	})))
}

func TestLocateOffset(t *testing.T) {
	index := NewIndex([]Length{2, 3, 4})
	qt.Check(t, qt.Equals(index.NumSegments(), 3))
	qt.Check(t, qt.Equals(index.Index(1), Extent{2, 3}))
	ret := index.LocateOffset(3)
	qt.Assert(t, qt.IsTrue(ret.Ok))
	qt.Check(t, qt.Equals(ret.Value, IndexAndOffset{1, 1}))
	qt.Check(t, qt.IsFalse(index.LocateOffset(9).Ok))
}

func TestZeroLengthSegmentsSkipped(t *testing.T) {
	index := NewIndexFromSegments([]Extent{{0, 2}, {2, 0}, {2, 3}})
	qt.Check(t, qt.DeepEquals(collect(index, Extent{1, 3}), []indexed{
		{0, Extent{1, 1}},
		{2, Extent{0, 2}},
	}))
}
