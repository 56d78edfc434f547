package stash

import (
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/anacrolix/stash/metainfo"
)

func TestLazyHash(t *testing.T) {
	data := randomBytes(16, 21)
	full := newLazyHash(data, 16)
	short := newLazyHash(data, 10)
	qt.Assert(t, qt.Equals(full.get(), metainfo.HashBytes(data)))
	qt.Assert(t, qt.Equals(short.get(), metainfo.HashBytes(data[:10])))
	// Interrogating again returns the cached digest without re-hashing.
	qt.Check(t, qt.IsNil(full.data))
	qt.Check(t, qt.Equals(full.get(), metainfo.HashBytes(data)))
}
