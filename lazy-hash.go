package stash

import (
	"github.com/anacrolix/stash/metainfo"
)

// lazyHash hashes a prefix of a candidate block at most once, caching the
// digest for repeated interrogation.
type lazyHash struct {
	data []byte
	sum  metainfo.Hash
	done bool
}

func newLazyHash(data []byte, size int64) *lazyHash {
	return &lazyHash{data: data[:size]}
}

func (me *lazyHash) get() metainfo.Hash {
	if !me.done {
		me.sum = metainfo.HashBytes(me.data)
		me.data = nil
		me.done = true
	}
	return me.sum
}
