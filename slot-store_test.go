package stash

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testSlotStore(t *testing.T) (*slotStore, []byte) {
	content, pieceLength := singleFileTorrent()
	info := buildInfo("a", pieceLength, []int64{testTotalSize}, content)
	dir := t.TempDir()
	writePayload(t, info, dir, content)
	return newSlotStore(info, newFileView(info, dir, classicFileIo{})), content
}

func TestSlotStoreReadWrite(t *testing.T) {
	store, content := testSlotStore(t)
	b := make([]byte, testPieceLength)
	n, err := store.ReadSlot(b, 1, 0)
	require.NoError(t, err)
	require.Equal(t, testPieceLength, n)
	assert.Equal(t, content[testPieceLength:2*testPieceLength], b)

	w := randomBytes(testPieceLength, 11)
	require.NoError(t, store.WriteSlot(w, 2, 0))
	n, err = store.ReadSlot(b, 2, 0)
	require.NoError(t, err)
	require.Equal(t, testPieceLength, n)
	assert.Equal(t, w, b)
}

// Requests past the end of the short last slot are clamped to its length.
func TestSlotStoreClampsLastSlot(t *testing.T) {
	store, content := testSlotStore(t)
	b := make([]byte, testPieceLength)
	n, err := store.ReadSlot(b, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, content[4*testPieceLength:], b[:10])

	w := randomBytes(testPieceLength, 12)
	require.NoError(t, store.WriteSlot(w, 4, 0))
	n, err = store.ReadSlot(b, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, w[:10], b[:10])
}

func TestSlotStoreBadArgsPanic(t *testing.T) {
	store, _ := testSlotStore(t)
	assert.Panics(t, func() { store.ReadSlot(nil, 0, 0) })
	assert.Panics(t, func() { store.ReadSlot(make([]byte, 1), -1, 0) })
	assert.Panics(t, func() { store.ReadSlot(make([]byte, 1), 0, testPieceLength) })
}

// Writes to the same slot serialize; the busy flag is exclusive.
func TestSlotStoreSameSlotExclusion(t *testing.T) {
	store, _ := testSlotStore(t)
	var inSlot atomic.Int32
	var eg errgroup.Group
	w := randomBytes(testPieceLength, 13)
	for range 4 {
		eg.Go(func() error {
			store.lockSlot(1)
			defer store.unlockSlot(1)
			if inSlot.Add(1) != 1 {
				t.Error("concurrent holders of one slot")
			}
			defer inSlot.Add(-1)
			_, err := store.view.WriteAt(w, testPieceLength)
			return err
		})
	}
	require.NoError(t, eg.Wait())
}
