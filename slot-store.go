package stash

import (
	"sync"

	"github.com/anacrolix/missinggo/v2/panicif"

	"github.com/anacrolix/stash/metainfo"
)

// slotStore provides mutually exclusive access to slots and translates
// (slot, offset) requests into file view operations. Requests on different
// slots proceed in parallel; requests on the same slot serialize.
type slotStore struct {
	info *metainfo.Info
	view *fileView

	mu   sync.Mutex
	cond *sync.Cond
	busy []bool
}

func newSlotStore(info *metainfo.Info, view *fileView) *slotStore {
	me := &slotStore{
		info: info,
		view: view,
		busy: make([]bool, info.NumPieces()),
	}
	me.cond = sync.NewCond(&me.mu)
	return me
}

func (me *slotStore) lockSlot(slot int) {
	me.mu.Lock()
	for me.busy[slot] {
		me.cond.Wait()
	}
	me.busy[slot] = true
	me.mu.Unlock()
}

func (me *slotStore) unlockSlot(slot int) {
	me.mu.Lock()
	me.busy[slot] = false
	me.mu.Unlock()
	me.cond.Broadcast()
}

// The byte length of the given slot. The last slot is shorter than the rest.
func (me *slotStore) slotLength(slot int) int64 {
	return me.info.Piece(slot).Length()
}

func (me *slotStore) checkArgs(b []byte, slot int, off int64) {
	panicif.Eq(len(b), 0)
	panicif.True(slot < 0 || slot >= me.info.NumPieces())
	panicif.True(off < 0 || off >= me.slotLength(slot))
}

// ReadSlot fills b from the slot's bytes starting at off. The read is clamped
// to the slot's length.
func (me *slotStore) ReadSlot(b []byte, slot int, off int64) (n int, err error) {
	me.checkArgs(b, slot, off)
	me.lockSlot(slot)
	defer me.unlockSlot(slot)
	if int64(len(b)) > me.slotLength(slot)-off {
		b = b[:me.slotLength(slot)-off]
	}
	return me.view.ReadAt(b, int64(slot)*me.info.PieceLength+off)
}

// WriteSlot writes b into the slot starting at off. The write is clamped to
// the slot's length.
func (me *slotStore) WriteSlot(b []byte, slot int, off int64) (err error) {
	me.checkArgs(b, slot, off)
	me.lockSlot(slot)
	defer me.unlockSlot(slot)
	if int64(len(b)) > me.slotLength(slot)-off {
		b = b[:me.slotLength(slot)-off]
	}
	_, err = me.view.WriteAt(b, int64(slot)*me.info.PieceLength+off)
	return
}
