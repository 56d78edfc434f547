package stash

import (
	"log/slog"
	"slices"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/chansync"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/anacrolix/sync"
	"github.com/dustin/go-humanize"

	"github.com/anacrolix/stash/metainfo"
)

// Slot states in slotToPiece.
const (
	// No backing storage written for the slot yet.
	slotUnallocated = -1
	// Backing storage exists but the slot holds no valid piece.
	slotFree = -2
)

// How many slots to materialize when the write path runs out of free ones.
const allocateSlotsBatch = 5

type NewPieceManagerOpts struct {
	Info     *metainfo.Info
	SavePath string
	Logger   *slog.Logger
	// Use memory-mapped file IO instead of the default os-based backend.
	Mmap bool
}

// PieceManager maintains the bidirectional piece↔slot mapping over a
// multi-file payload. Construction does no I/O; CheckPieces populates state
// from whatever is already on disk.
type PieceManager struct {
	info     *metainfo.Info
	savePath string
	logger   *slog.Logger
	store    *slotStore

	// Protects the mapping tables and both slot pools.
	mu sync.Mutex

	// Bytes not yet verified present.
	bytesLeft int64
	// Pieces verified present on disk.
	have *roaring.Bitmap

	// Slot currently holding piece p, or slotUnallocated if the piece isn't
	// placed.
	pieceToSlot []int
	// Piece stored at slot s, or one of the slot state sentinels.
	slotToPiece []int
	// Slots with backing storage and no piece.
	freeSlots []int
	// Slots with no backing storage yet.
	unallocatedSlots []int

	// Serializes allocation campaigns from public callers.
	allocMu    sync.Mutex
	allocating bool
	allocCond  chansync.BroadcastCond
}

func NewPieceManager(opts NewPieceManagerOpts) *PieceManager {
	panicif.Nil(opts.Info)
	panicif.Err(opts.Info.Validate())
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var fio fileIo = classicFileIo{}
	if opts.Mmap {
		fio = &mmapFileIo{}
	}
	view := newFileView(opts.Info, opts.SavePath, fio)
	numPieces := opts.Info.NumPieces()
	me := &PieceManager{
		info:        opts.Info,
		savePath:    opts.SavePath,
		logger:      opts.Logger,
		store:       newSlotStore(opts.Info, view),
		bytesLeft:   opts.Info.TotalLength(),
		have:        roaring.New(),
		pieceToSlot: newSlotVector(numPieces, slotUnallocated),
		slotToPiece: newSlotVector(numPieces, slotUnallocated),
	}
	for s := 0; s < numPieces; s++ {
		me.unallocatedSlots = append(me.unallocatedSlots, s)
	}
	return me
}

func newSlotVector(n, fill int) []int {
	v := make([]int, n)
	for i := range v {
		v[i] = fill
	}
	return v
}

func (me *PieceManager) SavePath() string {
	return me.savePath
}

func (me *PieceManager) BytesLeft() int64 {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.bytesLeft
}

// Read fills b from the piece starting at off. The piece must have been
// written or verified first.
func (me *PieceManager) Read(b []byte, piece int, off int64) (n int, err error) {
	me.mu.Lock()
	slot := me.pieceToSlot[piece]
	me.mu.Unlock()
	panicif.True(slot < 0)
	return me.store.ReadSlot(b, slot, off)
}

// Write stores b into the piece starting at off, assigning and materializing
// a slot if the piece doesn't have one yet.
func (me *PieceManager) Write(b []byte, piece int, off int64) (err error) {
	me.mu.Lock()
	hadSlot := me.pieceToSlot[piece] >= 0
	slot, err := me.slotForPiece(piece)
	me.mu.Unlock()
	if err != nil {
		return
	}
	err = me.store.WriteSlot(b, slot, off)
	if err != nil && !hadSlot {
		// Put the slot back so the write can be retried.
		me.mu.Lock()
		if me.pieceToSlot[piece] == slot {
			me.pieceToSlot[piece] = slotUnallocated
			me.slotToPiece[slot] = slotFree
			me.freeSlots = append(me.freeSlots, slot)
		}
		me.mu.Unlock()
	}
	return
}

// AllocateSlots materializes backing storage for up to n slots from the
// unallocated pool. Only one allocation campaign runs at a time; concurrent
// callers wait their turn.
func (me *PieceManager) AllocateSlots(n int) error {
	panicif.LessThanOrEqual(n, 0)
	me.beginAllocating()
	defer me.endAllocating()
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.allocateSlots(n)
}

func (me *PieceManager) beginAllocating() {
	me.allocMu.Lock()
	for me.allocating {
		wait := me.allocCond.Signaled()
		me.allocMu.Unlock()
		<-wait
		me.allocMu.Lock()
	}
	me.allocating = true
	me.allocMu.Unlock()
}

func (me *PieceManager) endAllocating() {
	me.allocMu.Lock()
	me.allocating = false
	me.allocMu.Unlock()
	me.allocCond.Broadcast()
}

// Returns the slot currently associated with the given piece, or assigns the
// piece to a free slot. Caller holds mu.
func (me *PieceManager) slotForPiece(piece int) (int, error) {
	me.checkInvariant()
	panicif.True(piece < 0 || piece >= len(me.pieceToSlot))

	slot := me.pieceToSlot[piece]
	if slot != slotUnallocated {
		panicif.True(slot < 0)
		return slot, nil
	}

	if len(me.freeSlots) == 0 {
		err := me.allocateSlots(allocateSlotsBatch)
		if err != nil {
			return 0, err
		}
		panicif.Eq(len(me.freeSlots), 0)
	}

	// Prefer the piece's natural slot if it's free.
	i := slices.Index(me.freeSlots, piece)
	if i == -1 {
		panicif.Eq(me.slotToPiece[piece], slotFree)
		i = len(me.freeSlots) - 1
		// Don't hand out the last slot when we shouldn't: it's smaller than
		// ordinary slots.
		if me.freeSlots[i] == me.info.NumPieces()-1 && piece != me.freeSlots[i] {
			if len(me.freeSlots) == 1 {
				err := me.allocateSlots(allocateSlotsBatch)
				if err != nil {
					return 0, err
				}
			}
			panicif.LessThanOrEqual(len(me.freeSlots), 1)
			for i = len(me.freeSlots) - 1; me.freeSlots[i] == me.info.NumPieces()-1; i-- {
			}
		}
	}

	slot = me.freeSlots[i]
	me.freeSlots = slices.Delete(me.freeSlots, i, i+1)

	panicif.NotEq(me.slotToPiece[slot], slotFree)
	me.slotToPiece[slot] = piece
	me.pieceToSlot[piece] = slot

	// Another piece occupies this piece's natural slot; swap it out so the
	// piece can live at its own index.
	if slot != piece && me.slotToPiece[piece] >= 0 {
		occupant := me.slotToPiece[piece]
		me.logger.Debug("another piece at our slot, swapping",
			"piece", piece, "slot", slot, "occupant", occupant)
		buf := make([]byte, me.info.PieceLength)
		err := func() error {
			_, err := me.store.ReadSlot(buf, piece, 0)
			if err != nil {
				return err
			}
			return me.store.WriteSlot(buf, slot, 0)
		}()
		if err != nil {
			// Leave the chosen slot free again so the caller can retry.
			me.slotToPiece[slot] = slotFree
			me.pieceToSlot[piece] = slotUnallocated
			me.freeSlots = append(me.freeSlots, slot)
			me.checkInvariant()
			return 0, err
		}
		me.slotToPiece[piece], me.slotToPiece[slot] = me.slotToPiece[slot], me.slotToPiece[piece]
		me.pieceToSlot[piece], me.pieceToSlot[occupant] = me.pieceToSlot[occupant], me.pieceToSlot[piece]
		slot = piece
	}

	me.checkInvariant()
	return slot, nil
}

// Drains up to numSlots slots from the unallocated pool, zero-filling their
// backing storage. Caller holds mu.
func (me *PieceManager) allocateSlots(numSlots int) error {
	me.checkInvariant()
	pieceLength := me.info.PieceLength
	zeros := make([]byte, pieceLength)
	scratch := make([]byte, pieceLength)
	drained := 0
	var bytes int64
	for _, pos := range me.unallocatedSlots {
		if drained == numSlots {
			break
		}
		slotLen := me.info.Piece(pos).Length()
		newFreeSlot := pos
		if me.pieceToSlot[pos] != slotUnallocated {
			panicif.True(me.pieceToSlot[pos] < 0)
			// Piece pos lives at some other slot. Rebind it to its natural
			// slot and free the one it came from; the bytes read here are
			// discarded.
			_, err := me.store.ReadSlot(scratch[:slotLen], me.pieceToSlot[pos], 0)
			if err != nil {
				me.unallocatedSlots = slices.Delete(me.unallocatedSlots, 0, drained)
				me.checkInvariant()
				return err
			}
			newFreeSlot = me.pieceToSlot[pos]
		}
		err := me.store.WriteSlot(zeros[:slotLen], pos, 0)
		if err != nil {
			me.unallocatedSlots = slices.Delete(me.unallocatedSlots, 0, drained)
			me.checkInvariant()
			return err
		}
		if newFreeSlot != pos {
			me.slotToPiece[pos] = pos
			me.pieceToSlot[pos] = pos
		}
		me.slotToPiece[newFreeSlot] = slotFree
		me.freeSlots = append(me.freeSlots, newFreeSlot)
		bytes += slotLen
		drained++
	}
	me.unallocatedSlots = slices.Delete(me.unallocatedSlots, 0, drained)
	if drained > 0 {
		me.logger.Debug("allocated slots",
			"count", drained, "bytes", humanize.Bytes(uint64(bytes)))
	}
	me.checkInvariant()
	return nil
}

// Asserts the mapping invariants. Caller holds mu.
func (me *PieceManager) checkInvariant() {
	n := me.info.NumPieces()
	panicif.NotEq(len(me.pieceToSlot), n)
	panicif.NotEq(len(me.slotToPiece), n)
	free := make(map[int]bool, len(me.freeSlots))
	for _, s := range me.freeSlots {
		free[s] = true
	}
	unallocated := make(map[int]bool, len(me.unallocatedSlots))
	for _, s := range me.unallocatedSlots {
		unallocated[s] = true
	}
	assigned := 0
	for s, p := range me.slotToPiece {
		switch {
		case p >= 0:
			panicif.True(free[s] || unallocated[s])
			panicif.NotEq(me.pieceToSlot[p], s)
			assigned++
		case p == slotFree:
			panicif.False(free[s])
			panicif.True(unallocated[s])
		case p == slotUnallocated:
			panicif.False(unallocated[s])
			panicif.True(free[s])
		default:
			panic(p)
		}
	}
	panicif.NotEq(len(me.freeSlots)+len(me.unallocatedSlots)+assigned, n)
	expected := me.info.TotalLength()
	it := me.have.Iterator()
	for it.HasNext() {
		expected -= me.info.Piece(int(it.Next())).Length()
	}
	panicif.NotEq(me.bytesLeft, expected)
}
