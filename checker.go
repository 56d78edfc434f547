package stash

import (
	"io"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/anacrolix/sync"
)

// CheckerData is shared between the resume check and its caller. The caller
// may read Progress and set Abort while holding the mutex.
type CheckerData struct {
	sync.Mutex
	// Fraction of slots scanned so far, in [0, 1].
	Progress float32
	// Cooperative cancel, polled during the scan.
	Abort bool
}

// CheckPieces scans the on-disk payload once, left to right in virtual
// address space, classifying each slot as holding a piece, free, or
// unallocated. Returns the bitmap of pieces verified present. The mapping
// tables are reset at entry. An aborted check returns early with the slots
// processed so far classified; the remaining slots are in neither slot pool.
func (me *PieceManager) CheckPieces(data *CheckerData) (_ *roaring.Bitmap, err error) {
	me.mu.Lock()
	defer me.mu.Unlock()

	numPieces := me.info.NumPieces()
	me.pieceToSlot = newSlotVector(numPieces, slotUnallocated)
	me.slotToPiece = newSlotVector(numPieces, slotUnallocated)
	me.freeSlots = nil
	me.unallocatedSlots = nil
	have := roaring.New()
	me.have = have
	me.bytesLeft = me.info.TotalLength()

	pieceLength := me.info.PieceLength
	lastPieceLength := me.info.Piece(numPieces - 1).Length()

	pieceData := make([]byte, pieceLength)
	var pieceOffset int64

	currentSlot := 0
	bytesToRead := me.info.Piece(0).Length()
	var bytesCurrentRead int64
	var seekIntoNext int64
	var filesize int64
	var startOfRead int64
	var startOfFile int64

	data.Lock()
	data.Progress = 0
	data.Unlock()

	changedFile := true
	var in fileReader
	var fileOffset int64
	defer func() {
		if in != nil {
			in.Close()
		}
	}()

	files := me.store.view.files
	fileIndex := 0
	for fileIndex < len(files) {
		fi := files[fileIndex]

		data.Lock()
		data.Progress = float32(currentSlot) / float32(numPieces)
		abort := data.Abort
		data.Unlock()
		if abort {
			return have, nil
		}

		panicif.GreaterThan(currentSlot, numPieces)
		if currentSlot == numPieces {
			break
		}

		if changedFile {
			if in != nil {
				in.Close()
				in = nil
			}
			path := me.store.view.filePath(fi)
			// If the path doesn't exist, create the entire directory tree.
			err = os.MkdirAll(filepath.Dir(path), 0o777)
			if err != nil {
				return
			}
			changedFile = false
			bytesCurrentRead = seekIntoNext
			in, err = me.store.view.io.openForRead(path)
			if err != nil {
				if !os.IsNotExist(err) {
					return
				}
				in = nil
				err = nil
			}
			if in == nil {
				filesize = 0
			} else {
				var st os.FileInfo
				st, err = os.Stat(path)
				if err != nil {
					return
				}
				filesize = st.Size()
				fileOffset = seekIntoNext
			}
		}

		// At the start of a new piece, remember where it begins.
		if bytesToRead == me.info.Piece(currentSlot).Length() {
			startOfRead = int64(currentSlot) * pieceLength
		}

		var bytesRead int64
		if filesize > 0 {
			var n int
			n, err = in.ReadAt(pieceData[pieceOffset:pieceOffset+bytesToRead], fileOffset)
			if err != nil && err != io.EOF {
				return
			}
			err = nil
			bytesRead = int64(n)
			fileOffset += bytesRead
		}

		bytesCurrentRead += bytesRead
		bytesToRead -= bytesRead
		panicif.True(bytesToRead < 0)

		// Bytes left to read; go on with the next file.
		if bytesToRead > 0 {
			if bytesCurrentRead != fi.Length {
				// The file ends short of its declared size. The slot being
				// assembled and every later slot that starts before the
				// file's declared end are classified unallocated.
				fileEnd := startOfFile + fi.Length
				pos := startOfRead
				for ; pos < fileEnd; pos += pieceLength {
					me.unallocatedSlots = append(me.unallocatedSlots, currentSlot)
					currentSlot++
					panicif.GreaterThan(currentSlot, numPieces)
				}
				seekIntoNext = pos - fileEnd
				if currentSlot < numPieces {
					bytesToRead = me.info.Piece(currentSlot).Length()
				}
				pieceOffset = 0
			} else {
				seekIntoNext = 0
				pieceOffset += bytesRead
			}
			changedFile = true
			startOfFile += fi.Length
			fileIndex++
			continue
		}

		// A full slot's worth of bytes is assembled. The last piece might be
		// smaller than the rest, so two candidate digests are needed.
		largeDigest := newLazyHash(pieceData, pieceLength)
		smallDigest := newLazyHash(pieceData, lastPieceLength)

		foundPiece := -1
		// The current slot's own piece is retried even when it was already
		// found elsewhere; the scan prefers the later slot.
		for j := 0; j < numPieces; j++ {
			i := currentSlot + j
			if i >= numPieces {
				i -= numPieces
			}
			if have.Contains(uint32(i)) && i != currentSlot {
				continue
			}
			digest := largeDigest
			if i == numPieces-1 {
				digest = smallDigest
			}
			if digest.get() == me.info.Piece(i).Hash() {
				foundPiece = i
				break
			}
		}

		if foundPiece != -1 {
			if have.Contains(uint32(foundPiece)) {
				// Already found at an earlier slot; release that one.
				old := me.pieceToSlot[foundPiece]
				panicif.True(old < 0)
				me.slotToPiece[old] = slotFree
				me.freeSlots = append(me.freeSlots, old)
			} else {
				me.bytesLeft -= me.info.Piece(foundPiece).Length()
			}
			me.pieceToSlot[foundPiece] = currentSlot
			me.slotToPiece[currentSlot] = foundPiece
			have.Add(uint32(foundPiece))
		} else {
			me.slotToPiece[currentSlot] = slotFree
			me.freeSlots = append(me.freeSlots, currentSlot)
		}

		// Done with this slot, move on to the next.
		pieceOffset = 0
		currentSlot++
		if currentSlot < numPieces {
			bytesToRead = me.info.Piece(currentSlot).Length()
		}
	}

	data.Lock()
	data.Progress = float32(currentSlot) / float32(numPieces)
	data.Unlock()

	me.logger.Debug("resume check complete",
		"have", have.GetCardinality(),
		"free", len(me.freeSlots),
		"unallocated", len(me.unallocatedSlots),
		"bytesLeft", me.bytesLeft)

	me.checkInvariant()
	return have, nil
}
