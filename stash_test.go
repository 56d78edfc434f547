package stash

import (
	"fmt"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"

	"github.com/anacrolix/stash/metainfo"
)

func randomBytes(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

// buildInfo hashes content laid out naturally to produce the expected piece
// hashes. A single file length produces a single-file info.
func buildInfo(name string, pieceLength int64, fileLengths []int64, content []byte) *metainfo.Info {
	info := &metainfo.Info{
		Name:        name,
		PieceLength: pieceLength,
	}
	if len(fileLengths) == 1 {
		info.Length = fileLengths[0]
	} else {
		for i, l := range fileLengths {
			info.Files = append(info.Files, metainfo.FileInfo{
				Length: l,
				Path:   []string{fmt.Sprintf("file%d", i)},
			})
		}
	}
	for off := int64(0); off < int64(len(content)); off += pieceLength {
		end := min(off+pieceLength, int64(len(content)))
		info.Pieces = append(info.Pieces, metainfo.HashBytes(content[off:end]).Bytes()...)
	}
	return info
}

func pieceBytes(info *metainfo.Info, content []byte, i int) []byte {
	off := info.Piece(i).Offset()
	return content[off : off+info.Piece(i).Length()]
}

func writePayload(t *testing.T, info *metainfo.Info, dir string, b []byte) {
	view := newFileView(info, dir, classicFileIo{})
	n, err := view.WriteAt(b, 0)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
}

func newTestManager(t *testing.T, info *metainfo.Info, dir string) *PieceManager {
	return NewPieceManager(NewPieceManagerOpts{
		Info:     info,
		SavePath: dir,
		Logger:   slog.New(slog.DiscardHandler),
	})
}

func (me *PieceManager) dumpState() string {
	me.mu.Lock()
	defer me.mu.Unlock()
	return spew.Sdump(map[string]any{
		"pieceToSlot":      me.pieceToSlot,
		"slotToPiece":      me.slotToPiece,
		"freeSlots":        me.freeSlots,
		"unallocatedSlots": me.unallocatedSlots,
	})
}
