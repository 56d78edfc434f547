package metainfo

import (
	"errors"
	"fmt"
	"io"

	"github.com/anacrolix/torrent/bencode"

	"github.com/anacrolix/stash/segments"
)

// The info dictionary, reduced to the v1 fields that matter to storage. See
// BEP 3.
type Info struct {
	PieceLength int64      `bencode:"piece length"` // BEP3
	Pieces      []byte     `bencode:"pieces"`       // BEP3, concatenated 20-byte hashes
	Name        string     `bencode:"name"`         // BEP3
	Length      int64      `bencode:"length,omitempty"`
	Files       []FileInfo `bencode:"files,omitempty"` // BEP3, mutually exclusive with Length
}

// Load parses a bencoded info dictionary from r.
func Load(r io.Reader) (*Info, error) {
	var info Info
	d := bencode.NewDecoder(r)
	err := d.Decode(&info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Unmarshal parses a bencoded info dictionary from b.
func Unmarshal(b []byte, info *Info) error {
	return bencode.Unmarshal(b, info)
}

func (info *Info) TotalLength() (ret int64) {
	for _, fi := range info.UpvertedFiles() {
		ret += fi.Length
	}
	return
}

func (info *Info) NumPieces() int {
	return len(info.Pieces) / HashSize
}

// Whether the torrent maps to a directory of files rather than a single file.
func (info *Info) IsDir() bool {
	return len(info.Files) != 0
}

// The files field, converted up from the old single-file form if necessary.
// This is a helper to avoid having to conditionally handle single and
// multi-file infos. TorrentOffset is filled in on the returned values.
func (info *Info) UpvertedFiles() (files []FileInfo) {
	if len(info.Files) == 0 {
		return []FileInfo{{
			Length: info.Length,
			// Callers should determine that Info.Name is the basename, and
			// thus a regular file.
			Path: nil,
		}}
	}
	var offset int64
	for _, fi := range info.Files {
		fi.TorrentOffset = offset
		offset += fi.Length
		files = append(files, fi)
	}
	return
}

func (info *Info) Piece(index int) Piece {
	return Piece{info, index}
}

// An index over the file extents in concatenation order.
func (info *Info) FileSegmentsIndex() segments.Index {
	var exts []segments.Extent
	for _, fi := range info.UpvertedFiles() {
		exts = append(exts, segments.Extent{Start: fi.TorrentOffset, Length: fi.Length})
	}
	return segments.NewIndexFromSegments(exts)
}

// Cheap consistency checks on the fields storage depends on.
func (info *Info) Validate() error {
	if info.PieceLength <= 0 {
		return errors.New("piece length must be positive")
	}
	if len(info.Pieces)%HashSize != 0 {
		return errors.New("pieces has invalid length")
	}
	for i, fi := range info.UpvertedFiles() {
		if fi.Length <= 0 {
			return fmt.Errorf("file %v has non-positive length", i)
		}
	}
	total := info.TotalLength()
	expected := (total + info.PieceLength - 1) / info.PieceLength
	if int64(info.NumPieces()) != expected {
		return fmt.Errorf("piece count %v does not match total length %v", info.NumPieces(), total)
	}
	return nil
}
