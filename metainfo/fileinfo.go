package metainfo

import (
	"strings"
)

// Information specific to a single file inside the info dictionary.
type FileInfo struct {
	Length int64    `bencode:"length"` // BEP3
	Path   []string `bencode:"path"`   // BEP3

	// Offset of this file within the concatenated torrent data. Set by
	// UpvertedFiles, not encoded.
	TorrentOffset int64 `bencode:"-"`
}

func (fi *FileInfo) DisplayPath(info *Info) string {
	if info.IsDir() {
		return strings.Join(fi.Path, "/")
	}
	return info.Name
}
