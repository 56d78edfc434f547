package stash

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/anacrolix/stash/metainfo"
	"github.com/anacrolix/stash/segments"
)

// fileView exposes the ordered file list as one contiguous byte-addressable
// space. Files are opened lazily per operation; requests that span file
// boundaries are split over the underlying files.
type fileView struct {
	info     *metainfo.Info
	files    []metainfo.FileInfo
	segments segments.Index
	savePath string
	io       fileIo
}

func newFileView(info *metainfo.Info, savePath string, fio fileIo) *fileView {
	return &fileView{
		info:     info,
		files:    info.UpvertedFiles(),
		segments: info.FileSegmentsIndex(),
		savePath: savePath,
		io:       fio,
	}
}

func (me *fileView) filePath(fi metainfo.FileInfo) string {
	return filepath.Join(append([]string{me.savePath, me.info.Name}, fi.Path...)...)
}

// Returns EOF on short or missing file.
func (me *fileView) readFileAt(fi metainfo.FileInfo, b []byte, off int64) (n int, err error) {
	f, err := me.io.openForRead(me.filePath(fi))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, io.EOF
		}
		return
	}
	defer f.Close()
	// Limit the read to within the expected bounds of this file.
	if int64(len(b)) > fi.Length-off {
		b = b[:fi.Length-off]
	}
	return f.ReadAt(b, off)
}

// ReadAt fills b from the virtual address space. A missing or truncated file
// ends the read early: the actual byte count is returned and the remainder of
// b is left untouched. Only returns EOF at the end of the address space;
// premature EOF is ErrUnexpectedEOF.
func (me *fileView) ReadAt(b []byte, off int64) (n int, err error) {
	for i, e := range me.segments.LocateIter(segments.Extent{Start: off, Length: int64(len(b[n:]))}) {
		n1, err1 := me.readFileAt(me.files[i], b[n:n+int(e.Length)], e.Start)
		n += n1
		if err1 != nil && err1 != io.EOF {
			return n, err1
		}
		if int64(n1) < e.Length {
			// Lies.
			return n, io.ErrUnexpectedEOF
		}
	}
	if n < len(b) {
		err = io.EOF
	}
	return
}

// WriteAt writes b into the virtual address space, creating files and parent
// directories as needed. Existing file data outside the written range is
// preserved.
func (me *fileView) WriteAt(b []byte, off int64) (n int, err error) {
	for i, e := range me.segments.LocateIter(segments.Extent{Start: off, Length: int64(len(b[n:]))}) {
		fi := me.files[i]
		var f fileWriter
		f, err = me.io.openForWrite(me.filePath(fi), fi.Length)
		if err != nil {
			return
		}
		var n1 int
		n1, err = f.WriteAt(b[n:n+int(e.Length)], e.Start)
		n += n1
		if err == nil && int64(n1) < e.Length {
			err = io.ErrShortWrite
		}
		// TODO: On some systems, write errors can be delayed until the Close.
		closeErr := f.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			return
		}
	}
	if n < len(b) {
		err = io.ErrShortWrite
	}
	return
}
