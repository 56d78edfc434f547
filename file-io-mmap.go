package stash

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/edsrzf/mmap-go"
)

// File IO that maps payload files into memory and keeps the mappings cached
// per path.
type mmapFileIo struct {
	mu    sync.Mutex
	paths map[string]*fileMmap
}

var _ fileIo = (*mmapFileIo)(nil)

type fileMmap struct {
	m        mmap.MMap
	writable bool
	refs     atomic.Int32
}

func (me *fileMmap) inc() {
	panicif.LessThanOrEqual(me.refs.Add(1), 0)
}

func (me *fileMmap) dec() error {
	if me.refs.Add(-1) == 0 {
		return me.m.Unmap()
	}
	return nil
}

func (me *mmapFileIo) openForRead(name string) (fileReader, error) {
	me.mu.Lock()
	defer me.mu.Unlock()
	v, ok := me.paths[name]
	if ok {
		return newMmapHandle(v), nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		// Can't map empty files; there's nothing to read anyway.
		return emptyFileReader{}, nil
	}
	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mapping file: %w", err)
	}
	return newMmapHandle(me.addNewMmap(name, mm, false)), nil
}

func (me *mmapFileIo) openForWrite(name string, size int64) (fileWriter, error) {
	me.mu.Lock()
	defer me.mu.Unlock()
	v, ok := me.paths[name]
	if ok {
		if int64(len(v.m)) == size && v.writable {
			return newMmapHandle(v), nil
		}
		v.dec()
		g.MustDelete(me.paths, name)
	}
	err := os.MkdirAll(filepath.Dir(name), 0o777)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	// Extends the file to its declared length; never shrinks valid data.
	err = f.Truncate(size)
	if err != nil {
		return nil, fmt.Errorf("error truncating file: %w", err)
	}
	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		return nil, err
	}
	// This can happen due to filesystem changes outside our control. Don't be
	// naive.
	if int64(len(mm)) != size {
		err = fmt.Errorf("new mmap has wrong size %v, expected %v", len(mm), size)
		mm.Unmap()
		return nil, err
	}
	return newMmapHandle(me.addNewMmap(name, mm, true)), nil
}

func (me *mmapFileIo) addNewMmap(name string, mm mmap.MMap, writable bool) *fileMmap {
	v := &fileMmap{
		m:        mm,
		writable: writable,
	}
	// One for the store, one for the caller.
	v.refs.Store(1)
	g.MakeMapIfNil(&me.paths)
	g.MapMustAssignNew(me.paths, name, v)
	return v
}

func newMmapHandle(f *fileMmap) *mmapHandle {
	ret := &mmapHandle{f: f}
	ret.f.inc()
	return ret
}

type mmapHandle struct {
	f     *fileMmap
	close sync.Once
}

func (me *mmapHandle) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 || off >= int64(len(me.f.m)) {
		return 0, io.EOF
	}
	n = copy(p, me.f.m[off:])
	if n < len(p) {
		err = io.EOF
	}
	return
}

func (me *mmapHandle) WriteAt(p []byte, off int64) (n int, err error) {
	if off < 0 || off > int64(len(me.f.m)) {
		return 0, io.ErrShortWrite
	}
	n = copy(me.f.m[off:], p)
	if n < len(p) {
		err = io.ErrShortWrite
	}
	return
}

func (me *mmapHandle) Close() (err error) {
	me.close.Do(func() {
		err = me.f.dec()
	})
	return
}

type emptyFileReader struct{}

func (emptyFileReader) ReadAt(p []byte, off int64) (int, error) {
	return 0, io.EOF
}

func (emptyFileReader) Close() error {
	return nil
}
