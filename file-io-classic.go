package stash

import (
	"os"
	"path/filepath"
)

type classicFileIo struct{}

var _ fileIo = classicFileIo{}

func (classicFileIo) openForRead(name string) (fileReader, error) {
	return os.Open(name)
}

func (classicFileIo) openForWrite(name string, size int64) (fileWriter, error) {
	err := os.MkdirAll(filepath.Dir(name), 0o777)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o666)
}
