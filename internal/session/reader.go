package session

import (
	"io"
	"os"

	"golang.org/x/exp/mmap"
)

type readerAt interface {
	io.ReaderAt
	io.Closer
}

// openReaderAt maps path read-only, falling back to a plain file handle when
// mapping fails (exotic filesystems, exhausted address space). Both paths
// serve identical bytes.
func openReaderAt(path string) (readerAt, int64, error) {
	if r, err := mmap.Open(path); err == nil {
		return r, int64(r.Len()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}
