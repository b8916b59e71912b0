package blkfile

import (
	"io"

	"github.com/keks/chainfs"
)

// File adapts a handle to the io interfaces. Unlike FS.Read, File.Read
// reports io.EOF at the end of the file.
type File struct {
	fs *FS
	h  Handle
}

var _ chainfs.File = (*File)(nil)

// OpenFile opens name and wraps the handle in a File.
func (fs *FS) OpenFile(name chainfs.FileName) (*File, error) {
	h, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	return &File{fs: fs, h: h}, nil
}

func (f *File) Handle() Handle { return f.h }

// Name is the current name of the file, or "" once the handle is closed.
func (f *File) Name() chainfs.FileName {
	if _, e, err := f.fs.handle(f.h); err == nil {
		return e.name
	}
	return ""
}

// Size is the current size of the file, or 0 once the handle is closed.
func (f *File) Size() int64 {
	if _, e, err := f.fs.handle(f.h); err == nil {
		return int64(e.size)
	}
	return 0
}

func (f *File) Read(buf []byte) (int, error) {
	n, err := f.fs.Read(f.h, buf)
	if err == nil && n == 0 && len(buf) > 0 {
		return 0, io.EOF
	}
	return n, err
}

func (f *File) Write(data []byte) (int, error) {
	return f.fs.Write(f.h, data)
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	return f.fs.Seek(f.h, offset, whence)
}

func (f *File) Truncate(length int64) error {
	return f.fs.Truncate(f.h, length)
}

// Close releases the handle. The File is unusable afterwards, even once the
// handle number is reused by another open.
func (f *File) Close() error {
	if err := f.fs.Close(f.h); err != nil {
		return err
	}
	f.h = -1
	return nil
}
