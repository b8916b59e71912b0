// Package blkdev implements a fixed-geometry block device backed by a
// regular file.
//
// Only one device in the process may have an open session at a time. A
// device only moves whole-or-partial blocks starting at a block boundary; it
// knows nothing about the file system stored in it.
package blkdev

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/keks/chainfs"
)

const (
	DefaultBlockCount = 8192
	DefaultBlockSize  = 4096

	// MinBlockSize leaves room for a block header and at least one
	// file table record.
	MinBlockSize = 512
)

// Geometry is the fixed shape of a device.
type Geometry struct {
	BlockCount uint32
	BlockSize  int
}

// DefaultGeometry is 8192 blocks of 4 KiB (32 MiB).
var DefaultGeometry = Geometry{
	BlockCount: DefaultBlockCount,
	BlockSize:  DefaultBlockSize,
}

func (g Geometry) Validate() error {
	if g.BlockSize < MinBlockSize {
		return fmt.Errorf(
			"block size `%d` below minimum `%d`: %w",
			g.BlockSize,
			MinBlockSize,
			chainfs.ErrInvalidArgument,
		)
	}
	if g.BlockCount < 2 || g.BlockCount >= uint32(chainfs.BlockTerminal) {
		return fmt.Errorf(
			"block count `%d` out of range: %w",
			g.BlockCount,
			chainfs.ErrInvalidArgument,
		)
	}
	return nil
}

// Size is the size of the backing store in bytes.
func (g Geometry) Size() int64 {
	return int64(g.BlockCount) * int64(g.BlockSize)
}

// session holds the device that is currently open. At most one device in
// the process has an open session.
var session struct {
	sync.Mutex
	dev *Device
}

func acquire(dev *Device) bool {
	session.Lock()
	defer session.Unlock()
	if session.dev != nil {
		return false
	}
	session.dev = dev
	return true
}

func release(dev *Device) {
	session.Lock()
	defer session.Unlock()
	if session.dev == dev {
		session.dev = nil
	}
}

func active() bool {
	session.Lock()
	defer session.Unlock()
	return session.dev != nil
}

// Device is a file-backed block device.
type Device struct {
	path string
	geo  Geometry

	file *os.File
}

var _ chainfs.Device = (*Device)(nil)

func New(path string, geo Geometry) *Device {
	return &Device{path: path, geo: geo}
}

func (dev *Device) Path() string       { return dev.path }
func (dev *Device) Geometry() Geometry { return dev.geo }
func (dev *Device) BlockSize() int     { return dev.geo.BlockSize }
func (dev *Device) BlockCount() uint32 { return dev.geo.BlockCount }

// Format creates or truncates the backing file of dev and zero-fills it.
func (dev *Device) Format() error {
	if active() {
		return fmt.Errorf(
			"formatting `%s` while a device is open: %w",
			dev.path,
			chainfs.ErrAlreadyOpen,
		)
	}
	return Format(dev.path, dev.geo)
}

// Format creates or truncates the file at path and zero-fills it to hold the
// blocks of geo.
func Format(path string, geo Geometry) error {
	if err := geo.Validate(); err != nil {
		return fmt.Errorf("formatting `%s`: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("formatting `%s`: %w: %w", path, chainfs.ErrIO, err)
	}

	// the file is empty after O_TRUNC, so growing it reads back as zeros
	if err := f.Truncate(geo.Size()); err != nil {
		f.Close()
		return fmt.Errorf("formatting `%s`: %w: %w", path, chainfs.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("formatting `%s`: %w: %w", path, chainfs.ErrIO, err)
	}
	return nil
}

// Open starts the session. Only one session per backing path may be open at
// a time.
func (dev *Device) Open() error {
	if err := dev.geo.Validate(); err != nil {
		return fmt.Errorf("opening `%s`: %w", dev.path, err)
	}

	if !acquire(dev) {
		return fmt.Errorf("opening `%s`: %w", dev.path, chainfs.ErrAlreadyOpen)
	}

	f, err := os.OpenFile(dev.path, os.O_RDWR, 0)
	if err != nil {
		release(dev)
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("opening `%s`: %w", dev.path, chainfs.ErrNotFound)
		}
		return fmt.Errorf("opening `%s`: %w: %w", dev.path, chainfs.ErrIO, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		release(dev)
		return fmt.Errorf("opening `%s`: %w: %w", dev.path, chainfs.ErrIO, err)
	}
	if info.Size() != dev.geo.Size() {
		f.Close()
		release(dev)
		return fmt.Errorf(
			"opening `%s`: backing file has `%d` bytes, geometry needs `%d`: %w",
			dev.path,
			info.Size(),
			dev.geo.Size(),
			chainfs.ErrIO,
		)
	}

	dev.file = f
	return nil
}

// Close ends the session.
func (dev *Device) Close() error {
	if dev.file == nil {
		return fmt.Errorf("closing `%s`: %w", dev.path, chainfs.ErrNotMounted)
	}

	err := dev.file.Close()
	dev.file = nil
	release(dev)
	if err != nil {
		return fmt.Errorf("closing `%s`: %w: %w", dev.path, chainfs.ErrIO, err)
	}
	return nil
}

func (dev *Device) check(id chainfs.BlockID, n int) error {
	if dev.file == nil {
		return chainfs.ErrNotMounted
	}
	if uint32(id) >= dev.geo.BlockCount {
		return fmt.Errorf("block `%d`: %w", id, chainfs.ErrOutOfRange)
	}
	if n > dev.geo.BlockSize {
		return fmt.Errorf(
			"transfer of `%d` bytes exceeds block size `%d`: %w",
			n,
			dev.geo.BlockSize,
			chainfs.ErrOutOfRange,
		)
	}
	return nil
}

func (dev *Device) block(id chainfs.BlockID) block {
	return block{id: id, size: dev.geo.BlockSize, lower: dev.file}
}

// ReadBlock reads len(buf) bytes from the start of block id.
func (dev *Device) ReadBlock(id chainfs.BlockID, buf []byte) error {
	if err := dev.check(id, len(buf)); err != nil {
		return fmt.Errorf("reading block: %w", err)
	}

	n, err := dev.block(id).ReadAt(buf, 0)
	if err == io.EOF && n == len(buf) {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("reading block `%d`: %w: %w", id, chainfs.ErrIO, err)
	}
	if n != len(buf) {
		return fmt.Errorf(
			"reading block `%d`: short read of `%d` bytes: %w",
			id,
			n,
			chainfs.ErrIO,
		)
	}
	return nil
}

// WriteBlock writes buf to the start of block id.
func (dev *Device) WriteBlock(id chainfs.BlockID, buf []byte) error {
	if err := dev.check(id, len(buf)); err != nil {
		return fmt.Errorf("writing block: %w", err)
	}

	n, err := dev.block(id).WriteAt(buf, 0)
	if err != nil {
		return fmt.Errorf("writing block `%d`: %w: %w", id, chainfs.ErrIO, err)
	}
	if n != len(buf) {
		return fmt.Errorf(
			"writing block `%d`: short write of `%d` bytes: %w",
			id,
			n,
			chainfs.ErrIO,
		)
	}
	return nil
}
