// Package chainfs holds the types shared by the block device and the file
// system layered on top of it.
//
// The file system is a flat namespace of named files. Each file is stored
// as a singly-linked chain of fixed-size blocks; the superblock and file
// table live in reserved block ranges at the start of the device.
//
// Nothing here is safe for concurrent use. A mounted file system is owned by
// a single goroutine and every operation runs to completion before the next
// one starts. Adding concurrent access would need per-file or per-block
// locking, which this module does not provide.
package chainfs // import "github.com/keks/chainfs"

import (
	"io"
)

// Basic Types

// ReadWriterAt is both a ReaderAt and a WriterAt.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// Block Layer

// BlockID identifies blocks.
type BlockID uint32

const (
	// BlockFree marks a data block that is not part of any chain.
	// Block 0 holds the superblock, so it never names a data block.
	BlockFree BlockID = 0

	// BlockTerminal marks the last block of a chain.
	BlockTerminal BlockID = 0xFFFFFFFF
)

// BlockHeaderSize is the size of the next pointer at the start of every
// data block.
const BlockHeaderSize = 4

// Device is a fixed-geometry block device with a single active session.
type Device interface {
	Format() error
	Open() error
	Close() error

	// ReadBlock and WriteBlock transfer len(buf) bytes at the start of the
	// block.
	ReadBlock(id BlockID, buf []byte) error
	WriteBlock(id BlockID, buf []byte) error

	BlockSize() int
	BlockCount() uint32
}

// Directory Layer

type FileName = string

// FileInfo describes a file entry.
type FileInfo struct {
	Name      FileName
	Size      int64
	Head      BlockID
	OpenCount int
}

type Directory interface {
	Create(name FileName) error
	Delete(name FileName) error
	Stat(name FileName) (FileInfo, error)
	List() []FileInfo
}

// File Layer

// File is an open file with its own cursor, usually backed by a block chain.
type File interface {
	Name() FileName
	Size() int64
	Truncate(length int64) error

	io.ReadWriteSeeker
	io.Closer
}
