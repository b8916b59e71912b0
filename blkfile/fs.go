// Package blkfile implements a flat file system on a chainfs.Device.
//
// Block 0 holds the superblock, the blocks after it hold the file table and
// the rest of the device is the data region. A file is a chain of data
// blocks linked through the next pointer at the start of each block.
//
// The superblock and file table are loaded at Mount and written back at
// Unmount; data blocks are written through as files change. Nothing orders
// those writes against each other, so a crash between them can leave the
// table and the chains out of step.
package blkfile

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/keks/chainfs"
	"github.com/sirupsen/logrus"
)

// DefaultTableBlocks holds 7500 file entries with 4 KiB blocks.
const DefaultTableBlocks = 500

// Options tune Format and Mount. Zero values select the defaults.
type Options struct {
	// TableBlocks is the size of the file table region. Only used by Format.
	TableBlocks uint32

	MaxOpenFiles int

	Logger logrus.FieldLogger
}

func (opts Options) withDefaults() Options {
	if opts.TableBlocks == 0 {
		opts.TableBlocks = DefaultTableBlocks
	}
	if opts.MaxOpenFiles == 0 {
		opts.MaxOpenFiles = DefaultMaxOpenFiles
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return opts
}

// FS is a mounted file system session. It owns the device session, the file
// table and the handle table.
type FS struct {
	dev    chainfs.Device
	log    logrus.FieldLogger
	blocks *Blocks

	sb      superblock
	files   fileTable
	handles handleTable

	mounted bool
}

var _ chainfs.Directory = (*FS)(nil)

// Format zero-fills dev and writes an empty file system to it.
func Format(dev chainfs.Device, opts Options) error {
	opts = opts.withDefaults()

	if uint64(opts.TableBlocks)+2 > uint64(dev.BlockCount()) {
		return fmt.Errorf(
			"formatting: `%d` table blocks leave no data region in `%d` blocks: %w",
			opts.TableBlocks,
			dev.BlockCount(),
			chainfs.ErrInvalidArgument,
		)
	}
	if recordsPerBlock(dev.BlockSize()) == 0 {
		return fmt.Errorf(
			"formatting: block size `%d` cannot hold a file entry: %w",
			dev.BlockSize(),
			chainfs.ErrInvalidArgument,
		)
	}

	if err := dev.Format(); err != nil {
		return err
	}
	if err := dev.Open(); err != nil {
		return err
	}

	sb := newSuperblock(dev, opts.TableBlocks)
	if err := writeSuperblock(dev, &sb); err != nil {
		dev.Close()
		return err
	}
	if err := dev.Close(); err != nil {
		return err
	}

	opts.Logger.WithFields(logrus.Fields{
		"volume":     sb.VolumeID,
		"blocks":     sb.BlockCount,
		"block_size": sb.BlockSize,
		"max_files":  sb.capacity(),
	}).Info("formatted file system")
	return nil
}

// Mount opens dev and loads its superblock and file table.
func Mount(dev chainfs.Device, opts Options) (*FS, error) {
	opts = opts.withDefaults()
	if opts.MaxOpenFiles < 0 {
		return nil, fmt.Errorf(
			"mounting: max open files `%d`: %w",
			opts.MaxOpenFiles,
			chainfs.ErrInvalidArgument,
		)
	}

	if err := dev.Open(); err != nil {
		if errors.Is(err, chainfs.ErrAlreadyOpen) {
			return nil, fmt.Errorf("mounting: %w: %w", chainfs.ErrAlreadyMounted, err)
		}
		return nil, fmt.Errorf("mounting: %w: %w", chainfs.ErrIO, err)
	}

	fs := &FS{
		dev:     dev,
		log:     opts.Logger,
		handles: newHandleTable(opts.MaxOpenFiles),
	}
	if err := fs.load(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("mounting: %w", err)
	}
	fs.mounted = true

	fs.log.WithFields(logrus.Fields{
		"volume": fs.sb.VolumeID,
		"files":  fs.sb.FileCount,
	}).Info("mounted file system")
	return fs, nil
}

func (fs *FS) load() error {
	if err := readSuperblock(fs.dev, &fs.sb); err != nil {
		return err
	}
	if err := fs.sb.validate(fs.dev); err != nil {
		return fmt.Errorf("bad superblock: %w", err)
	}

	fs.blocks = newBlocks(fs.dev, &fs.sb)
	fs.files = newFileTable(fs.sb.capacity())
	return readTable(fs.dev, &fs.sb, &fs.files)
}

// Unmount invalidates every handle, writes the superblock and file table
// back and closes the device. If writing fails the session stays mounted.
func (fs *FS) Unmount() error {
	if !fs.mounted {
		return fmt.Errorf("unmounting: %w", chainfs.ErrNotMounted)
	}

	fs.handles = newHandleTable(fs.handles.capacity())
	fs.files.slots.each(func(_ int, e *fileEntry) { e.openCount = 0 })

	fs.sb.FileCount = uint32(fs.files.count())
	if err := writeSuperblock(fs.dev, &fs.sb); err != nil {
		return err
	}
	if err := writeTable(fs.dev, &fs.sb, &fs.files); err != nil {
		return err
	}
	if err := fs.dev.Close(); err != nil {
		return err
	}
	fs.mounted = false

	fs.log.WithFields(logrus.Fields{
		"volume": fs.sb.VolumeID,
		"files":  fs.sb.FileCount,
	}).Info("unmounted file system")
	return nil
}

func (fs *FS) checkMounted() error {
	if !fs.mounted {
		return chainfs.ErrNotMounted
	}
	return nil
}

// Create adds an empty file.
func (fs *FS) Create(name chainfs.FileName) error {
	if err := fs.checkMounted(); err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	if err := validName(name); err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	if _, _, exists := fs.files.lookup(name); exists {
		return fmt.Errorf("creating file `%s`: %w", name, chainfs.ErrExists)
	}

	if _, _, ok := fs.files.insert(name); !ok {
		return fmt.Errorf(
			"creating file `%s`: `%d` files: %w",
			name,
			fs.files.capacity(),
			chainfs.ErrCapacity,
		)
	}
	fs.sb.FileCount++

	fs.log.WithField("file", name).Debug("created file")
	return nil
}

// Delete frees the chain of a file that has no open handles and removes its
// entry.
func (fs *FS) Delete(name chainfs.FileName) error {
	if err := fs.checkMounted(); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	if err := validName(name); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}

	i, e, ok := fs.files.lookup(name)
	if !ok {
		return fmt.Errorf("deleting file `%s`: %w", name, chainfs.ErrNotFound)
	}
	if e.openCount > 0 {
		return fmt.Errorf(
			"deleting file `%s` with `%d` open handles: %w",
			name,
			e.openCount,
			chainfs.ErrFileInUse,
		)
	}

	var chain []chainfs.BlockID
	if e.head != chainfs.BlockFree {
		var err error
		if chain, err = fs.blocks.Chain(e.head); err != nil {
			return fmt.Errorf("deleting file `%s`: %w", name, err)
		}
	}

	// no entry may point at a block once it is free
	fs.files.remove(i)
	fs.sb.FileCount--
	if err := fs.blocks.release(chain); err != nil {
		return fmt.Errorf("deleting file `%s`: %w", name, err)
	}

	fs.log.WithField("file", name).Debug("deleted file")
	return nil
}

// Rename changes the name of a file. Open handles keep referring to it.
func (fs *FS) Rename(from, to chainfs.FileName) error {
	if err := fs.checkMounted(); err != nil {
		return fmt.Errorf("renaming file: %w", err)
	}
	if err := validName(from); err != nil {
		return fmt.Errorf("renaming file: %w", err)
	}
	if err := validName(to); err != nil {
		return fmt.Errorf("renaming file: %w", err)
	}

	i, _, ok := fs.files.lookup(from)
	if !ok {
		return fmt.Errorf("renaming file `%s`: %w", from, chainfs.ErrNotFound)
	}
	if from == to {
		return nil
	}
	if _, _, exists := fs.files.lookup(to); exists {
		return fmt.Errorf("renaming file to `%s`: %w", to, chainfs.ErrExists)
	}
	fs.files.rename(i, to)

	fs.log.WithFields(logrus.Fields{"file": from, "to": to}).Debug("renamed file")
	return nil
}

// Stat describes one file.
func (fs *FS) Stat(name chainfs.FileName) (chainfs.FileInfo, error) {
	if err := fs.checkMounted(); err != nil {
		return chainfs.FileInfo{}, fmt.Errorf("stat: %w", err)
	}
	_, e, ok := fs.files.lookup(name)
	if !ok {
		return chainfs.FileInfo{}, fmt.Errorf("stat `%s`: %w", name, chainfs.ErrNotFound)
	}
	return e.info(), nil
}

// List describes every file, sorted by name. It is empty when unmounted.
func (fs *FS) List() []chainfs.FileInfo {
	if !fs.mounted {
		return nil
	}
	return fs.files.infos()
}

// VolumeInfo summarizes a mounted file system.
type VolumeInfo struct {
	VolumeID     uuid.UUID
	BlockSize    int
	BlockCount   uint32
	TableStart   chainfs.BlockID
	DataStart    chainfs.BlockID
	Files        int
	MaxFiles     int
	FreeBlocks   int
	OpenHandles  int
	MaxOpenFiles int
}

// Info scans the data region for free blocks and reports the volume layout
// and counters.
func (fs *FS) Info() (VolumeInfo, error) {
	if err := fs.checkMounted(); err != nil {
		return VolumeInfo{}, fmt.Errorf("volume info: %w", err)
	}

	free, err := fs.blocks.CountFree()
	if err != nil {
		return VolumeInfo{}, err
	}

	return VolumeInfo{
		VolumeID:     fs.sb.VolumeID,
		BlockSize:    int(fs.sb.BlockSize),
		BlockCount:   fs.sb.BlockCount,
		TableStart:   fs.sb.TableStart,
		DataStart:    fs.sb.DataStart,
		Files:        int(fs.sb.FileCount),
		MaxFiles:     fs.files.capacity(),
		FreeBlocks:   free,
		OpenHandles:  fs.handles.count(),
		MaxOpenFiles: fs.handles.capacity(),
	}, nil
}

// Open returns a new handle on a file with its cursor at 0.
func (fs *FS) Open(name chainfs.FileName) (Handle, error) {
	if err := fs.checkMounted(); err != nil {
		return -1, fmt.Errorf("opening file: %w", err)
	}
	if err := validName(name); err != nil {
		return -1, fmt.Errorf("opening file: %w", err)
	}

	i, e, ok := fs.files.lookup(name)
	if !ok {
		return -1, fmt.Errorf("opening file `%s`: %w", name, chainfs.ErrNotFound)
	}

	h, ok := fs.handles.open(i)
	if !ok {
		return -1, fmt.Errorf(
			"opening file `%s`: `%d` handles open: %w",
			name,
			fs.handles.capacity(),
			chainfs.ErrTooManyOpenFiles,
		)
	}
	e.openCount++

	fs.log.WithFields(logrus.Fields{"file": name, "handle": h}).Debug("opened file")
	return h, nil
}

// Close releases a handle.
func (fs *FS) Close(h Handle) error {
	_, e, err := fs.handle(h)
	if err != nil {
		return fmt.Errorf("closing handle: %w", err)
	}

	e.openCount--
	fs.handles.close(h)

	fs.log.WithFields(logrus.Fields{"file": e.name, "handle": h}).Debug("closed file")
	return nil
}

// handle resolves an open handle and the entry it refers to.
func (fs *FS) handle(h Handle) (*handle, *fileEntry, error) {
	if err := fs.checkMounted(); err != nil {
		return nil, nil, err
	}

	hd, ok := fs.handles.get(h)
	if !ok {
		return nil, nil, fmt.Errorf("handle `%d`: %w", h, chainfs.ErrInvalidHandle)
	}
	e, ok := fs.files.get(hd.file)
	if !ok {
		return nil, nil, fmt.Errorf("handle `%d`: %w", h, chainfs.ErrInvalidHandle)
	}
	return hd, e, nil
}
