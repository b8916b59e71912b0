package blkfile

import (
	"fmt"
	"io"
	"math"

	"github.com/keks/chainfs"
	"github.com/sirupsen/logrus"
)

// MaxFileSize is the largest size a file entry can record.
const MaxFileSize = math.MaxUint32

// Read copies up to len(buf) bytes from the cursor and advances it. At or
// past the end of the file it returns 0 and no error.
func (fs *FS) Read(h Handle, buf []byte) (int, error) {
	hd, e, err := fs.handle(h)
	if err != nil {
		return 0, fmt.Errorf("reading: %w", err)
	}

	size := int64(e.size)
	if hd.cursor >= size || len(buf) == 0 {
		return 0, nil
	}
	n := len(buf)
	if rem := size - hd.cursor; int64(n) > rem {
		n = int(rem)
	}

	payload := fs.blocks.Payload()
	id, err := fs.blocks.Walk(e.head, int(hd.cursor/int64(payload)))
	if err != nil {
		return 0, err
	}
	off := int(hd.cursor % int64(payload))

	raw := make([]byte, fs.dev.BlockSize())
	var done int
	for {
		chunk := min(payload-off, n-done)
		blk := raw[:chainfs.BlockHeaderSize+off+chunk]
		if err := fs.dev.ReadBlock(id, blk); err != nil {
			hd.cursor += int64(done)
			return done, err
		}
		copy(buf[done:done+chunk], blk[chainfs.BlockHeaderSize+off:])
		done += chunk

		if done == n {
			break
		}
		if id, err = fs.blocks.follow(id, decodeNext(blk)); err != nil {
			hd.cursor += int64(done)
			return done, err
		}
		off = 0
	}
	hd.cursor += int64(n)

	fs.log.WithFields(logrus.Fields{
		"file":   e.name,
		"handle": h,
		"n":      n,
		"cursor": hd.cursor,
	}).Debug("read")
	return n, nil
}

// Write stores data at the cursor, growing the file when it runs past the
// end, and advances the cursor. If the device runs out of blocks the file is
// left exactly as it was.
func (fs *FS) Write(h Handle, data []byte) (int, error) {
	hd, e, err := fs.handle(h)
	if err != nil {
		return 0, fmt.Errorf("writing: %w", err)
	}
	if len(data) == 0 {
		return 0, nil
	}

	end := hd.cursor + int64(len(data))
	if end > MaxFileSize {
		return 0, fmt.Errorf(
			"writing `%s`: size `%d` exceeds `%d`: %w",
			e.name,
			end,
			int64(MaxFileSize),
			chainfs.ErrInvalidArgument,
		)
	}
	if end > int64(e.size) {
		if err := fs.grow(e, end); err != nil {
			return 0, fmt.Errorf("writing `%s`: %w", e.name, err)
		}
	}

	payload := fs.blocks.Payload()
	id, err := fs.blocks.Walk(e.head, int(hd.cursor/int64(payload)))
	if err != nil {
		return 0, err
	}
	off := int(hd.cursor % int64(payload))

	raw := make([]byte, fs.dev.BlockSize())
	var done int
	for {
		chunk := min(payload-off, len(data)-done)
		keep := chainfs.BlockHeaderSize + off
		blk := raw[:keep+chunk]

		// the next pointer and the bytes in front of off are written back
		// unchanged
		if err := fs.dev.ReadBlock(id, blk[:keep]); err != nil {
			hd.cursor += int64(done)
			return done, err
		}
		copy(blk[keep:], data[done:done+chunk])
		if err := fs.dev.WriteBlock(id, blk); err != nil {
			hd.cursor += int64(done)
			return done, err
		}
		done += chunk

		if done == len(data) {
			break
		}
		if id, err = fs.blocks.follow(id, decodeNext(blk)); err != nil {
			hd.cursor += int64(done)
			return done, err
		}
		off = 0
	}
	hd.cursor = end

	fs.log.WithFields(logrus.Fields{
		"file":   e.name,
		"handle": h,
		"n":      done,
		"size":   e.size,
	}).Debug("wrote")
	return done, nil
}

// Seek moves the cursor relative to the start (io.SeekStart), the cursor
// (io.SeekCurrent) or the end (io.SeekEnd) of the file. The result must lie
// in [0, size]; seeking to size allows appending.
func (fs *FS) Seek(h Handle, offset int64, whence int) (int64, error) {
	hd, e, err := fs.handle(h)
	if err != nil {
		return 0, fmt.Errorf("seeking: %w", err)
	}

	var ref int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		ref = hd.cursor
	case io.SeekEnd:
		ref = int64(e.size)
	default:
		return 0, fmt.Errorf("seeking: whence `%d`: %w", whence, chainfs.ErrInvalidArgument)
	}

	pos := ref + offset
	if pos < 0 || pos > int64(e.size) {
		return 0, fmt.Errorf(
			"seeking `%s` to `%d` of `%d` bytes: %w",
			e.name,
			pos,
			e.size,
			chainfs.ErrInvalidOffset,
		)
	}
	hd.cursor = pos
	return pos, nil
}

// Tell returns the cursor of a handle.
func (fs *FS) Tell(h Handle) (int64, error) {
	hd, _, err := fs.handle(h)
	if err != nil {
		return 0, fmt.Errorf("tell: %w", err)
	}
	return hd.cursor, nil
}

// Truncate sets the size of the file behind h. Growing appends zeros and is
// atomic like Write. The cursor is not moved, even when it ends up past the
// new end of the file.
func (fs *FS) Truncate(h Handle, length int64) error {
	_, e, err := fs.handle(h)
	if err != nil {
		return fmt.Errorf("truncating: %w", err)
	}
	if length < 0 || length > MaxFileSize {
		return fmt.Errorf(
			"truncating `%s` to `%d`: %w",
			e.name,
			length,
			chainfs.ErrInvalidArgument,
		)
	}

	switch size := int64(e.size); {
	case length < size:
		err = fs.shrink(e, length)
	case length > size:
		err = fs.grow(e, length)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("truncating `%s` to `%d`: %w", e.name, length, err)
	}

	fs.log.WithFields(logrus.Fields{
		"file":   e.name,
		"handle": h,
		"size":   e.size,
	}).Debug("truncated")
	return nil
}

// grow extends the chain of e to hold size bytes. New blocks are reserved
// and zero-filled before the tail of the chain is pointed at them; if any
// step fails they are freed again and e is unchanged.
func (fs *FS) grow(e *fileEntry, size int64) error {
	payload := fs.blocks.Payload()
	have := blocksFor(int64(e.size), payload)
	need := blocksFor(size, payload)

	var tail chainfs.BlockID
	if have > 0 {
		var err error
		if tail, err = fs.blocks.Walk(e.head, have-1); err != nil {
			return err
		}
	}

	fresh, err := fs.blocks.AllocateN(need - have)
	if err != nil {
		return err
	}

	raw := make([]byte, fs.dev.BlockSize())
	for i, id := range fresh {
		next := chainfs.BlockTerminal
		if i+1 < len(fresh) {
			next = fresh[i+1]
		}
		clear(raw)
		encodeNext(raw, next)
		if err := fs.dev.WriteBlock(id, raw); err != nil {
			fs.blocks.release(fresh)
			return err
		}
	}

	if have == 0 {
		e.head = fresh[0]
		e.size = uint32(size)
		return nil
	}

	// bytes past the old end of the tail block may be left over from an
	// earlier shrink; they become part of the file and must read as zero
	used := chainfs.BlockHeaderSize + int(int64(e.size)-int64(have-1)*int64(payload))
	clear(raw)
	if err := fs.dev.ReadBlock(tail, raw[:used]); err != nil {
		fs.blocks.release(fresh)
		return err
	}
	if len(fresh) > 0 {
		encodeNext(raw, fresh[0])
	}
	if err := fs.dev.WriteBlock(tail, raw); err != nil {
		fs.blocks.release(fresh)
		return err
	}

	e.size = uint32(size)
	return nil
}

// shrink cuts the chain of e down to the blocks needed for size bytes. The
// last kept block is marked terminal before the rest is freed.
func (fs *FS) shrink(e *fileEntry, size int64) error {
	keep := blocksFor(size, fs.blocks.Payload())
	if keep == 0 {
		head := e.head
		e.head = chainfs.BlockFree
		e.size = 0
		return fs.blocks.FreeChain(head)
	}

	last, err := fs.blocks.Walk(e.head, keep-1)
	if err != nil {
		return err
	}
	next, err := fs.blocks.next(last)
	if err != nil {
		return err
	}
	if next == chainfs.BlockTerminal {
		e.size = uint32(size)
		return nil
	}

	rest, err := fs.blocks.follow(last, next)
	if err != nil {
		return err
	}
	if err := fs.blocks.setNext(last, chainfs.BlockTerminal); err != nil {
		return err
	}
	e.size = uint32(size)
	return fs.blocks.FreeChain(rest)
}
