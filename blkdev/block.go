package blkdev

import (
	"io"

	"github.com/keks/chainfs"
)

// block is a bounded view of one block of the backing store. Transfers that
// run past the end of the block are clipped and report io.EOF.
type block struct {
	id    chainfs.BlockID
	size  int
	lower chainfs.ReadWriterAt
}

func (blk block) base() int64 {
	return int64(blk.id) * int64(blk.size)
}

// clip returns how many of n bytes starting at off fit inside the block and
// whether that is fewer than asked for.
func (blk block) clip(off int64, n int) (int, bool) {
	if off >= int64(blk.size) {
		return 0, n > 0
	}
	if max := blk.size - int(off); max < n {
		return max, true
	}
	return n, false
}

func (blk block) ReadAt(dst []byte, off int64) (int, error) {
	max, short := blk.clip(off, len(dst))
	if max == 0 && short {
		return 0, io.EOF
	}

	n, err := blk.lower.ReadAt(dst[:max], blk.base()+off)
	if err != nil {
		return n, err
	}
	if short {
		return n, io.EOF
	}
	return n, nil
}

func (blk block) WriteAt(data []byte, off int64) (int, error) {
	max, short := blk.clip(off, len(data))
	if max == 0 && short {
		return 0, io.EOF
	}

	n, err := blk.lower.WriteAt(data[:max], blk.base()+off)
	if err != nil {
		// NOTE: this is only expected if the lower layer has failures,
		//       like e.g. running out of disk space.
		return n, err
	}
	if short {
		return n, io.EOF
	}
	return n, nil
}
