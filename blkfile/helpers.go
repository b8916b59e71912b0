package blkfile

import (
	"io"

	"github.com/keks/chainfs"
)

type funcWriter func([]byte) (int, error)

func (w funcWriter) Write(data []byte) (int, error) {
	return w(data)
}

type funcReader func([]byte) (int, error)

func (r funcReader) Read(buf []byte) (int, error) {
	return r(buf)
}

// readerFromBlocks streams the contents of consecutive blocks starting at
// id. Each block is read from the device when the stream reaches it.
func readerFromBlocks(dev chainfs.Device, id chainfs.BlockID) io.Reader {
	buf := make([]byte, dev.BlockSize())
	off := len(buf)

	return funcReader(func(data []byte) (int, error) {
		var n int
		for n < len(data) {
			if off == len(buf) {
				if err := dev.ReadBlock(id, buf); err != nil {
					return n, err
				}
				id++
				off = 0
			}
			k := copy(data[n:], buf[off:])
			off += k
			n += k
		}
		return n, nil
	})
}

// writerToBlocks packs everything written to it into consecutive blocks
// starting at id. Full blocks are written as they fill up; flush writes the
// partial last block with the remainder zeroed.
func writerToBlocks(dev chainfs.Device, id chainfs.BlockID) (io.Writer, func() error) {
	buf := make([]byte, dev.BlockSize())
	var off int

	write := funcWriter(func(data []byte) (int, error) {
		var n int
		for n < len(data) {
			k := copy(buf[off:], data[n:])
			off += k
			n += k
			if off == len(buf) {
				if err := dev.WriteBlock(id, buf); err != nil {
					return n, err
				}
				id++
				off = 0
			}
		}
		return n, nil
	})

	flush := func() error {
		if off == 0 {
			return nil
		}
		for i := off; i < len(buf); i++ {
			buf[i] = 0
		}
		if err := dev.WriteBlock(id, buf); err != nil {
			return err
		}
		id++
		off = 0
		return nil
	}

	return write, flush
}
