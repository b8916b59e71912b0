package blkfile

import (
	"encoding/binary"
	"fmt"

	"github.com/keks/chainfs"
)

// Blocks manages the data region of a mounted device. Every data block
// starts with a next pointer holding a data block id, BlockFree or
// BlockTerminal; the rest of the block is payload.
type Blocks struct {
	dev chainfs.Device

	// data region is [start, end)
	start chainfs.BlockID
	end   chainfs.BlockID
}

func newBlocks(dev chainfs.Device, sb *superblock) *Blocks {
	return &Blocks{
		dev:   dev,
		start: sb.DataStart,
		end:   chainfs.BlockID(sb.BlockCount),
	}
}

// Payload is the number of file bytes a block holds.
func (blks *Blocks) Payload() int {
	return blks.dev.BlockSize() - chainfs.BlockHeaderSize
}

func (blks *Blocks) contains(id chainfs.BlockID) bool {
	return id >= blks.start && id < blks.end
}

func (blks *Blocks) next(id chainfs.BlockID) (chainfs.BlockID, error) {
	var hdr [chainfs.BlockHeaderSize]byte
	if err := blks.dev.ReadBlock(id, hdr[:]); err != nil {
		return 0, err
	}
	return decodeNext(hdr[:]), nil
}

func (blks *Blocks) setNext(id, next chainfs.BlockID) error {
	var hdr [chainfs.BlockHeaderSize]byte
	encodeNext(hdr[:], next)
	return blks.dev.WriteBlock(id, hdr[:])
}

func decodeNext(hdr []byte) chainfs.BlockID {
	return chainfs.BlockID(binary.LittleEndian.Uint32(hdr))
}

func encodeNext(hdr []byte, next chainfs.BlockID) {
	binary.LittleEndian.PutUint32(hdr, uint32(next))
}

// follow checks a next pointer read from block id that is expected to lead
// to another block of the chain.
func (blks *Blocks) follow(id, next chainfs.BlockID) (chainfs.BlockID, error) {
	if !blks.contains(next) {
		return 0, fmt.Errorf(
			"block `%d` points to `%d` inside a chain: %w",
			id,
			next,
			chainfs.ErrIO,
		)
	}
	return next, nil
}

// Allocate reserves the lowest free data block by marking it terminal.
func (blks *Blocks) Allocate() (chainfs.BlockID, error) {
	ids, err := blks.AllocateN(1)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// AllocateN reserves n free data blocks in one ascending scan. Either all n
// are reserved or none are.
func (blks *Blocks) AllocateN(n int) ([]chainfs.BlockID, error) {
	ids := make([]chainfs.BlockID, 0, n)
	for id := blks.start; id < blks.end && len(ids) < n; id++ {
		next, err := blks.next(id)
		if err != nil {
			blks.release(ids)
			return nil, err
		}
		if next != chainfs.BlockFree {
			continue
		}
		if err := blks.setNext(id, chainfs.BlockTerminal); err != nil {
			blks.release(ids)
			return nil, err
		}
		ids = append(ids, id)
	}

	if len(ids) < n {
		if err := blks.release(ids); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf(
			"allocating `%d` blocks, `%d` free: %w",
			n,
			len(ids),
			chainfs.ErrOutOfSpace,
		)
	}
	return ids, nil
}

// release frees blocks that were reserved but never linked into a chain.
func (blks *Blocks) release(ids []chainfs.BlockID) error {
	var first error
	for _, id := range ids {
		if err := blks.Free(id); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Free marks a block as available. The block must already be unlinked from
// its chain.
func (blks *Blocks) Free(id chainfs.BlockID) error {
	return blks.setNext(id, chainfs.BlockFree)
}

// FreeChain frees every block of the chain starting at head, ending with the
// terminal block. A chain that leaves the data region or loops is reported
// before any of its blocks are freed.
func (blks *Blocks) FreeChain(head chainfs.BlockID) error {
	ids, err := blks.Chain(head)
	if err != nil {
		return err
	}
	return blks.release(ids)
}

// Chain lists the blocks of the chain starting at head, in order.
func (blks *Blocks) Chain(head chainfs.BlockID) ([]chainfs.BlockID, error) {
	var ids []chainfs.BlockID
	id := head
	for {
		if !blks.contains(id) || len(ids) >= int(blks.end-blks.start) {
			return nil, fmt.Errorf("chain at `%d`: %w", head, chainfs.ErrIO)
		}

		next, err := blks.next(id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
		if next == chainfs.BlockTerminal {
			return ids, nil
		}
		id = next
	}
}

// Walk returns the block at position idx (0-based) of the chain starting at
// head.
func (blks *Blocks) Walk(head chainfs.BlockID, idx int) (chainfs.BlockID, error) {
	if !blks.contains(head) {
		return 0, fmt.Errorf("chain head `%d`: %w", head, chainfs.ErrIO)
	}

	id := head
	for ; idx > 0; idx-- {
		next, err := blks.next(id)
		if err != nil {
			return 0, err
		}
		if id, err = blks.follow(id, next); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// CountFree scans the data region for free blocks.
func (blks *Blocks) CountFree() (int, error) {
	var n int
	for id := blks.start; id < blks.end; id++ {
		next, err := blks.next(id)
		if err != nil {
			return 0, err
		}
		if next == chainfs.BlockFree {
			n++
		}
	}
	return n, nil
}

// blocksFor is the number of chain blocks a file of size bytes occupies.
func blocksFor(size int64, payload int) int {
	return int((size + int64(payload) - 1) / int64(payload))
}
