package blkfile

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/keks/chainfs"
)

const superblockMagic uint32 = 0x63686673 // "chfs"

// superblock is the record stored at the start of block 0. The table starts
// right after it and the data region right after the table; both are fixed
// at format time.
type superblock struct {
	Magic      uint32
	FileCount  uint32
	TableStart chainfs.BlockID
	DataStart  chainfs.BlockID
	BlockSize  uint32
	BlockCount uint32
	VolumeID   uuid.UUID
}

func newSuperblock(dev chainfs.Device, tableBlocks uint32) superblock {
	return superblock{
		Magic:      superblockMagic,
		TableStart: 1,
		DataStart:  chainfs.BlockID(1 + tableBlocks),
		BlockSize:  uint32(dev.BlockSize()),
		BlockCount: dev.BlockCount(),
		VolumeID:   uuid.New(),
	}
}

// capacity is the number of file entries the table region holds.
func (sb *superblock) capacity() int {
	return int(sb.DataStart-sb.TableStart) * recordsPerBlock(int(sb.BlockSize))
}

func (sb *superblock) validate(dev chainfs.Device) error {
	switch {
	case sb.Magic != superblockMagic:
		return fmt.Errorf("bad magic `%#x`: %w", sb.Magic, chainfs.ErrIO)
	case sb.BlockSize != uint32(dev.BlockSize()):
		return fmt.Errorf(
			"formatted with block size `%d`, device has `%d`: %w",
			sb.BlockSize,
			dev.BlockSize(),
			chainfs.ErrIO,
		)
	case sb.BlockCount != dev.BlockCount():
		return fmt.Errorf(
			"formatted with `%d` blocks, device has `%d`: %w",
			sb.BlockCount,
			dev.BlockCount(),
			chainfs.ErrIO,
		)
	case sb.TableStart != 1 ||
		sb.DataStart <= sb.TableStart ||
		uint32(sb.DataStart) >= sb.BlockCount:
		return fmt.Errorf(
			"bad region bounds table=`%d` data=`%d`: %w",
			sb.TableStart,
			sb.DataStart,
			chainfs.ErrIO,
		)
	case int(sb.FileCount) > sb.capacity():
		return fmt.Errorf(
			"file count `%d` exceeds table capacity `%d`: %w",
			sb.FileCount,
			sb.capacity(),
			chainfs.ErrIO,
		)
	}
	return nil
}

func readSuperblock(dev chainfs.Device, sb *superblock) error {
	return binary.Read(readerFromBlocks(dev, 0), binary.LittleEndian, sb)
}

func writeSuperblock(dev chainfs.Device, sb *superblock) error {
	w, flush := writerToBlocks(dev, 0)
	if err := binary.Write(w, binary.LittleEndian, sb); err != nil {
		return err
	}
	return flush()
}

// entryRecord is the on-disk form of a file entry. Records never straddle a
// block; the tail of each table block past the last whole record is padding.
type entryRecord struct {
	NameLen uint8
	Name    [MaxNameLen]byte
	Size    uint32
	Head    chainfs.BlockID
}

const entryRecordSize = 1 + MaxNameLen + 4 + 4

func recordsPerBlock(blockSize int) int {
	return blockSize / entryRecordSize
}

// readTable loads sb.FileCount packed records into table.
func readTable(dev chainfs.Device, sb *superblock, table *fileTable) error {
	r := readerFromBlocks(dev, sb.TableStart)
	per := recordsPerBlock(int(sb.BlockSize))
	pad := int64(sb.BlockSize) - int64(per*entryRecordSize)

	for i := 0; i < int(sb.FileCount); i++ {
		if i > 0 && i%per == 0 {
			if _, err := io.CopyN(io.Discard, r, pad); err != nil {
				return err
			}
		}

		var rec entryRecord
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return err
		}

		if err := loadEntry(sb, table, &rec); err != nil {
			return fmt.Errorf("file table record `%d`: %w", i, err)
		}
	}
	return nil
}

func loadEntry(sb *superblock, table *fileTable, rec *entryRecord) error {
	if int(rec.NameLen) > MaxNameLen {
		return fmt.Errorf("name length `%d`: %w", rec.NameLen, chainfs.ErrIO)
	}
	name := string(rec.Name[:rec.NameLen])
	if err := validName(name); err != nil {
		return fmt.Errorf("%w: %w", chainfs.ErrIO, err)
	}
	if _, _, exists := table.lookup(name); exists {
		return fmt.Errorf("duplicate name `%s`: %w", name, chainfs.ErrIO)
	}
	if (rec.Head == chainfs.BlockFree) != (rec.Size == 0) {
		return fmt.Errorf(
			"file `%s` has size `%d` and head `%d`: %w",
			name,
			rec.Size,
			rec.Head,
			chainfs.ErrIO,
		)
	}
	if rec.Head != chainfs.BlockFree &&
		(rec.Head < sb.DataStart || uint32(rec.Head) >= sb.BlockCount) {
		return fmt.Errorf(
			"file `%s` head `%d` outside data region: %w",
			name,
			rec.Head,
			chainfs.ErrIO,
		)
	}

	_, e, ok := table.insert(name)
	if !ok {
		return fmt.Errorf("file table full: %w", chainfs.ErrIO)
	}
	e.size = rec.Size
	e.head = rec.Head
	return nil
}

// writeTable stores the in-use entries of table packed from sb.TableStart.
func writeTable(dev chainfs.Device, sb *superblock, table *fileTable) error {
	w, flush := writerToBlocks(dev, sb.TableStart)
	per := recordsPerBlock(int(sb.BlockSize))
	pad := make([]byte, int(sb.BlockSize)-per*entryRecordSize)

	var (
		i   int
		err error
	)
	table.slots.each(func(_ int, e *fileEntry) {
		if err != nil {
			return
		}
		if i > 0 && i%per == 0 {
			if _, err = w.Write(pad); err != nil {
				return
			}
		}

		rec := entryRecord{
			NameLen: uint8(len(e.name)),
			Size:    e.size,
			Head:    e.head,
		}
		copy(rec.Name[:], e.name)
		err = binary.Write(w, binary.LittleEndian, &rec)
		i++
	})
	if err != nil {
		return err
	}
	return flush()
}
