package blkfile

import (
	"fmt"
	"sort"

	"github.com/keks/chainfs"
)

// MaxNameLen is the longest file name in bytes.
const MaxNameLen = 255

// fileEntry is the in-memory directory record of one file. Slots of the
// file table that are not in use are free; there are no other states.
type fileEntry struct {
	name      string
	size      uint32
	head      chainfs.BlockID
	openCount int
}

func (e *fileEntry) info() chainfs.FileInfo {
	return chainfs.FileInfo{
		Name:      e.name,
		Size:      int64(e.size),
		Head:      e.head,
		OpenCount: e.openCount,
	}
}

type fileTable struct {
	slots  *arena[fileEntry]
	byName map[string]int
}

func newFileTable(capacity int) fileTable {
	return fileTable{
		slots:  newArena[fileEntry](capacity),
		byName: make(map[string]int),
	}
}

func (t *fileTable) lookup(name string) (int, *fileEntry, bool) {
	i, ok := t.byName[name]
	if !ok {
		return -1, nil, false
	}
	e, _ := t.slots.get(i)
	return i, e, true
}

// insert adds an empty entry. The caller has already checked that name is
// valid and unused.
func (t *fileTable) insert(name string) (int, *fileEntry, bool) {
	i, ok := t.slots.alloc()
	if !ok {
		return -1, nil, false
	}

	e, _ := t.slots.get(i)
	e.name = name
	t.byName[name] = i
	return i, e, true
}

func (t *fileTable) remove(i int) {
	if e, ok := t.slots.get(i); ok {
		delete(t.byName, e.name)
		t.slots.release(i)
	}
}

func (t *fileTable) rename(i int, name string) {
	if e, ok := t.slots.get(i); ok {
		delete(t.byName, e.name)
		e.name = name
		t.byName[name] = i
	}
}

func (t *fileTable) get(i int) (*fileEntry, bool) { return t.slots.get(i) }
func (t *fileTable) count() int                   { return t.slots.len() }
func (t *fileTable) capacity() int                { return t.slots.cap() }

func (t *fileTable) infos() []chainfs.FileInfo {
	infos := make([]chainfs.FileInfo, 0, t.count())
	t.slots.each(func(_ int, e *fileEntry) {
		infos = append(infos, e.info())
	})
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// validName reports whether name may be used for a file: 1 to MaxNameLen
// bytes of ASCII letters, digits, '-', '_' and '.'.
func validName(name string) error {
	if len(name) == 0 || len(name) > MaxNameLen {
		return fmt.Errorf(
			"file name of `%d` bytes: %w",
			len(name),
			chainfs.ErrInvalidName,
		)
	}

	for i := 0; i < len(name); i++ {
		switch c := name[i]; {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return fmt.Errorf(
				"file name `%s` contains %q: %w",
				name,
				c,
				chainfs.ErrInvalidName,
			)
		}
	}
	return nil
}
