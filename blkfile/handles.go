package blkfile

// Handle identifies an open file within a mounted session.
type Handle int

// DefaultMaxOpenFiles bounds the handle table.
const DefaultMaxOpenFiles = 32

// handle is an open-file cursor. It is never persisted.
type handle struct {
	file   int
	cursor int64
}

type handleTable struct {
	slots *arena[handle]
}

func newHandleTable(capacity int) handleTable {
	return handleTable{slots: newArena[handle](capacity)}
}

func (t *handleTable) open(file int) (Handle, bool) {
	i, ok := t.slots.alloc()
	if !ok {
		return -1, false
	}
	hd, _ := t.slots.get(i)
	hd.file = file
	return Handle(i), true
}

func (t *handleTable) get(h Handle) (*handle, bool) { return t.slots.get(int(h)) }
func (t *handleTable) close(h Handle)              { t.slots.release(int(h)) }
func (t *handleTable) count() int                  { return t.slots.len() }
func (t *handleTable) capacity() int               { return t.slots.cap() }
