package blkfile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

type op interface {
	Do(*testing.T, *env)
}

func checkErr(t *testing.T, err, expErr error) {
	t.Helper()
	if expErr == nil {
		require.NoError(t, err)
	} else {
		require.ErrorIs(t, err, expErr)
	}
}

type createOp struct {
	name string

	expErr error
}

func (op createOp) Do(t *testing.T, e *env) {
	checkErr(t, e.fs.Create(op.name), op.expErr)
}

type deleteOp struct {
	name string

	expErr error
}

func (op deleteOp) Do(t *testing.T, e *env) {
	checkErr(t, e.fs.Delete(op.name), op.expErr)
}

// openOp opens name and remembers the handle under as.
type openOp struct {
	name string
	as   string

	expErr error
}

func (op openOp) Do(t *testing.T, e *env) {
	h, err := e.fs.Open(op.name)
	checkErr(t, err, op.expErr)
	if op.expErr == nil {
		e.handles[op.as] = h
	}
}

type closeOp struct {
	as string

	expErr error
}

func (op closeOp) Do(t *testing.T, e *env) {
	checkErr(t, e.fs.Close(e.handles[op.as]), op.expErr)
}

type writeOp struct {
	as   string
	data []byte

	expN   int
	expErr error
}

func (op writeOp) Do(t *testing.T, e *env) {
	n, err := e.fs.Write(e.handles[op.as], op.data)
	checkErr(t, err, op.expErr)
	require.Equal(t, op.expN, n)
}

type readOp struct {
	as      string
	readlen int

	exp    []byte
	expErr error
}

func (op readOp) Do(t *testing.T, e *env) {
	if op.readlen == 0 {
		op.readlen = len(op.exp)
	}

	buf := make([]byte, op.readlen)
	n, err := e.fs.Read(e.handles[op.as], buf)
	checkErr(t, err, op.expErr)
	require.Equal(t, len(op.exp), n)
	require.True(t, bytes.Equal(op.exp, buf[:n]), "read %x", buf[:n])
}

type seekOp struct {
	as     string
	off    int64
	whence int

	expPos int64
	expErr error
}

func (op seekOp) Do(t *testing.T, e *env) {
	pos, err := e.fs.Seek(e.handles[op.as], op.off, op.whence)
	checkErr(t, err, op.expErr)
	if op.expErr == nil {
		require.Equal(t, op.expPos, pos)
	}
}

type truncateOp struct {
	as     string
	length int64

	expErr error
}

func (op truncateOp) Do(t *testing.T, e *env) {
	checkErr(t, e.fs.Truncate(e.handles[op.as], op.length), op.expErr)
}

type statOp struct {
	name string

	expSize int64
	expOpen int
	expErr  error
}

func (op statOp) Do(t *testing.T, e *env) {
	info, err := e.fs.Stat(op.name)
	checkErr(t, err, op.expErr)
	if op.expErr == nil {
		require.Equal(t, op.expSize, info.Size)
		require.Equal(t, op.expOpen, info.OpenCount)
	}
}

type cursorOp struct {
	as string

	exp int64
}

func (op cursorOp) Do(t *testing.T, e *env) {
	pos, err := e.fs.Tell(e.handles[op.as])
	require.NoError(t, err)
	require.Equal(t, op.exp, pos)
}

type freeBlocksOp struct {
	exp int
}

func (op freeBlocksOp) Do(t *testing.T, e *env) {
	require.Equal(t, op.exp, e.freeBlocks(t))
}

type remountOp struct{}

func (remountOp) Do(t *testing.T, e *env) {
	e.remount(t)
}
