package blkfile

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/keks/chainfs"
	"github.com/keks/chainfs/blkdev"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// testGeometry gives 55 data blocks of 508 payload bytes after the
// superblock and an 8 block table.
var testGeometry = blkdev.Geometry{BlockCount: 64, BlockSize: 512}

const (
	testPayload    = 512 - chainfs.BlockHeaderSize
	testDataBlocks = 64 - 1 - 8
)

func testOptions() Options {
	logger, _ := test.NewNullLogger()
	return Options{
		TableBlocks:  8,
		MaxOpenFiles: 4,
		Logger:       logger,
	}
}

// env is the state the ops of a test case work on.
type env struct {
	dev     *blkdev.Device
	opts    Options
	fs      *FS
	handles map[string]Handle
}

func newEnv(t *testing.T, geo blkdev.Geometry, opts Options) *env {
	t.Helper()

	dev := blkdev.New(filepath.Join(t.TempDir(), "disk.img"), geo)
	require.NoError(t, Format(dev, opts))

	fs, err := Mount(dev, opts)
	require.NoError(t, err)

	e := &env{dev: dev, opts: opts, fs: fs, handles: make(map[string]Handle)}
	t.Cleanup(func() {
		if e.fs.mounted {
			e.fs.Unmount()
		}
	})
	return e
}

func newTestEnv(t *testing.T) *env {
	return newEnv(t, testGeometry, testOptions())
}

func (e *env) remount(t *testing.T) {
	t.Helper()

	require.NoError(t, e.fs.Unmount())
	fs, err := Mount(e.dev, e.opts)
	require.NoError(t, err)
	e.fs = fs
	e.handles = make(map[string]Handle)
}

func (e *env) freeBlocks(t *testing.T) int {
	t.Helper()

	n, err := e.fs.blocks.CountFree()
	require.NoError(t, err)
	return n
}

// pattern returns n bytes counting up from start.
func pattern(n int, start byte) []byte {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		buf.WriteByte(start + byte(i))
	}
	return buf.Bytes()
}
