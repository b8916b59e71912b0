package blkdev

import (
	"io"
)

// testReadWriterAt keeps the backing store in memory and extends it with
// zeros when written past the end.
type testReadWriterAt struct {
	data []byte
}

func (m *testReadWriterAt) ReadAt(dst []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}

	n := copy(dst, m.data[off:])
	if n < len(dst) {
		return n, io.EOF
	}
	return n, nil
}

func (m *testReadWriterAt) WriteAt(src []byte, off int64) (int, error) {
	if end := off + int64(len(src)); end > int64(len(m.data)) {
		m.data = append(m.data, make([]byte, end-int64(len(m.data)))...)
	}
	return copy(m.data[off:], src), nil
}
