package storage

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Memory is an in-memory Medium of fixed size.
type Memory struct {
	mu  sync.RWMutex
	buf []byte
}

// NewMemory returns a medium of size bytes, each set to fill.
func NewMemory(size int64, fill byte) *Memory {
	return &Memory{buf: bytes.Repeat([]byte{fill}, int(size))}
}

// ReadAt implements io.ReaderAt.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if off < 0 || off > int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt. Writes past the end are rejected.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if off < 0 || off+int64(len(p)) > int64(len(m.buf)) {
		return 0, ErrOutOfRange
	}
	return copy(m.buf[off:], p), nil
}

// Bytes returns a copy of the medium contents.
func (m *Memory) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.buf...)
}

// OpenFile opens or creates a file-backed medium. A new or short file is
// extended to size bytes with fill so that an empty flash image reads as
// erased.
func OpenFile(path string, size int64, fill byte) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open medium")
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "stat medium")
	}

	if cur := st.Size(); cur < size {
		pad := bytes.Repeat([]byte{fill}, int(size-cur))
		if _, err := f.WriteAt(pad, cur); err != nil {
			_ = f.Close()
			return nil, errors.Wrapf(err, "extend medium %s", path)
		}
	}
	return f, nil
}
