package fwc

import (
	"errors"
	"testing"

	"github.com/moffa90/go-aicupg/storage"
)

// recordingBackend records erase lengths.
type recordingBackend struct {
	storage.Backend
	erases []int64
}

func (b *recordingBackend) Erase(off, length int64) error {
	b.erases = append(b.erases, length)
	return b.Backend.Erase(off, length)
}

// failingBackend fails its failAt-th WriteAt call (1-based).
type failingBackend struct {
	storage.Backend
	writes int
	failAt int
}

func (b *failingBackend) WriteAt(p []byte, off int64) (int, error) {
	b.writes++
	if b.writes == b.failAt {
		return 0, errors.New("injected write failure")
	}
	return b.Backend.WriteAt(p, off)
}

func mustPartition(t *testing.T, name string) storage.Backend {
	t.Helper()
	_, tbl := newTable(t)
	b, err := tbl.Partition(name)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// sessionBackend records Sessioner calls and can refuse Begin.
type sessionBackend struct {
	storage.Backend
	beginErr error
	calls    []string
}

func (b *sessionBackend) Begin(component string) error {
	b.calls = append(b.calls, "begin "+component)
	return b.beginErr
}

func (b *sessionBackend) End(component string) error {
	b.calls = append(b.calls, "end "+component)
	return nil
}
