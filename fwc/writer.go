package fwc

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/moffa90/go-aicupg/image"
	"github.com/moffa90/go-aicupg/storage"
)

// BackendSet holds one backend per duplicate partition, in the order the
// component lists them. The first entry is the primary copy.
type BackendSet []storage.Backend

// Names returns the backend names.
func (s BackendSet) Names() []string {
	names := make([]string, len(s))
	for i, b := range s {
		names[i] = b.Name()
	}
	return names
}

// Prepare resolves a ';'-separated partition list. Every name must resolve.
func Prepare(r storage.Resolver, partitions string) (BackendSet, error) {
	var set BackendSet
	for _, name := range strings.Split(partitions, image.PartitionSeparator) {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		b, err := r.Partition(name)
		if err != nil {
			return nil, &ResourceError{Partition: name, Err: err}
		}
		set = append(set, b)
	}

	if len(set) == 0 {
		return nil, &ResourceError{Partition: partitions, Err: ErrNoPartition}
	}
	return set, nil
}

// target is the write state of one duplicate partition.
type target struct {
	backend    storage.Backend
	eraseSizes []int
	cursor     int64
	erased     int64
}

// Writer writes one component to every partition of its BackendSet.
//
// Data is programmed in whole blocks. Bytes short of a block are held back
// until the next Write or until End, which pads them with 0xFF. The CRC is
// computed from data read back from the first partition, over the first
// meta.Size bytes only.
type Writer struct {
	meta      *image.Component
	targets   []*target
	blockSize int

	pending     []byte
	written     int64
	transferred int64
	crc         uint32
	crcLen      int64
	readCursor  int64

	ended  bool
	endErr error
}

// Start begins writing meta to set. Backends implementing
// storage.Sessioner get Begin with the component name.
func Start(meta *image.Component, set BackendSet) (*Writer, error) {
	if len(set) == 0 {
		return nil, &ResourceError{Partition: meta.Partition, Err: ErrNoPartition}
	}

	w := &Writer{meta: meta, blockSize: 1}
	for _, b := range set {
		if bs := b.BlockSize(); bs > w.blockSize {
			w.blockSize = bs
		}

		sizes := append([]int(nil), b.EraseSizes()...)
		sort.Sort(sort.Reverse(sort.IntSlice(sizes)))
		w.targets = append(w.targets, &target{backend: b, eraseSizes: sizes})
	}

	for i, t := range w.targets {
		if s, ok := t.backend.(storage.Sessioner); ok {
			if err := s.Begin(meta.Name); err != nil {
				// undo the sessions already begun
				for _, b := range w.targets[:i] {
					if s, ok := b.backend.(storage.Sessioner); ok {
						_ = s.End(meta.Name)
					}
				}
				return nil, &ResourceError{Partition: t.backend.Name(), Err: err}
			}
		}
	}
	return w, nil
}

// Write accepts p and programs every complete block. It returns len(p) on
// success. On failure it returns 0 and an *IOError, and p may be sent again.
func (w *Writer) Write(p []byte) (int, error) {
	if w.ended {
		return 0, ErrEnded
	}
	if len(p) == 0 {
		return 0, nil
	}

	data := make([]byte, 0, len(w.pending)+len(p))
	data = append(data, w.pending...)
	data = append(data, p...)

	whole := len(data) / w.blockSize * w.blockSize
	if whole > 0 {
		if err := w.program(data[:whole]); err != nil {
			return 0, err
		}
	}

	w.pending = data[whole:]
	w.transferred += int64(len(p))
	return len(p), nil
}

// program writes chunk at the committed position on every target that has
// not yet stored it, then folds the read-back into the CRC.
func (w *Writer) program(chunk []byte) error {
	pos := w.written
	end := pos + int64(len(chunk))

	for _, t := range w.targets {
		if t.cursor >= end {
			continue
		}
		name := t.backend.Name()

		if end > t.backend.Size() {
			return &IOError{Op: "write", Partition: name, Offset: pos, Err: ErrNoSpace}
		}
		if err := t.eraseTo(end); err != nil {
			return &IOError{Op: "erase", Partition: name, Offset: t.erased, Err: err}
		}
		if _, err := t.backend.WriteAt(chunk, pos); err != nil {
			return &IOError{Op: "write", Partition: name, Offset: pos, Err: err}
		}
		t.cursor = end
	}

	first := w.targets[0].backend
	rd := make([]byte, len(chunk))
	if _, err := first.ReadAt(rd, pos); err != nil {
		return &IOError{Op: "read", Partition: first.Name(), Offset: pos, Err: err}
	}

	if n := int64(w.meta.Size) - w.crcLen; n > 0 {
		if n > int64(len(rd)) {
			n = int64(len(rd))
		}
		w.crc = image.UpdateChecksum(w.crc, rd[:n])
		w.crcLen += n
	}

	w.written = end
	return nil
}

// eraseTo extends the erased region so that it covers [0, end). Each step
// uses the largest erase size that is aligned at the watermark and does
// not pass end rounded up to the smallest erase size.
func (t *target) eraseTo(end int64) error {
	if len(t.eraseSizes) == 0 {
		return nil
	}

	min := int64(t.eraseSizes[len(t.eraseSizes)-1])
	limit := (end + min - 1) / min * min
	if limit > t.backend.Size() {
		return ErrNoSpace
	}

	for t.erased < limit {
		step := min
		for _, s := range t.eraseSizes {
			s := int64(s)
			if t.erased%s == 0 && t.erased+s <= limit {
				step = s
				break
			}
		}
		if err := t.backend.Erase(t.erased, step); err != nil {
			return err
		}
		t.erased += step
	}
	return nil
}

// End flushes held-back bytes, calls Sessioner.End on every backend and
// checks the CRC. A mismatch returns *CRCMismatchError. Calling End again
// returns the first result.
func (w *Writer) End() error {
	if w.ended {
		return w.endErr
	}
	w.ended = true

	var err error
	if len(w.pending) > 0 {
		tail := append(w.pending, bytes.Repeat([]byte{0xFF}, w.blockSize-len(w.pending))...)
		err = w.program(tail)
		w.pending = nil
	}

	for _, t := range w.targets {
		if s, ok := t.backend.(storage.Sessioner); ok {
			if e := s.End(w.meta.Name); e != nil && err == nil {
				err = &IOError{Op: "end", Partition: t.backend.Name(), Offset: t.cursor, Err: e}
			}
		}
	}

	if err == nil && w.crc != w.meta.CRC {
		err = &CRCMismatchError{Component: w.meta.Name, Expected: w.meta.CRC, Actual: w.crc}
	}

	w.endErr = err
	return err
}

// Read reads the component back from the first partition. It keeps its
// own cursor and does not touch the CRC. At the end of the partition it
// returns io.EOF.
func (w *Writer) Read(p []byte) (int, error) {
	b := w.targets[0].backend

	remain := b.Size() - w.readCursor
	if remain <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remain {
		p = p[:remain]
	}

	if _, err := b.ReadAt(p, w.readCursor); err != nil {
		return 0, &IOError{Op: "read", Partition: b.Name(), Offset: w.readCursor, Err: err}
	}
	w.readCursor += int64(len(p))
	return len(p), nil
}

// Transferred returns the number of bytes accepted by Write.
func (w *Writer) Transferred() int64 { return w.transferred }

// CRC returns the CRC-32 computed so far.
func (w *Writer) CRC() uint32 { return w.crc }

// BlockSize returns the largest block size among the backends.
func (w *Writer) BlockSize() int { return w.blockSize }

// Meta returns the component being written.
func (w *Writer) Meta() *image.Component { return w.meta }

// Targets returns the backends in duplicate order.
func (w *Writer) Targets() BackendSet {
	set := make(BackendSet, len(w.targets))
	for i, t := range w.targets {
		set[i] = t.backend
	}
	return set
}

// String describes the writer for logs.
func (w *Writer) String() string {
	return fmt.Sprintf("%s -> %s", w.meta.Name, strings.Join(w.Targets().Names(), ","))
}
