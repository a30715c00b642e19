package storage

import (
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Backend is the storage capability consumed by the component writer.
// Offsets are relative to the start of the backend.
type Backend interface {
	// Name identifies the backend in logs and errors
	Name() string

	// Size is the usable size in bytes
	Size() int64

	// BlockSize is the natural program unit. Writes must start on a
	// block boundary and cover whole blocks, except on devices that
	// report 1 or accept byte writes (NOR)
	BlockSize() int

	// EraseSizes lists the supported erase granularities in descending
	// order. An empty list means the medium needs no erase before writing
	EraseSizes() []int

	Erase(off, length int64) error
	WriteAt(p []byte, off int64) (int, error)
	ReadAt(p []byte, off int64) (int, error)
}

// Resolver maps a partition name to a backend.
type Resolver interface {
	Partition(name string) (Backend, error)
}

// Sessioner is implemented by backends that need per-component setup,
// such as selecting an encryption key tweak.
type Sessioner interface {
	Begin(component string) error
	End(component string) error
}

// Medium is the raw byte store behind an emulated device. *os.File and
// *Memory both satisfy it.
type Medium interface {
	io.ReaderAt
	io.WriterAt
}

// Kind is the type of boot medium.
type Kind int

const (
	KindNOR Kind = iota + 1
	KindNAND
	KindBlock
)

func (k Kind) String() string {
	switch k {
	case KindNOR:
		return "spi-nor"
	case KindNAND:
		return "spi-nand"
	case KindBlock:
		return "mmc"
	default:
		return "unknown"
	}
}

// ParseKind accepts the media type names used in image headers and
// bootcfg.txt ("spi-nor", "spi-nand", "mmc").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spi-nor", "nor", "spinor":
		return KindNOR, nil
	case "spi-nand", "nand", "spinand":
		return KindNAND, nil
	case "mmc", "emmc", "sd", "block":
		return KindBlock, nil
	}
	return 0, errors.Errorf("unknown media type %q", s)
}

// Device is a whole emulated storage device.
type Device interface {
	Backend

	Kind() Kind

	// EraseUnit is the alignment required by EraseRange
	EraseUnit() int64

	// EraseCount reports how many times the erase unit containing the
	// device offset off has been erased
	EraseCount(off int64) int
}

// checkRange validates [off, off+length) against size.
func checkRange(name string, off, length, size int64) error {
	if off < 0 || length < 0 || off+length > size {
		return errors.Wrapf(ErrOutOfRange, "%s: [0x%X, 0x%X) exceeds size 0x%X", name, off, off+length, size)
	}
	return nil
}
