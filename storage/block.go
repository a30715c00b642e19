package storage

import (
	"sync"

	"github.com/pkg/errors"
)

const (
	// SectorSize is the logical sector size of block devices
	SectorSize = 512

	// DefaultEraseGroup is the erase group of emulated MMC devices (1024 sectors)
	DefaultEraseGroup = 1024 * SectorSize
)

// Block emulates an eMMC or SD card. It is written in whole sectors and
// needs no erase before programming.
type Block struct {
	mu         sync.Mutex
	name       string
	medium     Medium
	size       int64
	eraseGroup int64
	erases     map[int64]int
}

// NewBlock returns a block device of size bytes on medium.
func NewBlock(name string, medium Medium, size int64) (*Block, error) {
	if size <= 0 || size%SectorSize != 0 {
		return nil, errors.Errorf("mmc %s: size 0x%X is not a multiple of the sector size", name, size)
	}
	return &Block{
		name:       name,
		medium:     medium,
		size:       size,
		eraseGroup: DefaultEraseGroup,
		erases:     make(map[int64]int),
	}, nil
}

func (d *Block) Name() string      { return d.name }
func (d *Block) Size() int64       { return d.size }
func (d *Block) BlockSize() int    { return SectorSize }
func (d *Block) EraseSizes() []int { return nil }
func (d *Block) Kind() Kind        { return KindBlock }
func (d *Block) EraseUnit() int64  { return d.eraseGroup }

// SetEraseGroup overrides the erase group size. It must be a multiple of
// the sector size.
func (d *Block) SetEraseGroup(n int64) error {
	if n <= 0 || n%SectorSize != 0 {
		return errors.Errorf("mmc %s: invalid erase group 0x%X", d.name, n)
	}
	d.eraseGroup = n
	return nil
}

// Erase discards whole erase groups; discarded sectors read as zero.
func (d *Block) Erase(off, length int64) error {
	if err := checkAlign("erase offset", off, d.eraseGroup); err != nil {
		return err
	}
	if err := checkAlign("erase length", length, d.eraseGroup); err != nil {
		return err
	}
	if err := checkRange(d.name, off, length, d.size); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	zero := make([]byte, d.eraseGroup)
	for g := off; g < off+length; g += d.eraseGroup {
		if _, err := d.medium.WriteAt(zero, g); err != nil {
			return errors.Wrapf(err, "mmc %s: erase group at 0x%X", d.name, g)
		}
		d.erases[g/d.eraseGroup]++
	}
	return nil
}

// WriteAt writes whole sectors.
func (d *Block) WriteAt(p []byte, off int64) (int, error) {
	if err := checkAlign("write offset", off, SectorSize); err != nil {
		return 0, err
	}
	if err := checkAlign("write length", int64(len(p)), SectorSize); err != nil {
		return 0, err
	}
	if err := checkRange(d.name, off, int64(len(p)), d.size); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.medium.WriteAt(p, off)
	if err != nil {
		return n, errors.Wrapf(err, "mmc %s: write sector %d", d.name, off/SectorSize)
	}
	return n, nil
}

func (d *Block) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(d.name, off, int64(len(p)), d.size); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.medium.ReadAt(p, off)
	if err != nil {
		return n, errors.Wrapf(err, "mmc %s: read sector %d", d.name, off/SectorSize)
	}
	return n, nil
}

// EraseCount reports how often the erase group holding off was erased.
func (d *Block) EraseCount(off int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.erases[off/d.eraseGroup]
}
