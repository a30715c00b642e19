package storage

import (
	"bytes"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Geometry describes a NAND device.
type Geometry struct {
	PageSize      int
	PagesPerBlock int
	Blocks        int
}

// BlockSize returns the eraseblock size in bytes.
func (g Geometry) BlockSize() int64 {
	return int64(g.PageSize) * int64(g.PagesPerBlock)
}

// DefaultGeometry is a 128 MiB SPI NAND with 2 KiB pages.
var DefaultGeometry = Geometry{PageSize: 2048, PagesPerBlock: 64, Blocks: 1024}

// NAND emulates a bad-block-mapped SPI NAND. The logical address space
// skips bad blocks; pages must be erased before they are programmed and
// are programmed whole.
type NAND struct {
	mu         sync.Mutex
	name       string
	medium     Medium
	geo        Geometry
	bad        []int
	l2p        []int
	programmed map[int64]bool
	erases     map[int]int
}

// NewNAND returns a NAND device on medium, which must hold
// geo.Blocks*geo.BlockSize() bytes. Blocks listed in bad are never used.
func NewNAND(name string, medium Medium, geo Geometry, bad []int) (*NAND, error) {
	if geo.PageSize <= 0 || geo.PagesPerBlock <= 0 || geo.Blocks <= 0 {
		return nil, errors.Errorf("nand %s: invalid geometry %+v", name, geo)
	}

	isBad := make(map[int]bool, len(bad))
	for _, b := range bad {
		if b < 0 || b >= geo.Blocks {
			return nil, errors.Errorf("nand %s: bad block %d out of range", name, b)
		}
		isBad[b] = true
	}

	d := &NAND{
		name:       name,
		medium:     medium,
		geo:        geo,
		programmed: make(map[int64]bool),
		erases:     make(map[int]int),
	}
	for b := 0; b < geo.Blocks; b++ {
		if isBad[b] {
			d.bad = append(d.bad, b)
			continue
		}
		d.l2p = append(d.l2p, b)
	}
	sort.Ints(d.bad)

	if len(d.l2p) == 0 {
		return nil, errors.Errorf("nand %s: no good blocks", name)
	}
	return d, nil
}

func (d *NAND) Name() string      { return d.name }
func (d *NAND) Size() int64       { return int64(len(d.l2p)) * d.geo.BlockSize() }
func (d *NAND) BlockSize() int    { return d.geo.PageSize }
func (d *NAND) EraseSizes() []int { return []int{int(d.geo.BlockSize())} }
func (d *NAND) Kind() Kind        { return KindNAND }
func (d *NAND) EraseUnit() int64  { return d.geo.BlockSize() }

// Geometry returns the device geometry.
func (d *NAND) Geometry() Geometry { return d.geo }

// BadBlocks returns the physical indexes of the skipped blocks.
func (d *NAND) BadBlocks() []int {
	return append([]int(nil), d.bad...)
}

// physical maps a logical byte offset to a physical one.
func (d *NAND) physical(off int64) int64 {
	bs := d.geo.BlockSize()
	return int64(d.l2p[off/bs])*bs + off%bs
}

// Erase erases whole logical eraseblocks.
func (d *NAND) Erase(off, length int64) error {
	bs := d.geo.BlockSize()
	if err := checkAlign("erase offset", off, bs); err != nil {
		return err
	}
	if err := checkAlign("erase length", length, bs); err != nil {
		return err
	}
	if err := checkRange(d.name, off, length, d.Size()); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	blank := bytes.Repeat([]byte{0xFF}, int(bs))
	for lo := off; lo < off+length; lo += bs {
		phys := d.physical(lo)
		if _, err := d.medium.WriteAt(blank, phys); err != nil {
			return errors.Wrapf(err, "nand %s: erase block %d", d.name, phys/bs)
		}
		for pg := phys; pg < phys+bs; pg += int64(d.geo.PageSize) {
			delete(d.programmed, pg)
		}
		d.erases[int(phys/bs)]++
	}
	return nil
}

// WriteAt programs whole pages starting at a page boundary.
func (d *NAND) WriteAt(p []byte, off int64) (int, error) {
	ps := int64(d.geo.PageSize)
	if err := checkAlign("write offset", off, ps); err != nil {
		return 0, err
	}
	if err := checkAlign("write length", int64(len(p)), ps); err != nil {
		return 0, err
	}
	if err := checkRange(d.name, off, int64(len(p)), d.Size()); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for i := int64(0); i < int64(len(p)); i += ps {
		phys := d.physical(off + i)
		if d.programmed[phys] {
			return int(i), errors.Wrapf(ErrNotErased, "nand %s: page at 0x%X", d.name, off+i)
		}
		if _, err := d.medium.WriteAt(p[i:i+ps], phys); err != nil {
			return int(i), errors.Wrapf(err, "nand %s: program page at 0x%X", d.name, off+i)
		}
		d.programmed[phys] = true
	}
	return len(p), nil
}

// ReadAt reads across logical blocks.
func (d *NAND) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(d.name, off, int64(len(p)), d.Size()); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	bs := d.geo.BlockSize()
	done := 0
	for done < len(p) {
		lo := off + int64(done)
		n := int(bs - lo%bs)
		if n > len(p)-done {
			n = len(p) - done
		}
		if _, err := d.medium.ReadAt(p[done:done+n], d.physical(lo)); err != nil {
			return done, errors.Wrapf(err, "nand %s: read 0x%X", d.name, lo)
		}
		done += n
	}
	return done, nil
}

// EraseCount reports how often the logical block holding off was erased.
func (d *NAND) EraseCount(off int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if off < 0 || off >= d.Size() {
		return 0
	}
	return d.erases[int(d.physical(off)/d.geo.BlockSize())]
}
