package storage

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Boot loader layout on the boot media.
const (
	// ImageMagic is the first word of a boot loader image ("AIC ")
	ImageMagic = 0x20434941

	// PageTableMagic is the first word of a NAND boot page table ("AICP")
	PageTableMagic = 0x50434941

	// SPLSize is the slot size of one boot loader copy
	SPLSize = 128 * 1024

	// SPLCopies is the number of redundant boot loader copies
	SPLCopies = 2

	// MMCBootSector is the sector of the first boot loader copy on MMC
	MMCBootSector = 34

	// SPLCandidateBlocks is the number of NAND blocks the boot ROM scans
	SPLCandidateBlocks = 18
)

// EraseBoot invalidates the boot loader copies on dev so that the SoC
// falls back to its upgrade mode on the next reset. Only slots that start
// with a boot loader magic are touched. It returns the number of slots
// erased.
//
//   - NOR: each 128 KiB slot at the start of the device is erased.
//   - NAND: each candidate eraseblock holding a page table is erased.
//   - MMC: the first sector of each slot, starting at sector 34, is zeroed.
func EraseBoot(dev Device) (int, error) {
	switch dev.Kind() {
	case KindNOR:
		return eraseBootSlots(dev, 0, ImageMagic, func(off int64) error {
			return dev.Erase(off, SPLSize)
		})

	case KindNAND:
		bs := dev.EraseUnit()
		erased := 0
		for i := int64(0); i < SPLCandidateBlocks && (i+1)*bs <= dev.Size(); i++ {
			ok, err := hasMagic(dev, i*bs, PageTableMagic)
			if err != nil {
				return erased, err
			}
			if !ok {
				continue
			}
			if err := dev.Erase(i*bs, bs); err != nil {
				return erased, errors.Wrapf(err, "erase boot block %d", i)
			}
			erased++
		}
		return erased, nil

	case KindBlock:
		return eraseBootSlots(dev, MMCBootSector*SectorSize, ImageMagic, func(off int64) error {
			_, err := dev.WriteAt(make([]byte, SectorSize), off)
			return err
		})
	}
	return 0, errors.Errorf("erase boot: unsupported device %s", dev.Kind())
}

func eraseBootSlots(dev Device, base int64, magic uint32, erase func(off int64) error) (int, error) {
	erased := 0
	for i := int64(0); i < SPLCopies; i++ {
		off := base + i*SPLSize
		if off+SPLSize > dev.Size() {
			break
		}
		ok, err := hasMagic(dev, off, magic)
		if err != nil {
			return erased, err
		}
		if !ok {
			continue
		}
		if err := erase(off); err != nil {
			return erased, errors.Wrapf(err, "erase boot copy %d", i)
		}
		erased++
	}
	return erased, nil
}

func hasMagic(dev Device, off int64, magic uint32) (bool, error) {
	head := make([]byte, 4)
	if _, err := dev.ReadAt(head, off); err != nil {
		return false, errors.Wrapf(err, "read boot header at 0x%X", off)
	}
	return binary.LittleEndian.Uint32(head) == magic, nil
}

// EraseRange erases [off, off+length) on dev. Both values must be aligned
// to the device erase unit: 4 KiB on NOR, the eraseblock on NAND and the
// erase group on MMC. Misalignment returns an *AlignmentError.
func EraseRange(dev Device, off, length int64) error {
	unit := dev.EraseUnit()
	if err := checkAlign("start offset", off, unit); err != nil {
		return err
	}
	if err := checkAlign("length", length, unit); err != nil {
		return err
	}
	if err := dev.Erase(off, length); err != nil {
		return errors.Wrapf(err, "erase %s", dev.Name())
	}
	return nil
}
