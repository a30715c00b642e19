package storage

import (
	"bytes"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// NOR geometry.
const (
	NORSectorSize = 4 * 1024
	NORPageSize   = 256
)

// norEraseSizes are the sector, half-block and block erase commands.
var norEraseSizes = []int{64 * 1024, 32 * 1024, NORSectorSize}

// Tweak selects the SPI encryption key tweak.
type Tweak int

const (
	// TweakUser is used for everything except the boot loader
	TweakUser Tweak = iota

	// TweakHardware is used while the boot loader (SPL) is written,
	// since the boot ROM decrypts it with the hardware tweak
	TweakHardware
)

// splComponent is the component name that switches to TweakHardware.
const splComponent = "target.spl"

// NOR emulates a SPI NOR flash: erase sets bytes to 0xFF and programming
// can only clear bits.
type NOR struct {
	mu     sync.Mutex
	name   string
	medium Medium
	size   int64
	erases map[int64]int
	tweak  Tweak
}

// NewNOR returns a NOR device of size bytes on medium. size must be a
// multiple of the sector size.
func NewNOR(name string, medium Medium, size int64) (*NOR, error) {
	if size <= 0 || size%NORSectorSize != 0 {
		return nil, errors.Errorf("nor %s: size 0x%X is not a multiple of the sector size", name, size)
	}
	return &NOR{
		name:   name,
		medium: medium,
		size:   size,
		erases: make(map[int64]int),
	}, nil
}

func (d *NOR) Name() string      { return d.name }
func (d *NOR) Size() int64       { return d.size }
func (d *NOR) BlockSize() int    { return NORPageSize }
func (d *NOR) EraseSizes() []int { return norEraseSizes }
func (d *NOR) Kind() Kind        { return KindNOR }
func (d *NOR) EraseUnit() int64  { return NORSectorSize }

// Erase erases whole sectors.
func (d *NOR) Erase(off, length int64) error {
	if err := checkAlign("erase offset", off, NORSectorSize); err != nil {
		return err
	}
	if err := checkAlign("erase length", length, NORSectorSize); err != nil {
		return err
	}
	if err := checkRange(d.name, off, length, d.size); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	blank := bytes.Repeat([]byte{0xFF}, NORSectorSize)
	for s := off; s < off+length; s += NORSectorSize {
		if _, err := d.medium.WriteAt(blank, s); err != nil {
			return errors.Wrapf(err, "nor %s: erase sector 0x%X", d.name, s)
		}
		d.erases[s/NORSectorSize]++
	}
	return nil
}

// WriteAt programs p at off. Bits already cleared stay cleared, so writing
// over data that was not erased corrupts it, as on real flash.
func (d *NOR) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange(d.name, off, int64(len(p)), d.size); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cur := make([]byte, len(p))
	if _, err := d.medium.ReadAt(cur, off); err != nil {
		return 0, errors.Wrapf(err, "nor %s: read 0x%X", d.name, off)
	}
	for i := range cur {
		cur[i] &= p[i]
	}
	if _, err := d.medium.WriteAt(cur, off); err != nil {
		return 0, errors.Wrapf(err, "nor %s: program 0x%X", d.name, off)
	}
	return len(p), nil
}

func (d *NOR) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(d.name, off, int64(len(p)), d.size); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.medium.ReadAt(p, off)
	if err != nil {
		return n, errors.Wrapf(err, "nor %s: read 0x%X", d.name, off)
	}
	return n, nil
}

// EraseCount reports how often the sector holding off was erased.
func (d *NOR) EraseCount(off int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.erases[off/NORSectorSize]
}

// Begin selects the hardware tweak for the boot loader component.
func (d *NOR) Begin(component string) error {
	if strings.Contains(component, splComponent) {
		d.setTweak(TweakHardware)
	}
	return nil
}

// End restores the user tweak after the boot loader component.
func (d *NOR) End(component string) error {
	if strings.Contains(component, splComponent) {
		d.setTweak(TweakUser)
	}
	return nil
}

// Tweak returns the currently selected encryption tweak.
func (d *NOR) Tweak() Tweak {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tweak
}

func (d *NOR) setTweak(t Tweak) {
	d.mu.Lock()
	d.tweak = t
	d.mu.Unlock()
}
