package storage

import (
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/linuxboot/fiano/pkg/fmap"
	"github.com/pkg/errors"
)

// Partition is a named window on a Device. It implements Backend and
// forwards Sessioner calls to the device.
type Partition struct {
	name string
	dev  Device
	off  int64
	size int64
}

func (p *Partition) Name() string      { return p.name }
func (p *Partition) Size() int64       { return p.size }
func (p *Partition) BlockSize() int    { return p.dev.BlockSize() }
func (p *Partition) EraseSizes() []int { return p.dev.EraseSizes() }

// Offset returns the device offset of the partition.
func (p *Partition) Offset() int64 { return p.off }

// Device returns the underlying device.
func (p *Partition) Device() Device { return p.dev }

func (p *Partition) Erase(off, length int64) error {
	if err := checkRange(p.name, off, length, p.size); err != nil {
		return err
	}
	return p.dev.Erase(p.off+off, length)
}

func (p *Partition) WriteAt(b []byte, off int64) (int, error) {
	if err := checkRange(p.name, off, int64(len(b)), p.size); err != nil {
		return 0, err
	}
	return p.dev.WriteAt(b, p.off+off)
}

func (p *Partition) ReadAt(b []byte, off int64) (int, error) {
	if err := checkRange(p.name, off, int64(len(b)), p.size); err != nil {
		return 0, err
	}
	return p.dev.ReadAt(b, p.off+off)
}

func (p *Partition) Begin(component string) error {
	if s, ok := p.dev.(Sessioner); ok {
		return s.Begin(component)
	}
	return nil
}

func (p *Partition) End(component string) error {
	if s, ok := p.dev.(Sessioner); ok {
		return s.End(component)
	}
	return nil
}

// Table is a partition table on one device. It implements Resolver.
type Table struct {
	dev    Device
	parts  []*Partition
	byName map[string]*Partition
}

// NewTable returns an empty partition table for dev.
func NewTable(dev Device) *Table {
	return &Table{dev: dev, byName: make(map[string]*Partition)}
}

// Device returns the device the table partitions.
func (t *Table) Device() Device { return t.dev }

// Add appends a partition. Offset and size must be aligned to the
// smallest erase size of the device, or to its block size when the
// device has no erase.
func (t *Table) Add(name string, off, size int64) error {
	if name == "" {
		return errors.New("partition name is empty")
	}
	if _, dup := t.byName[name]; dup {
		return errors.Errorf("duplicate partition %q", name)
	}
	if size <= 0 {
		return errors.Errorf("partition %q: size must be positive", name)
	}

	unit := partitionAlign(t.dev)
	if err := checkAlign("partition "+name+" offset", off, unit); err != nil {
		return err
	}
	if err := checkAlign("partition "+name+" size", size, unit); err != nil {
		return err
	}
	if err := checkRange(t.dev.Name(), off, size, t.dev.Size()); err != nil {
		return errors.Wrapf(err, "partition %q", name)
	}

	p := &Partition{name: name, dev: t.dev, off: off, size: size}
	t.parts = append(t.parts, p)
	t.byName[name] = p
	return nil
}

// Partition resolves name to a backend.
func (t *Table) Partition(name string) (Backend, error) {
	if p, ok := t.byName[name]; ok {
		return p, nil
	}
	return nil, errors.Wrapf(ErrPartitionNotFound, "%q on %s", name, t.dev.Name())
}

// Lookup returns the named partition.
func (t *Table) Lookup(name string) (*Partition, bool) {
	p, ok := t.byName[name]
	return p, ok
}

// Partitions returns the partitions in offset order.
func (t *Table) Partitions() []*Partition {
	out := append([]*Partition(nil), t.parts...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].off < out[j].off })
	return out
}

// Names returns the partition names in offset order.
func (t *Table) Names() []string {
	var names []string
	for _, p := range t.Partitions() {
		names = append(names, p.name)
	}
	return names
}

func partitionAlign(dev Device) int64 {
	sizes := dev.EraseSizes()
	if len(sizes) == 0 {
		return int64(dev.BlockSize())
	}
	min := sizes[0]
	for _, s := range sizes {
		if s < min {
			min = s
		}
	}
	return int64(min)
}

// ParseMTDParts builds a table from an mtdparts string:
//
//	[mtd-id:]<size>[@<offset>](<name>)[,<size>[@<offset>](<name>)...]
//
// Sizes take an optional k, m or g suffix and may be written in hex.
// A size of "-" extends the partition to the end of the device. Without
// an explicit offset a partition starts where the previous one ended.
//
// Example:
//
//	t, err := storage.ParseMTDParts("spi0:128k(spl0),128k(spl1),1m(os),-(rootfs)", nor)
func ParseMTDParts(s string, dev Device) (*Table, error) {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}

	t := NewTable(dev)
	var next int64
	for _, def := range strings.Split(s, ",") {
		def = strings.TrimSpace(def)
		if def == "" {
			continue
		}

		open := strings.IndexByte(def, '(')
		if open < 0 || !strings.HasSuffix(def, ")") {
			return nil, errors.Errorf("mtdparts: %q has no (name)", def)
		}
		name := def[open+1 : len(def)-1]
		spec := def[:open]

		off := next
		if at := strings.IndexByte(spec, '@'); at >= 0 {
			v, err := parseSize(spec[at+1:])
			if err != nil {
				return nil, errors.Wrapf(err, "mtdparts: %s offset", name)
			}
			off = v
			spec = spec[:at]
		}

		var size int64
		if spec == "-" {
			size = dev.Size() - off
		} else {
			v, err := parseSize(spec)
			if err != nil {
				return nil, errors.Wrapf(err, "mtdparts: %s size", name)
			}
			size = v
		}

		if err := t.Add(name, off, size); err != nil {
			return nil, errors.Wrap(err, "mtdparts")
		}
		next = off + size
	}

	if len(t.parts) == 0 {
		return nil, errors.New("mtdparts: no partitions")
	}
	return t, nil
}

func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	mul := int64(1)
	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'k', 'K':
			mul = 1 << 10
		case 'm', 'M':
			mul = 1 << 20
		case 'g', 'G':
			mul = 1 << 30
		}
		if mul != 1 {
			s = s[:n-1]
		}
	}

	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid size %q", s)
	}
	return v * mul, nil
}

// TableFromFMAP builds a table from a flash map. The reader may hold a
// whole flash image; the first __FMAP__ structure found is used. Area
// offsets are taken relative to the device, and areas of zero size are
// ignored.
func TableFromFMAP(r io.Reader, dev Device) (*Table, error) {
	f, _, err := fmap.Read(r)
	if err != nil {
		return nil, errors.Wrap(err, "read fmap")
	}

	t := NewTable(dev)
	for i := range f.Areas {
		a := &f.Areas[i]
		if a.Size == 0 {
			continue
		}
		if err := t.Add(a.Name.String(), int64(a.Offset), int64(a.Size)); err != nil {
			return nil, errors.Wrap(err, "fmap")
		}
	}

	if len(t.parts) == 0 {
		return nil, errors.New("fmap: no areas")
	}
	return t, nil
}
