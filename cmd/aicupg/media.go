package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/moffa90/go-aicupg/storage"
)

// Default partition layouts per medium, as shipped on the reference boards.
var defaultParts = map[storage.Kind]string{
	storage.KindNOR:   "spi0:128k(spl0),128k(spl1),64k(env),64k(env_r),4m(os),-(rootfs)",
	storage.KindNAND:  "spi0:1m(spl),256k(env),256k(env_r),12m(os),-(rootfs)",
	storage.KindBlock: "mmc0:1m@17k(spl),256k(env),256k(env_r),16m(os),-(rootfs)",
}

// mediaFlags selects and lays out a file-backed flash image.
type mediaFlags struct {
	path  string
	kind  string
	size  string
	parts string
	fmap  string
	bad   string
}

func (m *mediaFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&m.path, "medium", "flash.bin", "flash image `file`, created if missing")
	fs.StringVar(&m.kind, "kind", "spi-nor", "medium type: spi-nor, spi-nand or mmc")
	fs.StringVar(&m.size, "size", "16m", "medium size, ignored for spi-nand")
	fs.StringVar(&m.parts, "parts", "", "partition table in mtdparts format (default per medium)")
	fs.StringVar(&m.fmap, "fmap", "", "read the partition table from a flash map in `file`")
	fs.StringVar(&m.bad, "bad", "", "comma separated spi-nand bad block numbers")
}

// medium is an opened flash image.
type medium struct {
	file  *os.File
	dev   storage.Device
	table *storage.Table
}

func (m *medium) Close() error {
	return m.file.Close()
}

func (m *mediaFlags) open() (*medium, error) {
	kind, err := storage.ParseKind(m.kind)
	if err != nil {
		return nil, err
	}

	var size int64
	geo := storage.DefaultGeometry
	if kind == storage.KindNAND {
		size = int64(geo.Blocks) * geo.BlockSize()
	} else if size, err = parseSize(m.size); err != nil {
		return nil, err
	}

	fill := byte(0xFF)
	if kind == storage.KindBlock {
		fill = 0
	}
	f, err := storage.OpenFile(m.path, size, fill)
	if err != nil {
		return nil, err
	}

	var dev storage.Device
	switch kind {
	case storage.KindNOR:
		dev, err = storage.NewNOR("spi-nor0", f, size)
	case storage.KindNAND:
		var bad []int
		bad, err = parseInts(m.bad)
		if err == nil {
			dev, err = storage.NewNAND("spi-nand0", f, geo, bad)
		}
	case storage.KindBlock:
		dev, err = storage.NewBlock("mmc0", f, size)
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	table, err := m.layout(dev)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &medium{file: f, dev: dev, table: table}, nil
}

func (m *mediaFlags) layout(dev storage.Device) (*storage.Table, error) {
	if m.fmap != "" {
		f, err := os.Open(m.fmap)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return storage.TableFromFMAP(f, dev)
	}
	parts := m.parts
	if parts == "" {
		parts = defaultParts[dev.Kind()]
	}
	return storage.ParseMTDParts(parts, dev)
}

// parseSize accepts a number with an optional k, m or g suffix.
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
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return v * mul, nil
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", f)
		}
		out = append(out, v)
	}
	return out, nil
}
