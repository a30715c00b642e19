package upgrade

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/moffa90/go-aicupg/image"
	"github.com/moffa90/go-aicupg/storage"
)

// BootConfigName is the file name looked up on removable media.
const BootConfigName = "bootcfg.txt"

// maxDirectWrites bounds the writeN keys.
const maxDirectWrites = 32

// BootConfig is a parsed bootcfg.txt. It selects one of two modes.
//
// Image mode writes a packed upgrade image:
//
//	boot0=d21x_demo.img
//	protection=env,userdata
//
// Direct mode writes raw files at device offsets:
//
//	writetype=spi-nor
//	writeintf=0
//	writeboot=bootloader.aic
//	write0=data0.bin,0x1000
//	write1=data.fatfs,0x3000,nftl
type BootConfig struct {
	// Image is the image file of image mode
	Image string

	// Protection is the raw protection list of image mode
	Protection string

	// WriteType is the target medium of direct mode
	WriteType storage.Kind

	// WriteIntf is the controller instance of direct mode
	WriteIntf int

	// Boot is the boot loader written first in direct mode (optional)
	Boot *DirectWrite

	// Writes are the writeN entries in index order
	Writes []DirectWrite
}

// DirectWrite is one file of direct mode.
type DirectWrite struct {
	File   string
	Offset int64

	// Attr is passed through from the config, for example "nftl"
	Attr string
}

// Direct reports whether the config selects direct mode.
func (c *BootConfig) Direct() bool { return c.Image == "" }

// Items returns the direct mode writes, boot loader first.
func (c *BootConfig) Items() []DirectWrite {
	var items []DirectWrite
	if c.Boot != nil {
		items = append(items, *c.Boot)
	}
	return append(items, c.Writes...)
}

// ParseBootConfig parses bootcfg.txt. Lines are key=value pairs; blank
// lines and lines starting with '#' are ignored. writeN keys are read from
// write0 upward and stop at the first missing index.
//
// Example:
//
//	f, _ := os.Open("/mnt/udisk/bootcfg.txt")
//	cfg, err := upgrade.ParseBootConfig(f)
func ParseBootConfig(r io.Reader) (*BootConfig, error) {
	kv := make(map[string]string)
	lines := make(map[string]int)

	sc := bufio.NewScanner(r)
	for ln := 1; sc.Scan(); ln++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			return nil, &BootConfigError{Line: ln, Key: line, Message: "expected key=value"}
		}
		key := strings.TrimSpace(line[:i])
		kv[key] = strings.TrimSpace(line[i+1:])
		lines[key] = ln
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read bootcfg: %w", err)
	}

	cfg := &BootConfig{}
	if v := kv["boot0"]; v != "" {
		cfg.Image, _, _ = splitDirect(v)
		cfg.Protection = kv["protection"]
		return cfg, nil
	}

	wt, ok := kv["writetype"]
	if !ok {
		return nil, &BootConfigError{Key: "writetype", Message: "not found"}
	}
	kind, err := storage.ParseKind(wt)
	if err != nil {
		return nil, &BootConfigError{Line: lines["writetype"], Key: "writetype", Message: err.Error()}
	}
	cfg.WriteType = kind

	if v, ok := kv["writeintf"]; ok {
		n, err := strconv.ParseUint(v, 0, 32)
		if err != nil {
			return nil, &BootConfigError{Line: lines["writeintf"], Key: "writeintf", Message: "invalid number " + strconv.Quote(v)}
		}
		cfg.WriteIntf = int(n)
	}

	if v, ok := kv["writeboot"]; ok {
		dw, err := parseDirectWrite(v)
		if err != nil {
			return nil, &BootConfigError{Line: lines["writeboot"], Key: "writeboot", Message: err.Error()}
		}
		cfg.Boot = &dw
	}

	for i := 0; i < maxDirectWrites; i++ {
		key := "write" + strconv.Itoa(i)
		v, ok := kv[key]
		if !ok {
			break
		}
		dw, err := parseDirectWrite(v)
		if err != nil {
			return nil, &BootConfigError{Line: lines[key], Key: key, Message: err.Error()}
		}
		cfg.Writes = append(cfg.Writes, dw)
	}
	return cfg, nil
}

// splitDirect splits "file[,offset[,attr]]".
func splitDirect(v string) (file, offset, attr string) {
	parts := strings.SplitN(v, ",", 3)
	file = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		offset = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		attr = strings.TrimSpace(parts[2])
	}
	return file, offset, attr
}

func parseDirectWrite(v string) (DirectWrite, error) {
	file, off, attr := splitDirect(v)
	if file == "" {
		return DirectWrite{}, fmt.Errorf("missing file name")
	}

	dw := DirectWrite{File: file, Attr: attr}
	if off != "" {
		n, err := strconv.ParseUint(off, 0, 63)
		if err != nil {
			return DirectWrite{}, fmt.Errorf("invalid offset %q", off)
		}
		dw.Offset = int64(n)
	}
	return dw, nil
}

// ProgramBootConfig runs cfg against the files in fsys. Image mode writes
// the image through the upgrader's resolver, adding cfg.Protection to the
// configured protection list. Direct mode writes to dev.
//
// Example:
//
//	fsys := os.DirFS("/mnt/udisk")
//	res, err := u.ProgramBootConfig(ctx, fsys, cfg, table.Device())
func (u *Upgrader) ProgramBootConfig(ctx context.Context, fsys fs.FS, cfg *BootConfig, dev storage.Device) (*Result, error) {
	if cfg.Direct() {
		return u.ProgramDirect(ctx, fsys, cfg, dev)
	}

	r, err := openReaderAt(fsys, cfg.Image)
	if err != nil {
		return nil, err
	}

	up := *u
	if cfg.Protection != "" {
		merged := image.ParseProtection(cfg.Protection)
		if merged == nil {
			merged = make(image.ProtectionList)
		}
		for name := range u.config.Protection {
			merged[name] = struct{}{}
		}
		up.config.Protection = merged
		u.logInfo("protected partitions", "list", cfg.Protection)
	}
	return up.ProgramReader(ctx, r)
}

// ProgramDirect writes the direct mode files of cfg to dev. Each file is
// erased, written and verified by read-back CRC like an image component.
func (u *Upgrader) ProgramDirect(ctx context.Context, fsys fs.FS, cfg *BootConfig, dev storage.Device) (*Result, error) {
	if dev.Kind() != cfg.WriteType {
		return nil, fmt.Errorf("direct mode targets %s, device %s is %s", cfg.WriteType, dev.Name(), dev.Kind())
	}

	items := cfg.Items()
	payloads := make([][]byte, len(items))
	var total int64
	for i, it := range items {
		data, err := readPayload(fsys, it.File)
		if err != nil {
			return nil, err
		}
		payloads[i] = data
		total += int64(len(data))
	}

	u.logInfo("direct upgrade started",
		"type", cfg.WriteType.String(),
		"intf", cfg.WriteIntf,
		"files", len(items),
	)

	startTime := time.Now()
	res := &Result{}
	tracker := newProgressTracker(u.config.ProgressCallback, total)
	tracker.begin()

	for i, it := range items {
		if err := ctx.Err(); err != nil {
			tracker.finish(err)
			return res, fmt.Errorf("cancelled: %w", err)
		}
		if it.Attr != "" {
			u.logInfo("write attribute not supported, writing raw", "file", it.File, "attr", it.Attr)
		}

		name := fmt.Sprintf("direct%d", i)
		table := storage.NewTable(dev)
		if err := table.Add(name, it.Offset, dev.Size()-it.Offset); err != nil {
			tracker.finish(err)
			return res, &ComponentError{Component: it.File, Partition: name, Err: err}
		}

		c := &image.Component{
			Name:      it.File,
			Partition: name,
			Size:      uint32(len(payloads[i])),
			CRC:       image.Checksum(payloads[i]),
		}
		up := &Upgrader{resolver: table, config: u.config}
		cr := up.programComponent(ctx, bytes.NewReader(payloads[i]), c, tracker)
		cr.Partition = fmt.Sprintf("%s@0x%X", dev.Name(), it.Offset)
		res.Components = append(res.Components, cr)
		res.BytesWritten += cr.Transferred
		logComponent(u.config.Logger, cr)

		if cr.Err != nil {
			tracker.finish(cr.Err)
			res.Elapsed = time.Since(startTime)
			return res, &ComponentError{Component: it.File, Partition: cr.Partition, Err: cr.Err}
		}
	}

	tracker.finish(nil)
	res.Elapsed = time.Since(startTime)
	return res, nil
}

// readPayload reads a direct mode file. Intel HEX files are flattened.
func readPayload(fsys fs.FS, name string) ([]byte, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".hex", ".ihex":
		if data, err = image.DecodeHex(data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	}
	return data, nil
}

// openReaderAt opens name in fsys for random access.
func openReaderAt(fsys fs.FS, name string) (io.ReaderAt, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	if ra, ok := f.(io.ReaderAt); ok {
		return ra, nil
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return bytes.NewReader(data), nil
}
