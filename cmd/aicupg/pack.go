package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/moffa90/go-aicupg/image"
)

const packDescr = "build an upgrade image from component files"

func packMain(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr,
			"Usage:\n  %s [OPTIONS] NAME=PARTITIONS:FILE...\n"+
				"Example:\n  %s -o fw.img target.spl=spl0;spl1:spl.bin image.rootfs=rootfs:rootfs.hex\n"+
				"Options:\n", cmd, cmd)
		fs.PrintDefaults()
	}
	out := fs.String("o", "upgrade.img", "output `file`")
	platform := fs.String("platform", "d21x", "SoC platform")
	product := fs.String("product", "", "product name")
	version := fs.String("version", "", "firmware version")
	media := fs.String("media", "spi-nor", "boot medium type")
	devID := fs.Uint("devid", 0, "boot medium controller instance")
	align := fs.Int("align", image.DefaultAlign, "payload alignment")
	fs.Parse(args)
	if fs.NArg() == 0 {
		usageErr(fs.Usage, "no components")
	}

	b := image.NewBuilder(image.Header{
		Platform:   *platform,
		Product:    *product,
		Version:    *version,
		MediaType:  *media,
		MediaDevID: uint32(*devID),
	})
	fatalErr("-align", b.SetAlign(*align))

	for _, arg := range fs.Args() {
		name, parts, file, err := parseComponentArg(arg)
		fatalErr("", err)
		data, err := image.LoadPayload(file)
		fatalErr(file, err)
		var attr uint32
		if strings.EqualFold(*media, "mmc") {
			attr = image.AttrBlockDevice
		}
		b.AddComponent(name, parts, data, attr)
	}

	blob, err := b.Bytes()
	fatalErr("pack", err)
	fatalErr("", os.WriteFile(*out, blob, 0o644))

	for _, c := range b.Components() {
		fmt.Printf("  %-16s -> %-16s %9d bytes at 0x%06X crc %08x\n", c.Name, c.Partition, c.Size, c.Offset, c.CRC)
	}
	fmt.Printf("%s: %d bytes\n", *out, len(blob))
}

// parseComponentArg splits NAME=PARTITIONS:FILE.
func parseComponentArg(arg string) (name, parts, file string, err error) {
	eq := strings.IndexByte(arg, '=')
	colon := strings.IndexByte(arg, ':')
	if eq <= 0 || colon < eq {
		return "", "", "", fmt.Errorf("component %q is not NAME=PARTITIONS:FILE", arg)
	}
	name, parts, file = arg[:eq], arg[eq+1:colon], arg[colon+1:]
	if file == "" {
		return "", "", "", fmt.Errorf("component %q has no file", arg)
	}
	return name, parts, file, nil
}
