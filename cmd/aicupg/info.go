package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/moffa90/go-aicupg/image"
)

const infoDescr = "print the header and components of an upgrade image"

func infoMain(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [OPTIONS] IMAGE\nOptions:\n", cmd)
		fs.PrintDefaults()
	}
	protect := fs.String("protect", "", "mark the components a device would skip")
	check := fs.Bool("check", false, "verify the payload CRCs")
	fs.Parse(args)
	if fs.NArg() != 1 {
		usageErr(fs.Usage, "expected one IMAGE argument")
	}

	img, err := image.Parse(fs.Arg(0))
	fatalErr("", err)
	h := img.Header
	fmt.Printf("platform: %s\nproduct:  %s\nversion:  %s\nmedia:    %s (dev %d)\n",
		h.Platform, h.Product, h.Version, h.MediaType, h.MediaDevID)
	fmt.Printf("meta:     0x%X+0x%X\nfiles:    0x%X, image size %d\n",
		h.MetaOffset, h.MetaSize, h.FileOffset, h.FileSize)

	var f *os.File
	if *check {
		f, err = os.Open(fs.Arg(0))
		fatalErr("", err)
		defer f.Close()
	}

	pl := image.ParseProtection(*protect)
	bad := 0
	for _, c := range img.Components {
		note := ""
		if pl.Protects(c) {
			note = "protected"
		} else if f != nil {
			data := make([]byte, c.Size)
			if _, err := f.ReadAt(data, int64(c.Offset)); err != nil {
				fatalErr(c.Name, err)
			}
			if got := image.Checksum(data); got != c.CRC {
				note = fmt.Sprintf("BAD crc %08x", got)
				bad++
			} else {
				note = "crc ok"
			}
		}
		fmt.Printf("  %-16s -> %-16s %9d bytes at 0x%06X crc %08x  %s\n",
			c.Name, c.Partition, c.Size, c.Offset, c.CRC, note)
	}
	if bad > 0 {
		os.Exit(1)
	}
}
