package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/moffa90/go-aicupg/storage"
)

const partsDescr = "print the partition table of a flash image"

func partsMain(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [OPTIONS]\nOptions:\n", cmd)
		fs.PrintDefaults()
	}
	var mf mediaFlags
	mf.register(fs)
	fs.Parse(args)

	m, err := mf.open()
	fatalErr("open medium", err)
	defer m.Close()

	dev := m.dev
	fmt.Printf("%s: %s, %d bytes, program unit %d, erase unit %d\n",
		dev.Name(), dev.Kind(), dev.Size(), dev.BlockSize(), dev.EraseUnit())
	if nand, ok := dev.(*storage.NAND); ok {
		if bad := nand.BadBlocks(); len(bad) > 0 {
			fmt.Printf("bad blocks: %v\n", bad)
		}
	}
	for _, p := range m.table.Partitions() {
		fmt.Printf("  %-12s 0x%08X-0x%08X %9d bytes\n", p.Name(), p.Offset(), p.Offset()+p.Size(), p.Size())
	}
}
