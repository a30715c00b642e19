package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/moffa90/go-aicupg/storage"
)

const eraseDescr = "invalidate the boot loader or erase a range of a flash image"

func eraseMain(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [OPTIONS] -boot | -off OFF -len LEN | -part NAME\nOptions:\n", cmd)
		fs.PrintDefaults()
	}
	var mf mediaFlags
	mf.register(fs)
	boot := fs.Bool("boot", false, "erase the boot loader copies so the SoC enters upgrade mode")
	off := fs.String("off", "", "start of the range to erase")
	length := fs.String("len", "", "length of the range to erase")
	part := fs.String("part", "", "erase the whole partition `NAME`")
	fs.Parse(args)

	m, err := mf.open()
	fatalErr("open medium", err)
	defer m.Close()

	switch {
	case *boot:
		n, err := storage.EraseBoot(m.dev)
		fatalErr("erase boot", err)
		fmt.Printf("%d boot loader copies erased\n", n)

	case *part != "":
		p, ok := m.table.Lookup(*part)
		if !ok {
			fatalErr("", fmt.Errorf("no partition %q, have %v", *part, m.table.Names()))
		}
		fatalErr("erase", storage.EraseRange(m.dev, p.Offset(), p.Size()))
		fmt.Printf("%s erased: 0x%X bytes at 0x%X\n", *part, p.Size(), p.Offset())

	case *off != "" && *length != "":
		o, err := parseSize(*off)
		fatalErr("-off", err)
		l, err := parseSize(*length)
		fatalErr("-len", err)
		fatalErr("erase", storage.EraseRange(m.dev, o, l))
		fmt.Printf("erased 0x%X bytes at 0x%X\n", l, o)

	default:
		usageErr(fs.Usage, "nothing to erase")
	}
}
