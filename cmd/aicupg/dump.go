package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"zappem.net/pub/debug/xxd"
)

const dumpDescr = "hex dump a region of a flash image, a partition or any file"

func dumpMain(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [OPTIONS] [FILE]\n  %s [OPTIONS] -part NAME\nOptions:\n", cmd, cmd)
		fs.PrintDefaults()
	}
	var mf mediaFlags
	mf.register(fs)
	part := fs.String("part", "", "dump partition `NAME` of the medium")
	off := fs.String("off", "0", "start offset")
	length := fs.String("len", "256", "number of bytes")
	fs.Parse(args)

	o, err := parseSize(*off)
	fatalErr("-off", err)
	l, err := parseSize(*length)
	fatalErr("-len", err)

	var r io.ReaderAt
	base := o
	switch {
	case *part != "":
		m, err := mf.open()
		fatalErr("open medium", err)
		defer m.Close()
		p, ok := m.table.Lookup(*part)
		if !ok {
			fatalErr("", fmt.Errorf("no partition %q, have %v", *part, m.table.Names()))
		}
		if o+l > p.Size() {
			l = p.Size() - o
		}
		r = p
		base = p.Offset() + o
	case fs.NArg() == 1:
		f, err := os.Open(fs.Arg(0))
		fatalErr("", err)
		defer f.Close()
		r = f
	case fs.NArg() == 0:
		m, err := mf.open()
		fatalErr("open medium", err)
		defer m.Close()
		r = m.dev
	default:
		usageErr(fs.Usage, "too many arguments")
	}
	if l <= 0 {
		return
	}

	buf := make([]byte, l)
	n, err := r.ReadAt(buf, o)
	if err != nil && err != io.EOF {
		fatalErr("read", err)
	}
	xxd.Print(int(base), buf[:n])
}
