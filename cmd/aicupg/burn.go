package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/moffa90/go-aicupg/upgrade"
)

const burnDescr = "program a flash image from an upgrade image or a bootcfg.txt directory"

func burnMain(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [OPTIONS] IMAGE|DIR\nOptions:\n", cmd)
		fs.PrintDefaults()
	}
	var mf mediaFlags
	mf.register(fs)
	protect := fs.String("protect", "", "partitions to leave untouched, separated by ';' or ','")
	writeSize := fs.Int("ws", upgrade.DefaultWriteSize, "bytes read from the image per write")
	quiet := fs.Bool("q", false, "no progress bar")
	fs.Parse(args)
	if fs.NArg() != 1 {
		usageErr(fs.Usage, "expected one IMAGE or DIR argument")
	}

	m, err := mf.open()
	fatalErr("open medium", err)
	defer m.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := []upgrade.Option{
		upgrade.WithLogger(glogLogger{}),
		upgrade.WithProtection(*protect),
		upgrade.WithWriteSize(*writeSize),
	}
	var bar *upgradeBar
	if !*quiet {
		bar = newUpgradeBar()
		opts = append(opts, upgrade.WithProgressCallback(bar.update))
	}
	u := upgrade.New(m.table, opts...)

	src := fs.Arg(0)
	var res *upgrade.Result
	if st, serr := os.Stat(src); serr == nil && st.IsDir() {
		var cfg *upgrade.BootConfig
		cfg, err = readBootConfig(src)
		fatalErr("", err)
		res, err = u.ProgramBootConfig(ctx, os.DirFS(src), cfg, m.dev)
	} else {
		res, err = u.Program(ctx, src)
	}
	bar.close()
	printResult(res)
	fatalErr("burn", err)
}

func readBootConfig(dir string) (*upgrade.BootConfig, error) {
	f, err := os.Open(filepath.Join(dir, upgrade.BootConfigName))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return upgrade.ParseBootConfig(f)
}

func printResult(res *upgrade.Result) {
	if res == nil {
		return
	}
	if h := res.Header; h != nil {
		fmt.Printf("image: %s %s %s (%s)\n", h.Platform, h.Product, h.Version, h.MediaType)
	}
	for _, name := range res.Skipped {
		fmt.Printf("  %-16s skipped (protected)\n", name)
	}
	for _, cr := range res.Components {
		status := "ok"
		if cr.Err != nil {
			status = cr.Err.Error()
		}
		fmt.Printf("  %-16s -> %-12s %9d bytes crc %08x %8s  %s\n",
			cr.Name, cr.Partition, cr.Transferred, cr.CRC, cr.Elapsed.Round(1e6), status)
	}
	fmt.Printf("%d bytes in %s\n", res.BytesWritten, res.Elapsed.Round(1e6))
}
