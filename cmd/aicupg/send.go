package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/moffa90/go-aicupg/host"
	"github.com/moffa90/go-aicupg/host/hidhost"
	"github.com/moffa90/go-aicupg/host/usbhost"
	"github.com/moffa90/go-aicupg/image"
	"github.com/moffa90/go-aicupg/transport/serialport"
)

const sendDescr = "send an upgrade image to a device over USB, HID, serial or TCP"

type connFlags struct {
	usb     bool
	busAddr string
	hid     bool
	hidPath string
	port    string
	baud    int
	tcp     string
}

func (c *connFlags) register(fs *flag.FlagSet) {
	fs.BoolVar(&c.usb, "usb", false, "use the USB bulk interface")
	fs.StringVar(&c.busAddr, "addr", "", "USB `bus:address` when several devices are attached")
	fs.BoolVar(&c.hid, "hid", false, "use the HID interface")
	fs.StringVar(&c.hidPath, "hidpath", "", "HID device `path` instead of the first match")
	fs.StringVar(&c.port, "port", "", "use serial port `DEV`")
	fs.IntVar(&c.baud, "baud", serialport.DefaultBaudRate, "serial baud rate")
	fs.StringVar(&c.tcp, "tcp", "", "connect to a device served on TCP `ADDR`")
}

// open returns the connection and the client options it needs.
func (c *connFlags) open() (io.ReadWriteCloser, []host.Option, error) {
	n := 0
	for _, set := range []bool{c.usb, c.hid || c.hidPath != "", c.port != "", c.tcp != ""} {
		if set {
			n++
		}
	}
	if n != 1 {
		return nil, nil, fmt.Errorf("select exactly one of -usb, -hid, -port and -tcp")
	}

	switch {
	case c.usb:
		conn, err := usbhost.Open(usbhost.DefaultVendor, usbhost.DefaultProduct, c.busAddr)
		return conn, []host.Option{host.WithPacketMode()}, err
	case c.hid || c.hidPath != "":
		var conn *hidhost.Conn
		var err error
		if c.hidPath != "" {
			conn, err = hidhost.OpenPath(c.hidPath)
		} else {
			conn, err = hidhost.Open(hidhost.DefaultVendor, hidhost.DefaultProduct)
		}
		return conn, []host.Option{host.WithPacketMode(), host.WithChunkSize(hidhost.ReportSize)}, err
	case c.port != "":
		p, err := serialport.Open(c.port, c.baud)
		if err == nil {
			err = p.Reset()
		}
		return p, nil, err
	default:
		conn, err := net.Dial("tcp", c.tcp)
		return conn, nil, err
	}
}

func sendMain(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [OPTIONS] IMAGE\n  %s -list\nOptions:\n", cmd, cmd)
		fs.PrintDefaults()
	}
	var cf connFlags
	cf.register(fs)
	list := fs.Bool("list", false, "list candidate devices and exit")
	retries := fs.Int("retries", 3, "resends of a failed chunk")
	timeout := fs.Duration("timeout", 10*time.Second, "per-command timeout")
	verify := fs.Bool("verify", false, "read the components back and check their CRC")
	protect := fs.String("protect", "", "partitions the device protects, skipped by -verify")
	quiet := fs.Bool("q", false, "no progress bar")
	fs.Parse(args)

	if *list {
		listDevices()
		return
	}
	if fs.NArg() != 1 {
		usageErr(fs.Usage, "expected one IMAGE argument")
	}

	img, err := image.Parse(fs.Arg(0))
	fatalErr("", err)
	f, err := os.Open(fs.Arg(0))
	fatalErr("", err)
	defer f.Close()
	size := int64(img.Header.FileSize)

	conn, copts, err := cf.open()
	fatalErr("open device", err)
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := append(copts,
		host.WithLogger(glogLogger{}),
		host.WithRetries(*retries),
		host.WithTimeout(*timeout),
	)
	var bar *transferBar
	if !*quiet {
		bar = newTransferBar(size, "sending")
		opts = append(opts, host.WithProgressCallback(bar.update))
	}
	c := host.New(conn, opts...)

	start := time.Now()
	err = c.SendImage(ctx, f, size)
	bar.close()
	fatalErr("send", err)
	fmt.Printf("sent %d bytes in %s, %d retries\n", size, time.Since(start).Round(time.Millisecond), c.Retries())

	if *verify {
		fatalErr("verify", verifyImage(ctx, c, f, img, image.ParseProtection(*protect)))
	}
}

// verifyImage reads the written components back in image order and
// compares each with the image.
func verifyImage(ctx context.Context, c *host.Client, r io.ReaderAt, img *image.Image, protect image.ProtectionList) error {
	comps := img.Filter(protect)
	sort.Slice(comps, func(i, j int) bool { return comps[i].Offset < comps[j].Offset })

	var total int64
	for _, comp := range comps {
		total += int64(comp.Size)
	}
	var got bytes.Buffer
	if err := c.ReadBack(ctx, &got, total); err != nil {
		return err
	}

	data := got.Bytes()
	failed := 0
	for _, comp := range comps {
		back := data[:comp.Size]
		data = data[comp.Size:]

		want := make([]byte, comp.Size)
		if _, err := r.ReadAt(want, int64(comp.Offset)); err != nil {
			return fmt.Errorf("read %s from image: %w", comp.Name, err)
		}
		crc := image.Checksum(back)
		if !bytes.Equal(back, want) {
			fmt.Printf("  %-16s MISMATCH crc %08x want %08x\n", comp.Name, crc, comp.CRC)
			failed++
			continue
		}
		fmt.Printf("  %-16s ok crc %08x\n", comp.Name, crc)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d components differ", failed, len(comps))
	}
	return nil
}

func listDevices() {
	if devs, err := usbhost.List(usbhost.DefaultVendor, usbhost.DefaultProduct); err != nil {
		fmt.Printf("usb: %v\n", err)
	} else {
		for _, d := range devs {
			fmt.Printf("usb   %s\n", d)
		}
	}
	if devs, err := hidhost.List(hidhost.DefaultVendor, hidhost.DefaultProduct); err != nil {
		fmt.Printf("hid: %v\n", err)
	} else {
		for _, d := range devs {
			fmt.Printf("hid   %s %s (interface %d)\n", d.Path, d.Product, d.Interface)
		}
	}
	if ports, err := serialport.List(); err != nil {
		fmt.Printf("serial: %v\n", err)
	} else {
		for _, p := range ports {
			fmt.Printf("serial %s\n", p)
		}
	}
}
