package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"

	"github.com/golang/glog"

	"github.com/moffa90/go-aicupg/transfer"
	"github.com/moffa90/go-aicupg/transport/serialport"
	"github.com/moffa90/go-aicupg/upgrade"
)

const serveDescr = "act as an upgrade-mode device backed by a flash image"

func serveMain(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [OPTIONS] -port DEV | -listen ADDR\nOptions:\n", cmd)
		fs.PrintDefaults()
	}
	var mf mediaFlags
	mf.register(fs)
	port := fs.String("port", "", "serve on serial port `DEV`")
	baud := fs.Int("baud", serialport.DefaultBaudRate, "serial baud rate")
	listen := fs.String("listen", "", "serve on TCP `ADDR`, one session per connection")
	protect := fs.String("protect", "", "partitions to leave untouched")
	chunk := fs.Int("chunk", 0, "packet buffer size (default 64 KiB)")
	maxBad := fs.Int("max-malformed", 0, "give up after N consecutive malformed commands, 0 for never")
	fs.Parse(args)
	if (*port == "") == (*listen == "") {
		usageErr(fs.Usage, "exactly one of -port and -listen is required")
	}

	m, err := mf.open()
	fatalErr("open medium", err)
	defer m.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sink := upgrade.NewSink(m.table,
		upgrade.WithLogger(glogLogger{}),
		upgrade.WithProtection(*protect),
	)
	opts := []transfer.Option{
		transfer.WithLogger(glogLogger{}),
		transfer.WithMaxMalformed(*maxBad),
	}
	if *chunk > 0 {
		opts = append(opts, transfer.WithChunkSize(*chunk))
	}

	if *port != "" {
		p, err := serialport.Open(*port, *baud)
		fatalErr("", err)
		_ = p.Reset()
		glog.Infof("serving on %s at %d baud", p.Name(), *baud)
		err = transfer.Serve(ctx, p, sink, opts...)
		report(sink)
		if err != nil && !errors.Is(err, context.Canceled) {
			fatalErr("serve", err)
		}
		return
	}

	ln, err := net.Listen("tcp", *listen)
	fatalErr("", err)
	context.AfterFunc(ctx, func() { ln.Close() })
	glog.Infof("serving on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fatalErr("accept", err)
		}
		glog.Infof("session from %s", conn.RemoteAddr())
		serveConn(ctx, conn, sink, opts...)
		if ctx.Err() != nil {
			return
		}
	}
}

// serveConn runs one session and leaves sink ready for the next one. An
// image the peer did not finish is dropped so that a reconnecting host
// starts over from the header.
func serveConn(ctx context.Context, conn net.Conn, sink *upgrade.Sink, opts ...transfer.Option) {
	err := transfer.Serve(ctx, conn, sink, opts...)
	conn.Close()
	if err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil {
		glog.Errorf("session: %v", err)
	}
	switch {
	case sink.Done():
		report(sink)
	case sink.Position() > 0:
		glog.Warningf("session ended at byte %d of the image, discarding it", sink.Position())
	default:
		return
	}
	sink.Reset()
}

func report(sink *upgrade.Sink) {
	res := &upgrade.Result{
		Header:     sink.Header(),
		Components: sink.Results(),
		Skipped:    sink.Skipped(),
	}
	for _, cr := range res.Components {
		res.BytesWritten += cr.Transferred
		res.Elapsed += cr.Elapsed
	}
	printResult(res)
}
