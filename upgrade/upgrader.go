package upgrade

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/moffa90/go-aicupg/fwc"
	"github.com/moffa90/go-aicupg/image"
	"github.com/moffa90/go-aicupg/storage"
)

// ComponentResult describes how one component was written.
type ComponentResult struct {
	Name      string
	Partition string

	// Size is the declared payload size
	Size int64

	// Transferred is the number of payload bytes accepted by the writer
	Transferred int64

	// CRC is the CRC-32 of the data read back from the first partition
	CRC uint32

	// Expected is the CRC-32 from the image metadata
	Expected uint32

	Elapsed time.Duration

	// Err is nil when the component was written and verified
	Err error
}

// OK reports whether the component was written and verified.
func (r ComponentResult) OK() bool { return r.Err == nil }

// Result summarizes an upgrade.
type Result struct {
	Header *image.Header

	// Components lists the attempted components in image order
	Components []ComponentResult

	// Skipped names the components excluded by the protection list
	Skipped []string

	BytesWritten int64
	Elapsed      time.Duration
}

// Upgrader writes upgrade images read from a file or any io.ReaderAt.
// Bytes are fed to the component writer in block-aligned chunks, one
// component at a time.
type Upgrader struct {
	resolver storage.Resolver
	config   Config
}

// New creates an Upgrader that resolves partition names with resolver.
//
// Example:
//
//	table, _ := storage.ParseMTDParts("spi0:128k(spl0),128k(spl1),-(rootfs)", nor)
//	u := upgrade.New(table,
//	    upgrade.WithProtection("env"),
//	    upgrade.WithProgressCallback(progressFunc),
//	)
func New(resolver storage.Resolver, opts ...Option) *Upgrader {
	if resolver == nil {
		panic("resolver cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Upgrader{resolver: resolver, config: cfg}
}

// Program writes the image file at path.
//
// Example:
//
//	res, err := u.Program(ctx, "d21x_demo.img")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d components written\n", len(res.Components))
func (u *Upgrader) Program(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	return u.ProgramReader(ctx, f)
}

// ProgramReader writes the image read from r:
//  1. Parse the header and the metadata table
//  2. Drop components hit by the protection list
//  3. For each component, resolve its partitions and stream its payload
//     through the component writer
//  4. Verify the read-back CRC of each component
//
// The first failing component stops the upgrade with a *ComponentError.
// The returned Result covers every component attempted so far.
func (u *Upgrader) ProgramReader(ctx context.Context, r io.ReaderAt) (*Result, error) {
	img, err := image.ParseReader(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	startTime := time.Now()
	res := &Result{Header: img.Header}

	var comps []*image.Component
	for _, c := range img.Components {
		if u.config.Protection.Protects(c) {
			u.logInfo("partition protected, skipped", "component", c.Name, "partition", c.Partition)
			res.Skipped = append(res.Skipped, c.Name)
			continue
		}
		comps = append(comps, c)
	}

	var total int64
	for _, c := range comps {
		total += int64(c.Size)
	}

	u.logInfo("upgrade started",
		"product", img.Header.Product,
		"version", img.Header.Version,
		"components", len(comps),
		"bytes", total,
	)

	tracker := newProgressTracker(u.config.ProgressCallback, int64(img.Header.FileSize))
	tracker.begin()

	for _, c := range comps {
		if err := ctx.Err(); err != nil {
			tracker.finish(err)
			return res, fmt.Errorf("cancelled: %w", err)
		}

		cr := u.programComponent(ctx, r, c, tracker)
		res.Components = append(res.Components, cr)
		res.BytesWritten += cr.Transferred
		logComponent(u.config.Logger, cr)

		if cr.Err != nil {
			tracker.finish(cr.Err)
			res.Elapsed = time.Since(startTime)
			return res, &ComponentError{Component: c.Name, Partition: c.Partition, Err: cr.Err}
		}
	}

	tracker.finish(nil)
	res.Elapsed = time.Since(startTime)

	u.logInfo("upgrade complete",
		"components", len(res.Components),
		"bytes", res.BytesWritten,
		"elapsed", res.Elapsed.String(),
	)
	return res, nil
}

// programComponent streams one component from r into its partitions.
func (u *Upgrader) programComponent(ctx context.Context, r io.ReaderAt, c *image.Component, tracker *progressTracker) (cr ComponentResult) {
	start := time.Now()
	cr = ComponentResult{
		Name:      c.Name,
		Partition: c.Partition,
		Size:      int64(c.Size),
		Expected:  c.CRC,
	}
	defer func() { cr.Elapsed = time.Since(start) }()

	set, err := fwc.Prepare(u.resolver, c.Partition)
	if err != nil {
		cr.Err = err
		return cr
	}
	w, err := fwc.Start(c, set)
	if err != nil {
		cr.Err = err
		return cr
	}

	u.logDebug("component started", "writer", w.String(), "block_size", w.BlockSize())

	chunk := u.config.WriteSize / w.BlockSize() * w.BlockSize()
	if chunk == 0 {
		chunk = w.BlockSize()
	}
	buf := make([]byte, chunk)

	for off := int64(0); off < cr.Size; {
		if err := ctx.Err(); err != nil {
			_ = w.End()
			cr.Err = err
			return finishResult(cr, w)
		}

		n := cr.Size - off
		if n > int64(chunk) {
			n = int64(chunk)
		}
		got, err := r.ReadAt(buf[:n], int64(c.Offset)+off)
		if int64(got) < n {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			_ = w.End()
			cr.Err = fmt.Errorf("read image at 0x%X: %w", int64(c.Offset)+off, err)
			return finishResult(cr, w)
		}

		if _, err := w.Write(buf[:n]); err != nil {
			_ = w.End()
			cr.Err = err
			return finishResult(cr, w)
		}
		off += n
		tracker.add(PhaseProgramming, c.Name, c.Partition, n)
	}

	tracker.add(PhaseVerifying, c.Name, c.Partition, 0)
	cr.Err = w.End()
	return finishResult(cr, w)
}

func finishResult(cr ComponentResult, w *fwc.Writer) ComponentResult {
	cr.Transferred = w.Transferred()
	cr.CRC = w.CRC()
	return cr
}

// logComponent prints the per-partition outcome line.
func logComponent(l Logger, cr ComponentResult) {
	if l == nil {
		return
	}

	if cr.Err != nil {
		l.Error("programming failed",
			"component", cr.Name,
			"partition", cr.Partition,
			"transferred", cr.Transferred,
			"error", cr.Err,
		)
		return
	}

	speed := 0.0
	if s := cr.Elapsed.Seconds(); s > 0 {
		speed = float64(cr.Transferred) / 1024 / s
	}
	l.Info("programming done",
		"component", cr.Name,
		"partition", cr.Partition,
		"size", cr.Size,
		"elapsed", cr.Elapsed.String(),
		"speed", fmt.Sprintf("%.2f KB/s", speed),
	)
}

func (u *Upgrader) logDebug(msg string, keysAndValues ...interface{}) {
	if u.config.Logger != nil {
		u.config.Logger.Debug(msg, keysAndValues...)
	}
}

func (u *Upgrader) logInfo(msg string, keysAndValues ...interface{}) {
	if u.config.Logger != nil {
		u.config.Logger.Info(msg, keysAndValues...)
	}
}
