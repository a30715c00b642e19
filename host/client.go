package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/moffa90/go-aicupg/protocol"
)

// ErrRetriesExhausted is wrapped around the last status error when a
// WRITE still fails after the configured number of resumes.
var ErrRetriesExhausted = errors.New("retries exhausted")

const (
	phaseSending = "sending"
	phaseReading = "reading"
	phaseDone    = "complete"
)

// deadliner is implemented by net.Conn and serial ports.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// Client drives command/status cycles against a device.
//
// Client is safe for concurrent use; commands are serialized.
type Client struct {
	rw     io.ReadWriter
	config Config

	mu      sync.Mutex
	tag     uint32
	retries int
}

// New creates a Client talking over rw.
//
// Example:
//
//	port, _ := serialport.Open("/dev/ttyUSB0", 115200)
//	c := host.New(port, host.WithRetries(5))
//	err := c.SendImage(ctx, f, size)
func New(rw io.ReadWriter, opts ...Option) *Client {
	if rw == nil {
		panic("connection cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Client{rw: rw, config: cfg}
}

// Write sends data in one WRITE command. When the device reports an I/O
// failure it has consumed everything except the last residue bytes, so
// only that tail is sent again, as a new command. An integrity failure
// is returned at once as a *protocol.StatusError.
func (c *Client) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		csw, err := c.cycleOut(ctx, data)
		if err != nil {
			return err
		}
		if csw.Passed() {
			return nil
		}

		serr := csw.Err().(*protocol.StatusError)
		if serr.IsIntegrity() {
			c.logError("device rejected data", "tag", serr.Tag, "residue", serr.Residue)
			return serr
		}
		if serr.Residue == 0 || int(serr.Residue) > len(data) {
			return serr
		}
		if attempt >= c.config.Retries {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt+1, serr)
		}

		c.retries++
		c.logDebug("resuming write", "tag", serr.Tag, "residue", serr.Residue, "attempt", attempt+1)
		data = data[len(data)-int(serr.Residue):]
	}
}

// Read issues one READ command for n bytes. On failure it returns the
// bytes the device reported as valid together with a *protocol.StatusError.
func (c *Client) Read(ctx context.Context, n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.cycleIn(ctx, n)
}

// SendImage streams size bytes from r in commands of CommandSize bytes.
//
// Example:
//
//	f, _ := os.Open("d21x_demo.img")
//	st, _ := f.Stat()
//	err := c.SendImage(ctx, f, st.Size())
func (c *Client) SendImage(ctx context.Context, r io.Reader, size int64) error {
	start := time.Now()
	buf := make([]byte, c.config.CommandSize)

	c.report(phaseSending, 0, size, start)
	for done := int64(0); done < size; {
		n := int64(len(buf))
		if size-done < n {
			n = size - done
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return fmt.Errorf("read image at %d: %w", done, err)
		}
		if err := c.Write(ctx, buf[:n]); err != nil {
			return fmt.Errorf("send image at %d: %w", done, err)
		}
		done += n
		c.report(phaseSending, done, size, start)
	}

	c.report(phaseDone, size, size, start)
	c.logInfo("image sent", "bytes", size, "elapsed", time.Since(start).String(), "retries", c.Retries())
	return nil
}

// ReadBack reads size bytes from the device into w in commands of
// CommandSize bytes.
func (c *Client) ReadBack(ctx context.Context, w io.Writer, size int64) error {
	start := time.Now()

	c.report(phaseReading, 0, size, start)
	for done := int64(0); done < size; {
		n := int64(c.config.CommandSize)
		if size-done < n {
			n = size - done
		}
		data, err := c.Read(ctx, int(n))
		if err != nil {
			return fmt.Errorf("read back at %d: %w", done, err)
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		done += n
		c.report(phaseReading, done, size, start)
	}

	c.report(phaseDone, size, size, start)
	return nil
}

// Retries returns the number of WRITE commands resumed so far.
func (c *Client) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

func (c *Client) nextTag() uint32 {
	c.tag++
	return c.tag
}

// cycleOut runs one WRITE cycle.
func (c *Client) cycleOut(ctx context.Context, data []byte) (*protocol.StatusBlock, error) {
	defer c.watch(ctx)()

	tag := c.nextTag()
	cmd, err := protocol.BuildWriteCmd(tag, uint32(len(data)))
	if err != nil {
		return nil, err
	}
	if err := c.send(cmd); err != nil {
		return nil, c.ioErr(ctx, "write command", err)
	}

	for off := 0; off < len(data); {
		end := off + c.config.ChunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := c.send(data[off:end]); err != nil {
			return nil, c.ioErr(ctx, "write data", err)
		}
		off = end
	}

	return c.readStatus(ctx, tag)
}

// cycleIn runs one READ cycle.
func (c *Client) cycleIn(ctx context.Context, n int) ([]byte, error) {
	defer c.watch(ctx)()

	tag := c.nextTag()
	cmd, err := protocol.BuildReadCmd(tag, uint32(n))
	if err != nil {
		return nil, err
	}
	if err := c.send(cmd); err != nil {
		return nil, c.ioErr(ctx, "write command", err)
	}

	data := make([]byte, n)
	got := 0
	if c.config.PacketMode {
		for got < n {
			m, err := c.rw.Read(data[got:])
			if err != nil {
				return nil, c.ioErr(ctx, "read data", err)
			}
			if m == protocol.StatusBlockSize {
				if csw, ok := asStatus(data[got:got+m], tag); ok {
					// early status, the device stopped sending
					return data[:got], statusErr(csw)
				}
			}
			got += m
		}
	} else if _, err := io.ReadFull(c.rw, data); err != nil {
		return nil, c.ioErr(ctx, "read data", err)
	}

	csw, err := c.readStatus(ctx, tag)
	if err != nil {
		return nil, err
	}
	if !csw.Passed() {
		valid := n - int(csw.DataResidue)
		if valid < 0 {
			valid = 0
		}
		return data[:valid], csw.Err()
	}
	return data, nil
}

// readStatus reads the status block of tag.
func (c *Client) readStatus(ctx context.Context, tag uint32) (*protocol.StatusBlock, error) {
	frame := make([]byte, protocol.StatusBlockSize)
	if _, err := io.ReadFull(c.rw, frame); err != nil {
		return nil, c.ioErr(ctx, "read status", err)
	}

	csw, err := protocol.ParseStatusBlock(frame)
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if csw.Tag != tag {
		return nil, &protocol.FrameError{Field: "tag", Got: csw.Tag, Want: tag}
	}

	c.logDebug("status", "tag", tag, "status", csw.Status, "residue", csw.DataResidue)
	return csw, nil
}

func (c *Client) send(p []byte) error {
	_, err := c.rw.Write(p)
	return err
}

// watch applies the command deadline and makes cancellation of ctx
// interrupt blocked I/O. The returned func undoes both.
func (c *Client) watch(ctx context.Context) func() {
	d, ok := c.rw.(deadliner)
	if !ok {
		return func() {}
	}

	deadline, has := ctx.Deadline()
	if c.config.Timeout > 0 {
		if t := time.Now().Add(c.config.Timeout); !has || t.Before(deadline) {
			deadline, has = t, true
		}
	}
	if has {
		_ = d.SetDeadline(deadline)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = d.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		stop()
		_ = d.SetDeadline(time.Time{})
	}
}

// ioErr prefers the context error when ctx ended the I/O.
func (c *Client) ioErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	c.logError(op+" failed", "error", err)
	return fmt.Errorf("%s: %w", op, err)
}

func (c *Client) report(phase string, done, total int64, start time.Time) {
	if c.config.ProgressCallback == nil {
		return
	}
	pct := 100.0
	if total > 0 {
		pct = float64(done) / float64(total) * 100
	}
	c.config.ProgressCallback(Progress{
		Phase:       phase,
		Percentage:  pct,
		BytesDone:   done,
		TotalBytes:  total,
		Retries:     c.Retries(),
		ElapsedTime: time.Since(start),
	})
}

// asStatus reports whether frame is the status block of tag.
func asStatus(frame []byte, tag uint32) (*protocol.StatusBlock, bool) {
	csw, err := protocol.ParseStatusBlock(frame)
	if err != nil || csw.Tag != tag {
		return nil, false
	}
	return csw, true
}

func statusErr(csw *protocol.StatusBlock) error {
	if err := csw.Err(); err != nil {
		return err
	}
	return fmt.Errorf("short read: %w", io.ErrUnexpectedEOF)
}

func (c *Client) logDebug(msg string, keysAndValues ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Info(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, keysAndValues ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Error(msg, keysAndValues...)
	}
}
