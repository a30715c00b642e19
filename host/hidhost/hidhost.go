// Package hidhost talks to an upgrade-mode device through its HID
// interface.
//
// Every transfer is one fixed-size report. Writes are split into
// ReportSize pieces and the last piece is zero padded; reads return at
// most one report and drop what the caller has no room for. Commands and
// status blocks therefore travel in reports of their own, and data
// phases must be sent in multiples of ReportSize:
//
//	dev, err := hidhost.Open(hidhost.DefaultVendor, hidhost.DefaultProduct)
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//	c := host.New(dev,
//	    host.WithPacketMode(),
//	    host.WithChunkSize(hidhost.ReportSize))
package hidhost

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	hid "github.com/sstallion/go-hid"
)

const (
	DefaultVendor  = 0x33c3
	DefaultProduct = 0x8899

	// ReportSize is the payload of one input or output report.
	ReportSize = 1024
)

// ErrNotFound is returned by Open when no matching device is attached.
var ErrNotFound = errors.New("hid device not found")

// Device describes an attached HID interface.
type Device struct {
	Path      string
	Product   string
	Serial    string
	Interface int
}

// List returns the attached HID interfaces with the given IDs.
func List(vendor, product uint16) ([]Device, error) {
	if err := hid.Init(); err != nil {
		return nil, err
	}
	var devs []Device
	err := hid.Enumerate(vendor, product, func(info *hid.DeviceInfo) error {
		devs = append(devs, Device{
			Path:      info.Path,
			Product:   info.ProductStr,
			Serial:    info.SerialNbr,
			Interface: info.InterfaceNbr,
		})
		return nil
	})
	return devs, err
}

// report is the subset of *hid.Device used by Conn.
type report interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	ReadWithTimeout(p []byte, timeout time.Duration) (int, error)
	Close() error
}

// Conn is an open HID interface.
type Conn struct {
	dev report

	mu       sync.Mutex
	deadline time.Time

	out [ReportSize + 1]byte
	in  [ReportSize]byte
}

// Open opens the first HID interface with the given IDs.
func Open(vendor, product uint16) (*Conn, error) {
	devs, err := List(vendor, product)
	if err != nil {
		return nil, err
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("%w: %04x:%04x", ErrNotFound, vendor, product)
	}
	return OpenPath(devs[0].Path)
}

// OpenPath opens the HID interface at a platform path as reported by
// List.
func OpenPath(path string) (*Conn, error) {
	if err := hid.Init(); err != nil {
		return nil, err
	}
	dev, err := hid.OpenPath(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return newConn(dev), nil
}

func newConn(dev report) *Conn {
	return &Conn{dev: dev}
}

// SetDeadline bounds subsequent reads. Writes to a HID device complete
// without waiting for the host side.
func (c *Conn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

// Write sends p as a sequence of output reports.
func (c *Conn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		// Report ID 0: the device uses unnumbered reports.
		c.out[0] = 0
		n := copy(c.out[1:], p[written:])
		clear(c.out[1+n:])
		if _, err := c.dev.Write(c.out[:]); err != nil {
			return written, fmt.Errorf("hid write: %w", err)
		}
		written += n
	}
	return written, nil
}

// Read receives one input report and copies its head into p.
func (c *Conn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var n int
	var err error
	if deadline.IsZero() {
		n, err = c.dev.Read(c.in[:])
	} else {
		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, fmt.Errorf("hid read: %w", os.ErrDeadlineExceeded)
		}
		n, err = c.dev.ReadWithTimeout(c.in[:], wait)
	}
	if errors.Is(err, hid.ErrTimeout) {
		err = os.ErrDeadlineExceeded
	}
	if err != nil {
		return 0, fmt.Errorf("hid read: %w", err)
	}
	if n == 0 {
		return 0, io.ErrNoProgress
	}
	return copy(p, c.in[:n]), nil
}

// Close closes the device.
func (c *Conn) Close() error {
	return c.dev.Close()
}
