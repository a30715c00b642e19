// Package serialport carries the upgrade protocol over a UART.
//
// A Port is a plain byte stream: use it with transfer.Serve on the device
// side and host.New on the host side, both in their default stream mode.
package serialport

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaudRate matches the boot ROM console rate.
const DefaultBaudRate = 115200

// pollInterval bounds a single blocking read so that deadlines and Close
// are noticed promptly.
const pollInterval = 100 * time.Millisecond

// Info describes an available serial port.
type Info struct {
	Name    string
	USB     bool
	VID     string
	PID     string
	Serial  string
	Product string
}

func (i Info) String() string {
	if !i.USB {
		return i.Name
	}
	return fmt.Sprintf("%s (%s:%s %s)", i.Name, i.VID, i.PID, i.Product)
}

// List returns the serial ports present on the system.
func List() ([]Info, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	infos := make([]Info, 0, len(ports))
	for _, p := range ports {
		infos = append(infos, Info{
			Name:    p.Name,
			USB:     p.IsUSB,
			VID:     p.VID,
			PID:     p.PID,
			Serial:  p.SerialNumber,
			Product: p.Product,
		})
	}
	return infos, nil
}

// Port is an open serial port with deadline support.
type Port struct {
	port serial.Port
	name string

	mu       sync.Mutex
	deadline time.Time
}

// Open opens name at baud, 8N1. A baud of 0 selects DefaultBaudRate.
func Open(name string, baud int) (*Port, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return newPort(p, name), nil
}

func newPort(p serial.Port, name string) *Port {
	return &Port{port: p, name: name}
}

// Name returns the device path the port was opened with.
func (p *Port) Name() string { return p.name }

// SetDeadline bounds subsequent reads. A zero value disables the bound.
func (p *Port) SetDeadline(t time.Time) error {
	p.mu.Lock()
	p.deadline = t
	p.mu.Unlock()
	return nil
}

// Read blocks until at least one byte arrives, the deadline passes or the
// port is closed.
func (p *Port) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for {
		p.mu.Lock()
		deadline := p.deadline
		p.mu.Unlock()

		wait := pollInterval
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return 0, fmt.Errorf("read %s: %w", p.name, os.ErrDeadlineExceeded)
			}
			if left < wait {
				wait = left
			}
		}
		if err := p.port.SetReadTimeout(wait); err != nil {
			return 0, fmt.Errorf("read %s: %w", p.name, err)
		}

		n, err := p.port.Read(b)
		if err != nil {
			return n, fmt.Errorf("read %s: %w", p.name, err)
		}
		if n > 0 {
			return n, nil
		}
	}
}

// Write sends b and waits until it has left the output buffer.
func (p *Port) Write(b []byte) (int, error) {
	n, err := p.port.Write(b)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", p.name, err)
	}
	if err := p.port.Drain(); err != nil {
		return n, fmt.Errorf("drain %s: %w", p.name, err)
	}
	return n, nil
}

// Reset discards pending input and output, used before a new session to
// drop console noise.
func (p *Port) Reset() error {
	if err := p.port.ResetInputBuffer(); err != nil {
		return err
	}
	return p.port.ResetOutputBuffer()
}

// Close closes the port and unblocks a pending Read.
func (p *Port) Close() error {
	return p.port.Close()
}
