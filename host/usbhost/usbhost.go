// Package usbhost opens an upgrade-mode device over a pair of USB bulk
// endpoints and exposes it as an io.ReadWriteCloser for host.Client.
//
// Bulk transfers keep packet boundaries, so clients should be created
// with host.WithPacketMode:
//
//	conn, err := usbhost.Open(usbhost.DefaultVendor, usbhost.DefaultProduct, "")
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//	c := host.New(conn, host.WithPacketMode())
package usbhost

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	usb "github.com/google/gousb"
)

// IDs the boot ROM and the SPL enumerate with in upgrade mode.
const (
	DefaultVendor  usb.ID = 0x33c3
	DefaultProduct usb.ID = 0x8899
)

// Device describes one attached device matching a vendor/product pair.
type Device struct {
	Bus     int
	Address int
	Vendor  usb.ID
	Product usb.ID
}

// BusAddr returns the "bus:address" form accepted by Open.
func (d Device) BusAddr() string {
	return fmt.Sprintf("%d:%d", d.Bus, d.Address)
}

func (d Device) String() string {
	return fmt.Sprintf("%s %s:%s", d.BusAddr(), d.Vendor, d.Product)
}

func parseBusAddr(busAddr string) (int, int) {
	s := strings.Split(busAddr, ":")
	if len(s) != 2 {
		return -1, -1
	}
	bus, err := strconv.ParseUint(s[0], 10, 8)
	if err != nil {
		return -1, -1
	}
	dev, err := strconv.ParseUint(s[1], 10, 8)
	if err != nil {
		return -1, -1
	}
	return int(bus), int(dev)
}

// List returns the attached devices with the given IDs without opening
// them.
func List(vendor, product usb.ID) ([]Device, error) {
	ctx := usb.NewContext()
	defer ctx.Close()

	var found []Device
	devs, err := ctx.OpenDevices(func(desc *usb.DeviceDesc) bool {
		if desc.Vendor == vendor && desc.Product == product {
			found = append(found, Device{
				Bus:     desc.Bus,
				Address: desc.Address,
				Vendor:  desc.Vendor,
				Product: desc.Product,
			})
		}
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	return found, err
}

// bulkSetting locates the first alternate setting carrying one bulk IN
// and one bulk OUT endpoint.
func bulkSetting(desc *usb.DeviceDesc) (cfg, intf, alt int, ok bool) {
	for _, c := range desc.Configs {
		for _, id := range c.Interfaces {
			for _, is := range id.AltSettings {
				var in, out bool
				for _, ed := range is.Endpoints {
					if ed.TransferType != usb.TransferTypeBulk {
						continue
					}
					if ed.Direction == usb.EndpointDirectionIn {
						in = true
					} else {
						out = true
					}
				}
				if in && out {
					return c.Number, id.Number, is.Alternate, true
				}
			}
		}
	}
	return 0, 0, 0, false
}

// Conn is an open bulk pipe to a device.
type Conn struct {
	usbCtx *usb.Context
	dev    *usb.Device
	cfg    *usb.Config
	intf   *usb.Interface
	ie     *usb.InEndpoint
	oe     *usb.OutEndpoint

	mu       sync.Mutex
	deadline time.Time
	abort    context.Context
	cancel   context.CancelFunc
}

// Open opens the device with the given IDs. busAddr ("bus:address")
// selects one device when several are attached; leave it empty
// otherwise.
func Open(vendor, product usb.ID, busAddr string) (conn *Conn, err error) {
	bus, addr := parseBusAddr(busAddr)
	if busAddr != "" && bus < 0 {
		return nil, errors.New("bad USB device address: " + busAddr)
	}

	var cn, in, an int
	ctx := usb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *usb.DeviceDesc) bool {
		if bus >= 0 && (desc.Bus != bus || desc.Address != addr) {
			return false
		}
		if desc.Vendor != vendor || desc.Product != product {
			return false
		}
		var ok bool
		cn, in, an, ok = bulkSetting(desc)
		return ok
	})
	defer func() {
		if err != nil {
			for _, d := range devs {
				d.Close()
			}
			ctx.Close()
		}
	}()
	if err != nil {
		return nil, err
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("no device %s:%s in upgrade mode found", vendor, product)
	}
	if len(devs) != 1 {
		return nil, errors.New("found more than one device in upgrade mode, select one by bus:address")
	}

	dev := devs[0]
	dev.SetAutoDetach(true)

	cfg, err := dev.Config(cn)
	if err != nil {
		return nil, err
	}
	intf, err := cfg.Interface(in, an)
	if err != nil {
		cfg.Close()
		return nil, err
	}

	var rxn, txn int
	for _, ed := range intf.Setting.Endpoints {
		if ed.TransferType != usb.TransferTypeBulk {
			continue
		}
		if ed.Direction == usb.EndpointDirectionIn {
			rxn = ed.Number
		} else {
			txn = ed.Number
		}
	}
	ie, err := intf.InEndpoint(rxn)
	if err == nil {
		var oe *usb.OutEndpoint
		oe, err = intf.OutEndpoint(txn)
		if err == nil {
			conn = &Conn{usbCtx: ctx, dev: dev, cfg: cfg, intf: intf, ie: ie, oe: oe}
			conn.abort, conn.cancel = context.WithCancel(context.Background())
			return conn, nil
		}
	}
	intf.Close()
	cfg.Close()
	return nil, err
}

// opContext bounds one transfer by the current deadline. A deadline set
// in the past also aborts transfers already in flight.
func (c *Conn) opContext() (context.Context, context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deadline.IsZero() {
		return context.WithCancel(c.abort)
	}
	return context.WithDeadline(c.abort, c.deadline)
}

// SetDeadline bounds subsequent transfers. A zero value disables the
// bound.
func (c *Conn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	if !t.IsZero() && !t.After(time.Now()) {
		c.cancel()
		c.abort, c.cancel = context.WithCancel(context.Background())
	}
	return nil
}

// Read receives one bulk IN transfer.
func (c *Conn) Read(p []byte) (int, error) {
	ctx, cancel := c.opContext()
	defer cancel()
	n, err := c.ie.ReadContext(ctx, p)
	return n, wrapErr("read", ctx, err)
}

// Write sends p as one bulk OUT transfer.
func (c *Conn) Write(p []byte) (int, error) {
	ctx, cancel := c.opContext()
	defer cancel()
	n, err := c.oe.WriteContext(ctx, p)
	return n, wrapErr("write", ctx, err)
}

// Close releases the interface and the device.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()

	c.intf.Close()
	err := c.cfg.Close()
	if e := c.dev.Close(); err == nil {
		err = e
	}
	if e := c.usbCtx.Close(); err == nil {
		err = e
	}
	return wrapErr("close", nil, err)
}

func wrapErr(op string, ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx != nil && ctx.Err() != nil {
		return fmt.Errorf("usb %s: %w", op, ctx.Err())
	}
	return fmt.Errorf("usb %s: %w", op, err)
}
