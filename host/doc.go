// Package host implements the host side of the command/status protocol.
//
// A Client wraps any io.ReadWriter connected to a device running a
// transfer.Session: a serial port, a USB bulk pipe, a HID device or a
// socket. Each call runs one or more command cycles:
//
//	c := host.New(port)
//	if err := c.SendImage(ctx, f, size); err != nil {
//	    log.Fatal(err)
//	}
//
// # Retries
//
// When a WRITE fails with protocol.StatusFailed the device has consumed
// all but the last residue bytes, so the client sends only that tail as a
// new WRITE, up to WithRetries times. A protocol.StatusIntegrity failure
// is never retried.
//
// # Stream and Packet Connections
//
// On byte streams the device drains a failed data phase before it sends
// the status, and the client reads exactly the announced lengths. On
// packet connections (WithPacketMode) the device may answer early; the
// client then recognizes the status block among the data packets.
//
// The subpackages usbhost and hidhost provide USB bulk and HID
// connections.
package host
