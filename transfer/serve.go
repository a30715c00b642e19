package transfer

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"

	"github.com/moffa90/go-aicupg/protocol"
)

// pump is a Transport over a blocking io.ReadWriter. Recv and Send only
// record the operation; Serve performs it and reports the completion.
type pump struct {
	recv []byte
	send []byte
}

func (p *pump) Recv(b []byte) error {
	p.recv, p.send = b, nil
	return nil
}

func (p *pump) Send(b []byte) error {
	p.recv, p.send = nil, b
	return nil
}

// Serve runs a session over a blocking connection such as a serial port,
// a pipe or a socket until the peer closes it, an error occurs or ctx is
// cancelled. On cancellation rw is closed if it implements io.Closer, to
// unblock a pending read.
//
// A clean close by the peer between commands returns nil.
//
// Without packet mode a stray or lost byte would shift every later command
// window, so Serve slides the window to the next command signature
// whenever it does not hold a valid block. Each such window counts as one
// malformed command block.
//
// Example:
//
//	port, _ := serialport.Open("/dev/ttyUSB0", 115200)
//	err := transfer.Serve(ctx, port, sink)
func Serve(ctx context.Context, rw io.ReadWriter, h Handler, opts ...Option) error {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	// streams need the data phase drained to stay in sync
	all := append([]Option{WithDrain(!config.PacketMode)}, opts...)

	p := &pump{}
	s := NewSession(p, h, all...)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			if c, ok := rw.(io.Closer); ok {
				_ = c.Close()
			}
		case <-stop:
		}
	}()

	if err := s.Start(); err != nil {
		return err
	}

	for {
		switch {
		case p.recv != nil:
			buf := p.recv
			var n int
			var err error
			switch {
			case config.PacketMode:
				n, err = rw.Read(buf)
			case s.Stage() == ReadCommand:
				n, err = syncCommand(rw, buf, s)
			default:
				n, err = io.ReadFull(rw, buf)
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, io.EOF) && n == 0 && s.Stage() == ReadCommand {
					return nil
				}
				return err
			}
			if err := s.OnReceived(n); err != nil {
				return err
			}

		case p.send != nil:
			n, err := rw.Write(p.send)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
			if err := s.OnSent(n); err != nil {
				return err
			}

		default:
			return errors.New("transfer: session stalled")
		}
	}
}

var commandSignature = binary.LittleEndian.AppendUint32(nil, protocol.SignatureCommand)

// syncCommand fills buf with the next valid command block of a stream.
func syncCommand(r io.Reader, buf []byte, s *Session) (int, error) {
	if n, err := io.ReadFull(r, buf); err != nil {
		return n, err
	}
	for {
		i, bad := commandStart(buf)
		if i == 0 {
			return len(buf), nil
		}
		if err := s.resync(i, bad); err != nil {
			return 0, err
		}
		copy(buf, buf[i:])
		if _, err := io.ReadFull(r, buf[len(buf)-i:]); err != nil {
			return 0, err
		}
	}
}

// commandStart returns 0 if buf holds a valid command block. Otherwise it
// returns the offset of the first later byte where a block may begin,
// together with the reason buf was rejected.
func commandStart(buf []byte) (int, error) {
	cb, err := protocol.ParseCommandBlock(buf)
	if err == nil {
		err = cb.Validate()
	}
	if err == nil {
		return 0, nil
	}

	for i := 1; i < len(buf); i++ {
		tail := buf[i:]
		if len(tail) > len(commandSignature) {
			tail = tail[:len(commandSignature)]
		}
		if bytes.HasPrefix(commandSignature, tail) {
			return i, err
		}
	}
	return len(buf), err
}
