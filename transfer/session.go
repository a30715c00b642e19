package transfer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/moffa90/go-aicupg/protocol"
)

var (
	// ErrTooManyMalformed is returned when the MaxMalformed limit is reached.
	ErrTooManyMalformed = errors.New("too many malformed command blocks")

	// ErrUnexpectedCompletion is returned for a completion that does not
	// match the armed transport operation.
	ErrUnexpectedCompletion = errors.New("unexpected transport completion")

	// errShortTransfer marks a Handler that returned fewer bytes than asked
	// without an error.
	errShortTransfer = errors.New("short transfer")
)

// Transport moves bytes asynchronously. Recv and Send start an operation
// and return; the owner of the transport reports its completion by calling
// Session.OnReceived or Session.OnSent with the number of bytes moved.
// Completions must not be delivered from inside Recv or Send.
type Transport interface {
	Recv(p []byte) error
	Send(p []byte) error
}

// Handler consumes the data phase of WRITE commands and produces the data
// phase of READ commands.
//
// Write returns the number of bytes it consumed. A non-nil error fails the
// command; a count above zero together with an error means the bytes were
// consumed but rejected, and they are taken off the residue. An error with
// an Integrity() bool method returning true is reported with
// protocol.StatusIntegrity.
type Handler interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
}

// Stage is the position of a Session in the command cycle.
type Stage int

const (
	ReadCommand Stage = iota
	DataOutBuffered
	DataOut
	DataInBuffered
	DataIn
	SendStatus
	WaitStatus
)

func (s Stage) String() string {
	switch s {
	case ReadCommand:
		return "ReadCommand"
	case DataOutBuffered:
		return "DataOutBuffered"
	case DataOut:
		return "DataOut"
	case DataInBuffered:
		return "DataInBuffered"
	case DataIn:
		return "DataIn"
	case SendStatus:
		return "SendStatus"
	case WaitStatus:
		return "WaitStatus"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Stats counts session events.
type Stats struct {
	Commands  int // valid command blocks
	Passed    int // status blocks with StatusPassed
	Failed    int // status blocks with a failure status
	Ignored   int // packets of the wrong size while waiting for a command
	Malformed int // command blocks dropped for a bad signature or fields
	BytesIn   int64
	BytesOut  int64
}

// Session is the device side of the command/status protocol. It is driven
// entirely by transport completions and never blocks.
type Session struct {
	mu     sync.Mutex
	t      Transport
	h      Handler
	config Config

	stage Stage
	cbw   *protocol.CommandBlock
	csw   *protocol.StatusBlock

	buf    []byte
	cswBuf [protocol.StatusBlockSize]byte

	remain     uint32 // data phase bytes still to move
	chunk      int    // size of the current chunk
	done       int    // bytes of the current chunk moved so far
	failStatus byte   // status to report once a drained phase ends
	malformed  int
	stats      Stats
}

// NewSession creates a session over t that hands data to h.
// Call Start to arm the first receive.
//
// Example:
//
//	s := transfer.NewSession(usb, sink, transfer.WithLogger(logger))
//	if err := s.Start(); err != nil {
//	    return err
//	}
//	// in the transport's completion handlers:
//	s.OnReceived(n)
//	s.OnSent(n)
func NewSession(t Transport, h Handler, opts ...Option) *Session {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.ChunkSize < protocol.CommandBlockSize {
		config.ChunkSize = protocol.CommandBlockSize
	}

	return &Session{
		t:      t,
		h:      h,
		config: config,
		buf:    make([]byte, config.ChunkSize),
	}
}

// Start arms the receive of the first command block.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armCommand()
}

// Stage returns the current stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Remaining returns the number of data phase bytes not yet moved.
func (s *Session) Remaining() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remain
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// OnReceived reports that the armed receive completed with n bytes.
func (s *Session) OnReceived(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.stage {
	case ReadCommand:
		return s.decodeCommand(n)

	case DataOutBuffered:
		s.done += n
		s.stats.BytesIn += int64(n)
		if s.done < s.chunk {
			return s.t.Recv(s.buf[s.done:s.chunk])
		}
		s.stage = DataOut
		return s.processWrite()
	}

	s.logError("receive completion in wrong stage", "stage", s.stage, "bytes", n)
	return fmt.Errorf("%w: receive in %s", ErrUnexpectedCompletion, s.stage)
}

// OnSent reports that the armed send completed with n bytes.
func (s *Session) OnSent(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.stage {
	case DataInBuffered:
		if n > s.chunk-s.done {
			n = s.chunk - s.done
		}
		s.done += n
		s.remain -= uint32(n)
		s.stats.BytesOut += int64(n)
		if s.failStatus == 0 {
			s.csw.DataResidue -= uint32(n)
		}

		if s.done < s.chunk {
			return s.t.Send(s.buf[s.done:s.chunk])
		}
		if s.remain == 0 {
			return s.sendStatus(s.finalStatus())
		}
		s.stage = DataIn
		return s.processRead()

	case WaitStatus:
		s.done += n
		if s.done < protocol.StatusBlockSize {
			return s.t.Send(s.cswBuf[s.done:])
		}
		s.logDebug("status sent", "tag", s.csw.Tag, "status", s.csw.Status, "residue", s.csw.DataResidue)
		return s.armCommand()
	}

	s.logError("send completion in wrong stage", "stage", s.stage, "bytes", n)
	return fmt.Errorf("%w: send in %s", ErrUnexpectedCompletion, s.stage)
}

// armCommand resets the cycle and waits for the next command block.
func (s *Session) armCommand() error {
	s.stage = ReadCommand
	s.cbw = nil
	s.remain = 0
	s.chunk = 0
	s.done = 0
	s.failStatus = 0
	return s.t.Recv(s.buf[:protocol.CommandBlockSize])
}

func (s *Session) decodeCommand(n int) error {
	if n != protocol.CommandBlockSize {
		// stray packet, not an error
		s.stats.Ignored++
		s.logDebug("ignoring packet while waiting for command", "bytes", n)
		return s.armCommand()
	}

	cb, err := protocol.ParseCommandBlock(s.buf[:n])
	if err == nil {
		err = cb.Validate()
	}
	if err != nil {
		if err := s.dropCommand(err); err != nil {
			return err
		}
		return s.armCommand()
	}

	s.malformed = 0
	s.stats.Commands++
	s.cbw = cb
	s.csw = protocol.NewStatusBlock(cb)
	s.remain = cb.DataTransferLength

	s.logDebug("command", "tag", cb.Tag, "command", cb.Command, "length", cb.DataTransferLength)

	if s.remain == 0 {
		return s.sendStatus(protocol.StatusPassed)
	}

	if cb.IsWrite() {
		return s.armDataOut()
	}
	s.stage = DataIn
	return s.processRead()
}

// dropCommand counts a malformed command block against the limit.
func (s *Session) dropCommand(err error) error {
	s.malformed++
	s.stats.Malformed++
	s.logError("dropping command block", "error", err, "count", s.malformed)
	if s.config.MaxMalformed > 0 && s.malformed >= s.config.MaxMalformed {
		return ErrTooManyMalformed
	}
	return nil
}

// resync records a command window of a byte stream that did not hold a
// valid block. n is the number of leading bytes dropped from it.
func (s *Session) resync(n int, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logDebug("resynchronizing command stream", "dropped", n)
	return s.dropCommand(err)
}

func (s *Session) nextChunk() int {
	if s.remain < uint32(len(s.buf)) {
		return int(s.remain)
	}
	return len(s.buf)
}

func (s *Session) armDataOut() error {
	s.stage = DataOutBuffered
	s.chunk = s.nextChunk()
	s.done = 0
	return s.t.Recv(s.buf[:s.chunk])
}

// processWrite hands the buffered chunk to the handler.
func (s *Session) processWrite() error {
	chunk := s.buf[:s.chunk]
	s.remain -= uint32(s.chunk)

	if s.failStatus == 0 {
		n, err := s.h.Write(chunk)
		if n > len(chunk) {
			n = len(chunk)
		}
		if n < 0 {
			n = 0
		}
		s.csw.DataResidue -= uint32(n)

		if err == nil && n != len(chunk) {
			err = errShortTransfer
		}
		if err != nil {
			status := statusFor(err)
			s.logError("write failed", "tag", s.cbw.Tag, "accepted", n, "error", err)
			if !s.config.Drain {
				return s.sendStatus(status)
			}
			s.failStatus = status
		}
	}

	if s.remain == 0 {
		return s.sendStatus(s.finalStatus())
	}
	return s.armDataOut()
}

// processRead fills the buffer from the handler and starts sending it.
func (s *Session) processRead() error {
	s.chunk = s.nextChunk()
	s.done = 0
	chunk := s.buf[:s.chunk]

	if s.failStatus == 0 {
		n, err := s.h.Read(chunk)
		if err == nil && n != len(chunk) {
			err = errShortTransfer
		}
		if err != nil {
			status := statusFor(err)
			s.logError("read failed", "tag", s.cbw.Tag, "error", err)
			if !s.config.Drain {
				return s.sendStatus(status)
			}
			s.failStatus = status
		}
	}
	if s.failStatus != 0 {
		for i := range chunk {
			chunk[i] = 0
		}
	}

	s.stage = DataInBuffered
	return s.t.Send(chunk)
}

func (s *Session) finalStatus() byte {
	if s.failStatus != 0 {
		return s.failStatus
	}
	return protocol.StatusPassed
}

func (s *Session) sendStatus(status byte) error {
	s.stage = SendStatus
	s.csw.Status = status
	if status == protocol.StatusPassed {
		s.stats.Passed++
	} else {
		s.stats.Failed++
	}

	frame := s.csw.AppendTo(s.cswBuf[:])
	s.stage = WaitStatus
	s.done = 0
	return s.t.Send(frame)
}

// statusFor maps a handler error to a status code.
func statusFor(err error) byte {
	var ie interface{ Integrity() bool }
	if errors.As(err, &ie) && ie.Integrity() {
		return protocol.StatusIntegrity
	}
	return protocol.StatusFailed
}

func (s *Session) logDebug(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, keysAndValues...)
	}
}

func (s *Session) logError(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Error(msg, keysAndValues...)
	}
}
