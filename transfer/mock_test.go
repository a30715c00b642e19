package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/moffa90/go-aicupg/protocol"
)

// MockTransport records the armed operation. Tests complete it by hand.
type MockTransport struct {
	recvBuf []byte
	sendBuf []byte
	sends   int
}

func (m *MockTransport) Recv(p []byte) error {
	m.recvBuf, m.sendBuf = p, nil
	return nil
}

func (m *MockTransport) Send(p []byte) error {
	m.recvBuf, m.sendBuf = nil, append([]byte(nil), p...)
	m.sends++
	return nil
}

// MockHandler stores written data and serves reads from ReadData.
type MockHandler struct {
	Written  bytes.Buffer
	ReadData []byte
	readPos  int

	// FailWriteAt makes the n-th Write call (1-based) fail with WriteErr
	// after consuming WriteAccept bytes
	FailWriteAt int
	WriteAccept int
	WriteErr    error
	writes      int

	FailReadAt int
	reads      int
}

func (h *MockHandler) Write(p []byte) (int, error) {
	h.writes++
	if h.writes == h.FailWriteAt {
		n := h.WriteAccept
		if n > len(p) {
			n = len(p)
		}
		h.Written.Write(p[:n])
		return n, h.WriteErr
	}
	h.Written.Write(p)
	return len(p), nil
}

func (h *MockHandler) Read(p []byte) (int, error) {
	h.reads++
	if h.reads == h.FailReadAt {
		return 0, errors.New("injected read failure")
	}
	n := copy(p, h.ReadData[h.readPos:])
	h.readPos += n
	return n, nil
}

type integrityErr struct{}

func (integrityErr) Error() string   { return "crc mismatch" }
func (integrityErr) Integrity() bool { return true }

// MockLogger records log calls.
type MockLogger struct {
	DebugCalls []string
	InfoCalls  []string
	ErrorCalls []string
}

func (m *MockLogger) Debug(msg string, kv ...interface{}) {
	m.DebugCalls = append(m.DebugCalls, fmt.Sprint(msg, kv))
}

func (m *MockLogger) Info(msg string, kv ...interface{}) {
	m.InfoCalls = append(m.InfoCalls, fmt.Sprint(msg, kv))
}

func (m *MockLogger) Error(msg string, kv ...interface{}) {
	m.ErrorCalls = append(m.ErrorCalls, fmt.Sprint(msg, kv))
}

// deliver completes the armed receive with data.
func deliver(t *testing.T, s *Session, m *MockTransport, data []byte) {
	t.Helper()
	if m.recvBuf == nil {
		t.Fatalf("no receive armed (stage %s)", s.Stage())
	}
	copy(m.recvBuf, data)
	if err := s.OnReceived(len(data)); err != nil {
		t.Fatalf("OnReceived: %v", err)
	}
}

// drainSends completes every armed send in full and returns the bytes sent.
func drainSends(t *testing.T, s *Session, m *MockTransport) []byte {
	t.Helper()
	var out []byte
	for m.sendBuf != nil {
		b := m.sendBuf
		out = append(out, b...)
		if err := s.OnSent(len(b)); err != nil {
			t.Fatalf("OnSent: %v", err)
		}
	}
	return out
}

func writeCmd(t *testing.T, tag uint32, n int) []byte {
	t.Helper()
	cbw, err := protocol.BuildWriteCmd(tag, uint32(n))
	if err != nil {
		t.Fatal(err)
	}
	return cbw
}

func readCmd(t *testing.T, tag uint32, n int) []byte {
	t.Helper()
	cbw, err := protocol.BuildReadCmd(tag, uint32(n))
	if err != nil {
		t.Fatal(err)
	}
	return cbw
}

// sendWrite runs a WRITE command, delivering data in pieces of at most
// piece bytes, and returns the status block.
func sendWrite(t *testing.T, s *Session, m *MockTransport, tag uint32, data []byte, piece int) *protocol.StatusBlock {
	t.Helper()
	deliver(t, s, m, writeCmd(t, tag, len(data)))

	for m.recvBuf != nil && s.Stage() == DataOutBuffered {
		n := len(m.recvBuf)
		if n > piece {
			n = piece
		}
		deliver(t, s, m, data[:n])
		data = data[n:]
	}
	return parseStatus(t, drainSends(t, s, m))
}

func parseStatus(t *testing.T, b []byte) *protocol.StatusBlock {
	t.Helper()
	if len(b) < protocol.StatusBlockSize {
		t.Fatalf("sent %d bytes, want a status block", len(b))
	}
	csw, err := protocol.ParseStatusBlock(b[len(b)-protocol.StatusBlockSize:])
	if err != nil {
		t.Fatalf("parse status: %v", err)
	}
	return csw
}
