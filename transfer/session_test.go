package transfer

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/moffa90/go-aicupg/protocol"
)

func newTestSession(t *testing.T, h Handler, opts ...Option) (*Session, *MockTransport) {
	t.Helper()
	m := &MockTransport{}
	s := NewSession(m, h, opts...)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if len(m.recvBuf) != protocol.CommandBlockSize {
		t.Fatalf("armed receive = %d bytes, want %d", len(m.recvBuf), protocol.CommandBlockSize)
	}
	return s, m
}

func testData(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(b)
	return b
}

func TestWriteCommand(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		chunk int
		piece int
	}{
		{name: "single chunk", size: 1000, chunk: 4096, piece: 4096},
		{name: "several chunks", size: 10000, chunk: 4096, piece: 4096},
		{name: "partial completions", size: 10000, chunk: 4096, piece: 700},
		{name: "exact chunk multiple", size: 8192, chunk: 4096, piece: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &MockHandler{}
			s, m := newTestSession(t, h, WithChunkSize(tt.chunk))
			data := testData(tt.size)

			csw := sendWrite(t, s, m, 0x77, data, tt.piece)

			if csw.Tag != 0x77 {
				t.Errorf("tag = 0x%X, want 0x77", csw.Tag)
			}
			if !csw.Passed() || csw.DataResidue != 0 {
				t.Errorf("status = %d residue = %d, want passed with 0", csw.Status, csw.DataResidue)
			}
			if !bytes.Equal(h.Written.Bytes(), data) {
				t.Error("handler received different data")
			}
			if s.Stage() != ReadCommand {
				t.Errorf("stage = %s, want ReadCommand", s.Stage())
			}
			if st := s.Stats(); st.BytesIn != int64(tt.size) || st.Passed != 1 {
				t.Errorf("stats = %+v", st)
			}
		})
	}
}

func TestChunksNeverExceedChunkSize(t *testing.T) {
	var sizes []int
	h := &recordingHandler{sizes: &sizes}
	s, m := newTestSession(t, h, WithChunkSize(1024))

	sendWrite(t, s, m, 1, testData(5000), 5000)

	want := []int{1024, 1024, 1024, 1024, 904}
	if len(sizes) != len(want) {
		t.Fatalf("chunks = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("chunk %d = %d, want %d", i, sizes[i], want[i])
		}
	}
}

type recordingHandler struct {
	sizes *[]int
}

func (h *recordingHandler) Write(p []byte) (int, error) {
	*h.sizes = append(*h.sizes, len(p))
	return len(p), nil
}

func (h *recordingHandler) Read(p []byte) (int, error) { return len(p), nil }

func TestStrayPacketIgnored(t *testing.T) {
	h := &MockHandler{}
	s, m := newTestSession(t, h)

	deliver(t, s, m, make([]byte, 12))

	if s.Stage() != ReadCommand {
		t.Errorf("stage = %s, want ReadCommand", s.Stage())
	}
	if m.sends != 0 {
		t.Error("a stray packet must not produce a status block")
	}
	if s.Stats().Ignored != 1 {
		t.Errorf("ignored = %d, want 1", s.Stats().Ignored)
	}

	csw := sendWrite(t, s, m, 2, []byte("ok"), 64)
	if !csw.Passed() {
		t.Error("next command should pass")
	}
}

func TestBadSignatureMidSession(t *testing.T) {
	h := &MockHandler{}
	logger := &MockLogger{}
	s, m := newTestSession(t, h, WithLogger(logger))

	if csw := sendWrite(t, s, m, 1, []byte("first"), 64); !csw.Passed() {
		t.Fatal("first command failed")
	}
	sends := m.sends

	bad := writeCmd(t, 2, 5)
	bad[0], bad[1], bad[2], bad[3] = 0xEF, 0xBE, 0xAD, 0xDE
	deliver(t, s, m, bad)

	if s.Stage() != ReadCommand {
		t.Errorf("stage = %s, want ReadCommand", s.Stage())
	}
	if m.sends != sends {
		t.Error("a bad signature must not produce a status block")
	}
	if len(logger.ErrorCalls) == 0 {
		t.Error("expected the drop to be logged")
	}

	csw := sendWrite(t, s, m, 3, []byte("third"), 64)
	if !csw.Passed() || csw.Tag != 3 {
		t.Errorf("status = %+v, want passed tag 3", csw)
	}
	if got := h.Written.String(); got != "firstthird" {
		t.Errorf("handler data = %q, want %q", got, "firstthird")
	}
	if s.Stats().Malformed != 1 {
		t.Errorf("malformed = %d, want 1", s.Stats().Malformed)
	}
}

func TestInvalidCommandsDropped(t *testing.T) {
	unknown := &protocol.CommandBlock{Signature: protocol.SignatureCommand, CBLength: 1, Command: 0x09}
	wrongFlag := &protocol.CommandBlock{Signature: protocol.SignatureCommand, CBLength: 1, Command: protocol.CmdWrite, Flags: protocol.FlagDataIn, DataTransferLength: 4}
	zeroLen := &protocol.CommandBlock{Signature: protocol.SignatureCommand, Command: protocol.CmdRead, Flags: protocol.FlagDataIn, DataTransferLength: 4}

	for name, cb := range map[string]*protocol.CommandBlock{
		"unknown command":     unknown,
		"write with in flag":  wrongFlag,
		"zero command length": zeroLen,
	} {
		t.Run(name, func(t *testing.T) {
			s, m := newTestSession(t, &MockHandler{})
			frame, _ := cb.MarshalBinary()
			deliver(t, s, m, frame)

			if m.sends != 0 || s.Stage() != ReadCommand {
				t.Errorf("sends = %d stage = %s, want silent drop", m.sends, s.Stage())
			}
		})
	}
}

func TestMaxMalformed(t *testing.T) {
	bad := make([]byte, protocol.CommandBlockSize)

	t.Run("unbounded by default", func(t *testing.T) {
		s, m := newTestSession(t, &MockHandler{})
		for i := 0; i < 100; i++ {
			deliver(t, s, m, bad)
		}
	})

	t.Run("limit reached", func(t *testing.T) {
		s, m := newTestSession(t, &MockHandler{}, WithMaxMalformed(3))
		deliver(t, s, m, bad)
		deliver(t, s, m, bad)
		copy(m.recvBuf, bad)
		if err := s.OnReceived(len(bad)); !errors.Is(err, ErrTooManyMalformed) {
			t.Errorf("error = %v, want ErrTooManyMalformed", err)
		}
	})

	t.Run("valid command resets count", func(t *testing.T) {
		s, m := newTestSession(t, &MockHandler{}, WithMaxMalformed(2))
		deliver(t, s, m, bad)
		sendWrite(t, s, m, 1, []byte("x"), 64)
		deliver(t, s, m, bad)
		if s.Stage() != ReadCommand {
			t.Error("session should still be waiting for commands")
		}
	})
}

func TestWriteFailureResidue(t *testing.T) {
	tests := []struct {
		name        string
		failAt      int
		accept      int
		err         error
		wantStatus  byte
		wantResidue uint32
	}{
		{name: "first chunk io error", failAt: 1, err: errors.New("io"), wantStatus: protocol.StatusFailed, wantResidue: 10000},
		{name: "third chunk io error", failAt: 3, err: errors.New("io"), wantStatus: protocol.StatusFailed, wantResidue: 10000 - 2*4096},
		{name: "consumed but rejected", failAt: 2, accept: 4096, err: integrityErr{}, wantStatus: protocol.StatusIntegrity, wantResidue: 10000 - 2*4096},
		{name: "short count", failAt: 2, accept: 100, wantStatus: protocol.StatusFailed, wantResidue: 10000 - 4096 - 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &MockHandler{FailWriteAt: tt.failAt, WriteAccept: tt.accept, WriteErr: tt.err}
			s, m := newTestSession(t, h, WithChunkSize(4096))

			csw := sendWrite(t, s, m, 9, testData(10000), 4096)

			if csw.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", csw.Status, tt.wantStatus)
			}
			if csw.DataResidue != tt.wantResidue {
				t.Errorf("residue = %d, want %d", csw.DataResidue, tt.wantResidue)
			}
			if int(10000-csw.DataResidue) != h.Written.Len() {
				t.Errorf("residue %d does not match %d accepted bytes", csw.DataResidue, h.Written.Len())
			}
			if s.Stage() != ReadCommand {
				t.Errorf("stage = %s, want ReadCommand after failure", s.Stage())
			}
		})
	}
}

func TestRetryAfterFailure(t *testing.T) {
	h := &MockHandler{FailWriteAt: 2, WriteErr: errors.New("flash busy")}
	s, m := newTestSession(t, h, WithChunkSize(4096))
	data := testData(10000)

	csw := sendWrite(t, s, m, 1, data, 4096)
	if csw.Passed() {
		t.Fatal("expected failure")
	}

	// the host re-sends the unconsumed tail
	tail := data[len(data)-int(csw.DataResidue):]
	csw = sendWrite(t, s, m, 2, tail, 4096)
	if !csw.Passed() {
		t.Fatalf("retry status = %d", csw.Status)
	}
	if !bytes.Equal(h.Written.Bytes(), data) {
		t.Error("handler data after retry differs")
	}
}

func TestDrainMode(t *testing.T) {
	h := &MockHandler{FailWriteAt: 1, WriteErr: errors.New("io")}
	s, m := newTestSession(t, h, WithChunkSize(1024), WithDrain(true))

	deliver(t, s, m, writeCmd(t, 5, 3000))
	pieces := 0
	for s.Stage() == DataOutBuffered {
		deliver(t, s, m, make([]byte, len(m.recvBuf)))
		pieces++
	}
	if pieces != 3 {
		t.Errorf("received %d chunks, want all 3", pieces)
	}

	csw := parseStatus(t, drainSends(t, s, m))
	if csw.Status != protocol.StatusFailed || csw.DataResidue != 3000 {
		t.Errorf("status = %d residue = %d, want failed with 3000", csw.Status, csw.DataResidue)
	}
	if h.writes != 1 {
		t.Errorf("handler called %d times after failure, want 1", h.writes)
	}
}

func TestReadCommand(t *testing.T) {
	data := testData(9000)
	h := &MockHandler{ReadData: data}
	s, m := newTestSession(t, h, WithChunkSize(4096))

	deliver(t, s, m, readCmd(t, 0x42, len(data)))

	// complete sends in small pieces
	var got []byte
	for m.sendBuf != nil && s.Stage() == DataInBuffered {
		n := len(m.sendBuf)
		if n > 1000 {
			n = 1000
		}
		got = append(got, m.sendBuf[:n]...)
		if err := s.OnSent(n); err != nil {
			t.Fatal(err)
		}
	}

	if !bytes.Equal(got, data) {
		t.Error("read data differs")
	}
	csw := parseStatus(t, drainSends(t, s, m))
	if !csw.Passed() || csw.DataResidue != 0 || csw.Tag != 0x42 {
		t.Errorf("status = %+v", csw)
	}
	if s.Remaining() != 0 || s.Stage() != ReadCommand {
		t.Errorf("remaining = %d stage = %s", s.Remaining(), s.Stage())
	}
}

func TestReadFailure(t *testing.T) {
	t.Run("immediate", func(t *testing.T) {
		h := &MockHandler{ReadData: testData(9000), FailReadAt: 2}
		s, m := newTestSession(t, h, WithChunkSize(4096))

		deliver(t, s, m, readCmd(t, 1, 9000))
		out := drainSends(t, s, m)

		if len(out) != 4096+protocol.StatusBlockSize {
			t.Errorf("sent %d bytes, want one chunk and a status", len(out))
		}
		csw := parseStatus(t, out)
		if csw.Status != protocol.StatusFailed || csw.DataResidue != 9000-4096 {
			t.Errorf("status = %d residue = %d", csw.Status, csw.DataResidue)
		}
	})

	t.Run("drained", func(t *testing.T) {
		h := &MockHandler{ReadData: testData(9000), FailReadAt: 2}
		s, m := newTestSession(t, h, WithChunkSize(4096), WithDrain(true))

		deliver(t, s, m, readCmd(t, 1, 9000))
		out := drainSends(t, s, m)

		if len(out) != 9000+protocol.StatusBlockSize {
			t.Errorf("sent %d bytes, want the full length and a status", len(out))
		}
		if !bytes.Equal(out[4096:9000], make([]byte, 9000-4096)) {
			t.Error("padding after a failed read must be zero")
		}
		csw := parseStatus(t, out)
		if csw.Status != protocol.StatusFailed || csw.DataResidue != 9000-4096 {
			t.Errorf("status = %d residue = %d", csw.Status, csw.DataResidue)
		}
	})
}

func TestZeroLengthCommand(t *testing.T) {
	s, m := newTestSession(t, &MockHandler{})
	deliver(t, s, m, writeCmd(t, 4, 0))

	if s.Stage() != WaitStatus {
		t.Fatalf("stage = %s, want WaitStatus", s.Stage())
	}
	csw := parseStatus(t, drainSends(t, s, m))
	if !csw.Passed() || csw.Tag != 4 {
		t.Errorf("status = %+v", csw)
	}
}

func TestStatusSentInPieces(t *testing.T) {
	s, m := newTestSession(t, &MockHandler{})
	deliver(t, s, m, writeCmd(t, 4, 0))

	var out []byte
	for m.sendBuf != nil {
		out = append(out, m.sendBuf[0])
		if err := s.OnSent(1); err != nil {
			t.Fatal(err)
		}
	}
	if len(out) != protocol.StatusBlockSize {
		t.Errorf("status sent as %d bytes, want %d", len(out), protocol.StatusBlockSize)
	}
	if s.Stage() != ReadCommand {
		t.Errorf("stage = %s, want ReadCommand", s.Stage())
	}
}

func TestNoCommandWhileStatusOutstanding(t *testing.T) {
	s, m := newTestSession(t, &MockHandler{})
	deliver(t, s, m, writeCmd(t, 4, 0))

	// the status send is still armed
	if err := s.OnReceived(protocol.CommandBlockSize); !errors.Is(err, ErrUnexpectedCompletion) {
		t.Errorf("error = %v, want ErrUnexpectedCompletion", err)
	}
	if s.Stage() != WaitStatus {
		t.Errorf("stage = %s, want WaitStatus", s.Stage())
	}
	if m.sendBuf == nil {
		t.Error("status send should still be pending")
	}
}

func TestResidueInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		size := 1 + rng.Intn(20000)
		chunk := 64 + rng.Intn(5000)
		piece := 1 + rng.Intn(chunk)
		failAt := rng.Intn(6)
		accept := 0
		if failAt > 0 {
			accept = rng.Intn(64)
		}

		h := &MockHandler{FailWriteAt: failAt, WriteAccept: accept, WriteErr: errors.New("io")}
		s, m := newTestSession(t, h, WithChunkSize(chunk))

		csw := sendWrite(t, s, m, uint32(i), testData(size), piece)

		if got := uint32(size) - csw.DataResidue; int(got) != h.Written.Len() {
			t.Fatalf("case %d: declared %d - residue %d != accepted %d",
				i, size, csw.DataResidue, h.Written.Len())
		}
		if csw.Passed() && csw.DataResidue != 0 {
			t.Fatalf("case %d: passed with residue %d", i, csw.DataResidue)
		}
	}
}

func TestStageString(t *testing.T) {
	if ReadCommand.String() != "ReadCommand" || WaitStatus.String() != "WaitStatus" {
		t.Error("unexpected stage names")
	}
	if Stage(99).String() != "Stage(99)" {
		t.Errorf("unknown stage = %q", Stage(99).String())
	}
}
