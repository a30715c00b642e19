package upgrade

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/moffa90/go-aicupg/fwc"
	"github.com/moffa90/go-aicupg/image"
	"github.com/moffa90/go-aicupg/protocol"
	"github.com/moffa90/go-aicupg/transfer"
)

// feed writes data to the sink in chunks of size, continuing after
// integrity failures. It returns the components that failed integrity.
func feed(t *testing.T, s *Sink, data []byte, size int) []string {
	t.Helper()
	var failed []string
	for off := 0; off < len(data); {
		end := off + size
		if end > len(data) {
			end = len(data)
		}
		n, err := s.Write(data[off:end])
		off += n
		if err == nil {
			continue
		}
		var ce *ComponentError
		if !errors.As(err, &ce) || !ce.Integrity() {
			t.Fatalf("Write at 0x%X: %v", off, err)
		}
		failed = append(failed, ce.Component)
	}
	return failed
}

func readAll(t *testing.T, s *Sink, size int) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, size)
	for {
		n, err := s.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
}

func TestSinkLossySPLAndCleanRootfs(t *testing.T) {
	_, table := newNORTable(t)
	spl := payload(20, 4096)
	rootfs := payload(21, 1048576)
	blob, comps := buildImage(t,
		testComponent{"spl", "spl0;spl1", spl},
		testComponent{"rootfs", "rootfs", rootfs},
	)

	r := &MockResolver{table: table, lossy: map[string]bool{"spl0": true, "spl1": true}}
	rec := &progressRecorder{}
	sink := NewSink(r, WithProgressCallback(rec.record))

	failed := feed(t, sink, blob, 512)
	if len(failed) != 1 || failed[0] != "spl" {
		t.Fatalf("integrity failures = %v, want [spl]", failed)
	}
	if !sink.Done() {
		t.Fatal("sink not done after the whole image")
	}

	results := sink.Results()
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	var crcErr *fwc.CRCMismatchError
	if !errors.As(results[0].Err, &crcErr) {
		t.Errorf("spl error = %v, want *fwc.CRCMismatchError", results[0].Err)
	}

	root := results[1]
	if !root.OK() {
		t.Fatalf("rootfs failed: %v", root.Err)
	}
	if root.Transferred != 1048576 {
		t.Errorf("rootfs transferred %d, want 1048576", root.Transferred)
	}
	if root.CRC != comps[1].CRC || root.Expected != comps[1].CRC {
		t.Errorf("rootfs crc 0x%08X / expected 0x%08X, want 0x%08X", root.CRC, root.Expected, comps[1].CRC)
	}

	back := readAll(t, sink, 512)
	if len(back) != len(spl)+len(rootfs) {
		t.Fatalf("read back %d bytes, want %d", len(back), len(spl)+len(rootfs))
	}
	if bytes.Equal(back[:len(spl)], spl) {
		t.Error("spl read back intact despite dropped writes")
	}
	if got := image.Checksum(back[len(spl):]); got != comps[1].CRC {
		t.Errorf("rootfs read-back crc 0x%08X, want 0x%08X", got, comps[1].CRC)
	}
	if !bytes.Equal(back[len(spl):], rootfs) {
		t.Error("rootfs read back differs from payload")
	}

	rec.check(t, PhaseFailed)
}

func TestSinkRetryUnconsumedTail(t *testing.T) {
	_, table := newNORTable(t)
	rootfs := payload(22, 8192)
	blob, comps := buildImage(t, testComponent{"image.rootfs", "rootfs", rootfs})

	r := &MockResolver{table: table, fail: map[string]int{"rootfs": 1}}
	sink := NewSink(r)

	n, err := sink.Write(blob)
	var ioErr *fwc.IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("first Write error = %v, want *fwc.IOError", err)
	}
	if n != int(comps[0].Offset) {
		t.Fatalf("consumed %d bytes, want %d (up to the payload)", n, comps[0].Offset)
	}
	if sink.Position() != int64(n) {
		t.Errorf("Position() = %d, want %d", sink.Position(), n)
	}

	if _, err := sink.Write(blob[n:]); err != nil {
		t.Fatalf("retry Write error = %v", err)
	}

	results := sink.Results()
	if len(results) != 1 || !results[0].OK() {
		t.Fatalf("results = %+v", results)
	}
	if got := readPartition(t, table, "rootfs", len(rootfs)); !bytes.Equal(got, rootfs) {
		t.Error("rootfs content differs after retry")
	}
}

func TestSinkRetryChunked(t *testing.T) {
	_, table := newNORTable(t)
	rootfs := payload(23, 16384)
	blob, _ := buildImage(t, testComponent{"image.rootfs", "rootfs", rootfs})

	r := &MockResolver{table: table, fail: map[string]int{"rootfs": 3}}
	sink := NewSink(r)

	retries := 0
	for off := 0; off < len(blob); {
		end := off + 512
		if end > len(blob) {
			end = len(blob)
		}
		n, err := sink.Write(blob[off:end])
		off += n
		if err != nil {
			if n != 0 {
				t.Fatalf("failed chunk partly consumed (%d bytes)", n)
			}
			retries++
		}
	}

	if retries != 1 {
		t.Errorf("retries = %d, want 1", retries)
	}
	if res := sink.Results(); len(res) != 1 || !res[0].OK() {
		t.Fatalf("results = %+v", res)
	}
	if got := readPartition(t, table, "rootfs", len(rootfs)); !bytes.Equal(got, rootfs) {
		t.Error("rootfs content differs after retry")
	}
}

func TestSinkChunkingIdempotence(t *testing.T) {
	blob, _ := buildImage(t,
		testComponent{"target.spl", "spl0;spl1", payload(24, 3000)},
		testComponent{"image.rootfs", "rootfs", payload(25, 70001)},
	)

	memA, tableA := newNORTable(t)
	a := NewSink(tableA)
	if _, err := a.Write(blob); err != nil {
		t.Fatalf("single Write: %v", err)
	}

	memB, tableB := newNORTable(t)
	b := NewSink(tableB)
	rng := rand.New(rand.NewSource(26))
	for off := 0; off < len(blob); {
		n := 1 + rng.Intn(3000)
		if off+n > len(blob) {
			n = len(blob) - off
		}
		if _, err := b.Write(blob[off : off+n]); err != nil {
			t.Fatalf("chunked Write at %d: %v", off, err)
		}
		off += n
	}

	if !bytes.Equal(memA.Bytes(), memB.Bytes()) {
		t.Error("device content depends on chunking")
	}
	ra, rb := a.Results(), b.Results()
	for i := range ra {
		if ra[i].CRC != rb[i].CRC || !ra[i].OK() || !rb[i].OK() {
			t.Errorf("%s: crc 0x%08X vs 0x%08X", ra[i].Name, ra[i].CRC, rb[i].CRC)
		}
	}
}

func TestSinkProtection(t *testing.T) {
	_, table := newNORTable(t)
	blob, _ := buildImage(t,
		testComponent{"image.env", "env", payload(27, 4096)},
		testComponent{"image.rootfs", "rootfs", payload(28, 4096)},
	)

	sink := NewSink(table, WithProtection("env"))
	if _, err := sink.Write(blob); err != nil {
		t.Fatal(err)
	}

	if res := sink.Results(); len(res) != 1 || res[0].Name != "image.rootfs" {
		t.Fatalf("results = %+v, want only image.rootfs", res)
	}
	if sk := sink.Skipped(); len(sk) != 1 || sk[0] != "image.env" {
		t.Errorf("Skipped() = %v", sk)
	}
	if !erased(readPartition(t, table, "env", 64*1024)) {
		t.Error("protected env was written")
	}
}

func TestSinkMissingPartition(t *testing.T) {
	_, table := newNORTable(t)
	blob, comps := buildImage(t, testComponent{"image.data", "data", payload(29, 1024)})

	sink := NewSink(table)
	n, err := sink.Write(blob)

	var re *fwc.ResourceError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *fwc.ResourceError", err)
	}
	if n != int(comps[0].Offset) {
		t.Errorf("consumed %d, want %d", n, comps[0].Offset)
	}
	if sink.Done() {
		t.Error("Done() after setup failure")
	}
}

func TestSinkBadHeader(t *testing.T) {
	_, table := newNORTable(t)
	sink := NewSink(table)

	n, err := sink.Write(make([]byte, image.HeaderSize))
	if err == nil {
		t.Fatal("expected header error")
	}
	if n != 0 || sink.Position() != 0 {
		t.Errorf("consumed %d bytes of a bad header", n)
	}
	if sink.Header() != nil {
		t.Error("Header() set after bad header")
	}
}

func TestSinkClosedAndReset(t *testing.T) {
	_, table := newNORTable(t)
	blob, _ := buildImage(t, testComponent{"image.rootfs", "rootfs", payload(30, 2048)})

	sink := NewSink(table)
	if _, err := sink.Write(blob); err != nil {
		t.Fatal(err)
	}
	if _, err := sink.Write([]byte{0}); !errors.Is(err, ErrClosed) {
		t.Errorf("Write past the image = %v, want ErrClosed", err)
	}

	sink.Reset()
	if sink.Done() || sink.Position() != 0 || len(sink.Results()) != 0 {
		t.Fatal("Reset did not clear state")
	}
	if _, err := sink.Write(blob); err != nil {
		t.Fatalf("Write after Reset: %v", err)
	}
	if !sink.Done() {
		t.Error("not done after second image")
	}
}

func TestSinkRestartsOnNewImage(t *testing.T) {
	tests := []struct {
		name string
		stop int // bytes written before the image is sent again
	}{
		{"in metadata", image.HeaderSize + 64},
		{"mid component", 32768},
		{"after the image", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, table := newNORTable(t)
			rootfs := payload(33, 65536)
			blob, _ := buildImage(t, testComponent{"image.rootfs", "rootfs", rootfs})

			sink := NewSink(table)
			first := blob
			if tt.stop >= 0 {
				first = blob[:tt.stop]
			}
			if failed := feed(t, sink, first, 4096); len(failed) != 0 {
				t.Fatalf("first attempt failed: %v", failed)
			}

			if failed := feed(t, sink, blob, 4096); len(failed) != 0 {
				t.Fatalf("second attempt failed: %v", failed)
			}
			if !sink.Done() || sink.Position() != int64(len(blob)) {
				t.Fatalf("done = %v position = %d, want whole image", sink.Done(), sink.Position())
			}
			results := sink.Results()
			if len(results) != 1 || !results[0].OK() {
				t.Fatalf("results = %+v", results)
			}
			if got := readPartition(t, table, "rootfs", len(rootfs)); !bytes.Equal(got, rootfs) {
				t.Error("rootfs content differs")
			}
		})
	}
}

func TestSinkResumesAfterDroppedSession(t *testing.T) {
	_, table := newNORTable(t)
	rootfs := payload(34, 65536)
	blob, _ := buildImage(t, testComponent{"image.rootfs", "rootfs", rootfs})
	sink := NewSink(table)

	serve := func() (net.Conn, <-chan error) {
		host, dev := net.Pipe()
		done := make(chan error, 1)
		go func() { done <- transfer.Serve(context.Background(), dev, sink, transfer.WithChunkSize(4096)) }()
		return host, done
	}

	// the first connection dies halfway through the data phase
	host, done := serve()
	host.SetDeadline(time.Now().Add(10 * time.Second))
	cmd, err := protocol.BuildWriteCmd(1, uint32(len(blob)))
	if err != nil {
		t.Fatal(err)
	}
	host.Write(cmd)
	host.Write(blob[:len(blob)/2])
	host.Close()
	if err := <-done; err == nil {
		t.Fatal("Serve returned nil for a dropped data phase")
	}
	if sink.Position() == 0 {
		t.Fatal("nothing reached the sink before the drop")
	}

	host, done = serve()
	defer func() {
		host.Close()
		<-done
	}()
	if csw := hostWrite(t, host, 1, blob); !csw.Passed() {
		t.Fatalf("status = %d residue = %d", csw.Status, csw.DataResidue)
	}
	if !sink.Done() {
		t.Fatal("sink not done after the resent image")
	}
	if got := readPartition(t, table, "rootfs", len(rootfs)); !bytes.Equal(got, rootfs) {
		t.Error("rootfs content differs")
	}
}

func TestSinkRejectsOversizedMetadata(t *testing.T) {
	_, table := newNORTable(t)
	hdr, err := (&image.Header{
		MetaOffset: image.HeaderSize,
		MetaSize:   100000 * image.MetaRecordSize,
		FileSize:   0xFFFFFFFF,
	}).MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	n, err := NewSink(table).Write(hdr)
	if err == nil || n != 0 {
		t.Fatalf("Write() = %d, %v, want header error", n, err)
	}
}

func TestSinkReadBeforeWrite(t *testing.T) {
	_, table := newNORTable(t)
	if _, err := NewSink(table).Read(make([]byte, 16)); err != io.EOF {
		t.Errorf("Read() error = %v, want io.EOF", err)
	}
}

func TestSinkOverSession(t *testing.T) {
	_, table := newNORTable(t)
	rootfs := payload(31, 8192)
	blob, comps := buildImage(t,
		testComponent{"spl", "spl0;spl1", payload(32, 4096)},
		testComponent{"rootfs", "rootfs", rootfs},
	)

	r := &MockResolver{table: table, lossy: map[string]bool{"spl0": true, "spl1": true}}
	sink := NewSink(r)

	host, dev := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- transfer.Serve(ctx, dev, sink, transfer.WithChunkSize(512)) }()
	defer func() {
		cancel()
		host.Close()
		<-done
	}()

	csw := hostWrite(t, host, 1, blob)
	if csw.Status != protocol.StatusIntegrity {
		t.Fatalf("status = %d, want integrity failure", csw.Status)
	}
	splEnd := comps[0].End()
	if want := uint32(int64(len(blob)) - splEnd); csw.DataResidue != want {
		t.Errorf("residue = %d, want %d", csw.DataResidue, want)
	}

	// the host may go on with the unconsumed tail
	if csw := hostWrite(t, host, 2, blob[splEnd:]); !csw.Passed() {
		t.Fatalf("tail status = %d", csw.Status)
	}
	if got := readPartition(t, table, "rootfs", len(rootfs)); !bytes.Equal(got, rootfs) {
		t.Error("rootfs content differs")
	}
}

func hostWrite(t *testing.T, conn net.Conn, tag uint32, data []byte) *protocol.StatusBlock {
	t.Helper()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	cmd, err := protocol.BuildWriteCmd(tag, uint32(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(cmd); err != nil {
		t.Fatalf("write command: %v", err)
	}
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("write data: %v", err)
	}

	frame := make([]byte, protocol.StatusBlockSize)
	if _, err := io.ReadFull(conn, frame); err != nil {
		t.Fatalf("read status: %v", err)
	}
	csw, err := protocol.ParseStatusBlock(frame)
	if err != nil {
		t.Fatalf("parse status: %v", err)
	}
	return csw
}
