package upgrade

import (
	"bytes"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/moffa90/go-aicupg/image"
	"github.com/moffa90/go-aicupg/storage"
)

const testDeviceSize = 2 << 20

// MockLogger records messages for testing
type MockLogger struct {
	mu        sync.Mutex
	debugMsgs []string
	infoMsgs  []string
	errorMsgs []string
}

func (l *MockLogger) Debug(msg string, kv ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugMsgs = append(l.debugMsgs, msg)
}

func (l *MockLogger) Info(msg string, kv ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoMsgs = append(l.infoMsgs, msg)
}

func (l *MockLogger) Error(msg string, kv ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorMsgs = append(l.errorMsgs, msg)
}

func (l *MockLogger) count(msgs []string, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range msgs {
		if m == msg {
			n++
		}
	}
	return n
}

// lossyBackend reports success for every WriteAt but silently drops
// every third one.
type lossyBackend struct {
	storage.Backend
	writes *int
}

func (b *lossyBackend) WriteAt(p []byte, off int64) (int, error) {
	*b.writes++
	if *b.writes%3 == 0 {
		return len(p), nil
	}
	return b.Backend.WriteAt(p, off)
}

// failingBackend fails the failAt-th WriteAt call (1-based) with an error.
type failingBackend struct {
	storage.Backend
	writes *int
	failAt int
}

func (b *failingBackend) WriteAt(p []byte, off int64) (int, error) {
	*b.writes++
	if *b.writes == b.failAt {
		return 0, errors.New("injected write failure")
	}
	return b.Backend.WriteAt(p, off)
}

// MockResolver wraps a table and injects faults into selected partitions.
type MockResolver struct {
	table  *storage.Table
	lossy  map[string]bool
	fail   map[string]int
	writes int
}

func (r *MockResolver) Partition(name string) (storage.Backend, error) {
	b, err := r.table.Partition(name)
	if err != nil {
		return nil, err
	}
	if r.lossy[name] {
		return &lossyBackend{Backend: b, writes: &r.writes}, nil
	}
	if at, ok := r.fail[name]; ok {
		return &failingBackend{Backend: b, writes: &r.writes, failAt: at}, nil
	}
	return b, nil
}

// newNORTable returns a 2 MiB NOR with spl0, spl1, env and rootfs.
func newNORTable(t *testing.T) (*storage.Memory, *storage.Table) {
	t.Helper()
	mem := storage.NewMemory(testDeviceSize, 0xFF)
	nor, err := storage.NewNOR("spi0", mem, testDeviceSize)
	if err != nil {
		t.Fatal(err)
	}
	table, err := storage.ParseMTDParts("spi0:128k(spl0),128k(spl1),64k(env),-(rootfs)", nor)
	if err != nil {
		t.Fatal(err)
	}
	return mem, table
}

func payload(seed int64, n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(data)
	return data
}

type testComponent struct {
	name       string
	partitions string
	data       []byte
}

func buildImage(t *testing.T, comps ...testComponent) ([]byte, []*image.Component) {
	t.Helper()
	b := image.NewBuilder(image.Header{
		Platform:  "d21x",
		Product:   "demo",
		Version:   "1.0.0",
		MediaType: "spi-nor",
	})
	for _, c := range comps {
		b.AddComponent(c.name, c.partitions, c.data, 0)
	}
	blob, err := b.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	return blob, b.Components()
}

// readPartition returns the first n bytes of a partition.
func readPartition(t *testing.T, table *storage.Table, name string, n int) []byte {
	t.Helper()
	p, ok := table.Lookup(name)
	if !ok {
		t.Fatalf("partition %s not found", name)
	}
	buf := make([]byte, n)
	if _, err := p.ReadAt(buf, 0); err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return buf
}

func erased(data []byte) bool {
	return bytes.Count(data, []byte{0xFF}) == len(data)
}

// progressRecorder collects progress reports.
type progressRecorder struct {
	mu      sync.Mutex
	reports []Progress
}

func (r *progressRecorder) record(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, p)
}

func (r *progressRecorder) check(t *testing.T, wantLast string) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.reports) == 0 {
		t.Fatal("no progress reported")
	}
	if first := r.reports[0]; first.Percentage != 0 || first.Phase != PhaseStarting {
		t.Errorf("first report = %s %d%%, want %s 0%%", first.Phase, first.Percentage, PhaseStarting)
	}
	for i := 1; i < len(r.reports); i++ {
		if r.reports[i].Percentage < r.reports[i-1].Percentage {
			t.Fatalf("progress decreased from %d to %d", r.reports[i-1].Percentage, r.reports[i].Percentage)
		}
	}
	last := r.reports[len(r.reports)-1]
	if last.Phase != wantLast {
		t.Errorf("last phase = %s, want %s", last.Phase, wantLast)
	}
	if wantLast == PhaseComplete && last.Percentage != 100 {
		t.Errorf("last percentage = %d, want 100", last.Percentage)
	}
	for _, p := range r.reports[:len(r.reports)-1] {
		if p.Percentage == 100 {
			t.Errorf("100%% reported before completion (%s)", p.Phase)
		}
	}
}
