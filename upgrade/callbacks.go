package upgrade

import "time"

// Upgrade phases reported in Progress.Phase.
const (
	PhaseStarting    = "starting"
	PhaseProgramming = "programming"
	PhaseVerifying   = "verifying"
	PhaseComplete    = "complete"
	PhaseFailed      = "failed"
)

// Progress contains information about the upgrade progress.
// Passed to ProgressCallback during an upgrade.
type Progress struct {
	// Phase describes the current operation phase:
	//   "starting"    - Image accepted, nothing written yet
	//   "programming" - Writing component data
	//   "verifying"   - Checking a component CRC
	//   "complete"    - Every component written and verified
	//   "failed"      - The upgrade stopped on an error
	Phase string

	// Component is the name of the component being written
	Component string

	// Partition is the partition list of the component
	Partition string

	// Percentage is the completion percentage (0 to 100).
	// It never decreases within one upgrade.
	Percentage int

	// BytesWritten is the number of component bytes written so far
	BytesWritten int64

	// TotalBytes is the declared size of the image
	TotalBytes int64

	// ElapsedTime is the time elapsed since the upgrade started
	ElapsedTime time.Duration
}

// ProgressCallback is called during an upgrade to report progress.
// It is called once with 0 percent at the start and once with 100 percent
// when every component has been written.
// Implementations should return quickly to avoid stalling the upgrade.
//
// Example:
//
//	u := upgrade.New(table,
//	    upgrade.WithProgressCallback(func(p upgrade.Progress) {
//	        fmt.Printf("[%s] %3d%% %s\n", p.Phase, p.Percentage, p.Component)
//	    }),
//	)
type ProgressCallback func(Progress)

// Logger is an optional logging interface that can be provided to the upgrader.
// This allows integration with any logging framework.
//
// Example with standard log package:
//
//	type StdLogger struct{}
//	func (l *StdLogger) Debug(msg string, kv ...interface{}) { log.Println(msg, kv) }
//	func (l *StdLogger) Info(msg string, kv ...interface{})  { log.Println(msg, kv) }
//	func (l *StdLogger) Error(msg string, kv ...interface{}) { log.Println(msg, kv) }
//
//	u := upgrade.New(table, upgrade.WithLogger(&StdLogger{}))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}

// progressTracker turns byte counts into monotone progress reports for
// one upgrade.
type progressTracker struct {
	callback ProgressCallback
	start    time.Time
	total    int64
	written  int64
	last     int
	started  bool
}

func newProgressTracker(cb ProgressCallback, total int64) *progressTracker {
	return &progressTracker{callback: cb, start: time.Now(), total: total, last: -1}
}

// begin reports 0 percent. Later calls do nothing.
func (t *progressTracker) begin() {
	if t.started {
		return
	}
	t.started = true
	t.emit(Progress{Phase: PhaseStarting}, 0)
}

// add accounts for n more bytes written to component.
func (t *progressTracker) add(phase, component, partition string, n int64) {
	t.begin()
	t.written += n

	pct := 100
	if t.total > 0 {
		pct = int(t.written * 100 / t.total)
	}
	// 100 is reserved for finish.
	if pct > 99 {
		pct = 99
	}
	t.emit(Progress{Phase: phase, Component: component, Partition: partition}, pct)
}

// finish reports 100 percent, or the last percentage with PhaseFailed.
func (t *progressTracker) finish(err error) {
	t.begin()
	if err != nil {
		t.emit(Progress{Phase: PhaseFailed}, t.last)
		return
	}
	t.emit(Progress{Phase: PhaseComplete}, 100)
}

func (t *progressTracker) emit(p Progress, pct int) {
	if pct < t.last {
		pct = t.last
	}
	t.last = pct

	if t.callback == nil {
		return
	}
	p.Percentage = pct
	p.BytesWritten = t.written
	p.TotalBytes = t.total
	p.ElapsedTime = time.Since(t.start)
	t.callback(p)
}
