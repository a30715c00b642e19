package host

import "time"

// Progress contains information about a SendImage or ReadBack transfer.
type Progress struct {
	// Phase is "sending", "reading" or "complete"
	Phase string

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// BytesDone is the number of bytes acknowledged by the device
	BytesDone int64

	// TotalBytes is the size of the transfer
	TotalBytes int64

	// Retries counts the WRITE commands resumed so far
	Retries int

	// ElapsedTime is the time elapsed since the transfer started
	ElapsedTime time.Duration
}

// ProgressCallback is called after every command of a transfer.
type ProgressCallback func(Progress)

// Logger is an optional logging interface, the same shape as the one used
// by the device side packages.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
