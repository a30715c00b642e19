package fwc

import (
	"errors"
	"fmt"
)

var (
	// ErrEnded is returned by Write after End has been called.
	ErrEnded = errors.New("component already ended")

	// ErrNoSpace is returned when a write would pass the end of a partition.
	ErrNoSpace = errors.New("not enough space in partition")

	// ErrNoPartition is returned when a component lists no partition.
	ErrNoPartition = errors.New("no partition")
)

// ResourceError indicates that a component's backends could not be set up,
// for example because a partition name does not resolve.
type ResourceError struct {
	Partition string
	Err       error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("partition %q unavailable: %v", e.Partition, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// IOError indicates that a backend failed to erase, write or read.
// The chunk that caused it was not consumed and can be sent again.
type IOError struct {
	// Op is "erase", "write", "read" or "end"
	Op        string
	Partition string
	Offset    int64
	Err       error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s at 0x%X: %v", e.Op, e.Partition, e.Offset, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// CRCMismatchError indicates that the data read back from the first
// partition does not match the CRC in the component metadata.
type CRCMismatchError struct {
	Component string
	Expected  uint32
	Actual    uint32
}

func (e *CRCMismatchError) Error() string {
	return fmt.Sprintf("crc mismatch for %s: expected 0x%08X, got 0x%08X",
		e.Component, e.Expected, e.Actual)
}

// Integrity marks the error as a data integrity failure. Retrying the
// same bytes cannot fix it.
func (e *CRCMismatchError) Integrity() bool { return true }

// IsIntegrity reports whether err is, or wraps, an integrity failure.
func IsIntegrity(err error) bool {
	var ie interface{ Integrity() bool }
	return errors.As(err, &ie) && ie.Integrity()
}
