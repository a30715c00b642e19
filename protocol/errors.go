package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrFrameSize is returned when a frame does not have the fixed block size.
	ErrFrameSize = errors.New("frame size mismatch")

	// ErrUnknownCommand is returned for a command code other than READ or WRITE.
	ErrUnknownCommand = errors.New("unsupported command")
)

// FrameError describes a malformed field in a command or status block.
type FrameError struct {
	// Field is the name of the offending field
	Field string

	// Got is the value found in the frame
	Got uint32

	// Want is the expected value
	Want uint32
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("invalid %s: got 0x%X, expected 0x%X", e.Field, e.Got, e.Want)
}

// StatusError represents a non-passing status block returned by the device.
type StatusError struct {
	// Tag is the tag of the failed command
	Tag uint32

	// Status is the status code from the device
	Status byte

	// Residue is the number of bytes the device did not consume
	Residue uint32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("command tag 0x%08X failed: %s (0x%02X), residue %d",
		e.Tag, getStatusName(e.Status), e.Status, e.Residue)
}

// IsIntegrity reports whether the device consumed the data but rejected it
// on a CRC check. Re-sending the same bytes cannot succeed.
func (e *StatusError) IsIntegrity() bool {
	return e.Status == StatusIntegrity
}

// IsFrameError returns true if the error is a FrameError.
func IsFrameError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe)
}

// getStatusName returns a human-readable name for a status code.
func getStatusName(code byte) string {
	switch code {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusIntegrity:
		return "integrity check failed"
	default:
		return fmt.Sprintf("unknown status code 0x%02X", code)
	}
}
