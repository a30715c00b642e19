package upgrade

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-aicupg/fwc"
)

// ErrClosed is returned by Sink.Write after the last component has been
// written and the image has been fully received.
var ErrClosed = errors.New("image already complete")

// ComponentError reports the component an upgrade stopped on.
// Err is one of the fwc error types.
type ComponentError struct {
	Component string
	Partition string
	Err       error
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("component %s (%s): %v", e.Component, e.Partition, e.Err)
}

func (e *ComponentError) Unwrap() error { return e.Err }

// Integrity reports whether the component was rejected by its CRC check.
func (e *ComponentError) Integrity() bool { return fwc.IsIntegrity(e.Err) }

// BootConfigError indicates a malformed bootcfg.txt line.
type BootConfigError struct {
	Line    int
	Key     string
	Message string
}

func (e *BootConfigError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("bootcfg line %d: %s: %s", e.Line, e.Key, e.Message)
	}
	return fmt.Sprintf("bootcfg: %s: %s", e.Key, e.Message)
}
