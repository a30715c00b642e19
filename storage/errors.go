package storage

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrOutOfRange is returned for accesses beyond the end of a device or partition.
	ErrOutOfRange = errors.New("access out of range")

	// ErrPartitionNotFound is returned when a name does not resolve to a partition.
	ErrPartitionNotFound = errors.New("partition not found")

	// ErrNotErased is returned when a NAND page is programmed twice without an erase.
	ErrNotErased = errors.New("page already programmed")
)

// AlignmentError is returned when an offset or length is not a multiple
// of the required unit.
type AlignmentError struct {
	// What names the misaligned value ("offset", "length")
	What string

	// Value is the misaligned value
	Value int64

	// Align is the required alignment
	Align int64
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("%s 0x%X is not aligned to 0x%X", e.What, e.Value, e.Align)
}

func checkAlign(what string, v, align int64) error {
	if align > 1 && v%align != 0 {
		return &AlignmentError{What: what, Value: v, Align: align}
	}
	return nil
}
