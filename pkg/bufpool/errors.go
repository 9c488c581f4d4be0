package bufpool

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExhausted indicates no free slot in the bin matching the request.
	ErrPoolExhausted = errors.New("buffer pool exhausted")
	// ErrInvalidConfig indicates the bin table can't be used.
	ErrInvalidConfig = errors.New("invalid buffer pool config")
)

// InvalidReleaseError is the panic value raised when a buffer can't be
// returned to a pool. It means memory corruption or a double release.
type InvalidReleaseError struct {
	Bin    int
	Slot   int
	Gen    uint32
	Reason string
}

// Error implements error.
func (e *InvalidReleaseError) Error() string {
	return fmt.Sprintf("invalid buffer release (bin %d slot %d gen %d): %s", e.Bin, e.Slot, e.Gen, e.Reason)
}
