package ordered

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory is returned when an AllocPolicy refuses a reservation.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrAllocationOverflow is returned when a buffer size computation
	// overflows. It wraps ErrOutOfMemory so callers can treat both alike.
	ErrAllocationOverflow = fmt.Errorf("%w: allocation size overflow", ErrOutOfMemory)
)

// AllocPolicy is the memory-accounting hook for table storage. Reserve is
// called before a buffer is created and may refuse it; Release is called
// with the same byte count when the buffer is dropped.
type AllocPolicy interface {
	Reserve(nbytes uint64) error
	Release(nbytes uint64)
}

type unaccounted struct{}

func (unaccounted) Reserve(uint64) error { return nil }
func (unaccounted) Release(uint64)       {}

// Unaccounted is an AllocPolicy that never refuses and tracks nothing.
var Unaccounted AllocPolicy = unaccounted{}

// Budget is an AllocPolicy with a fixed byte limit. A zero Limit means
// unlimited. Budget is not safe for concurrent use.
type Budget struct {
	Limit uint64
	used  uint64
}

// Reserve charges nbytes against the budget.
func (b *Budget) Reserve(nbytes uint64) error {
	if b.Limit != 0 && (nbytes > b.Limit || b.used > b.Limit-nbytes) {
		return fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrOutOfMemory, nbytes, b.used, b.Limit)
	}
	b.used += nbytes
	return nil
}

// Release returns nbytes to the budget.
func (b *Budget) Release(nbytes uint64) {
	if nbytes > b.used {
		panic("ordered: budget released more than it reserved")
	}
	b.used -= nbytes
}

// Used returns the number of bytes currently reserved.
func (b *Budget) Used() uint64 {
	return b.used
}
