package database

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey is returned when adding a face id that is already indexed.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrCorruptIndex is returned when a persisted index cannot be loaded.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrStoreUnavailable wraps every failure reported by the identity store backend.
	ErrStoreUnavailable = errors.New("identity store unavailable")

	// ErrAmbiguousCluster signals that a face's neighborhood spans several clusters
	// and a merge is required before membership can be written.
	ErrAmbiguousCluster = errors.New("ambiguous cluster")

	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrPersonExists    = errors.New("person already exists")
	ErrRunLocked       = errors.New("another resolution run holds the lock")
	ErrBlobNotFound    = errors.New("blob not found")
)

// DimensionMismatchError is returned when a vector does not match the index dimension.
// When raised while loading a snapshot it also matches ErrCorruptIndex.
type DimensionMismatchError struct {
	Expected int
	Actual   int
	onLoad   bool
}

func (e *DimensionMismatchError) Error() string {
	if e.onLoad {
		return fmt.Sprintf("corrupt index: snapshot dimension %d, configured %d", e.Actual, e.Expected)
	}
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Unwrap() error {
	if e.onLoad {
		return ErrCorruptIndex
	}
	return nil
}

// Unavailable wraps a backend error so callers can match ErrStoreUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
