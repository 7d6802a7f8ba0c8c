package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an operation references an entry that does not exist.
var ErrNotFound = errors.New("entry not found")

// errUnfilteredDelete guards against wiping the collection by accident.
var errUnfilteredDelete = errors.New("refusing to delete with an empty filter")

// StorageError wraps a failure of the backing collection.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
