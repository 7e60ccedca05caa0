package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no submission has the given id.
var ErrNotFound = errors.New("submission not found")

// StorageError reports that the durable medium was unavailable or a
// transaction aborted.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
