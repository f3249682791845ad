package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized = errors.New("store not initialized")
	ErrUnknownTable   = errors.New("unknown table")
	ErrUnknownColumn  = errors.New("unknown column")
	ErrMissingColumn  = errors.New("required column missing")
	ErrColumnType     = errors.New("column type mismatch")
)

// InitError is returned when the store cannot be opened or migrated. It is
// fatal for every persistence-backed operation until a later Initialize succeeds.
type InitError struct {
	Path string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initialize store %s: %v", e.Path, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}
