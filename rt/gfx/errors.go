package gfx

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by affinity checks made before the worker
	// has claimed its identity.
	ErrNotInitialized = errors.New("gfx: graphics worker not initialized")
	// ErrNotGraphicsThread is returned when graphics affinity is required but
	// the caller is some other goroutine.
	ErrNotGraphicsThread = errors.New("gfx: not on the graphics thread")
	// ErrClosed is returned for commands submitted after Close, and for
	// commands still queued when the worker died.
	ErrClosed = errors.New("gfx: graphics context closed")
)

// PanicError carries a panic raised inside a command.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("gfx: command panicked: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
