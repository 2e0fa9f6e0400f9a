package etcdstore

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTTL is the error wrapped by TTLTypeError when the configured
	// TTL override cannot be turned into a number of seconds.
	ErrInvalidTTL = errors.New("invalid ttl")

	// ErrInvalidPrefix is returned by New when the key prefix contains a
	// '/', which would let one store's namespace contain another's.
	ErrInvalidPrefix = errors.New("invalid key prefix")
)

// TTLTypeError reports a TTL override of an unsupported type or a string
// that is not an integer.
type TTLTypeError struct {
	Value any
}

func (e *TTLTypeError) Error() string {
	return fmt.Sprintf("ttl must be a number, numeric string or function, got %T(%v)", e.Value, e.Value)
}

func (e *TTLTypeError) Unwrap() error {
	return ErrInvalidTTL
}

// OpError reports an error and the store operation and key that caused it.
type OpError struct {
	// Op is the operation (get, set, touch, all, length, destroy, clear).
	Op string

	// Key is the store key, or the scanned prefix for namespace operations.
	Key string

	// Err is the underlying error.
	Err error
}

// Error returns an informative string for the error.
func (e *OpError) Error() string {
	return e.Op + " " + e.Key + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panic raised while an operation
// was being built or executed.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
