package model

import (
	"errors"
	"fmt"
)

// ErrInsufficientHistory marks an overlay that cannot be computed yet.
// The engine never returns it; absence is expressed by a missing OverlaySet key.
var ErrInsufficientHistory = errors.New("insufficient history")

// TransportError is a non-2xx response or a connectivity failure talking to a provider.
type TransportError struct {
	Op         string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		if e.Err == nil {
			return fmt.Sprintf("%s: http status %d", e.Op, e.StatusCode)
		}
		return fmt.Sprintf("%s: http status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError is a provider payload that could not be parsed.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("%s: decode: %v", e.Op, e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// PersistenceError is a store read or write failure.
type PersistenceError struct {
	Op       string
	Category string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Category, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsTransport reports whether err wraps a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsDecode reports whether err wraps a DecodeError.
func IsDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// IsPersistence reports whether err wraps a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
