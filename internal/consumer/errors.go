package consumer

import "errors"

// Errors surfaced across the public API (spec.md §6).
var (
	ErrAlreadyClosed = errors.New("consumer: already closed")
	ErrNotConnected  = errors.New("consumer: not connected")
)

// ConnectionFailedOnSend wraps the operation name of a send that failed
// because the connection was lost mid-flight.
type ConnectionFailedOnSend struct {
	Op  string
	Err error
}

func (e *ConnectionFailedOnSend) Error() string {
	return "consumer: connection failed on send during " + e.Op + ": " + e.Err.Error()
}

func (e *ConnectionFailedOnSend) Unwrap() error { return e.Err }
