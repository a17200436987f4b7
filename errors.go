package entrycache

import (
	"errors"
	"fmt"
)

var (
	// ErrNoValidator is returned when a conditional request is asked of
	// metadata that captured neither an entity tag nor a modification date.
	ErrNoValidator = errors.New("no validator to revalidate with")
	// ErrNotFound is returned for keys the store does not know.
	ErrNotFound = errors.New("entry not found")
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the entry's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrCancelled is delivered to observers of a cancelled fetch.
	ErrCancelled = errors.New("fetch cancelled")
	// ErrNotReady is returned when reading an entry that holds no complete body.
	ErrNotReady = errors.New("entry has no complete body")
	// ErrClosed is returned by a closed store.
	ErrClosed = errors.New("store closed")
)

// TransportError reports a failed exchange, or a response with a status
// that cannot update the entry. StatusCode is zero when no response arrived.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: unexpected status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TruncatedBodyError reports a completed transfer shorter or longer than
// the declared Content-Length.
type TruncatedBodyError struct {
	Expected int64
	Received int64
}

func (e *TruncatedBodyError) Error() string {
	return fmt.Sprintf("body length mismatch: expected %d bytes, received %d", e.Expected, e.Received)
}

// WriteError reports a failure materializing an entry on disk.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
