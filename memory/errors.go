package memory

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by memory operations. Check with errors.Is.
var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidInput means the operation was rejected before any state
	// changed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrLongTermDisabled means a long-term operation was attempted with
	// long-term memory turned off.
	ErrLongTermDisabled = errors.New("long-term memory disabled")

	// ErrStoreClosed means the store has already been closed.
	ErrStoreClosed = errors.New("store closed")

	// ErrNoSummarizer means SummarizeSession was called on a manager
	// built without a summarizer.
	ErrNoSummarizer = errors.New("no summarizer configured")
)

// EncodingError reports a failed embedding. Encoding failures fail
// closed: the caller receives the error rather than a silently empty
// result. Check with errors.As.
type EncodingError struct {
	Model string
	Err   error
}

func (e *EncodingError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("encode text: %v", e.Err)
	}
	return fmt.Sprintf("encode text with %q: %v", e.Model, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// StorageError reports a failed store or journal operation.
type StorageError struct {
	Op   string // "add", "search", "load", "evict", "close"
	Path string // journal path when file I/O was involved
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
