// Package apperr defines the error taxonomy shared by the chat core. Only
// NotFound and StoreUnavailable are expected to cross component boundaries;
// Conflict is resolved inside the conversation registry and translation
// failures are never represented as errors at all.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that a conversation or message does not exist.
	// It is terminal for the specific id that was queried.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable reports that the backing store could not be
	// reached or failed mid-operation. Callers may retry with back-off.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrConflict reports a lost race during conversation creation.
	ErrConflict = errors.New("conflict")
)

// StoreError wraps a driver error with the operation that produced it.
// errors.Is(err, ErrStoreUnavailable) holds for every StoreError.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrStoreUnavailable, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is makes StoreError match ErrStoreUnavailable.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// Unavailable wraps err as a StoreError for op. A nil err yields nil.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// NotFound returns an ErrNotFound wrapped with a description of what was
// looked up, e.g. NotFound("conversation", id).
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsUnavailable reports whether err is (or wraps) ErrStoreUnavailable.
func IsUnavailable(err error) bool { return errors.Is(err, ErrStoreUnavailable) }
