package record

import (
	"errors"
	"fmt"
)

// ValidationError is returned before any persistence attempt when a required
// field is missing or a value is outside its domain.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid inspection: %s %s", e.Field, e.Reason)
}

// NotFoundError is returned when an operation names an id the store does not hold.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("inspection %d not found", e.ID)
}

// ChangedError is returned by MarkSynced when the record was edited after the
// uploaded copy was read. The record stays unsynced.
type ChangedError struct {
	ID      int64
	Version int64
}

func (e *ChangedError) Error() string {
	return fmt.Sprintf("inspection %d changed since version %d was uploaded", e.ID, e.Version)
}

// RemoteError wraps a transport, auth or quota failure from the remote archive.
type RemoteError struct {
	// Op is the archive operation, e.g. "upsert_batch".
	Op string
	// Key is the document key, empty for batch and collection operations.
	Key string
	Err error
}

func (e *RemoteError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("remote %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// DeserializationError describes a remote document that could not be turned
// into a record. FetchAll drops such documents instead of failing.
type DeserializationError struct {
	Key    string
	Field  string
	Reason string
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("malformed document %q: %s %s", e.Key, e.Field, e.Reason)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsChanged reports whether err is or wraps a ChangedError.
func IsChanged(err error) bool {
	var target *ChangedError
	return errors.As(err, &target)
}

// IsRemote reports whether err is or wraps a RemoteError.
func IsRemote(err error) bool {
	var target *RemoteError
	return errors.As(err, &target)
}
