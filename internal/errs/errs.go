package errs

import (
	"errors"
	"fmt"
)

// ErrNotFound marks an absent object storage key.
var ErrNotFound = errors.New("object not found")

// ValidationError reports a mail request with missing or malformed required fields.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid mail request: field %q %s", e.Field, e.Reason)
}

// AttachmentError reports an attachment that could not be resolved from storage.
type AttachmentError struct {
	Name string
	Key  string
	Err  error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("failed to resolve attachment %q (key %q): %v", e.Name, e.Key, e.Err)
}

func (e *AttachmentError) Unwrap() error {
	return e.Err
}

// TransportError reports a failed network interaction (SMTP, storage or broker I/O).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
