package dma

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Status is the result code of a channel operation.
type Status int

const (
	StatusSuccess           Status = 0
	StatusInvalidDirection  Status = 1
	StatusInvalidLength     Status = 2
	StatusBadFileDescriptor Status = 3
	StatusBusy              Status = 4
	StatusOutOfMemory       Status = 5
	StatusPinFailure        Status = 6
	StatusMapFailure        Status = 7
	StatusSubmitFailure     Status = 8
	StatusInterrupted       Status = 9
	StatusLockTimeout       Status = 10
)

var statusMessages = map[Status]string{
	StatusSuccess:           "success",
	StatusInvalidDirection:  "transfer direction does not match channel",
	StatusInvalidLength:     "invalid transfer length",
	StatusBadFileDescriptor: "channel is not accepting I/O",
	StatusBusy:              "channel already open",
	StatusOutOfMemory:       "out of memory",
	StatusPinFailure:        "failed to pin user pages",
	StatusMapFailure:        "failed to map pages for device access",
	StatusSubmitFailure:     "engine rejected transfer",
	StatusInterrupted:       "interrupted",
	StatusLockTimeout:       "session lock reacquire timed out",
}

// String returns the human-readable status message.
func (s Status) String() string {
	if msg, ok := statusMessages[s]; ok {
		return msg
	}
	return fmt.Sprintf("unknown status (%d)", int(s))
}

// Errno returns the errno a character device would report for this status.
func (s Status) Errno() unix.Errno {
	switch s {
	case StatusSuccess:
		return 0
	case StatusInvalidDirection, StatusInvalidLength:
		return unix.EINVAL
	case StatusBadFileDescriptor:
		return unix.EBADF
	case StatusBusy:
		return unix.EBUSY
	case StatusOutOfMemory:
		return unix.ENOMEM
	case StatusPinFailure:
		return unix.EFAULT
	case StatusInterrupted:
		return unix.EINTR
	case StatusLockTimeout:
		return unix.ETIMEDOUT
	default:
		return unix.EIO
	}
}

// Error is a typed channel error.
type Error struct {
	Status  Status
	Context string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Context != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s: %v", e.Context, e.Status.String(), e.Cause)
		}
		return fmt.Sprintf("%s: %s", e.Context, e.Status.String())
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Status.String(), e.Cause)
	}
	return e.Status.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors with the same status.
func (e *Error) Is(target error) bool {
	var derr *Error
	if errors.As(target, &derr) {
		return e.Status == derr.Status
	}
	return false
}

// NewError creates an Error with the given status.
func NewError(status Status, context string) *Error {
	return &Error{Status: status, Context: context}
}

// NewErrorWithCause creates an Error wrapping an underlying cause.
func NewErrorWithCause(status Status, context string, cause error) *Error {
	return &Error{Status: status, Context: context, Cause: cause}
}

// StatusOf extracts the status from an error. It returns StatusSuccess for
// nil and -1 for errors that are not channel errors.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Status
	}
	return Status(-1)
}
