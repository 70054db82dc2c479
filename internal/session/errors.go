package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized = errors.New("recorder not initialized")
	ErrClosed         = errors.New("session closed")
	ErrNoPermission   = errors.New("microphone permission not granted")
)

// ErrorKind identifies a failure class reported to the host. Only
// FailedToRecord and Unknown are raised today; the others are reserved so
// hosts can match on a stable set of codes.
type ErrorKind int

const (
	FailedToRecord ErrorKind = iota
	FailedToPlay
	FailedToStop
	FailedToWriteBuffer
	Unknown
)

func (k ErrorKind) String() string {
	switch k {
	case FailedToRecord:
		return "FailedToRecord"
	case FailedToPlay:
		return "FailedToPlay"
	case FailedToStop:
		return "FailedToStop"
	case FailedToWriteBuffer:
		return "FailedToWriteBuffer"
	default:
		return "Unknown"
	}
}

// Error is a structured failure: a stable kind, a short message, and the
// underlying cause as details.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Details returns the cause text, or "" when there is none.
func (e *Error) Details() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func recordError(msg string, err error) *Error {
	return &Error{Kind: FailedToRecord, Message: msg, Err: err}
}
