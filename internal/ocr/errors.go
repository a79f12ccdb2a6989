package ocr

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed OCR request. ServerOverloaded is the
// only retryable kind; PayloadTooLarge needs a re-render at lower
// resolution, not a retry.
type ErrorKind string

const (
	KindTimeout          ErrorKind = "timeout"
	KindPayloadTooLarge  ErrorKind = "payload_too_large"
	KindServerOverloaded ErrorKind = "server_overloaded"
	KindUpstream         ErrorKind = "upstream_error"
	KindProtocol         ErrorKind = "protocol_error"
)

type Error struct {
	Kind   ErrorKind
	Status int // HTTP status for upstream errors, 0 otherwise
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s (HTTP %d): %v", e.Kind, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s (HTTP %d)", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Kind extracts the classification of err, or "" when err is not an
// OCR client error.
func Kind(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether err may succeed on a later attempt.
func Retryable(err error) bool {
	return Kind(err) == KindServerOverloaded
}
