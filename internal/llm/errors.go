package llm

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindInvalid     ErrorKind = "invalid_request"
	KindRateLimit   ErrorKind = "rate_limit"
	KindUnavailable ErrorKind = "unavailable"
	KindEmptyOutput ErrorKind = "empty_output"
	KindTimeout     ErrorKind = "timeout"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("llm %s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("llm %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// IsTransient reports whether a retry at a higher level could plausibly
// succeed. The executor surfaces transient failures as revision failures
// rather than retrying transparently.
func IsTransient(err error) bool {
	var le *Error
	if !errors.As(err, &le) {
		return false
	}
	switch le.Kind {
	case KindRateLimit, KindUnavailable, KindTimeout:
		return true
	default:
		return false
	}
}
