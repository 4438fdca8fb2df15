package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorClass drives the dispatch engine's retry/failover decision.
type ErrorClass string

const (
	// ClassMessageLevel errors cannot be fixed by switching transport:
	// invalid recipient, malformed content. Abort the whole send.
	ClassMessageLevel ErrorClass = "message_level"
	// ClassTransient errors are retryable on the same provider:
	// timeout, 5xx, connection reset.
	ClassTransient ErrorClass = "transient"
	// ClassProviderLevel errors trigger failover instead of retry:
	// auth failure, quota exceeded, provider outage.
	ClassProviderLevel ErrorClass = "provider_level"
)

// SendError is the typed failure a binding returns from SendOne.
type SendError struct {
	Class      ErrorClass
	StatusCode int
	Message    string
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Class, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *SendError) Unwrap() error { return e.Err }

// newHTTPError classifies a provider HTTP status into a SendError.
// 401/403 are provider-level (bad credentials), 429 is provider-level
// (quota), 400/422 are message-level, 5xx is transient.
func newHTTPError(status int, body string) *SendError {
	class := ClassTransient
	switch {
	case status == 401 || status == 403 || status == 429:
		class = ClassProviderLevel
	case status == 400 || status == 404 || status == 422:
		class = ClassMessageLevel
	}
	return &SendError{Class: class, StatusCode: status, Message: body}
}

// Classify maps any error from a binding to its ErrorClass. Untyped errors
// default to transient: network faults and timeouts are the common case and
// retrying a genuinely broken message just exhausts the budget harmlessly.
func Classify(err error) ErrorClass {
	var se *SendError
	if errors.As(err, &se) {
		return se.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ClassTransient
	}
	return ClassTransient
}
