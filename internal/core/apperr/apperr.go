// Package apperr defines the error taxonomy shared by the fetch, cache and
// viewport layers.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks network failures (unreachable, timeout, non-2xx).
	// These are retried.
	ErrTransport = errors.New("transport error")

	// ErrMalformedResponse marks a response that does not match the
	// expected schema. Never retried.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrConfiguration marks misconfiguration (bad retry settings, missing
	// credentials). Never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidInput marks a request the caller built wrong (empty query,
	// unknown travel mode). Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCanceled marks an operation aborted by its context.
	ErrCanceled = errors.New("canceled")

	// ErrUnavailable marks the structured offline response synthesized by
	// the api cache tier.
	ErrUnavailable = errors.New("service unavailable")
)

// UnavailableError carries the message of a synthesized offline response.
type UnavailableError struct {
	Message string
}

func (e *UnavailableError) Error() string {
	if e.Message == "" {
		return ErrUnavailable.Error()
	}
	return ErrUnavailable.Error() + ": " + e.Message
}

func (e *UnavailableError) Unwrap() error { return ErrUnavailable }

func Transport(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransport, fmt.Sprintf(format, args...))
}

func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}

func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IsPermanent reports whether retrying err cannot change the outcome.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrInvalidInput)
}
